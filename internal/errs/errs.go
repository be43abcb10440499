// Package errs holds the error kinds shared by the heading pipeline.
package errs

// Error is a constant error type so kinds can be declared as consts and
// matched with errors.Is after wrapping.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrInvalidAngle is returned when an angle is NaN or infinite.
	ErrInvalidAngle = Error("invalid angle")
	// ErrInvalidArgument is returned for any other caller contract violation.
	ErrInvalidArgument = Error("invalid argument")
)
