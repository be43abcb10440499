// Package ak09916 drives the AK09916 3-axis magnetometer found inside the
// ICM-20948, reached through the host's bypass mode.
package ak09916

import (
	"fmt"
	"time"

	"compass-ng/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault = 0x0C

	regWIA2  = 0x01
	wia2Val  = 0x09
	regST1   = 0x10
	bitDRDY  = 0x01
	regHXL   = 0x11
	regST2   = 0x18
	bitHOFL  = 0x08
	regCNTL2 = 0x31
	regCNTL3 = 0x32
	bitSRST  = 0x01

	// CNTL2 modes.
	modePowerDown = 0x00
	modeCont100Hz = 0x08

	// µT per LSB.
	scale = 0.15
)

// Field is one magnetometer reading in µT, in the chip's own axes.
type Field struct {
	Time       time.Time
	Mx, My, Mz float64
}

// ErrNotReady is returned by Read when no new measurement is available.
var ErrNotReady = fmt.Errorf("ak09916: data not ready")

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Device struct {
	dev regIO
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("ak09916: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("ak09916: dev is nil")
	}
	d := &Device{dev: dev}

	id, err := dev.ReadRegU8(regWIA2)
	if err != nil {
		return nil, fmt.Errorf("ak09916: device id read failed: %w", err)
	}
	if id != wia2Val {
		return nil, fmt.Errorf("ak09916: WIA2=0x%02X want 0x%02X", id, wia2Val)
	}

	if err := dev.WriteReg(regCNTL3, bitSRST); err != nil {
		return nil, fmt.Errorf("ak09916: soft reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	// Mode changes must pass through power-down.
	if err := dev.WriteReg(regCNTL2, modePowerDown); err != nil {
		return nil, fmt.Errorf("ak09916: power down failed: %w", err)
	}
	sleep(1 * time.Millisecond)
	if err := dev.WriteReg(regCNTL2, modeCont100Hz); err != nil {
		return nil, fmt.Errorf("ak09916: continuous mode failed: %w", err)
	}
	return d, nil
}

// Read returns the latest measurement. Reading ST2 releases the data
// registers for the next sample, so it is always read last.
func (d *Device) Read() (Field, error) {
	if d == nil {
		return Field{}, fmt.Errorf("ak09916: device is nil")
	}
	st1, err := d.dev.ReadRegU8(regST1)
	if err != nil {
		return Field{}, fmt.Errorf("ak09916: read ST1 failed: %w", err)
	}
	if st1&bitDRDY == 0 {
		return Field{}, ErrNotReady
	}

	// HXL..HZH, a reserved byte, then ST2.
	var buf [8]byte
	if err := d.dev.ReadReg(regHXL, buf[:]); err != nil {
		return Field{}, fmt.Errorf("ak09916: read data failed: %w", err)
	}
	st2 := buf[7]
	if st2&bitHOFL != 0 {
		return Field{}, fmt.Errorf("ak09916: magnetic sensor overflow")
	}

	mx := int16(buf[1])<<8 | int16(buf[0])
	my := int16(buf[3])<<8 | int16(buf[2])
	mz := int16(buf[5])<<8 | int16(buf[4])
	return Field{
		Time: time.Now(),
		Mx:   float64(mx) * scale,
		My:   float64(my) * scale,
		Mz:   float64(mz) * scale,
	}, nil
}

// Close puts the magnetometer back into power-down.
func (d *Device) Close() error {
	if d == nil {
		return nil
	}
	return d.dev.WriteReg(regCNTL2, modePowerDown)
}
