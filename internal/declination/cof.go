package declination

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"compass-ng/internal/errs"
)

// LoadCOF reads a model in the NOAA WMM.COF text format:
//
//	    2020.0            WMM-2020        12/10/2019
//	  1  0  -29404.5       0.0        6.7        0.0
//	  ...
//	999999999999999999999999999999999999999999999999
func LoadCOF(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCOF(f)
}

func ParseCOF(r io.Reader) (*Model, error) {
	s := bufio.NewScanner(r)

	var (
		haveHeader bool
		epoch      float64
		name       string
		rows       []Coefficient
		lineNo     int
		err        error
	)
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "9999") {
			break
		}
		fields := strings.Fields(line)

		if !haveHeader {
			if len(fields) < 2 {
				return nil, fmt.Errorf("declination: cof line %d: short header: %w", lineNo, errs.ErrInvalidArgument)
			}
			epoch, err = strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return nil, fmt.Errorf("declination: cof line %d: bad epoch %q: %w", lineNo, fields[0], errs.ErrInvalidArgument)
			}
			haveHeader = true
			name = fields[1]
			continue
		}

		if len(fields) < 6 {
			return nil, fmt.Errorf("declination: cof line %d: want 6 fields, got %d: %w", lineNo, len(fields), errs.ErrInvalidArgument)
		}
		var c Coefficient
		if c.N, err = strconv.Atoi(fields[0]); err != nil {
			return nil, fmt.Errorf("declination: cof line %d: degree: %w", lineNo, errs.ErrInvalidArgument)
		}
		if c.M, err = strconv.Atoi(fields[1]); err != nil {
			return nil, fmt.Errorf("declination: cof line %d: order: %w", lineNo, errs.ErrInvalidArgument)
		}
		vals := make([]float64, 4)
		for i := range vals {
			v, perr := strconv.ParseFloat(fields[2+i], 64)
			if perr != nil {
				return nil, fmt.Errorf("declination: cof line %d: value %q: %w", lineNo, fields[2+i], errs.ErrInvalidArgument)
			}
			vals[i] = v
		}
		c.G, c.H, c.DG, c.DH = vals[0], vals[1], vals[2], vals[3]
		rows = append(rows, c)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if !haveHeader {
		return nil, fmt.Errorf("declination: cof file is empty: %w", errs.ErrInvalidArgument)
	}
	return NewModel(name, epoch, rows)
}
