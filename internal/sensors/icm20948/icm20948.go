// Package icm20948 drives the accelerometer half of an ICM-20948 and opens
// its auxiliary bus so the on-package AK09916 magnetometer is reachable.
package icm20948

import (
	"fmt"
	"time"

	"compass-ng/internal/i2c"
)

var sleep = time.Sleep

// WHO_AM_I at 0x00 should return 0xEA.
const (
	addrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regUserCtrl   = 0x03
	bitI2CMstEn   = 0x20
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	regPwrMgmt2   = 0x07
	gyroOff       = 0x07
	regIntPinCfg  = 0x0F
	bitBypassEn   = 0x02
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D

	// Bank 2.
	bank2           = 2
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	fsAccel2g = 0x00
)

// Accel is one accelerometer reading in g. A device lying flat reads about
// +1 on Z.
type Accel struct {
	Time       time.Time
	Ax, Ay, Az float64
}

type Device struct {
	dev regIO

	curBank    byte
	scaleAccel float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{dev: dev, curBank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) init() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	_ = d.dev.WriteReg(regIntEnable, 0x00)

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// The reset clears the bank register.
	d.curBank = 0

	// Wake with the auto-selected PLL clock.
	if err := d.dev.WriteReg(regPwrMgmt1, 0x01); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	// Heading needs no gyro; leave it powered down.
	if err := d.dev.WriteReg(regPwrMgmt2, gyroOff); err != nil {
		return fmt.Errorf("icm20948: power config failed: %w", err)
	}

	// The magnetometer hangs off the auxiliary bus. With the internal I2C
	// master off and bypass on, it appears on the host bus at 0x0C.
	if err := d.dev.WriteReg(regUserCtrl, 0x00); err != nil {
		return fmt.Errorf("icm20948: user ctrl failed: %w", err)
	}
	if err := d.dev.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("icm20948: bypass enable failed: %w", err)
	}

	if err := d.setBank(bank2); err != nil {
		return err
	}
	// Base rate 1125 Hz; 1125/(div+1) ~ 50 Hz.
	div := byte(1125/50 - 1)
	_ = d.dev.WriteReg(regAccelSmplrt2, div)
	if err := d.dev.WriteReg(regAccelConfig, fsAccel2g); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}

	d.scaleAccel = 2.0 / 32768.0
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

func (d *Device) ReadAccel() (Accel, error) {
	if d == nil {
		return Accel{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Accel{}, err
	}

	var buf [6]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return Accel{}, fmt.Errorf("icm20948: read accel failed: %w", err)
	}
	ax := int16(buf[0])<<8 | int16(buf[1])
	ay := int16(buf[2])<<8 | int16(buf[3])
	az := int16(buf[4])<<8 | int16(buf[5])

	return Accel{
		Time: time.Now(),
		Ax:   float64(ax) * d.scaleAccel,
		Ay:   float64(ay) * d.scaleAccel,
		Az:   float64(az) * d.scaleAccel,
	}, nil
}
