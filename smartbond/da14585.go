// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"github.com/juju/errors"
)

// DA14585 SPI controller. Older generation than the DA14531: the controller
// has a single shift register instead of a FIFO and the chip select is a
// plain GPIO.
const (
	spiCtrlReg585  = 0x50001200
	spiCtrlReg585b = 0x50001208
	spiRxTxReg585  = 0x50001202
	spiClearInt585 = 0x50001206
	pmuCtrlReg585  = 0x50000010
	sysStatReg585  = 0x50000014
)

// DA14585 SPI flash pinout.
const (
	spiPort585   = 0
	spiClkPin585 = 0
	spiCSPin585  = 3
	spiDIPin585  = 5
	spiDOPin585  = 6
)

type da14585 struct {
	da1453x58x
}

func newDA14585(info *DeviceInfo, t Transport) *da14585 {
	d := &da14585{}
	d.device = newDevice(info, t)
	d.bus = d
	return d
}

// setWordWidth forces 8 bit words regardless of the requested mode; the
// controller is cycled off and on to latch the width.
func (d *da14585) setWordWidth(mode spiWordMode) error {
	if err := d.setBits16(spiCtrlReg585, 0x1, 0); err != nil {
		return errors.Trace(err)
	}
	if err := d.setBits16(spiCtrlReg585, 0x180, 0); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.setBits16(spiCtrlReg585, 0x1, 1))
}

func (d *da14585) csLow() error {
	return errors.Trace(d.gpioSetInactive(spiPort585, spiCSPin585))
}

func (d *da14585) csHigh() error {
	return errors.Trace(d.gpioSetActive(spiPort585, spiCSPin585))
}

func (d *da14585) exchangeByte(tx byte) (byte, error) {
	// Bidirectional FIFO mode.
	if err := d.setBits16(spiCtrlReg585b, 0x3, 2); err != nil {
		return 0, errors.Trace(err)
	}
	if err := d.setWord16(spiRxTxReg585, uint32(tx)); err != nil {
		return 0, errors.Trace(err)
	}

	// Wait for the transfer interrupt.
	for {
		status, err := d.t.ReadMem(Width16, spiCtrlReg585, 1)
		if err != nil {
			return 0, errors.Trace(err)
		}
		if status[0]&0x2000 != 0 {
			break
		}
	}
	if err := d.setWord16(spiClearInt585, 0x1); err != nil {
		return 0, errors.Trace(err)
	}

	words, err := d.t.ReadMem(Width16, spiRxTxReg585, 1)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return byte(words[0] & 0xFF), nil
}

func (d *da14585) flashInit() error {
	if err := d.setWord16(clkAMBAReg, 0x00); err != nil {
		return errors.Trace(err)
	}
	if err := d.setWord16(setFreezeReg531, 0x8); err != nil {
		return errors.Trace(err)
	}
	if err := d.setBits16(sysCtrlReg531, 0x0180, 0x3); err != nil {
		return errors.Trace(err)
	}

	// Power up the peripheral domain and wait for it.
	if err := d.setBits16(pmuCtrlReg585, 0x2, 0x0); err != nil {
		return errors.Trace(err)
	}
	for {
		stat, err := d.t.ReadMem(Width16, sysStatReg585, 1)
		if err != nil {
			return errors.Trace(err)
		}
		if stat[0]&0x8 != 0 {
			break
		}
	}

	if err := d.gpioSetPinFunction(spiPort585, spiCSPin585, gpioModeOutput, 8); err != nil {
		return errors.Trace(err)
	}
	if err := d.gpioSetActive(spiPort585, spiCSPin585); err != nil {
		return errors.Trace(err)
	}
	if err := d.gpioSetPinFunction(spiPort585, spiClkPin585, gpioModeOutput, 7); err != nil {
		return errors.Trace(err)
	}
	if err := d.gpioSetPinFunction(spiPort585, spiDOPin585, gpioModeOutput, 6); err != nil {
		return errors.Trace(err)
	}
	if err := d.gpioSetPinFunction(spiPort585, spiDIPin585, gpioModeInput, 5); err != nil {
		return errors.Trace(err)
	}

	if err := d.setBits16(clkPerReg531, 0x800, 1); err != nil {
		return errors.Trace(err)
	}
	if err := d.setWordWidth(spiMode8Bit); err != nil {
		return errors.Trace(err)
	}
	if err := d.setWord16(spiClearInt585, 0x1); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.setBits16(spiCtrlReg585, 0x1, 0x1))
}
