// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// DA14531 OTP controller and array.
const (
	otpcModeReg531 = 0x07F40000
	otpcStatReg531 = 0x07F40004
	otpcTim1Reg531 = 0x07F40010
	otpcTim2Reg531 = 0x07F40014

	otpcTim1Reset531 = 0x0999000F
	otpcTim2Reset531 = 0xA4040409

	otpStart531       = 0x07F80000
	otpHeaderStart531 = 0x07F87ED0
	otpSize531        = 0x8000
)

// OTP controller modes, common layout across families.
const (
	otpcModeDStby = 0
	otpcModeStby  = 1
	otpcModeRead  = 2
	otpcModeProg  = 3
	otpcModePVfy  = 4
	otpcModeRIni  = 5
	otpcModeARead = 6
)

// da14531 drives the flash over the DA14531 SPI controller FIFO. The reset
// pin is shared with the default flash MOSI pin, so flash operations restore
// the pin to reset mode when they finish.
type da14531 struct {
	da1453x58x
}

// DA14531 SPI flash pinout.
const (
	spiPort531   = 0
	spiClkPin531 = 4
	spiCSPin531  = 1
	spiDIPin531  = 3
	spiDOPin531  = 0
)

func newDA14531(info *DeviceInfo, t Transport) *da14531 {
	d := &da14531{}
	d.device = newDevice(info, t)
	d.bus = d
	return d
}

func (d *da14531) csLow() error {
	if err := d.setBits16(spiCtrlReg531, 0x20, 0); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.setWord16(spiCSConfigReg531, 1))
}

func (d *da14531) csHigh() error {
	if err := d.setWord16(spiCSConfigReg531, 0); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.setBits16(spiCtrlReg531, 0x20, 1))
}

// flashInit sets up clocks, pads and the SPI controller, and routes the
// flash pins away from their reset functions.
func (d *da14531) flashInit() error {
	type step struct {
		fn   func() error
		what string
	}
	steps := []step{
		{func() error { return d.setWord16(clkAMBAReg, 0x00) }, "clocks"},
		{func() error { return d.setWord16(setFreezeReg531, 0x8) }, "watchdog freeze"},
		{func() error { return d.setBits16(padLatchReg531, 0x1, 1) }, "pad latch"},
		{func() error { return d.setBits16(sysCtrlReg531, 0x0180, 0x3) }, "SWD remap"},
		{func() error { return d.setWord16(hwrCtrlReg531, 1) }, "HW reset disable"},

		{func() error { return d.gpioSetPinFunction(spiPort531, spiCSPin531, gpioModeOutput, 29) }, "CS pin"},
		{func() error { return d.gpioSetActive(spiPort531, spiCSPin531) }, "CS high"},
		{func() error { return d.gpioSetPinFunction(spiPort531, spiClkPin531, gpioModeOutput, 28) }, "CLK pin"},
		{func() error { return d.gpioSetPinFunction(spiPort531, spiDOPin531, gpioModeOutput, 27) }, "DO pin"},
		{func() error { return d.gpioSetPinFunction(spiPort531, spiDIPin531, gpioModeInput, 26) }, "DI pin"},

		{func() error { return d.setBits16(clkPerReg531, 0x400, 1) }, "SPI clock enable"},
		{func() error { return d.setWord16(spiCtrlReg531, 0x0020) }, "FIFO reset"},
		{func() error { return d.setWordWidth(spiMode8Bit) }, "word width"},
		{func() error { return d.setBits16(spiConfigReg531, 0x0003, 3) }, "SPI mode 0"},
		{func() error { return d.setBits16(spiConfigReg531, 0x80, 0) }, "master mode"},
		{func() error { return d.setWord16(spiFIFOConfigReg531, 0) }, "FIFO thresholds"},
		{func() error { return d.setBits16(spiClockReg531, 0x0080, 1) }, "async clock"},
		{func() error { return d.setBits16(spiClockReg531, 0x007F, 7) }, "2MHz clock"},
		{func() error { return d.setBits16(spiCtrlReg531, 0x0040, 0) }, "capture edge"},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return errors.Annotatef(err, "spi init: %s", s.what)
		}
	}
	return nil
}

func (d *da14531) setWordWidth(mode spiWordMode) error {
	switch mode {
	case spiMode16Bit:
		return errors.Trace(d.setBits16(spiConfigReg531, 0x7C, 15))
	case spiMode32Bit:
		return errors.Trace(d.setBits16(spiConfigReg531, 0x7C, 31))
	default:
		return errors.Trace(d.setBits16(spiConfigReg531, 0x7C, 7))
	}
}

// exchangeByte clocks one byte out and reads one byte back through the FIFO.
func (d *da14531) exchangeByte(tx byte) (byte, error) {
	// Clear Tx, Rx and DMA enable paths, then enable TX, RX and the SPI.
	if err := d.setBits16(spiCtrlReg531, 0x1F, 0); err != nil {
		return 0, errors.Trace(err)
	}
	if err := d.setBits16(spiCtrlReg531, 0x2, 1); err != nil {
		return 0, errors.Trace(err)
	}
	if err := d.setBits16(spiCtrlReg531, 0x4, 1); err != nil {
		return 0, errors.Trace(err)
	}
	if err := d.setBits16(spiCtrlReg531, 0x1, 1); err != nil {
		return 0, errors.Trace(err)
	}

	if err := d.setWord16(spiFIFOWriteReg531, uint32(tx)); err != nil {
		return 0, errors.Trace(err)
	}

	// Wait while the RX FIFO is empty.
	for {
		status, err := d.t.ReadMem(Width16, spiFIFOStatusReg531, 1)
		if err != nil {
			return 0, errors.Trace(err)
		}
		if status[0]&0x1000 == 0 {
			break
		}
	}

	words, err := d.t.ReadMem(Width16, spiFIFOReadReg531, 1)
	if err != nil {
		return 0, errors.Trace(err)
	}

	// Wait until the transaction finished and the SPI is not busy.
	for {
		status, err := d.t.ReadMem(Width16, spiFIFOStatusReg531, 1)
		if err != nil {
			return 0, errors.Trace(err)
		}
		if status[0]&0x8000 == 0 {
			break
		}
	}
	return byte(words[0] & 0xFF), nil
}

// releaseReset restores P0_0 to its reset function. The pin doubles as the
// flash MOSI line while the SPI is mapped.
func (d *da14531) releaseReset() error {
	if err := d.t.WriteMem(Width16, hwrCtrlReg531, 0x0); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.t.WriteMem(Width16, p00ModeReg531, p00ModeResetVal))
}

func (d *da14531) ReadFlash(address uint32, length int) ([]byte, error) {
	data, err := d.da1453x58x.ReadFlash(address, length)
	if rstErr := d.releaseReset(); err == nil {
		err = rstErr
	}
	return data, errors.Trace(err)
}

func (d *da14531) FlashErase() error {
	err := d.da1453x58x.FlashErase()
	if rstErr := d.releaseReset(); err == nil {
		err = rstErr
	}
	return errors.Trace(err)
}

func (d *da14531) FlashProgramData(data []byte, address uint32) error {
	err := d.da1453x58x.FlashProgramData(data, address)
	if rstErr := d.releaseReset(); err == nil {
		err = rstErr
	}
	return errors.Trace(err)
}

func (d *da14531) FlashProgramImage(data []byte, params ProgramParams) error {
	err := d.da1453x58x.FlashProgramImage(data, params)
	if rstErr := d.releaseReset(); err == nil {
		err = rstErr
	}
	return errors.Trace(err)
}

func (d *da14531) FlashProgramImageWithBootloader(params BootloaderParams) error {
	err := d.da1453x58x.FlashProgramImageWithBootloader(params)
	if rstErr := d.releaseReset(); err == nil {
		err = rstErr
	}
	return errors.Trace(err)
}

// otpInit enables the OTP controller clock, moves it to deep standby and
// restores the default timings.
func (d *da14531) otpInit() error {
	clkreg, err := d.t.ReadMem(Width16, clkAMBAReg, 1)
	if err != nil {
		return errors.Trace(err)
	}
	if err := d.t.WriteMem(Width16, clkAMBAReg, clkreg[0]|0x80); err != nil {
		return errors.Trace(err)
	}
	if err := d.otpSetMode(otpcModeDStby); err != nil {
		return errors.Trace(err)
	}
	if err := d.t.WriteMem(Width32, otpcTim1Reg531, otpcTim1Reset531); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.t.WriteMem(Width32, otpcTim2Reg531, otpcTim2Reset531))
}

func (d *da14531) otpSetMode(mode uint32) error {
	current, err := d.t.ReadMem(Width32, otpcModeReg531, 1)
	if err != nil {
		return errors.Trace(err)
	}
	if current[0] != mode {
		if err := d.t.WriteMem(Width32, otpcModeReg531, mode); err != nil {
			return errors.Trace(err)
		}
	}
	for {
		stat, err := d.t.ReadMem(Width32, otpcStatReg531, 1)
		if err != nil {
			return errors.Trace(err)
		}
		if stat[0]&0x4 != 0 {
			return nil
		}
	}
}

// OTPBlankCheck reports whether the programmable OTP area is blank. A blank
// header area indicates a broken connection, not a blank part.
func (d *da14531) OTPBlankCheck() (bool, error) {
	if err := d.otpInit(); err != nil {
		return false, errors.Trace(err)
	}
	if err := d.otpSetMode(otpcModeRead); err != nil {
		return false, errors.Trace(err)
	}
	cells, err := d.t.ReadMem(Width32, otpStart531, otpSize531/otpCellSize)
	if err != nil {
		return false, errors.Trace(err)
	}

	headerStart := (otpHeaderStart531 - otpStart531) / otpCellSize
	blank := true
	for _, cell := range cells[:headerStart] {
		if cell != otpEntryFree {
			blank = false
			break
		}
	}
	headerBlank := true
	for _, cell := range cells[headerStart:] {
		if cell != otpEntryFree {
			headerBlank = false
			break
		}
	}
	if headerBlank {
		log.Error("The OTP header is blank, this shouldn't be possible. " +
			"Please ensure the connection to the chip is correct")
	}
	return blank, nil
}

// OTPReadRaw reads bytes from the OTP array. Addresses below the array size
// are treated as offsets into it.
func (d *da14531) OTPReadRaw(address uint32, length int) ([]byte, error) {
	if (address >= otpSize531 && address < otpStart531) || address >= otpStart531+otpSize531 {
		return nil, newDeviceError(KindRange, "OTP address 0x%x out of range", address)
	}
	if address < otpSize531 {
		address += otpStart531
	}
	if err := d.otpInit(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := d.otpSetMode(otpcModeRead); err != nil {
		return nil, errors.Trace(err)
	}
	words, err := d.t.ReadMem(Width8, address, length)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data := make([]byte, len(words))
	for i, w := range words {
		data[i] = byte(w)
	}
	return data, nil
}
