// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ezflash/ezFlashCLI/flashdb"
)

// DA1469x memory map.
const (
	qspicBase69x      = 0x38000000
	flashArrayBase69x = 0x36000000

	sysCtrlReg69x    = 0x50000024
	cacheFlashReg69x = 0x100C0040

	productHeaderSize69x = 0x1000

	defaultImageAddress69x = 0x2000
	defaultImageOffset69x  = 0x400
)

// DA1469x OTP controller and config script area.
const (
	otpcBase69x      = 0x30070000
	otpcModeReg69x   = otpcBase69x + 0x00
	otpcStatReg69x   = otpcBase69x + 0x04
	otpcPAddrReg69x  = otpcBase69x + 0x08
	otpcPWordReg69x  = otpcBase69x + 0x0C
	otpcTim1Reg69x   = otpcBase69x + 0x10
	otpcTim2Reg69x   = otpcBase69x + 0x14
	otpcTim1Reset69x = 0x0999101F
	otpcTim2Reset69x = 0xA4040409

	otpBase69x             = 0x10080000
	otpScriptOffset69x     = 0x0C00
	otpScriptAddr69x       = otpBase69x + otpScriptOffset69x
	otpScriptMaxEntries69x = 256
)

// OTP controller modes on the DA1469x generation. One more power state than
// the DA14531 controller, which shifts every mode value by one.
const (
	otpcMode69xPDown = 0
	otpcMode69xDStby = 1
	otpcMode69xStby  = 2
	otpcMode69xRead  = 3
	otpcMode69xProg  = 4
	otpcMode69xPVfy  = 5
	otpcMode69xRIni  = 6
)

// da1469x is the driver for the DA1469x family. The flash sits behind the
// QSPI controller; the config script engine lives in the OTP.
type da1469x struct {
	da1468x69x70x
	layout productHeaderLayout

	defaultImageAddress uint32
	defaultImageOffset  uint32
}

func newDA1469x(info *DeviceInfo, t Transport) *da1469x {
	d := &da1469x{
		layout:              layoutDA1469x,
		defaultImageAddress: defaultImageAddress69x,
		defaultImageOffset:  defaultImageOffset69x,
	}
	d.device = newDevice(info, t)
	d.regs = newQSPIRegs(qspicBase69x)
	d.readBase = flashArrayBase69x
	d.writeBase = flashArrayBase69x
	d.bus = d
	return d
}

// Reset routes the CPU through the boot ROM before releasing it.
func (d *da1469x) Reset() error {
	if err := d.t.WriteMem(Width16, sysCtrlReg69x, 0x000000D0); err != nil {
		return errors.Trace(err)
	}
	if err := d.t.Reset(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.t.Go())
}

// checkAddress validates an image address against the cache flash region
// configuration: at least 0x2000 and at most three sectors past a region
// boundary.
func (d *da1469x) checkAddress(address uint32) (bool, error) {
	cacheFlash, err := d.t.ReadMem(Width32, cacheFlashReg69x, 1)
	if err != nil {
		return false, errors.Trace(err)
	}
	regionSize := uint32(0x2000000) >> (cacheFlash[0] & 0x7)
	if address < 0x2000 || address%regionSize > 0x3000 {
		return false, nil
	}
	return true, nil
}

func (d *da1469x) ReadProductHeader() ([]byte, error) {
	return d.ReadFlash(0, d.layout.size)
}

func (d *da1469x) MakeProductHeader(desc *flashdb.Descriptor, activeAddr, updateAddr uint32) ([]byte, error) {
	if activeAddr == 0 {
		activeAddr = d.defaultImageAddress
	}
	if updateAddr == 0 {
		updateAddr = activeAddr
	}
	return makeProductHeader(desc, activeAddr, updateAddr, d.layout)
}

// FlashProgramImage programs an application image. Input starting with the
// product header magic is written verbatim at offset zero. Anything else is
// wrapped in an image header when needed and programmed at the image
// address, followed by the primary and backup product headers.
func (d *da1469x) FlashProgramImage(data []byte, params ProgramParams) error {
	name := d.info.PrettyName
	if len(data) >= 2 && data[0] == productHeaderMagic0 && data[1] == productHeaderMagic1 {
		log.Infof("[%s] Program image", name)
		if err := d.FlashProgramData(data, 0x0); err != nil {
			return errors.Trace(err)
		}
		log.Infof("[%s] Program success", name)
		return nil
	}

	if len(data) < 2 || data[0] != imageHeaderMagic0 || data[1] != imageHeaderMagic1 {
		log.Infof("[%s] Add image header", name)
		header := makeImageHeader(data, headerTimestamp())
		for len(header) < int(d.defaultImageOffset) {
			header = append(header, 0xFF)
		}
		data = append(header, data...)
	}

	log.Infof("[%s] Program bin", name)
	activeAddr := d.defaultImageAddress
	if params.ActiveImageAddress != nil {
		ok, err := d.checkAddress(*params.ActiveImageAddress)
		if err != nil {
			return errors.Trace(err)
		}
		if !ok {
			return newDeviceError(KindRange,
				"image address 0x%x out of range: it should be bigger than 0x2000 and "+
					"start at a flash region multiple plus at most three sectors",
				*params.ActiveImageAddress)
		}
		activeAddr = *params.ActiveImageAddress
	}
	log.Debugf("[%s] active image address 0x%x", name, activeAddr)

	if err := d.FlashProgramData(data, activeAddr); err != nil {
		return errors.Trace(err)
	}

	if params.Descriptor == nil {
		return newDeviceError(KindProtocol, "no flash descriptor, cannot build the product header")
	}
	log.Infof("[%s] Program product header", name)
	ph, err := makeProductHeader(params.Descriptor, activeAddr, activeAddr, d.layout)
	if err != nil {
		return errors.Trace(err)
	}
	if err := d.FlashProgramData(ph, 0x0); err != nil {
		return errors.Trace(err)
	}
	if err := d.FlashProgramData(ph, uint32(d.layout.size)); err != nil {
		return errors.Trace(err)
	}
	log.Infof("[%s] Program success", name)
	return nil
}

// otpInit enables the OTP controller clock, moves it to deep standby and
// restores the default timings.
func (d *da1469x) otpInit() error {
	clkreg, err := d.t.ReadMem(Width16, clkAMBAReg, 1)
	if err != nil {
		return errors.Trace(err)
	}
	if err := d.t.WriteMem(Width16, clkAMBAReg, clkreg[0]|0x200); err != nil {
		return errors.Trace(err)
	}
	if err := d.otpSetMode(otpcMode69xDStby); err != nil {
		return errors.Trace(err)
	}
	if err := d.t.WriteMem(Width32, otpcTim1Reg69x, otpcTim1Reset69x); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.t.WriteMem(Width32, otpcTim2Reg69x, otpcTim2Reset69x))
}

func (d *da1469x) otpSetMode(mode uint32) error {
	current, err := d.t.ReadMem(Width32, otpcModeReg69x, 1)
	if err != nil {
		return errors.Trace(err)
	}
	if current[0] != mode {
		if err := d.t.WriteMem(Width32, otpcModeReg69x, mode); err != nil {
			return errors.Trace(err)
		}
	}
	for {
		stat, err := d.t.ReadMem(Width32, otpcStatReg69x, 1)
		if err != nil {
			return errors.Trace(err)
		}
		if stat[0]&0x4 != 0 {
			return nil
		}
	}
}

// otpVerifyWords reads the written cells back in the given margin read mode.
func (d *da1469x) otpVerifyWords(words []uint32, offset int, mode uint32) (bool, error) {
	if err := d.otpSetMode(mode); err != nil {
		return false, errors.Trace(err)
	}
	for _, word := range words {
		read, err := d.t.ReadMem(Width32, otpScriptAddr69x+uint32(offset), 1)
		if err != nil {
			return false, errors.Trace(err)
		}
		if read[0] != word {
			log.Errorf("OTP verify fail: mode %d, offset 0x%x, read 0x%x, written 0x%x",
				mode, offset, read[0], word)
			return false, nil
		}
		offset += otpCellSize
	}
	return true, nil
}

// otpWriteWords programs words at the byte offset inside the config script
// and verifies them in both margin read modes.
func (d *da1469x) otpWriteWords(words []uint32, offset int) (bool, error) {
	cellOffset := uint32((otpScriptOffset69x + offset) / otpCellSize)

	if err := d.otpSetMode(otpcMode69xProg); err != nil {
		return false, errors.Trace(err)
	}
	for _, word := range words {
		if err := d.t.WriteMem(Width32, otpcPWordReg69x, word); err != nil {
			return false, errors.Trace(err)
		}
		if err := d.t.WriteMem(Width32, otpcPAddrReg69x, cellOffset); err != nil {
			return false, errors.Trace(err)
		}
		for {
			stat, err := d.t.ReadMem(Width32, otpcStatReg69x, 1)
			if err != nil {
				return false, errors.Trace(err)
			}
			if stat[0]&0x2 != 0 {
				break
			}
		}
		cellOffset++
	}

	// Wait for the overall programming operation.
	for {
		stat, err := d.t.ReadMem(Width32, otpcStatReg69x, 1)
		if err != nil {
			return false, errors.Trace(err)
		}
		if stat[0]&0x1 != 0 {
			break
		}
	}

	for _, mode := range []uint32{otpcMode69xPVfy, otpcMode69xRIni} {
		ok, err := d.otpVerifyWords(words, offset, mode)
		if err != nil {
			return false, errors.Trace(err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// OTPRead scans the config script for key. The offset result is the byte
// offset of the first free entry, or a negative status when the script is
// locked or full.
func (d *da1469x) OTPRead(key uint32) (int, int, error) {
	if err := d.otpInit(); err != nil {
		return 0, 0, errors.Trace(err)
	}
	if err := d.otpSetMode(otpcMode69xRead); err != nil {
		return 0, 0, errors.Trace(err)
	}

	entries, err := d.t.ReadMem(Width32, otpScriptAddr69x, otpScriptMaxEntries69x)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}

	count, offset := scanConfigScript(entries, key)
	return count, offset, nil
}

// OTPWrite appends key and values at the first free config script entry.
// An existing key is left alone unless force is set; that skip is a success.
func (d *da1469x) OTPWrite(key uint32, values []uint32, force bool) error {
	count, offset, err := d.OTPRead(key)
	if err != nil {
		return errors.Trace(err)
	}

	switch offset {
	case otpStatusLocked:
		return newDeviceError(KindProtocol, "OTP is locked")
	case otpStatusFull:
		return newDeviceError(KindProtocol, "OTP is full")
	}
	if count > 0 && !force {
		log.Info("OTP write skipped because key exists, use --force to override")
		return nil
	}

	log.Infof("OTP write key 0x%x with values: %v", key, values)
	ok, err := d.otpWriteWords(append([]uint32{key}, values...), offset)
	if err != nil {
		return errors.Trace(err)
	}
	if !ok {
		return newDeviceError(KindVerify, "OTP write error")
	}
	return nil
}

// OTPBlankCheck reports whether the config script area holds only the start
// marker and free cells.
func (d *da1469x) OTPBlankCheck() (bool, error) {
	if err := d.otpInit(); err != nil {
		return false, errors.Trace(err)
	}
	if err := d.otpSetMode(otpcMode69xRead); err != nil {
		return false, errors.Trace(err)
	}
	entries, err := d.t.ReadMem(Width32, otpScriptAddr69x, otpScriptMaxEntries69x)
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, cell := range entries[1:] {
		if cell != otpEntryFree {
			return false, nil
		}
	}
	return true, nil
}

// OTPReadRaw reads bytes from the OTP array. Addresses below the script
// area size are treated as offsets from the OTP base.
func (d *da1469x) OTPReadRaw(address uint32, length int) ([]byte, error) {
	if address < otpBase69x {
		address += otpBase69x
	}
	if err := d.otpInit(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := d.otpSetMode(otpcMode69xRead); err != nil {
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
