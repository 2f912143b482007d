// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"encoding/binary"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// Registers shared by the DA1453x and DA1458x generation. The SPI controller
// is driven manually through its FIFO registers; there is no automode.
const (
	flashArrayBase531 = 0x16000000

	setFreezeReg531 = 0x50003300
	padLatchReg531  = 0x5000030C
	sysCtrlReg531   = 0x50000012
	hwrCtrlReg531   = 0x50000300
	clkPerReg531    = 0x50000004

	spiCtrlReg531       = 0x50001200
	spiConfigReg531     = 0x50001204
	spiClockReg531      = 0x50001208
	spiFIFOConfigReg531 = 0x5000120C
	spiFIFOStatusReg531 = 0x50001218
	spiFIFOReadReg531   = 0x5000121C
	spiFIFOWriteReg531  = 0x50001220
	spiCSConfigReg531   = 0x50001224

	p0DataReg531    = 0x50003000
	p00ModeReg531   = 0x50003006
	p00ModeResetVal = 0x0200
	gpioModeOutput  = 0x300
	gpioModeInput   = 0x000
)

// spiWordMode selects the SPI transfer granularity.
type spiWordMode int

const (
	spiMode8Bit  spiWordMode = 0
	spiMode16Bit spiWordMode = 1
	spiMode32Bit spiWordMode = 2
)

// spiBus is the per-family register sequencing the shared SPI flash
// algorithms are parameterized over.
type spiBus interface {
	csLow() error
	csHigh() error
	exchangeByte(tx byte) (byte, error)
	setWordWidth(mode spiWordMode) error
	flashInit() error
}

// da1453x58x implements the flash operations common to the SPI families on
// top of a family specific spiBus.
type da1453x58x struct {
	device
	bus spiBus
}

func (d *da1453x58x) setWord16(addr uint32, value uint32) error {
	return d.t.WriteMem(Width16, addr, value)
}

// setBits16 updates the field selected by mask in a 16 bit register,
// shifting value into the mask position.
func (d *da1453x58x) setBits16(addr uint32, mask uint32, value uint32) error {
	words, err := d.t.ReadMem(Width16, addr, 1)
	if err != nil {
		return errors.Trace(err)
	}
	reg := (words[0] &^ mask) & 0xFFFF
	return d.t.WriteMem(Width16, addr, reg|value<<shift16(mask))
}

// shift16 returns the position of the lowest set bit of the mask.
func shift16(mask uint32) uint {
	var shift uint
	for mask&0x1 == 0 {
		shift++
		mask >>= 1
	}
	return shift
}

func (d *da1453x58x) gpioSetPinFunction(port, pin uint32, mode, function uint32) error {
	dataReg := uint32(p0DataReg531) + port<<5
	modeReg := dataReg + 0x6 + pin<<1
	return d.t.WriteMem(Width16, modeReg, mode|function)
}

func (d *da1453x58x) gpioSetActive(port, pin uint32) error {
	return d.t.WriteMem(Width16, p0DataReg531+port<<5+2, 1<<pin)
}

func (d *da1453x58x) gpioSetInactive(port, pin uint32) error {
	return d.t.WriteMem(Width16, p0DataReg531+port<<5+4, 1<<pin)
}

// ReadFlash reads length bytes starting at the 24 bit flash address using
// the manual READ_DATA command.
func (d *da1453x58x) ReadFlash(address uint32, length int) ([]byte, error) {
	if err := d.bus.flashInit(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := d.bus.csLow(); err != nil {
		return nil, errors.Trace(err)
	}
	for _, tx := range []byte{cmdReadData, byte(address), byte(address >> 8), byte(address >> 16)} {
		if _, err := d.bus.exchangeByte(tx); err != nil {
			return nil, errors.Trace(err)
		}
	}
	data := make([]byte, 0, length)
	for i := 0; i < length; i++ {
		rx, err := d.bus.exchangeByte(0xFF)
		if err != nil {
			return nil, errors.Trace(err)
		}
		data = append(data, rx)
	}
	if err := d.bus.csHigh(); err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

func (d *da1453x58x) FlashProbe() (JEDECID, error) {
	// Reset first so the controller starts from a known state.
	if err := d.t.Reset(); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	if err := d.bus.flashInit(); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	if err := d.bus.setWordWidth(spiMode8Bit); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	if err := d.bus.csLow(); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	if _, err := d.bus.exchangeByte(cmdReadJEDECID); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	var id [3]byte
	for i := range id {
		rx, err := d.bus.exchangeByte(0xFF)
		if err != nil {
			return JEDECID{}, errors.Trace(err)
		}
		id[i] = rx
	}
	if err := d.bus.csHigh(); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	return JEDECID{Manufacturer: id[0], DeviceType: id[1], Density: id[2]}, nil
}

// flashSoftwareProtection reads the block protection bits of the flash
// status register.
func (d *da1453x58x) flashSoftwareProtection() (byte, error) {
	if err := d.t.Reset(); err != nil {
		return 0, errors.Trace(err)
	}
	if err := d.bus.flashInit(); err != nil {
		return 0, errors.Trace(err)
	}
	if err := d.bus.csLow(); err != nil {
		return 0, errors.Trace(err)
	}
	if _, err := d.bus.exchangeByte(cmdReadStatusRegister); err != nil {
		return 0, errors.Trace(err)
	}
	status, err := d.bus.exchangeByte(cmdReadStatusRegister)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if err := d.bus.csHigh(); err != nil {
		return 0, errors.Trace(err)
	}
	return (status & statusProtectionMask) >> 2, nil
}

// flashSoftwareUnprotect clears the software write protection bits.
func (d *da1453x58x) flashSoftwareUnprotect() error {
	log.Debug("Disabling flash protection.")
	if err := d.t.Reset(); err != nil {
		return errors.Trace(err)
	}
	if err := d.bus.flashInit(); err != nil {
		return errors.Trace(err)
	}
	if err := d.spiCommand(cmdWriteEnable); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.spiCommand(cmdWriteStatusRegister, 0x00))
}

// spiCommand sends one command byte plus arguments in a single chip select
// window.
func (d *da1453x58x) spiCommand(bytes ...byte) error {
	if err := d.bus.csLow(); err != nil {
		return errors.Trace(err)
	}
	for _, tx := range bytes {
		if _, err := d.bus.exchangeByte(tx); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(d.bus.csHigh())
}

// FlashErase performs a chip erase and busy-polls the status register until
// the flash clears the write-in-progress bit. This family has no erase
// timeout; the poll matches the hardware behavior of never timing out.
func (d *da1453x58x) FlashErase() error {
	if err := d.t.Reset(); err != nil {
		return errors.Trace(err)
	}
	if err := d.bus.flashInit(); err != nil {
		return errors.Trace(err)
	}

	protection, err := d.flashSoftwareProtection()
	if err != nil {
		return errors.Trace(err)
	}
	if protection != 0 {
		if err := d.flashSoftwareUnprotect(); err != nil {
			return errors.Trace(err)
		}
	}

	if err := d.spiCommand(cmdWriteEnable); err != nil {
		return errors.Trace(err)
	}
	if err := d.spiCommand(cmdChipErase); err != nil {
		return errors.Trace(err)
	}

	if err := d.bus.csLow(); err != nil {
		return errors.Trace(err)
	}
	if _, err := d.bus.exchangeByte(cmdReadStatusRegister); err != nil {
		return errors.Trace(err)
	}
	for {
		status, err := d.bus.exchangeByte(cmdReadStatusRegister)
		if err != nil {
			return errors.Trace(err)
		}
		if status&statusBusy == 0 {
			break
		}
	}
	return errors.Trace(d.bus.csHigh())
}

// FlashProgramData streams raw bytes through the probe download path into
// the flash window and resets the CPU afterwards.
func (d *da1453x58x) FlashProgramData(data []byte, address uint32) error {
	protection, err := d.flashSoftwareProtection()
	if err != nil {
		return errors.Trace(err)
	}
	if protection != 0 {
		if err := d.flashSoftwareUnprotect(); err != nil {
			return errors.Trace(err)
		}
	}

	written, err := d.t.BulkWrite(flashArrayBase531+address, data)
	if err != nil || written < 0 {
		log.Errorf("Download failed with code: @address 0x%x, %d", address, written)
		return newDeviceError(KindConnection, "download failed at 0x%x (%d)", address, written)
	}
	return errors.Trace(d.t.Reset())
}

// FlashProgramImage writes an application image at the start of the flash,
// prepending the boot marker and big endian size when the input is not
// already bootable.
func (d *da1453x58x) FlashProgramImage(data []byte, params ProgramParams) error {
	if len(data) < 4 {
		return newDeviceError(KindProtocol, "image too short (%d bytes)", len(data))
	}
	if data[0] != 0x70 || data[1] != 0x50 {
		log.Info("Not a bootable image")
		if data[3] != 0x07 {
			return newDeviceError(KindProtocol,
				"not a binary with stack pointer at the beginning (0x%02x)", data[3])
		}
		log.Info("append booting data")
		data = append(makeMicroHeader531(len(data)), data...)
	}

	protection, err := d.flashSoftwareProtection()
	if err != nil {
		return errors.Trace(err)
	}
	if protection != 0 {
		if err := d.flashSoftwareUnprotect(); err != nil {
			return errors.Trace(err)
		}
	}

	written, err := d.t.BulkWrite(flashArrayBase531, data)
	if err != nil || written < 0 {
		log.Errorf("Download failed with code: %d", written)
		return newDeviceError(KindConnection, "download failed (%d)", written)
	}
	return errors.Trace(d.t.Reset())
}

// Default secondary bootloader layout of the DA14531 boot ROM.
const (
	defaultImage1Address531  = 0x4000
	defaultImage2Address531  = 0xF000
	defaultHeaderPosition531 = 0x1A000
)

// FlashProgramImageWithBootloader programs the product header, the image at
// two redundant slots and the secondary bootloader. The hardware has no
// atomic multi-region write; a failed step aborts without rollback.
func (d *da1453x58x) FlashProgramImageWithBootloader(params BootloaderParams) error {
	if len(params.Bootloader) == 0 {
		return newDeviceError(KindProtocol, "no secondary bootloader binary supplied")
	}
	if len(params.Image) < 4 {
		return newDeviceError(KindProtocol, "image too short (%d bytes)", len(params.Image))
	}

	image1 := params.Image1Address
	if image1 == 0 {
		image1 = defaultImage1Address531
	}
	image2 := params.Image2Address
	if image2 == 0 {
		image2 = defaultImage2Address531
	}
	headerPos := params.ProductHeaderPosition
	if headerPos == 0 {
		headerPos = defaultHeaderPosition531
	}

	productHeader := make([]byte, 0, 12)
	productHeader = append(productHeader, 0x70, 0x52, 0x00, 0x00)
	productHeader = binary.LittleEndian.AppendUint32(productHeader, image1)
	productHeader = binary.LittleEndian.AppendUint32(productHeader, image2)

	data := params.Image
	if data[0] != 0x70 || data[1] != 0x51 {
		log.Info("Not a single image")
		if data[3] != 0x07 {
			return newDeviceError(KindProtocol,
				"not a binary with stack pointer at the beginning (0x%02x)", data[3])
		}
		log.Info("adding image header")
		data = append(makeSingleImageHeader(data, headerTimestamp()), data...)
	}

	if err := d.FlashProgramData(productHeader, headerPos); err != nil {
		log.Error("Flash product header failed")
		return errors.Trace(err)
	}
	log.Info("Flash product header success")

	for _, slot := range []uint32{image1, image2} {
		if err := d.FlashProgramData(data, slot); err != nil {
			log.Error("Flash image failed")
			return errors.Trace(err)
		}
		log.Info("Flash image success")
	}

	if err := d.FlashProgramImage(params.Bootloader, ProgramParams{}); err != nil {
		log.Error("Flash bootloader failed")
		return errors.Trace(err)
	}
	log.Info("Flash bootloader success")
	return nil
}
