// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ezflash/ezFlashCLI/flashdb"
)

// qspiRegs is the QSPI controller register map at a family specific base.
type qspiRegs struct {
	ctrlBus   uint32
	ctrlMode  uint32
	recvData  uint32
	burstCmdA uint32
	burstCmdB uint32
	writeData uint32
	readData  uint32
}

func newQSPIRegs(base uint32) qspiRegs {
	return qspiRegs{
		ctrlBus:   base + 0x00,
		ctrlMode:  base + 0x04,
		recvData:  base + 0x08,
		burstCmdA: base + 0x0C,
		burstCmdB: base + 0x10,
		writeData: base + 0x18,
		readData:  base + 0x1C,
	}
}

// qspiBus is the controller access that differs between the QSPI families:
// the chip select bits moved between generations and the DA1470x drives the
// control mode register with fixed values.
type qspiBus interface {
	csEnable() error
	csDisable() error
	setAutoMode(on bool) error
}

// da1468x69x70x implements the flash operations shared by the QSPI families.
// The flash address is always sent as three bytes, most significant first.
type da1468x69x70x struct {
	device
	regs qspiRegs

	readBase  uint32
	writeBase uint32

	bus qspiBus
}

const flashAddressSize = 3

func (d *da1468x69x70x) csEnable() error {
	return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlBus, 0x8))
}

func (d *da1468x69x70x) csDisable() error {
	return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlBus, 0x10))
}

func (d *da1468x69x70x) setAutoMode(on bool) error {
	ctrlmode, err := d.t.ReadMem(Width32, d.regs.ctrlMode, 1)
	if err != nil {
		return errors.Trace(err)
	}
	if on {
		return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlMode, ctrlmode[0]|0x1))
	}
	return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlMode, ctrlmode[0]&^uint32(0x1)))
}

func (d *da1468x69x70x) setBusMode(mode BusMode) error {
	switch mode {
	case BusModeSingle:
		if err := d.t.WriteMem(Width32, d.regs.ctrlBus, 0x1); err != nil {
			return errors.Trace(err)
		}
		ctrlmode, err := d.t.ReadMem(Width32, d.regs.ctrlMode, 1)
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlMode, ctrlmode[0]|0x3C))
	case BusModeDual:
		return newDeviceError(KindUnsupported, "unsupported DUAL SPI mode")
	default:
		if err := d.t.WriteMem(Width32, d.regs.ctrlBus, 0x4); err != nil {
			return errors.Trace(err)
		}
		ctrlmode, err := d.t.ReadMem(Width32, d.regs.ctrlMode, 1)
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlMode, ctrlmode[0]&^uint32(0xC)))
	}
}

func (d *da1468x69x70x) write8(data byte) error {
	return errors.Trace(d.t.WriteMem(Width8, d.regs.writeData, uint32(data)))
}

func (d *da1468x69x70x) read8() (byte, error) {
	words, err := d.t.ReadMem(Width8, d.regs.readData, 1)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return byte(words[0]), nil
}

// whileFlashBusy polls the flash status register until the write-in-progress
// bit clears or the wait timeout expires.
func (d *da1468x69x70x) whileFlashBusy() error {
	var waited time.Duration

	if err := d.bus.csEnable(); err != nil {
		return errors.Trace(err)
	}
	if err := d.write8(cmdReadStatusRegister); err != nil {
		return errors.Trace(err)
	}
	for {
		status, err := d.read8()
		if err != nil {
			return errors.Trace(err)
		}
		if status&statusBusy == 0 {
			return errors.Trace(d.bus.csDisable())
		}
		if waited > d.waitTimeout {
			return newDeviceError(KindTimeout, "flash stays busy after %v", d.waitTimeout)
		}
		time.Sleep(d.pollingInterval)
		waited += d.pollingInterval
	}
}

// qspiCommand sends command bytes in one chip select window.
func (d *da1468x69x70x) qspiCommand(bytes ...byte) error {
	if err := d.bus.csEnable(); err != nil {
		return errors.Trace(err)
	}
	for _, b := range bytes {
		if err := d.write8(b); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(d.bus.csDisable())
}

func (d *da1468x69x70x) flashResetContinuousMode(size breakSeqSize) error {
	if size == breakSeq2B {
		return errors.Trace(d.qspiCommand(cmdExitContinuousMode, cmdExitContinuousMode))
	}
	return errors.Trace(d.qspiCommand(cmdExitContinuousMode))
}

// flashReset breaks continuous read mode, issues the software reset pair in
// quad mode and releases power down in single mode.
func (d *da1468x69x70x) flashReset() error {
	if err := d.flashResetContinuousMode(breakSeq1B); err != nil {
		return errors.Trace(err)
	}
	if err := d.flashResetContinuousMode(breakSeq2B); err != nil {
		return errors.Trace(err)
	}

	if err := d.setBusMode(BusModeQuad); err != nil {
		return errors.Trace(err)
	}
	if err := d.write8(0x66); err != nil {
		return errors.Trace(err)
	}
	if err := d.write8(0x99); err != nil {
		return errors.Trace(err)
	}

	if err := d.setBusMode(BusModeSingle); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.write8(cmdReleasePowerDown))
}

func (d *da1468x69x70x) flashInit() error {
	if err := d.bus.setAutoMode(false); err != nil {
		return errors.Trace(err)
	}
	if err := d.flashReset(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.bus.setAutoMode(true))
}

func (d *da1468x69x70x) FlashProbe() (JEDECID, error) {
	if err := d.t.Reset(); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	if err := d.flashInit(); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	if err := d.bus.setAutoMode(false); err != nil {
		return JEDECID{}, errors.Trace(err)
	}

	if err := d.bus.csEnable(); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	if err := d.write8(cmdReadJEDECID); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	var id [3]byte
	for i := range id {
		b, err := d.read8()
		if err != nil {
			return JEDECID{}, errors.Trace(err)
		}
		id[i] = b
	}
	if err := d.bus.csDisable(); err != nil {
		return JEDECID{}, errors.Trace(err)
	}

	if err := d.bus.setAutoMode(true); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	return JEDECID{Manufacturer: id[0], DeviceType: id[1], Density: id[2]}, nil
}

// FlashConfigureController programs the burst command registers from the
// flash descriptor and leaves the controller in quad automode. Requires a
// successful probe first.
func (d *da1468x69x70x) FlashConfigureController(desc *flashdb.Descriptor) error {
	burstA, err := desc.BurstCmdAValue()
	if err != nil {
		return errors.Trace(err)
	}
	burstB, err := desc.BurstCmdBValue()
	if err != nil {
		return errors.Trace(err)
	}
	sequence, err := desc.ConfigSequence()
	if err != nil {
		return errors.Trace(err)
	}

	if err := d.bus.setAutoMode(false); err != nil {
		return errors.Trace(err)
	}
	if err := d.setBusMode(BusModeQuad); err != nil {
		return errors.Trace(err)
	}

	if err := d.qspiCommand(cmdWriteEnable); err != nil {
		return errors.Trace(err)
	}

	// The last sequence byte is a termination marker, not sent to the part.
	if len(sequence) > 0 {
		if err := d.qspiCommand(sequence[:len(sequence)-1]...); err != nil {
			return errors.Trace(err)
		}
	}

	if err := d.t.WriteMem(Width32, d.regs.burstCmdA, burstA); err != nil {
		return errors.Trace(err)
	}
	if err := d.t.WriteMem(Width32, d.regs.burstCmdB, burstB); err != nil {
		return errors.Trace(err)
	}
	if ctrlMode, ok, err := desc.CtrlModeValue(); err != nil {
		return errors.Trace(err)
	} else if ok {
		if err := d.t.WriteMem(Width32, d.regs.ctrlMode, ctrlMode); err != nil {
			return errors.Trace(err)
		}
	}

	// Read back so the register writes have settled before automode.
	for _, reg := range []uint32{d.regs.burstCmdA, d.regs.burstCmdB, d.regs.ctrlMode} {
		if _, err := d.t.ReadMem(Width32, reg, 1); err != nil {
			return errors.Trace(err)
		}
	}

	if err := d.setBusMode(BusModeQuad); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.bus.setAutoMode(true))
}

func (d *da1468x69x70x) FlashErase() error {
	if err := d.t.Reset(); err != nil {
		return errors.Trace(err)
	}
	if err := d.bus.setAutoMode(false); err != nil {
		return errors.Trace(err)
	}
	if err := d.setBusMode(BusModeSingle); err != nil {
		return errors.Trace(err)
	}
	if err := d.flashReset(); err != nil {
		return errors.Trace(err)
	}

	if err := d.qspiCommand(cmdWriteEnable); err != nil {
		return errors.Trace(err)
	}
	if err := d.qspiCommand(cmdChipErase); err != nil {
		return errors.Trace(err)
	}
	if err := d.whileFlashBusy(); err != nil {
		return errors.Trace(err)
	}

	if err := d.setBusMode(BusModeQuad); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.bus.setAutoMode(true))
}

func (d *da1468x69x70x) FlashSectorErase(address uint32) error {
	if err := d.bus.setAutoMode(false); err != nil {
		return errors.Trace(err)
	}
	if err := d.setBusMode(BusModeSingle); err != nil {
		return errors.Trace(err)
	}

	if err := d.qspiCommand(cmdWriteEnable); err != nil {
		return errors.Trace(err)
	}
	cmd := append([]byte{cmdSectorErase}, flashAddressBytes(address)...)
	if err := d.qspiCommand(cmd...); err != nil {
		return errors.Trace(err)
	}
	if err := d.whileFlashBusy(); err != nil {
		return errors.Trace(err)
	}

	if err := d.setBusMode(BusModeQuad); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.bus.setAutoMode(true))
}

// flashPageProgram programs up to one page through the manual access
// registers.
func (d *da1468x69x70x) flashPageProgram(address uint32, data []byte) error {
	if len(data) == 0 {
		return newDeviceError(KindProtocol, "page program with no data")
	}
	if err := d.bus.setAutoMode(false); err != nil {
		return errors.Trace(err)
	}
	if err := d.setBusMode(BusModeSingle); err != nil {
		return errors.Trace(err)
	}

	if err := d.qspiCommand(cmdWriteEnable); err != nil {
		return errors.Trace(err)
	}
	cmd := append([]byte{cmdPageProgram}, flashAddressBytes(address)...)
	cmd = append(cmd, data...)
	if err := d.qspiCommand(cmd...); err != nil {
		return errors.Trace(err)
	}
	if err := d.whileFlashBusy(); err != nil {
		return errors.Trace(err)
	}

	if err := d.setBusMode(BusModeQuad); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.bus.setAutoMode(true))
}

// flashAddressBytes renders a 24 bit flash address most significant byte
// first.
func flashAddressBytes(address uint32) []byte {
	return []byte{byte(address >> 16), byte(address >> 8), byte(address)}
}

// ReadFlash reads through the memory mapped window in automode.
func (d *da1468x69x70x) ReadFlash(address uint32, length int) ([]byte, error) {
	words, err := d.t.ReadMem(Width8, d.readBase+address, length)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data := make([]byte, len(words))
	for i, w := range words {
		data[i] = byte(w)
	}
	return data, nil
}

// FlashProgramData streams raw bytes through the probe download path into
// the memory mapped write window.
func (d *da1468x69x70x) FlashProgramData(data []byte, address uint32) error {
	if err := d.t.Reset(); err != nil {
		return errors.Trace(err)
	}
	written, err := d.t.BulkWrite(d.writeBase+address, data)
	if err != nil || written < 0 {
		log.Errorf("Download failed with code: @%x %d", d.writeBase, written)
		return newDeviceError(KindConnection, "download failed at 0x%x (%d)", address, written)
	}
	return nil
}
