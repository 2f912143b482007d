// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ezflash/ezFlashCLI/flashdb"
)

// DA14592 memory map. The part carries embedded flash behind a flash
// controller unit instead of an external QSPI device.
const (
	qspicBase592      = 0x00A00000
	flashArrayBase592 = 0x31000000

	flashCtrlReg592 = 0x50060100

	cacheEFlashReg592    = 0x1A0C0044
	cacheEFlashRegVal592 = 0x00A09005

	defaultImageAddress592 = 0x2000
	defaultImageOffset592  = 0x400

	configScriptHeaderAddr592 = 0x1000
)

// Flash controller unit mode bits.
const (
	fcuProgModeRead       = 0x0
	fcuProgModeWritePage  = 0x1
	fcuProgModeErasePage  = 0x2
	fcuProgModeEraseBlock = 0x3
	fcuAccessModeRead     = 0x0
	fcuAccessModeWrite    = 0x8
)

// da14592 reuses the DA1469x image and OTP handling. The embedded flash
// needs no chip select or automode sequencing, so those are stubbed out.
type da14592 struct {
	da1469x
}

func newDA14592(info *DeviceInfo, t Transport) *da14592 {
	d := &da14592{}
	d.device = newDevice(info, t)
	d.regs = newQSPIRegs(qspicBase592)
	d.readBase = qspicBase592
	d.writeBase = flashArrayBase592
	d.layout = layoutDA14592
	d.defaultImageAddress = defaultImageAddress592
	d.defaultImageOffset = defaultImageOffset592
	d.bus = d
	return d
}

// FlashProbe has nothing to probe, the flash is on die.
func (d *da14592) FlashProbe() (JEDECID, error) {
	return JEDECID{Manufacturer: 1, DeviceType: 2, Density: 3}, nil
}

func (d *da14592) csEnable() error  { return nil }
func (d *da14592) csDisable() error { return nil }

func (d *da14592) setAutoMode(on bool) error { return nil }

func (d *da14592) FlashConfigureController(desc *flashdb.Descriptor) error { return nil }

// FlashErase erases the embedded flash through the flash controller unit.
func (d *da14592) FlashErase() error {
	if err := d.t.Reset(); err != nil {
		return errors.Trace(err)
	}
	ctrl, err := d.t.ReadMem(Width32, flashCtrlReg592, 1)
	if err != nil {
		return errors.Trace(err)
	}
	flashCtrl := ctrl[0] & 0xFFFFFFF4
	if err := d.t.WriteMem(Width32, flashCtrlReg592,
		flashCtrl|fcuProgModeEraseBlock|fcuAccessModeWrite); err != nil {
		return errors.Trace(err)
	}
	if err := d.t.WriteMem(Width32, qspicBase592, 0); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.t.WriteMem(Width32, flashCtrlReg592, flashCtrl))
}

// FlashProgramImage programs an application image. A blob starting with the
// config script marker is written verbatim; anything else gets an image
// header when needed and is followed by the config script and the two
// product header copies at the start of the flash.
func (d *da14592) FlashProgramImage(data []byte, params ProgramParams) error {
	name := d.info.PrettyName
	if len(data) >= 4 &&
		data[0] == 0xA5 && data[1] == 0xA5 && data[2] == 0xA5 && data[3] == 0xA5 {
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
	log.Infof("[%s] Program bin to 0x%X", name, activeAddr)

	if err := d.FlashProgramData(data, activeAddr); err != nil {
		return errors.Trace(err)
	}

	if params.Descriptor == nil {
		return newDeviceError(KindProtocol, "no flash descriptor, cannot build the product header")
	}
	ph, err := makeProductHeader(params.Descriptor, activeAddr, activeAddr, d.layout)
	if err != nil {
		return errors.Trace(err)
	}

	cs := makeConfigScript592(configScriptHeaderAddr592)
	for len(cs) < configScriptHeaderAddr592 {
		cs = append(cs, 0xFF)
	}
	cs = append(cs, ph...)
	for len(cs) < configScriptHeaderAddr592+0x800 {
		cs = append(cs, 0xFF)
	}
	cs = append(cs, ph...)

	log.Infof("[%s] Program cs script and product headers", name)
	if err := d.FlashProgramData(cs, 0x0); err != nil {
		return errors.Trace(err)
	}
	log.Infof("[%s] Program success", name)
	return nil
}
