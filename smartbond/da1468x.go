// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// DA1468x memory map.
const (
	qspicBase68x      = 0x0C000000
	flashArrayBase68x = 0x08000000
)

// da1468x covers the DA14681 and DA14683. The boot ROM consumes a compact
// bootable image layout instead of the product header scheme of the later
// families.
type da1468x struct {
	da1468x69x70x
}

func newDA1468x(info *DeviceInfo, t Transport) *da1468x {
	d := &da1468x{}
	d.device = newDevice(info, t)
	d.regs = newQSPIRegs(qspicBase68x)
	d.readBase = flashArrayBase68x
	d.writeBase = flashArrayBase68x
	d.bus = d
	return d
}

// setQSPIClk switches the AMBA clock tree to feed the QSPI controller.
func (d *da1468x) setQSPIClk() error {
	return errors.Trace(d.t.WriteMem(Width16, clkAMBAReg, 0x1000))
}

func (d *da1468x) FlashProbe() (JEDECID, error) {
	if err := d.setQSPIClk(); err != nil {
		return JEDECID{}, errors.Trace(err)
	}
	return d.da1468x69x70x.FlashProbe()
}

// FlashProgramImage programs a bootable image at offset zero, wrapping a raw
// binary into the boot ROM layout first.
func (d *da1468x) FlashProgramImage(data []byte, params ProgramParams) error {
	name := d.info.PrettyName
	if len(data) >= 2 && data[0] == 'q' && data[1] == 'Q' {
		log.Infof("[%s] Program image", name)
	} else {
		log.Infof("[%s] Program binary", name)
		data = makeBootableImage68x(data)
	}
	if err := d.FlashProgramData(data, 0x0); err != nil {
		return errors.Trace(err)
	}
	log.Infof("[%s] Program success", name)
	return nil
}
