// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"github.com/juju/errors"
)

// DA1470x memory map. The QSPI controller and the memory mapped flash
// window swapped places relative to the DA1469x.
const (
	qspicBase70x      = 0x36000000
	flashArrayBase70x = 0x38000000

	defaultImageAddress70x = 0x3000
	defaultImageOffset70x  = 0x400
)

// Control mode register values the DA1470x uses instead of read-modify-write
// automode toggling.
const (
	ctrlModeAuto70x   = 0xF80000BF
	ctrlModeManual70x = 0xF80000BE
)

// da1470x shares the DA1469x logic with a shifted register map, moved chip
// select bits and a product header that carries the controller mode word.
type da1470x struct {
	da1469x
}

func newDA1470x(info *DeviceInfo, t Transport) *da1470x {
	d := &da1470x{}
	d.device = newDevice(info, t)
	d.regs = newQSPIRegs(qspicBase70x)
	d.readBase = flashArrayBase70x
	d.writeBase = flashArrayBase70x
	d.layout = layoutDA1470x
	d.defaultImageAddress = defaultImageAddress70x
	d.defaultImageOffset = defaultImageOffset70x
	d.bus = d
	return d
}

func (d *da1470x) csEnable() error {
	return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlBus, 0x10))
}

func (d *da1470x) csDisable() error {
	return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlBus, 0x20))
}

func (d *da1470x) setAutoMode(on bool) error {
	if on {
		return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlMode, ctrlModeAuto70x))
	}
	return errors.Trace(d.t.WriteMem(Width32, d.regs.ctrlMode, ctrlModeManual70x))
}
