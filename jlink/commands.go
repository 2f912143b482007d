// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jlink

// J-Link raw USB protocol command bytes.
const (
	emuCmdVersion        = 0x01
	emuCmdResetTarget    = 0x03
	emuCmdSetSpeed       = 0x05
	emuCmdGetState       = 0x07
	emuCmdSelectIf       = 0xC7
	emuCmdHWReset0       = 0xDC
	emuCmdHWReset1       = 0xDD
	emuCmdGetMaxMemBlock = 0xD4
	emuCmdGetCaps        = 0xE8
	emuCmdGetHWVersion   = 0xF0
	emuCmdWriteMem       = 0xF4
	emuCmdReadMem        = 0xF5
)

// Capability bits returned by emuCmdGetCaps.
const (
	capGetHWVersion   = 1
	capGetMaxMemBlock = 11
	capSelectIf       = 17
)

// Target interface selectors for emuCmdSelectIf.
const (
	tifJTAG = 0
	tifSWD  = 1
)

// Default transfer block when the probe does not report its maximum.
const defaultMaxMemBlock = 0x400
