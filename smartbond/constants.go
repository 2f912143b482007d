// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

// SPI flash geometry shared by every supported part.
const (
	FlashPageSize   = 256
	FlashSectorSize = 4096
)

// BusMode selects how many data lines the QSPI controller drives.
type BusMode uint8

const (
	BusModeSingle BusMode = 0
	BusModeDual   BusMode = 1
	BusModeQuad   BusMode = 2
)

// breakSeqSize is the length of the continuous-read break sequence.
type breakSeqSize uint8

const (
	breakSeq1B breakSeqSize = 0
	breakSeq2B breakSeqSize = 1
)

// Common SPI/QSPI flash command set.
const (
	cmdWriteStatusRegister = 0x01
	cmdPageProgram         = 0x02
	cmdReadData            = 0x03
	cmdWriteDisable        = 0x04
	cmdReadStatusRegister  = 0x05
	cmdWriteEnable         = 0x06
	cmdSectorErase         = 0x20
	cmdQuadPageProgram     = 0x32
	cmdProtectSector       = 0x36
	cmdUnprotectSector     = 0x39
	cmdReadProtectionRegs  = 0x3C
	cmdBlockErase          = 0x52
	cmdChipErase           = 0xC7
	cmdFastReadQuad        = 0xEB
	cmdReadJEDECID         = 0x9F
	cmdExitContinuousMode  = 0xFF
	cmdReleasePowerDown    = 0xAB
	cmdEnterPowerDown      = 0xB9
)

// Flash status register bits.
const (
	statusBusy           = 0x01
	statusProtectionMask = 0x0C
)
