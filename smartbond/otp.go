// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	log "github.com/sirupsen/logrus"
)

// OTP config script status codes. The negative values travel through the
// offset result of OTPRead and are part of the tool's exit code contract.
const (
	otpStatusFull        = -1
	otpStatusLocked      = -2
	otpStatusWriteError  = -3
	otpStatusUnsupported = -9
)

// Config script cell values with special meaning.
const (
	otpEntryFree = 0xFFFFFFFF
	otpEntryStop = 0x00000000
)

const otpCellSize = 4

// scanConfigScript walks the OTP config script entries counting occurrences
// of key. Entry zero is the start marker and is skipped. Each entry decodes
// its own length from the tag nibble in the high byte: the booter, SWD mode
// and UART STX tags occupy one cell, the SDK entry tag one cell plus the
// count in its length subfield, and everything else is a two cell register
// pair. The scan stops at the first free cell (returning its byte offset as
// the next write position) or at an all-zero stop cell (locked).
func scanConfigScript(entries []uint32, key uint32) (count int, offset int) {
	index := 1
	for index < len(entries) {
		entry := entries[index]

		if entry == key {
			if key != otpEntryFree {
				log.Infof("OTP key found at offset 0x%x with value 0x%x",
					index*otpCellSize, peekValue(entries, index+1))
			}
			count++
		}

		if entry == otpEntryFree {
			if count == 0 {
				log.Info("OTP key not yet in script")
			}
			log.Infof("OTP write offset: 0x%x", index*otpCellSize)
			return count, index * otpCellSize
		}

		if entry == otpEntryStop {
			log.Info("OTP is locked")
			return count, otpStatusLocked
		}

		log.Debugf("OTP %d: %x", index, entry)

		switch (entry & 0xF0000000) >> 24 {
		case 0x60: // booter
			index++
		case 0x70: // SWD mode
			index++
		case 0x80: // UART STX timeout
			index++
		case 0x90: // SDK entries
			index++
			index += int((entry & 0x0000FF00) >> 8)
		default: // register pair or trim value
			index += 2
		}
	}

	log.Info("OTP is full")
	return count, otpStatusFull
}

func peekValue(entries []uint32, index int) uint32 {
	if index < len(entries) {
		return entries[index]
	}
	return otpEntryFree
}
