// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package smartbond drives the flash and OTP memories of the Dialog
// Smartbond chip families through a debug probe. The probe itself is
// abstracted behind the Transport interface; every operation in this
// package is a sequence of memory-mapped register accesses on top of it.
package smartbond

// Memory access widths accepted by Transport.
const (
	Width8  = 8
	Width16 = 16
	Width32 = 32
)

// Transport is the debug probe capability the device drivers are built on.
// All calls are synchronous and blocking. A Transport is owned exclusively
// by one driver for the duration of one logical operation.
type Transport interface {
	// Connect opens the probe session and returns the raw identifier bytes
	// read from the attached chip. probeID selects a probe when several are
	// attached; an empty string picks the default one.
	Connect(probeID string) ([]byte, error)

	// ReadMem reads count items of the given word width from addr.
	// Each item is returned in the low bits of a uint32.
	ReadMem(width int, addr uint32, count int) ([]uint32, error)

	// WriteMem writes a single item of the given word width to addr.
	WriteMem(width int, addr uint32, value uint32) error

	// BulkWrite streams data to addr through the probe download path and
	// returns the number of bytes written, negative on failure.
	BulkWrite(addr uint32, data []byte) (int, error)

	// Reset resets and halts the target CPU.
	Reset() error

	// Go restarts the target CPU after a halt.
	Go() error

	Close() error
}
