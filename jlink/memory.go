// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jlink

import (
	log "github.com/sirupsen/logrus"
)

// readMemBlock reads numBytes target bytes at addr. The probe appends one
// status byte after the data.
func (p *Probe) readMemBlock(addr uint32, numBytes int) ([]byte, error) {
	cmd := make([]byte, 0, 9)
	cmd = append(cmd, emuCmdReadMem)
	cmd = appendLEU32(cmd, addr)
	cmd = appendLEU32(cmd, uint32(numBytes))

	reply, err := p.command(cmd, numBytes+1)
	if err != nil {
		return nil, err
	}
	if len(reply) < numBytes+1 {
		return nil, newProbeError(ErrorTransfer,
			"short read @0x%08X: %d of %d bytes", addr, len(reply), numBytes)
	}
	if status := reply[numBytes]; status != 0 {
		return nil, newProbeError(ErrorStatus,
			"failed to read %d bytes @ 0x%08X (status 0x%02x)", numBytes, addr, status)
	}
	return reply[:numBytes], nil
}

// writeMemBlock writes raw bytes at addr and checks the status byte.
func (p *Probe) writeMemBlock(addr uint32, data []byte) error {
	cmd := make([]byte, 0, 9+len(data))
	cmd = append(cmd, emuCmdWriteMem)
	cmd = appendLEU32(cmd, addr)
	cmd = appendLEU32(cmd, uint32(len(data)))
	cmd = append(cmd, data...)

	reply, err := p.command(cmd, 1)
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != 0 {
		return newProbeError(ErrorStatus, "failed to write %d bytes @ 0x%08X", len(data), addr)
	}
	return nil
}

// ReadMem reads count items of the given word width (8, 16 or 32 bits) from
// addr. Each item lands in the low bits of a uint32.
func (p *Probe) ReadMem(width int, addr uint32, count int) ([]uint32, error) {
	itemSize := width / 8
	raw, err := p.readMemBlock(addr, count*itemSize)
	if err != nil {
		return nil, err
	}

	items := make([]uint32, count)
	for i := 0; i < count; i++ {
		chunk := raw[i*itemSize:]
		switch width {
		case 8:
			items[i] = uint32(chunk[0])
		case 16:
			items[i] = uint32(leToHU16(chunk))
		default:
			items[i] = leToHU32(chunk)
		}
	}
	log.Tracef("Read @%08X, %d x %d bits", addr, count, width)
	return items, nil
}

// WriteMem writes one item of the given word width to addr.
func (p *Probe) WriteMem(width int, addr uint32, value uint32) error {
	var data []byte
	switch width {
	case 8:
		data = []byte{byte(value)}
	case 16:
		data = []byte{byte(value), byte(value >> 8)}
	default:
		data = appendLEU32(nil, value)
	}
	log.Tracef("Written 0x%X to 0x%08X", value, addr)
	return p.writeMemBlock(addr, data)
}

// BulkWrite streams data to addr in maxMemBlock sized chunks and returns the
// number of bytes written, negative on failure.
func (p *Probe) BulkWrite(addr uint32, data []byte) (int, error) {
	block := int(p.maxMemBlock)
	if block <= 0 {
		block = defaultMaxMemBlock
	}

	written := 0
	for written < len(data) {
		chunk := data[written:]
		if len(chunk) > block {
			chunk = chunk[:block]
		}
		if err := p.writeMemBlock(addr+uint32(written), chunk); err != nil {
			return -1, err
		}
		written += len(chunk)
		if p.showProgress {
			log.Infof("Downloaded %d/%d bytes", written, len(data))
		} else {
			log.Debugf("Downloaded %d/%d bytes", written, len(data))
		}
	}
	return written, nil
}
