// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"fmt"
)

// memWrite is one recorded WriteMem call.
type memWrite struct {
	width int
	addr  uint32
	value uint32
}

// bulkWrite is one recorded BulkWrite call.
type bulkWrite struct {
	addr uint32
	data []byte
}

// mockTransport scripts register reads and records every write. Reads
// resolve, in order: a queued value for the address, a block registered for
// the exact (address, count) start, then the sticky register map with zero
// as the default. WriteMem updates the register map, so read-modify-write
// cycles see their own writes.
type mockTransport struct {
	regs   map[uint32]uint32
	queues map[uint32][]uint32
	blocks map[uint32][]uint32
	faults map[uint32]bool

	writes []memWrite
	bulks  []bulkWrite

	bulkFail bool
	resets   int
	gos      int
	closed   bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		regs:   make(map[uint32]uint32),
		queues: make(map[uint32][]uint32),
		blocks: make(map[uint32][]uint32),
		faults: make(map[uint32]bool),
	}
}

func (m *mockTransport) queue(addr uint32, values ...uint32) {
	m.queues[addr] = append(m.queues[addr], values...)
}

func (m *mockTransport) Connect(probeID string) ([]byte, error) {
	return []byte{0x35}, nil
}

func (m *mockTransport) ReadMem(width int, addr uint32, count int) ([]uint32, error) {
	if m.faults[addr] {
		return nil, fmt.Errorf("read fault at 0x%08x", addr)
	}
	if q := m.queues[addr]; len(q) > 0 && count == 1 {
		m.queues[addr] = q[1:]
		return []uint32{q[0]}, nil
	}
	if block, ok := m.blocks[addr]; ok {
		if count > len(block) {
			return nil, fmt.Errorf("block read overrun at 0x%08x", addr)
		}
		out := make([]uint32, count)
		copy(out, block[:count])
		return out, nil
	}
	out := make([]uint32, count)
	step := uint32(width / 8)
	for i := range out {
		out[i] = m.regs[addr+uint32(i)*step]
	}
	return out, nil
}

func (m *mockTransport) WriteMem(width int, addr uint32, value uint32) error {
	m.writes = append(m.writes, memWrite{width, addr, value})
	m.regs[addr] = value
	return nil
}

func (m *mockTransport) BulkWrite(addr uint32, data []byte) (int, error) {
	if m.bulkFail {
		return -1, fmt.Errorf("bulk write fault at 0x%08x", addr)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	m.bulks = append(m.bulks, bulkWrite{addr, copied})
	return len(data), nil
}

func (m *mockTransport) Reset() error { m.resets++; return nil }
func (m *mockTransport) Go() error    { m.gos++; return nil }
func (m *mockTransport) Close() error { m.closed = true; return nil }

// writesTo returns the values written to one address, in order.
func (m *mockTransport) writesTo(addr uint32) []uint32 {
	var values []uint32
	for _, w := range m.writes {
		if w.addr == addr {
			values = append(values, w.value)
		}
	}
	return values
}
