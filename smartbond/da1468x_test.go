// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"bytes"
	"testing"
)

func newTestDA1468x(m *mockTransport) *da1468x {
	info := &DeviceInfo{Family: FamilyDA14681, Name: "da14681", PrettyName: "DA14680/DA14681"}
	return newDA1468x(info, m)
}

func TestDA1468xFlashProbeEnablesQSPIClock(t *testing.T) {
	m := newMockTransport()
	m.queue(newQSPIRegs(qspicBase68x).readData, 0xC2, 0x25, 0x36)
	d := newTestDA1468x(m)

	id, err := d.FlashProbe()
	if err != nil {
		t.Fatalf("FlashProbe failed: %v", err)
	}
	want := JEDECID{Manufacturer: 0xC2, DeviceType: 0x25, Density: 0x36}
	if id != want {
		t.Errorf("id = %+v, want %+v", id, want)
	}
	if got := m.writesTo(clkAMBAReg); len(got) == 0 || got[0] != 0x1000 {
		t.Errorf("AMBA clock writes = %x, want leading 0x1000", got)
	}
}

func TestDA1468xFlashProgramImageWrapsBinary(t *testing.T) {
	m := newMockTransport()
	d := newTestDA1468x(m)

	image := make([]byte, 0x300)
	for i := range image {
		image[i] = byte(i)
	}
	if err := d.FlashProgramImage(image, ProgramParams{}); err != nil {
		t.Fatalf("FlashProgramImage failed: %v", err)
	}
	if len(m.bulks) != 1 {
		t.Fatalf("bulk writes = %d, want 1", len(m.bulks))
	}
	written := m.bulks[0]
	if written.addr != flashArrayBase68x {
		t.Errorf("write address = 0x%x, want 0x%x", written.addr, uint32(flashArrayBase68x))
	}
	if !bytes.Equal(written.data, makeBootableImage68x(image)) {
		t.Error("written data is not the bootable layout")
	}
}

func TestDA1468xFlashProgramImageBootableInput(t *testing.T) {
	m := newMockTransport()
	d := newTestDA1468x(m)

	image := makeBootableImage68x(make([]byte, 0x100))
	if err := d.FlashProgramImage(image, ProgramParams{}); err != nil {
		t.Fatalf("FlashProgramImage failed: %v", err)
	}
	if !bytes.Equal(m.bulks[0].data, image) {
		t.Error("bootable input was rewritten")
	}
}
