// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"bytes"
	"testing"
)

func newTestDA14592(m *mockTransport) *da14592 {
	info := &DeviceInfo{Family: FamilyDA14592, Name: "da14592", PrettyName: "DA14592"}
	return newDA14592(info, m)
}

func TestDA14592FlashProbeIsStatic(t *testing.T) {
	d := newTestDA14592(newMockTransport())
	id, err := d.FlashProbe()
	if err != nil {
		t.Fatalf("FlashProbe failed: %v", err)
	}
	if id != (JEDECID{Manufacturer: 1, DeviceType: 2, Density: 3}) {
		t.Errorf("id = %+v", id)
	}
}

func TestDA14592FlashErase(t *testing.T) {
	m := newMockTransport()
	m.regs[flashCtrlReg592] = 0xF000000B
	d := newTestDA14592(m)

	if err := d.FlashErase(); err != nil {
		t.Fatalf("FlashErase failed: %v", err)
	}

	ctrl := m.writesTo(flashCtrlReg592)
	if len(ctrl) != 2 {
		t.Fatalf("flash control writes = %x, want 2 writes", ctrl)
	}
	// Mode bits cleared, then erase block plus write access.
	want := uint32(0xF0000000) | fcuProgModeEraseBlock | fcuAccessModeWrite
	if ctrl[0] != want {
		t.Errorf("erase mode write = 0x%08x, want 0x%08x", ctrl[0], want)
	}
	if ctrl[1] != 0xF0000000 {
		t.Errorf("restore write = 0x%08x, want 0xF0000000", ctrl[1])
	}
	if got := m.writesTo(qspicBase592); len(got) != 1 || got[0] != 0 {
		t.Errorf("erase trigger writes = %x, want [0]", got)
	}
}

func TestDA14592FlashProgramImageLayout(t *testing.T) {
	m := newMockTransport()
	d := newTestDA14592(m)

	image := []byte{0x00, 0x10, 0x00, 0x20, 0xC1, 0x02, 0x00, 0x20}
	if err := d.FlashProgramImage(image, ProgramParams{Descriptor: testDescriptor()}); err != nil {
		t.Fatalf("FlashProgramImage failed: %v", err)
	}
	// Image first, then the config script blob at offset zero.
	if len(m.bulks) != 2 {
		t.Fatalf("bulk writes = %d, want 2", len(m.bulks))
	}

	img := m.bulks[0]
	if img.addr != flashArrayBase592+defaultImageAddress592 {
		t.Errorf("image address = 0x%x, want 0x%x",
			img.addr, uint32(flashArrayBase592+defaultImageAddress592))
	}
	if img.data[0] != 'Q' || img.data[1] != 'q' {
		t.Errorf("image header magic = % x", img.data[:2])
	}

	cs := m.bulks[1]
	if cs.addr != flashArrayBase592 {
		t.Errorf("config script address = 0x%x, want 0x%x", cs.addr, uint32(flashArrayBase592))
	}
	if !bytes.Equal(cs.data[:16], makeConfigScript592(configScriptHeaderAddr592)) {
		t.Errorf("config script head = % x", cs.data[:16])
	}
	// Product header copies at 0x1000 and 0x1800.
	header := cs.data[configScriptHeaderAddr592 : configScriptHeaderAddr592+layoutDA14592.size]
	if header[0] != 'P' || header[1] != 'p' {
		t.Errorf("product header magic = % x", header[:2])
	}
	if !VerifyProductHeaderCRC(header, true) {
		t.Error("product header fails its CRC")
	}
	backup := cs.data[configScriptHeaderAddr592+0x800 : configScriptHeaderAddr592+0x800+layoutDA14592.size]
	if !bytes.Equal(header, backup) {
		t.Error("the two product header copies differ")
	}
}

func TestDA14592ConfigScriptInputGoesVerbatim(t *testing.T) {
	m := newMockTransport()
	d := newTestDA14592(m)

	data := []byte{0xA5, 0xA5, 0xA5, 0xA5, 0x01, 0x02}
	if err := d.FlashProgramImage(data, ProgramParams{}); err != nil {
		t.Fatalf("FlashProgramImage failed: %v", err)
	}
	if len(m.bulks) != 1 || !bytes.Equal(m.bulks[0].data, data) {
		t.Errorf("bulk writes = %v", m.bulks)
	}
}

func TestDA1470xAutoModeIsFixedValues(t *testing.T) {
	m := newMockTransport()
	info := &DeviceInfo{Family: FamilyDA1470x, Name: "da1470x", PrettyName: "DA1470x"}
	d := newDA1470x(info, m)

	if err := d.setAutoMode(false); err != nil {
		t.Fatalf("setAutoMode failed: %v", err)
	}
	if err := d.setAutoMode(true); err != nil {
		t.Fatalf("setAutoMode failed: %v", err)
	}
	got := m.writesTo(d.regs.ctrlMode)
	if len(got) != 2 || got[0] != ctrlModeManual70x || got[1] != ctrlModeAuto70x {
		t.Errorf("control mode writes = %x, want [%x %x]", got,
			uint32(ctrlModeManual70x), uint32(ctrlModeAuto70x))
	}
}

func TestDA1470xProductHeaderCarriesCtrlMode(t *testing.T) {
	m := newMockTransport()
	info := &DeviceInfo{Family: FamilyDA1470x, Name: "da1470x", PrettyName: "DA1470x"}
	d := newDA1470x(info, m)

	desc := testDescriptor()
	desc.CtrlMode = "0xF80000BE"
	header, err := d.MakeProductHeader(desc, 0, 0)
	if err != nil {
		t.Fatalf("MakeProductHeader failed: %v", err)
	}
	if !VerifyProductHeaderCRC(header, false) {
		t.Error("header fails its CRC")
	}
	// Zero addresses resolve to the family default image address.
	if got := uint32(header[2]) | uint32(header[3])<<8 | uint32(header[4])<<16 | uint32(header[5])<<24; got != defaultImageAddress70x {
		t.Errorf("active image pointer = 0x%x, want 0x%x", got, uint32(defaultImageAddress70x))
	}
}
