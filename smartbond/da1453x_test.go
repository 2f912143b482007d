// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func newTestDA14531(m *mockTransport) *da14531 {
	info := &DeviceInfo{Family: FamilyDA14531, Name: "da14531", PrettyName: "DA14531"}
	return newDA14531(info, m)
}

func TestDA14531FlashProbe(t *testing.T) {
	m := newMockTransport()
	// One FIFO byte per exchanged byte: the command echo, then the JEDEC id.
	m.queue(spiFIFOReadReg531, 0x00, 0xC2, 0x85, 0x15)
	d := newTestDA14531(m)

	id, err := d.FlashProbe()
	if err != nil {
		t.Fatalf("FlashProbe failed: %v", err)
	}
	want := JEDECID{Manufacturer: 0xC2, DeviceType: 0x85, Density: 0x15}
	if id != want {
		t.Errorf("id = %+v, want %+v", id, want)
	}
	if !containsValue(m.writesTo(spiFIFOWriteReg531), cmdReadJEDECID) {
		t.Error("JEDEC id command not sent")
	}
}

func TestDA14531ReadFlash(t *testing.T) {
	m := newMockTransport()
	// Command and address echoes, then the data bytes.
	m.queue(spiFIFOReadReg531, 0, 0, 0, 0, 0xDE, 0xAD)
	d := newTestDA14531(m)

	data, err := d.ReadFlash(0x123456, 2)
	if err != nil {
		t.Fatalf("ReadFlash failed: %v", err)
	}
	if !bytes.Equal(data, []byte{0xDE, 0xAD}) {
		t.Errorf("data = % x, want de ad", data)
	}

	// The read address goes out least significant byte first.
	sent := m.writesTo(spiFIFOWriteReg531)
	if !containsSubsequence(sent, []uint32{cmdReadData, 0x56, 0x34, 0x12}) {
		t.Errorf("read command not sent: %x", sent)
	}

	// The shared reset pin returns to its reset function afterwards.
	if got := m.writesTo(p00ModeReg531); len(got) == 0 || got[len(got)-1] != p00ModeResetVal {
		t.Errorf("P0_0 mode writes = %x, want trailing 0x%x", got, p00ModeResetVal)
	}
	if got := m.writesTo(hwrCtrlReg531); len(got) == 0 || got[len(got)-1] != 0 {
		t.Errorf("HW reset writes = %x, want trailing 0", got)
	}
}

func TestDA14531FlashProgramImage(t *testing.T) {
	m := newMockTransport()
	d := newTestDA14531(m)

	// A raw binary with the stack pointer marker gets the boot header.
	image := []byte{0x00, 0x10, 0x00, 0x07, 0xC1, 0x02, 0x00, 0x00}
	if err := d.FlashProgramImage(image, ProgramParams{}); err != nil {
		t.Fatalf("FlashProgramImage failed: %v", err)
	}
	if len(m.bulks) != 1 {
		t.Fatalf("bulk writes = %d, want 1", len(m.bulks))
	}
	written := m.bulks[0]
	if written.addr != flashArrayBase531 {
		t.Errorf("write address = 0x%x, want 0x%x", written.addr, uint32(flashArrayBase531))
	}
	wantHeader := makeMicroHeader531(len(image))
	if !bytes.Equal(written.data[:8], wantHeader) {
		t.Errorf("boot header = % x, want % x", written.data[:8], wantHeader)
	}
	if !bytes.Equal(written.data[8:], image) {
		t.Error("image payload altered")
	}
}

func TestDA14531FlashProgramImageBootableInput(t *testing.T) {
	m := newMockTransport()
	d := newTestDA14531(m)

	image := append(makeMicroHeader531(4), 0x00, 0x10, 0x00, 0x07)
	if err := d.FlashProgramImage(image, ProgramParams{}); err != nil {
		t.Fatalf("FlashProgramImage failed: %v", err)
	}
	if !bytes.Equal(m.bulks[0].data, image) {
		t.Error("bootable input was rewritten")
	}
}

func TestDA14531FlashProgramImageRejectsBadBinary(t *testing.T) {
	m := newMockTransport()
	d := newTestDA14531(m)

	// Byte 3 is not a RAM stack pointer marker.
	image := []byte{0x00, 0x10, 0x00, 0x55}
	if err := d.FlashProgramImage(image, ProgramParams{}); !IsKind(err, KindProtocol) {
		t.Fatalf("err = %v, want a protocol error", err)
	}
	if len(m.bulks) != 0 {
		t.Error("flash written despite the rejected binary")
	}
}

func TestDA14531BootloaderLayout(t *testing.T) {
	m := newMockTransport()
	d := newTestDA14531(m)

	image := []byte{0x00, 0x10, 0x00, 0x07, 0xC1, 0x02, 0x00, 0x00}
	bootloader := append(makeMicroHeader531(4), 0x00, 0x10, 0x00, 0x07)
	err := d.FlashProgramImageWithBootloader(BootloaderParams{
		Image:      image,
		Bootloader: bootloader,
	})
	if err != nil {
		t.Fatalf("FlashProgramImageWithBootloader failed: %v", err)
	}

	// Product header, two image slots, bootloader.
	if len(m.bulks) != 4 {
		t.Fatalf("bulk writes = %d, want 4", len(m.bulks))
	}

	ph := m.bulks[0]
	if ph.addr != flashArrayBase531+defaultHeaderPosition531 {
		t.Errorf("product header address = 0x%x, want 0x%x",
			ph.addr, uint32(flashArrayBase531+defaultHeaderPosition531))
	}
	if !bytes.Equal(ph.data[:4], []byte{0x70, 0x52, 0x00, 0x00}) {
		t.Errorf("product header signature = % x", ph.data[:4])
	}
	if got := binary.LittleEndian.Uint32(ph.data[4:]); got != defaultImage1Address531 {
		t.Errorf("image 1 pointer = 0x%x, want 0x%x", got, uint32(defaultImage1Address531))
	}
	if got := binary.LittleEndian.Uint32(ph.data[8:]); got != defaultImage2Address531 {
		t.Errorf("image 2 pointer = 0x%x, want 0x%x", got, uint32(defaultImage2Address531))
	}

	if m.bulks[1].addr != flashArrayBase531+defaultImage1Address531 {
		t.Errorf("slot 1 address = 0x%x", m.bulks[1].addr)
	}
	if m.bulks[2].addr != flashArrayBase531+defaultImage2Address531 {
		t.Errorf("slot 2 address = 0x%x", m.bulks[2].addr)
	}
	if !bytes.Equal(m.bulks[1].data, m.bulks[2].data) {
		t.Error("the two image slots differ")
	}
	// The raw binary got the single image header in front.
	if !bytes.Equal(m.bulks[1].data[:4], []byte{0x70, 0x51, 0xAA, 0x01}) {
		t.Errorf("slot signature = % x", m.bulks[1].data[:4])
	}

	if m.bulks[3].addr != flashArrayBase531 {
		t.Errorf("bootloader address = 0x%x, want 0x%x", m.bulks[3].addr, uint32(flashArrayBase531))
	}
}

func TestDA14531BootloaderRequiresBinary(t *testing.T) {
	m := newMockTransport()
	d := newTestDA14531(m)

	err := d.FlashProgramImageWithBootloader(BootloaderParams{
		Image: []byte{0x00, 0x10, 0x00, 0x07},
	})
	if !IsKind(err, KindProtocol) {
		t.Fatalf("err = %v, want a protocol error", err)
	}
}

func TestDA14531OTPReadRaw(t *testing.T) {
	m := newMockTransport()
	m.regs[otpcStatReg531] = 0x4
	m.regs[otpStart531+0x10] = 0xAB
	m.regs[otpStart531+0x11] = 0xCD
	d := newTestDA14531(m)

	// Offsets into the array normalize onto the mapped address.
	data, err := d.OTPReadRaw(0x10, 2)
	if err != nil {
		t.Fatalf("OTPReadRaw failed: %v", err)
	}
	if !bytes.Equal(data, []byte{0xAB, 0xCD}) {
		t.Errorf("data = % x, want ab cd", data)
	}

	if _, err := d.OTPReadRaw(0x10000, 1); !IsKind(err, KindRange) {
		t.Fatalf("err = %v, want a range error", err)
	}
}
