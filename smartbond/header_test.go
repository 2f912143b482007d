// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/ezflash/ezFlashCLI/flashdb"
)

func testDescriptor() *flashdb.Descriptor {
	return &flashdb.Descriptor{
		Name:               "P25Q80H",
		Manufacturer:       "0x85",
		DeviceType:         "0x60",
		Density:            "0x14",
		BurstCmdA:          "0xA8A500EB",
		BurstCmdB:          "0x00000066",
		WriteConfigCommand: "0x06 0x01 0x00 0x02 0x00",
	}
}

func TestCRC16CCITT(t *testing.T) {
	if got := crc16CCITT([]byte("123456789"), 0xFFFF); got != 0x29B1 {
		t.Errorf("crc16CCITT = 0x%04X, want 0x29B1", got)
	}
	if got := crc16CCITT(nil, 0xFFFF); got != 0xFFFF {
		t.Errorf("crc16CCITT(nil) = 0x%04X, want 0xFFFF", got)
	}
}

func TestImageCRC32(t *testing.T) {
	if got := imageCRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("imageCRC32 = 0x%08X, want 0xCBF43926", got)
	}
	if got := imageCRC32(nil); got != 0 {
		t.Errorf("imageCRC32(nil) = 0x%08X, want 0", got)
	}
}

func TestMakeProductHeader(t *testing.T) {
	desc := testDescriptor()

	header, err := makeProductHeader(desc, 0x2000, 0x2000, layoutDA1469x)
	if err != nil {
		t.Fatalf("makeProductHeader failed: %v", err)
	}
	if len(header) != 0x1000 {
		t.Fatalf("header length = %d, want %d", len(header), 0x1000)
	}
	if header[0] != 'P' || header[1] != 'p' {
		t.Errorf("magic = %q%q, want Pp", header[0], header[1])
	}
	if got := binary.LittleEndian.Uint32(header[2:]); got != 0x2000 {
		t.Errorf("active image pointer = 0x%x, want 0x2000", got)
	}
	if got := binary.LittleEndian.Uint32(header[6:]); got != 0x2000 {
		t.Errorf("update image pointer = 0x%x, want 0x2000", got)
	}
	if got := binary.LittleEndian.Uint32(header[10:]); got != 0xA8A500EB {
		t.Errorf("burst command A = 0x%08x, want 0xA8A500EB", got)
	}
	if got := binary.LittleEndian.Uint32(header[14:]); got != 0x66 {
		t.Errorf("burst command B = 0x%08x, want 0x66", got)
	}
	if got := binary.BigEndian.Uint16(header[18:]); got != 0xAA11 {
		t.Errorf("section tag = 0x%04x, want 0xAA11", got)
	}
	if got := binary.LittleEndian.Uint16(header[20:]); got != 5 {
		t.Errorf("config sequence length = %d, want 5", got)
	}
	if !bytes.Equal(header[22:27], []byte{0x06, 0x01, 0x00, 0x02, 0x00}) {
		t.Errorf("config sequence = % x", header[22:27])
	}
	if !VerifyProductHeaderCRC(header, true) {
		t.Error("generated header fails its own CRC")
	}
	for _, b := range header[29:] {
		if b != 0xFF {
			t.Fatalf("padding byte = 0x%02x, want 0xFF", b)
		}
	}

	again, err := makeProductHeader(desc, 0x2000, 0x2000, layoutDA1469x)
	if err != nil {
		t.Fatalf("makeProductHeader failed: %v", err)
	}
	if !bytes.Equal(header, again) {
		t.Error("product header generation is not deterministic")
	}
}

func TestMakeProductHeaderCtrlMode(t *testing.T) {
	desc := testDescriptor()
	desc.CtrlMode = "0xF80000BE"

	header, err := makeProductHeader(desc, 0x3000, 0x3000, layoutDA1470x)
	if err != nil {
		t.Fatalf("makeProductHeader failed: %v", err)
	}
	if got := binary.LittleEndian.Uint32(header[18:]); got != 0xF80000BE {
		t.Errorf("controller mode word = 0x%08x, want 0xF80000BE", got)
	}
	if got := binary.BigEndian.Uint16(header[22:]); got != 0xAA11 {
		t.Errorf("section tag = 0x%04x, want 0xAA11", got)
	}
	if !VerifyProductHeaderCRC(header, false) {
		t.Error("generated header fails its own CRC")
	}

	// The DA1470x layout rejects records without a controller mode value.
	if _, err := makeProductHeader(testDescriptor(), 0x3000, 0x3000, layoutDA1470x); !IsKind(err, KindProtocol) {
		t.Fatalf("err = %v, want a protocol error", err)
	}
}

func TestVerifyProductHeaderCRCRejectsCorruption(t *testing.T) {
	header, err := makeProductHeader(testDescriptor(), 0x2000, 0x2000, layoutDA1469x)
	if err != nil {
		t.Fatalf("makeProductHeader failed: %v", err)
	}
	header[3] ^= 0xFF
	if VerifyProductHeaderCRC(header, true) {
		t.Error("corrupted header passes CRC")
	}
	if VerifyProductHeaderCRC(header[:10], true) {
		t.Error("truncated header passes CRC")
	}
}

func TestMakeImageHeader(t *testing.T) {
	image := []byte{1, 2, 3, 4}
	header := makeImageHeader(image, 0x11223344)

	if len(header) != 42 {
		t.Fatalf("header length = %d, want 42", len(header))
	}
	if header[0] != 'Q' || header[1] != 'q' {
		t.Errorf("magic = %q%q, want Qq", header[0], header[1])
	}
	if got := binary.LittleEndian.Uint32(header[2:]); got != 4 {
		t.Errorf("image size = %d, want 4", got)
	}
	if got := binary.LittleEndian.Uint32(header[6:]); got != 0xB63CFBCD {
		t.Errorf("image CRC = 0x%08X, want 0xB63CFBCD", got)
	}
	if !bytes.Equal(header[10:20], []byte("ezFlashCLI")) {
		t.Errorf("version string = %q", header[10:20])
	}
	if got := binary.LittleEndian.Uint32(header[26:]); got != 0x11223344 {
		t.Errorf("timestamp = 0x%08x, want 0x11223344", got)
	}
	if got := binary.LittleEndian.Uint32(header[30:]); got != 0x400 {
		t.Errorf("IVT offset = 0x%x, want 0x400", got)
	}
	if got := binary.LittleEndian.Uint16(header[34:]); got != 0x22AA {
		t.Errorf("security section tag = 0x%04x, want 0x22AA", got)
	}
	if got := binary.LittleEndian.Uint16(header[38:]); got != 0x44AA {
		t.Errorf("device admin section tag = 0x%04x, want 0x44AA", got)
	}
}

func TestMakeSingleImageHeader(t *testing.T) {
	header := makeSingleImageHeader([]byte{1, 2, 3, 4}, 0xAABBCCDD)
	if len(header) != 64 {
		t.Fatalf("header length = %d, want 64", len(header))
	}
	if !bytes.Equal(header[:4], []byte{0x70, 0x51, 0xAA, 0x01}) {
		t.Errorf("signature = % x", header[:4])
	}
	if got := binary.LittleEndian.Uint32(header[4:]); got != 4 {
		t.Errorf("image size = %d, want 4", got)
	}
	if got := binary.LittleEndian.Uint32(header[8:]); got != 0xB63CFBCD {
		t.Errorf("image CRC = 0x%08X, want 0xB63CFBCD", got)
	}
	for _, b := range header[32:] {
		if b != 0 {
			t.Fatalf("reserved block byte = 0x%02x, want 0", b)
		}
	}
}

func TestMakeMicroHeader531(t *testing.T) {
	header := makeMicroHeader531(0x1234)
	want := []byte{0x70, 0x50, 0x00, 0x00, 0x00, 0x00, 0x12, 0x34}
	if !bytes.Equal(header, want) {
		t.Errorf("header = % x, want % x", header, want)
	}
}

func TestMakeBootableImage68x(t *testing.T) {
	image := make([]byte, 0x300)
	for i := range image {
		image[i] = byte(i)
	}

	out := makeBootableImage68x(image)
	if !bytes.Equal(out[:6], []byte{'q', 'Q', 0x00, 0x00, 0x80, 0x00}) {
		t.Errorf("marker = % x", out[:6])
	}
	if got := binary.BigEndian.Uint16(out[6:]); got != 0x2F8 {
		t.Errorf("payload size = 0x%x, want 0x2F8", got)
	}
	if !bytes.Equal(out[8:8+0x1F8], image[:0x1F8]) {
		t.Error("payload head does not match the image")
	}
	// The eight bytes displaced by the header drop out at 0x1F8.
	if !bytes.Equal(out[8+0x1F8:], image[0x200:]) {
		t.Error("payload tail does not match the image")
	}
}

func TestMakeConfigScript592(t *testing.T) {
	script := makeConfigScript592(0x1000)
	if len(script) != 16 {
		t.Fatalf("script length = %d, want 16", len(script))
	}
	words := []uint32{
		binary.LittleEndian.Uint32(script[0:]),
		binary.LittleEndian.Uint32(script[4:]),
		binary.LittleEndian.Uint32(script[8:]),
		binary.LittleEndian.Uint32(script[12:]),
	}
	want := []uint32{0xA5A5A5A5, 0x60001000, cacheEFlashReg592, cacheEFlashRegVal592}
	for i, w := range want {
		if words[i] != w {
			t.Errorf("word %d = 0x%08x, want 0x%08x", i, words[i], w)
		}
	}
}

func TestLinkerScriptProductHeader(t *testing.T) {
	script, err := LinkerScriptProductHeader(testDescriptor())
	if err != nil {
		t.Fatalf("LinkerScriptProductHeader failed: %v", err)
	}

	for _, want := range []string{
		".prod_head :",
		".prod_head_backup :",
		".img_head :",
		"LONG(0xA8A500EB)",
		"LONG(0x00000066)",
		"SHORT(0x0005)",
		"BYTE(0x06)",
		"BYTE(0x01)",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script misses %q", want)
		}
	}

	// The CRC statement matches the one of the generated binary header.
	header, err := makeProductHeader(testDescriptor(), 0x2000, 0x2000, layoutDA1469x)
	if err != nil {
		t.Fatalf("makeProductHeader failed: %v", err)
	}
	crc := binary.LittleEndian.Uint16(header[27:])
	if !strings.Contains(script, fmt.Sprintf("SHORT(0x%04X)                   // CRC", crc)) {
		t.Error("script CRC does not match the binary header")
	}
}
