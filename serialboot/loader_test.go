// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package serialboot

import (
	"bytes"
	"io"
	"testing"
)

// fakePort replays a scripted read stream and records everything written.
type fakePort struct {
	reads  *bytes.Reader
	writes bytes.Buffer
	closed bool
}

func newFakePort(reads []byte) *fakePort {
	return &fakePort{reads: bytes.NewReader(reads)}
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.reads.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.writes.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }

var _ io.ReadWriteCloser = (*fakePort)(nil)

func TestSizeFrame(t *testing.T) {
	if got := sizeFrame(0x1234); !bytes.Equal(got, []byte{soh, 0x34, 0x12}) {
		t.Errorf("sizeFrame(0x1234) = % x", got)
	}
	if got := sizeFrame(0xFFFF); !bytes.Equal(got, []byte{soh, 0xFF, 0xFF}) {
		t.Errorf("sizeFrame(0xFFFF) = % x", got)
	}
	// Sizes past 16 bits switch to the extended three byte form.
	if got := sizeFrame(0x012345); !bytes.Equal(got, []byte{soh, 0x00, 0x00, 0x45, 0x23, 0x01}) {
		t.Errorf("sizeFrame(0x012345) = % x", got)
	}
}

func TestXORChecksum(t *testing.T) {
	if got := xorChecksum(nil); got != 0 {
		t.Errorf("xorChecksum(nil) = 0x%02x, want 0", got)
	}
	if got := xorChecksum([]byte{0x01, 0x02, 0x04}); got != 0x07 {
		t.Errorf("xorChecksum = 0x%02x, want 0x07", got)
	}
}

func TestLoad(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	port := newFakePort([]byte{stx, ack, xorChecksum(data)})
	l := &Loader{port: port}

	if err := l.Load(data); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var want bytes.Buffer
	want.Write(sizeFrame(len(data)))
	want.Write(data)
	want.WriteByte(ack)
	if !bytes.Equal(port.writes.Bytes(), want.Bytes()) {
		t.Errorf("wrote % x, want % x", port.writes.Bytes(), want.Bytes())
	}
}

func TestLoadOneWireConsumesEchoes(t *testing.T) {
	data := bytes.Repeat([]byte{0xA5}, chunkSize+16)

	var reads bytes.Buffer
	reads.WriteByte(stx)
	reads.Write([]byte{0, 0, 0}) // size frame echo
	reads.WriteByte(ack)
	reads.Write(data) // chunk echoes
	reads.WriteByte(xorChecksum(data))

	port := newFakePort(reads.Bytes())
	l := &Loader{port: port, oneWire: true}

	if err := l.Load(data); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var want bytes.Buffer
	want.Write(sizeFrame(len(data)))
	want.Write(data)
	want.WriteByte(ack)
	if !bytes.Equal(port.writes.Bytes(), want.Bytes()) {
		t.Error("written stream does not match the protocol order")
	}
}

func TestLoadSecondSTXAfterReset(t *testing.T) {
	data := []byte{0x11, 0x22}
	// First read byte is line noise, the reset marker follows.
	port := newFakePort([]byte{0x00, stx, ack, xorChecksum(data)})
	l := &Loader{port: port}

	if err := l.Load(data); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestLoadBadChecksum(t *testing.T) {
	data := []byte{0x11, 0x22}
	port := newFakePort([]byte{stx, ack, xorChecksum(data) ^ 0xFF})
	l := &Loader{port: port}

	if err := l.Load(data); err == nil {
		t.Fatal("Load succeeded on a checksum mismatch")
	}
	// The final ACK stays unsent.
	writes := port.writes.Bytes()
	if len(writes) > 0 && writes[len(writes)-1] == ack {
		t.Error("ACK sent despite the checksum mismatch")
	}
}

func TestLoadNoDevice(t *testing.T) {
	port := newFakePort([]byte{0x00, 0x00})
	l := &Loader{port: port}

	if err := l.Load([]byte{0x11}); err == nil {
		t.Fatal("Load succeeded without a reset marker")
	}
}
