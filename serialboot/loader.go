// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package serialboot loads an application binary into RAM through the UART
// boot protocol of the Smartbond boot ROM.
package serialboot

import (
	"io"
	"time"

	"github.com/cesanta/go-serial/serial"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// Boot protocol framing bytes.
const (
	stx = 0x02
	soh = 0x01
	ack = 0x06
)

// chunkSize is the transfer unit in one wire mode, where every written chunk
// echoes back before the next one goes out.
const chunkSize = 1024

const defaultBaudRate = 115200

// Options configures a Loader.
type Options struct {
	PortName string
	// BaudRate defaults to the boot ROM rate of 115200.
	BaudRate uint
	// OneWire enables the single wire UART mode, in which all written bytes
	// echo back on the same line.
	OneWire bool
	// Timeout bounds each read while waiting for the boot ROM. The ROM emits
	// its start byte right after reset, so this also bounds the reset wait.
	Timeout time.Duration
}

// Loader speaks the UART boot protocol over an open serial port.
type Loader struct {
	port    io.ReadWriteCloser
	oneWire bool
}

// Open opens the serial port at the boot ROM settings (8N1).
func Open(opts Options) (*Loader, error) {
	baud := opts.BaudRate
	if baud == 0 {
		baud = defaultBaudRate
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	port, err := serial.Open(serial.OpenOptions{
		PortName:              opts.PortName,
		BaudRate:              baud,
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		InterCharacterTimeout: uint(timeout / time.Millisecond),
		MinimumReadSize:       0,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "open %s", opts.PortName)
	}
	return &Loader{port: port, oneWire: opts.OneWire}, nil
}

func (l *Loader) Close() error {
	return l.port.Close()
}

// Load pushes the application binary into RAM: wait for the start byte,
// announce the size, stream the data and confirm the checksum.
func (l *Loader) Load(data []byte) error {
	log.Debugf("Loading App size %d", len(data))

	if !l.waitSTX() {
		log.Debug("Press Reset")
		if !l.waitSTX() {
			return errors.New("failed to detect Smartbond device")
		}
	}
	log.Info("Reset detected")

	if _, err := l.port.Write(sizeFrame(len(data))); err != nil {
		return errors.Trace(err)
	}
	if l.oneWire {
		// The size frame echo; three bytes for either frame layout.
		if err := l.discard(3); err != nil {
			return errors.Trace(err)
		}
	}

	b, err := l.readByte()
	if err != nil || b != ack {
		return errors.New("failed to get length ACK")
	}

	if l.oneWire {
		remaining := data
		for len(remaining) > 0 {
			chunk := remaining
			if len(chunk) > chunkSize {
				chunk = chunk[:chunkSize]
			}
			if _, err := l.port.Write(chunk); err != nil {
				return errors.Trace(err)
			}
			if err := l.discard(len(chunk)); err != nil {
				return errors.Trace(err)
			}
			remaining = remaining[len(chunk):]
		}
	} else {
		if _, err := l.port.Write(data); err != nil {
			return errors.Trace(err)
		}
	}

	readCRC, err := l.readByte()
	if err != nil {
		return errors.Trace(err)
	}
	if crc := xorChecksum(data); readCRC != crc {
		return errors.Errorf("failed to get data ACK: got 0x%02x, want 0x%02x", readCRC, crc)
	}

	if _, err := l.port.Write([]byte{ack}); err != nil {
		return errors.Trace(err)
	}
	log.Info("Loading success")
	return nil
}

// waitSTX reads one byte looking for the boot ROM start marker.
func (l *Loader) waitSTX() bool {
	b, err := l.readByte()
	return err == nil && b == stx
}

func (l *Loader) readByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(l.port, buf[:]); err != nil {
		return 0, errors.Trace(err)
	}
	return buf[0], nil
}

func (l *Loader) discard(n int) error {
	buf := make([]byte, n)
	_, err := io.ReadFull(l.port, buf)
	return errors.Trace(err)
}

// sizeFrame frames the binary size: start of header plus a little endian
// 16 bit size, or the extended three byte form for larger binaries.
func sizeFrame(size int) []byte {
	if size < 1<<16 {
		return []byte{soh, byte(size), byte(size >> 8)}
	}
	return []byte{soh, 0x00, 0x00, byte(size), byte(size >> 8), byte(size >> 16)}
}

// xorChecksum is the running XOR the boot ROM sends back after the data.
func xorChecksum(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
	}
	return crc
}
