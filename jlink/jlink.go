// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package jlink drives SEGGER J-Link debug probes over their raw USB
// protocol: probe discovery, SWD target attachment and word wise or bulk
// target memory access.
package jlink

import (
	"strings"

	"github.com/boljen/go-bitmap"
	log "github.com/sirupsen/logrus"

	"github.com/google/gousb"
)

// Probe is a handle to one J-Link debug probe. Not safe for concurrent use.
type Probe struct {
	usbDevice    *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface
	rxEp         *gousb.InEndpoint
	txEp         *gousb.OutEndpoint

	caps        bitmap.Bitmap
	firmware    string
	hwVersion   uint32
	maxMemBlock uint32
	speedKHz    uint16

	// showProgress mirrors the DisableInfoWinFlashDL behavior of the SEGGER
	// library: download progress stays out of the output by default.
	showProgress bool
}

// ProbeInfo describes one attached probe.
type ProbeInfo struct {
	SerialNumber string
	Product      string
}

// NewProbe returns an unconnected probe handle with the default SWD speed.
func NewProbe() *Probe {
	return &Probe{speedKHz: 4000, maxMemBlock: defaultMaxMemBlock}
}

// Browse lists the J-Link probes attached to the host.
func Browse() ([]ProbeInfo, error) {
	devices, err := usbFindProbes()
	if err != nil {
		return nil, err
	}

	infos := make([]ProbeInfo, 0, len(devices))
	for _, dev := range devices {
		serial, _ := dev.SerialNumber()
		product, _ := dev.Product()
		infos = append(infos, ProbeInfo{SerialNumber: serial, Product: product})
		dev.Close()
	}
	return infos, nil
}

// Connect opens the probe selected by probeID (serial number, empty for the
// only one attached), attaches to the target over SWD and returns the raw
// chip identification bytes.
func (p *Probe) Connect(probeID string) ([]byte, error) {
	if err := p.open(probeID); err != nil {
		return nil, err
	}

	if err := p.queryVersion(); err != nil {
		return nil, err
	}
	if err := p.queryCaps(); err != nil {
		return nil, err
	}

	if err := p.selectInterface(tifSWD); err != nil {
		return nil, err
	}
	if err := p.setSpeed(p.speedKHz); err != nil {
		return nil, err
	}

	return p.readChipID()
}

func (p *Probe) open(probeID string) error {
	devices, err := usbFindProbes()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return newProbeError(ErrorNotFound, "could not find any J-Link connected to computer")
	}

	if probeID == "" && len(devices) > 1 {
		closeAll(devices)
		return newProbeError(ErrorNotFound,
			"%d probes attached, select one by serial number", len(devices))
	}

	for _, dev := range devices {
		serial, _ := dev.SerialNumber()
		if probeID == "" || strings.TrimLeft(serial, "0") == strings.TrimLeft(probeID, "0") {
			p.usbDevice = dev
			log.Debugf("Selected J-Link with the serial number %s", serial)
			continue
		}
		dev.Close()
	}
	if p.usbDevice == nil {
		return newProbeError(ErrorNotFound, "specific serial number not found on USB")
	}

	p.usbConfig, err = p.usbDevice.Config(1)
	if err != nil {
		log.Debug(err)
		return newProbeError(ErrorNotFound, "could not request configuration #1 for the probe")
	}
	p.usbInterface, err = p.usbConfig.Interface(0, 0)
	if err != nil {
		log.Debug(err)
		return newProbeError(ErrorNotFound, "could not claim interface 0,0 for the probe")
	}

	for _, ep := range p.usbInterface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && p.rxEp == nil {
			p.rxEp, err = p.usbInterface.InEndpoint(ep.Number)
			if err != nil {
				return err
			}
		}
		if ep.Direction == gousb.EndpointDirectionOut && p.txEp == nil {
			p.txEp, err = p.usbInterface.OutEndpoint(ep.Number)
			if err != nil {
				return err
			}
		}
	}
	if p.rxEp == nil || p.txEp == nil {
		return newProbeError(ErrorNotFound, "probe exposes no bulk endpoint pair")
	}
	return nil
}

func closeAll(devices []*gousb.Device) {
	for _, dev := range devices {
		dev.Close()
	}
}

// command writes one command frame and reads replyLen bytes back.
func (p *Probe) command(cmd []byte, replyLen int) ([]byte, error) {
	if _, err := usbWrite(p.txEp, cmd); err != nil {
		return nil, newProbeError(ErrorTransfer, "command 0x%02x write failed: %v", cmd[0], err)
	}
	if replyLen == 0 {
		return nil, nil
	}
	reply := make([]byte, replyLen)
	read, err := usbRead(p.rxEp, reply)
	if err != nil {
		return nil, newProbeError(ErrorTransfer, "command 0x%02x read failed: %v", cmd[0], err)
	}
	return reply[:read], nil
}

// queryVersion reads the firmware version string.
func (p *Probe) queryVersion() error {
	lenBytes, err := p.command([]byte{emuCmdVersion}, 2)
	if err != nil {
		return err
	}
	if len(lenBytes) < 2 {
		return newProbeError(ErrorStatus, "short version length reply")
	}
	length := int(leToHU16(lenBytes))

	version := make([]byte, length)
	if _, err := usbRead(p.rxEp, version); err != nil {
		return newProbeError(ErrorTransfer, "version string read failed: %v", err)
	}
	p.firmware = strings.TrimRight(string(version), "\x00 \r\n")
	log.Debugf("Probe firmware: %s", p.firmware)
	return nil
}

// queryCaps reads the capability bitmap and the follow-up values it gates.
func (p *Probe) queryCaps() error {
	caps, err := p.command([]byte{emuCmdGetCaps}, 4)
	if err != nil {
		return err
	}
	if len(caps) < 4 {
		return newProbeError(ErrorStatus, "short capabilities reply")
	}
	p.caps = bitmap.Bitmap(caps)

	if p.caps.Get(capGetHWVersion) {
		hw, err := p.command([]byte{emuCmdGetHWVersion}, 4)
		if err != nil {
			return err
		}
		p.hwVersion = leToHU32(hw)
		log.Debugf("Probe hardware version: %d", p.hwVersion)
	}

	p.maxMemBlock = defaultMaxMemBlock
	if p.caps.Get(capGetMaxMemBlock) {
		block, err := p.command([]byte{emuCmdGetMaxMemBlock}, 4)
		if err != nil {
			return err
		}
		p.maxMemBlock = leToHU32(block)
	}
	log.Debugf("Max memory block: %d bytes", p.maxMemBlock)
	return nil
}

func (p *Probe) selectInterface(tif byte) error {
	if !p.caps.Get(capSelectIf) {
		return newProbeError(ErrorStatus, "probe cannot select the target interface")
	}
	// The reply carries the previously selected interface.
	_, err := p.command([]byte{emuCmdSelectIf, tif}, 4)
	return err
}

func (p *Probe) setSpeed(kHz uint16) error {
	_, err := p.command([]byte{emuCmdSetSpeed, byte(kHz), byte(kHz >> 8)}, 0)
	return err
}

// readChipID reads the identification registers, falling back through the
// generations: DA1470x, then DA1469x, then the 8 bit id of the older parts.
func (p *Probe) readChipID() ([]byte, error) {
	log.Debug("Read 70x identifier")
	id, err := p.ReadMem(32, 0x50040000, 4)
	if err == nil && (id[0] < 0x30 || id[0] > 0xFF) {
		log.Debug("Read 69x identifier")
		id, err = p.ReadMem(32, 0x50040200, 4)
	}
	if err != nil {
		log.Debug("Read 58x/68x identifier")
		bytes, err := p.ReadMem(8, 0x50003200, 5)
		if err != nil {
			return nil, err
		}
		id = bytes
	}

	raw := make([]byte, len(id))
	for i, w := range id {
		raw[i] = byte(w)
	}
	return raw, nil
}

// Firmware returns the probe firmware identification string.
func (p *Probe) Firmware() string { return p.firmware }

// Reset resets and halts the target CPU.
func (p *Probe) Reset() error {
	_, err := p.command([]byte{emuCmdResetTarget}, 0)
	return err
}

// Go releases the target reset line so the CPU runs.
func (p *Probe) Go() error {
	_, err := p.command([]byte{emuCmdHWReset1}, 0)
	return err
}

// Close releases the USB handle. Safe on an unconnected probe.
func (p *Probe) Close() error {
	if p.usbDevice == nil {
		return nil
	}
	log.Debugf("Close J-Link probe")
	if p.usbInterface != nil {
		p.usbInterface.Close()
	}
	if p.usbConfig != nil {
		p.usbConfig.Close()
	}
	err := p.usbDevice.Close()
	p.usbDevice = nil
	return err
}
