// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jlink

import (
	log "github.com/sirupsen/logrus"

	"github.com/google/gousb"
)

var usbCtx *gousb.Context

// SEGGER vendor id and the product ids of the J-Link probe models.
var (
	seggerVendorID = gousb.ID(0x1366)

	supportedPids = []gousb.ID{
		0x0101, 0x0102, 0x0103, 0x0104, 0x0105, 0x0107, 0x0108,
		0x1010, 0x1011, 0x1012, 0x1013, 0x1014, 0x1015, 0x1016,
		0x1017, 0x1018, 0x1051, 0x1061,
	}
)

// InitializeUSB sets up the libusb context. Safe to call twice.
func InitializeUSB() error {
	if usbCtx != nil {
		log.Warn("USB already initialized")
		return nil
	}
	usbCtx = gousb.NewContext()
	log.Debug("Initialized libusb")
	return nil
}

// CloseUSB releases the libusb context.
func CloseUSB() {
	if usbCtx != nil {
		usbCtx.Close()
		usbCtx = nil
	}
}

func idExists(slice []gousb.ID, item gousb.ID) bool {
	for _, element := range slice {
		if element == item {
			return true
		}
	}
	return false
}

// usbFindProbes opens every attached SEGGER probe.
func usbFindProbes() ([]*gousb.Device, error) {
	if usbCtx == nil {
		if err := InitializeUSB(); err != nil {
			return nil, err
		}
	}

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != seggerVendorID {
			return false
		}
		if !idExists(supportedPids, desc.Product) {
			log.Debugf("Skipping SEGGER device with unknown product id %04x", uint16(desc.Product))
			return false
		}
		log.Infof("Found USB device [%04x:%04x] on bus %03d:%03d",
			uint16(desc.Vendor), uint16(desc.Product), desc.Bus, desc.Address)
		return true
	})
	if err != nil {
		log.Error("Got error during usb device scan ", err)
		return nil, err
	}

	log.Debugf("Found %d J-Link probes", len(devices))
	return devices, nil
}

func usbWrite(endpoint *gousb.OutEndpoint, buffer []byte) (int, error) {
	written, err := endpoint.Write(buffer)
	if err != nil {
		return -1, err
	}
	log.Tracef("Wrote %d bytes to endpoint", written)
	return written, nil
}

func usbRead(endpoint *gousb.InEndpoint, buffer []byte) (int, error) {
	read, err := endpoint.Read(buffer)
	if err != nil {
		return -1, err
	}
	log.Tracef("Read %d bytes from endpoint", read)
	return read, nil
}
