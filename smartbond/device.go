// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ezflash/ezFlashCLI/flashdb"
)

// JEDECID is the (manufacturer, device type, density) triplet read from the
// flash chip with command 0x9F.
type JEDECID struct {
	Manufacturer byte
	DeviceType   byte
	Density      byte
}

// ProgramParams carries the optional inputs of FlashProgramImage.
type ProgramParams struct {
	// ActiveImageAddress overrides the family default image address.
	ActiveImageAddress *uint32
	// Descriptor is the probed flash configuration, required by families
	// that rewrite the product header while programming.
	Descriptor *flashdb.Descriptor
}

// BootloaderParams carries the inputs of FlashProgramImageWithBootloader.
type BootloaderParams struct {
	Image      []byte
	Bootloader []byte
	// Zero values select the layout the DA14531 boot ROM expects.
	Image1Address         uint32
	Image2Address         uint32
	ProductHeaderPosition uint32
}

// Device is one connected Smartbond chip. A Device owns its Transport
// exclusively for the duration of one logical operation and is not safe for
// concurrent use.
type Device interface {
	// Connect opens the probe session and verifies a chip answered.
	Connect(probeID string) error
	Close()
	Reset() error
	Go() error

	// Info returns the identification this driver was constructed for.
	Info() *DeviceInfo

	// FlashProbe resets the target, initializes the flash controller and
	// reads the JEDEC identifier of the attached flash.
	FlashProbe() (JEDECID, error)
	// FlashErase performs a full chip erase.
	FlashErase() error
	// FlashSectorErase erases the 4 KiB sector containing address.
	FlashSectorErase(address uint32) error
	// FlashConfigureController programs the burst command registers from the
	// flash descriptor and restores automode. Idempotent; required before
	// any automode bulk read.
	FlashConfigureController(desc *flashdb.Descriptor) error
	// ReadFlash reads length bytes starting at the flash-relative address.
	ReadFlash(address uint32, length int) ([]byte, error)
	// ReadProductHeader reads back the product header area of the flash.
	ReadProductHeader() ([]byte, error)
	// FlashProgramData writes raw bytes at the flash-relative address.
	FlashProgramData(data []byte, address uint32) error
	// FlashProgramImage writes an application image, synthesizing the boot
	// header when the input is not already bootable.
	FlashProgramImage(data []byte, params ProgramParams) error
	// FlashProgramImageWithBootloader programs a product header, two
	// redundant image copies and a secondary bootloader. Not transactional:
	// a failed step aborts without rolling back earlier writes.
	FlashProgramImageWithBootloader(params BootloaderParams) error
	// MakeProductHeader builds the product header this family's boot ROM
	// expects for the given flash configuration. Pure, no I/O.
	MakeProductHeader(desc *flashdb.Descriptor, activeAddr, updateAddr uint32) ([]byte, error)

	// OTPRead scans the OTP config script counting occurrences of key.
	// offset is the byte offset of the first free entry, or one of the
	// negative sentinels (locked, full, unsupported).
	OTPRead(key uint32) (count int, offset int, err error)
	// OTPWrite appends key and values to the config script. An existing key
	// is skipped unless force is set; the skip is a success.
	OTPWrite(key uint32, values []uint32, force bool) error
	// OTPBlankCheck reports whether the OTP program area is erased.
	OTPBlankCheck() (bool, error)
	// OTPReadRaw reads length bytes from the OTP area at address.
	OTPReadRaw(address uint32, length int) ([]byte, error)
}

// New constructs the driver matching the identified chip family.
func New(info *DeviceInfo, t Transport) (Device, error) {
	switch info.Family {
	case FamilyDA14531, FamilyDA14531_00, FamilyDA14531_01:
		return newDA14531(info, t), nil
	case FamilyDA14580, FamilyDA14585:
		// The DA14580 shares the DA14585 peripheral layout.
		return newDA14585(info, t), nil
	case FamilyDA14681, FamilyDA14683:
		return newDA1468x(info, t), nil
	case FamilyDA1469x:
		return newDA1469x(info, t), nil
	case FamilyDA1470x:
		return newDA1470x(info, t), nil
	case FamilyDA14592:
		return newDA14592(info, t), nil
	default:
		return nil, newDeviceError(KindUnsupported, "no driver for family %q", info.Name)
	}
}

// AMBA clock control register, common to every family.
const clkAMBAReg = 0x50000000

// device carries the state shared by every family driver.
type device struct {
	t    Transport
	info *DeviceInfo

	pollingInterval time.Duration
	waitTimeout     time.Duration
}

func newDevice(info *DeviceInfo, t Transport) device {
	return device{
		t:               t,
		info:            info,
		pollingInterval: 10 * time.Millisecond,
		waitTimeout:     30 * time.Second,
	}
}

func (d *device) Info() *DeviceInfo { return d.info }

func (d *device) Connect(probeID string) error {
	id, err := d.t.Connect(probeID)
	if err != nil {
		return newDeviceError(KindConnection, "probe connect failed: %v", err)
	}
	if len(id) == 0 {
		return newDeviceError(KindConnection, "device not found")
	}
	return nil
}

func (d *device) Close() {
	if err := d.t.Close(); err != nil {
		log.Debugf("transport close: %v", err)
	}
}

func (d *device) Reset() error { return d.t.Reset() }
func (d *device) Go() error    { return d.t.Go() }

// Fallbacks for families without the matching controller. The negative OTP
// sentinels are part of the driver contract, see otp.go.

func (d *device) OTPRead(key uint32) (int, int, error) {
	log.Errorf("OTP not implemented for %s", d.info.PrettyName)
	return 0, otpStatusUnsupported, newDeviceError(KindUnsupported, "OTP not implemented for %s", d.info.PrettyName)
}

func (d *device) OTPWrite(key uint32, values []uint32, force bool) error {
	log.Errorf("OTP not implemented for %s", d.info.PrettyName)
	return newDeviceError(KindUnsupported, "OTP not implemented for %s", d.info.PrettyName)
}

func (d *device) OTPBlankCheck() (bool, error) {
	return false, newDeviceError(KindUnsupported, "OTP not implemented for %s", d.info.PrettyName)
}

func (d *device) OTPReadRaw(address uint32, length int) ([]byte, error) {
	return nil, newDeviceError(KindUnsupported, "OTP not implemented for %s", d.info.PrettyName)
}

func (d *device) FlashSectorErase(address uint32) error {
	return newDeviceError(KindUnsupported, "sector erase not implemented for %s", d.info.PrettyName)
}

func (d *device) ReadProductHeader() ([]byte, error) {
	return nil, newDeviceError(KindUnsupported, "product header not defined for %s", d.info.PrettyName)
}

func (d *device) MakeProductHeader(desc *flashdb.Descriptor, activeAddr, updateAddr uint32) ([]byte, error) {
	return nil, newDeviceError(KindUnsupported, "product header not defined for %s", d.info.PrettyName)
}

func (d *device) FlashProgramImageWithBootloader(params BootloaderParams) error {
	return newDeviceError(KindUnsupported, "bootloader flow not implemented for %s", d.info.PrettyName)
}

// FlashConfigureController is a no-op on families whose controller needs no
// burst command setup.
func (d *device) FlashConfigureController(desc *flashdb.Descriptor) error { return nil }
