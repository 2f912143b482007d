// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ChipFamily enumerates the supported Smartbond families.
type ChipFamily int

const (
	FamilyUnknown ChipFamily = iota
	FamilyDA14531
	FamilyDA14531_00
	FamilyDA14531_01
	FamilyDA14580
	FamilyDA14585
	FamilyDA14681
	FamilyDA14683
	FamilyDA14592
	FamilyDA1469x
	FamilyDA1470x
)

// DeviceInfo describes one identified chip.
type DeviceInfo struct {
	Family ChipFamily
	// Name is the driver identifier, e.g. "da1469x".
	Name string
	// PrettyName is the marketing name, e.g. "DA14682/DA14683".
	PrettyName string
}

// idCheck is an expected register content at a given address.
type idCheck struct {
	id       string // textual integer list of the expected words
	register uint32
	size     int
	width    int
}

type knownDevice struct {
	family ChipFamily
	name   string
	pretty string
	check  idCheck
	// extra disambiguates devices that share the primary identifier.
	extra *idCheck
}

// knownDevices maps identification register contents to chip families.
// Ordering matters: entries with an extra check precede the generic entry
// carrying the same primary identifier.
var knownDevices = []knownDevice{
	{FamilyDA1469x, "da1469x", "DA1469x", idCheck{"[50, 53, 50, 50]", 0x50040200, 4, Width32}, nil},
	{FamilyDA1469x, "da1469x", "DA1469x", idCheck{"[50, 55, 54, 51]", 0x50040200, 4, Width32}, nil},
	{FamilyDA1469x, "da1469x", "DA1469x", idCheck{"[51, 48, 56, 48]", 0x50040200, 4, Width32}, nil},
	{FamilyDA1470x, "da1470x", "DA1470x", idCheck{"[50, 55, 57, 56]", 0x50040000, 4, Width32}, nil},
	{FamilyDA1470x, "da1470x", "DA1470x", idCheck{"[51, 49, 48, 55]", 0x50040000, 4, Width32}, nil},
	{FamilyDA14592, "da14592", "DA14592", idCheck{"[50, 54, 51, 52, 2]", 0x50050200, 5, Width32}, nil},
	{FamilyDA14531, "da14531", "DA14535", idCheck{"[51, 0, 51, 0, 48]", 0x50003200, 5, Width8}, nil},
	{FamilyDA14531_00, "da14531_00", "DA14531-00", idCheck{"[50, 0, 50, 0, 54]", 0x50003200, 5, Width8},
		&idCheck{"[7, 33, 1, 112]", 0x07F04000, 4, Width8}},
	{FamilyDA14531_01, "da14531_01", "DA14531-01", idCheck{"[50, 0, 50, 0, 54]", 0x50003200, 5, Width8},
		&idCheck{"[32, 70, 254, 247]", 0x07F04000, 4, Width8}},
	{FamilyDA14531, "da14531", "DA14531", idCheck{"[50, 0, 50, 0, 54]", 0x50003200, 5, Width8}, nil},
	{FamilyDA14585, "da14585", "DA14585", idCheck{"[53, 56, 53, 1, 65]", 0x50003200, 5, Width8}, nil},
	{FamilyDA14585, "da14585", "DA14585", idCheck{"[53, 56, 53, 0, 65]", 0x50003200, 5, Width8}, nil},
	{FamilyDA14580, "da14580", "DA14580", idCheck{"[53, 56, 48, 1, 65]", 0x50003200, 5, Width8}, nil},
	{FamilyDA14681, "da14681", "DA14680/DA14681", idCheck{"[54, 56, 48, 0, 65]", 0x50003200, 5, Width8}, nil},
	{FamilyDA14683, "da14683", "DA14682/DA14683", idCheck{"[54, 56, 48, 0, 66]", 0x50003200, 5, Width8}, nil},
}

// idProbes are the identification register locations tried in order. The
// address, width and length differ across the hardware generations.
var idProbes = []struct {
	register uint32
	size     int
	width    int
}{
	{0x50040000, 4, Width32}, // DA1470x
	{0x50040200, 4, Width32}, // DA1469x
	{0x50050200, 5, Width32}, // DA14592
	{0x50003200, 5, Width8},  // DA1453x/DA1458x/DA1468x
}

// idKey renders raw identifier words in the textual list form the device
// table is keyed on.
func idKey(words []uint32) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("%d", w)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Identify reads the identification registers of the attached chip and maps
// the contents to a chip family. The transport must already be connected.
func Identify(t Transport) (*DeviceInfo, error) {
	for _, probe := range idProbes {
		words, err := t.ReadMem(probe.width, probe.register, probe.size)
		if err != nil {
			// Identification registers of other generations may fault.
			log.Debugf("id read @0x%08X failed: %v", probe.register, err)
			continue
		}

		key := idKey(words)
		log.Debugf("id @0x%08X: %s", probe.register, key)

		for _, dev := range knownDevices {
			if dev.check.register != probe.register || dev.check.id != key {
				continue
			}
			if dev.extra != nil {
				extra, err := t.ReadMem(dev.extra.width, dev.extra.register, dev.extra.size)
				if err != nil || idKey(extra) != dev.extra.id {
					continue
				}
			}
			return &DeviceInfo{Family: dev.family, Name: dev.name, PrettyName: dev.pretty}, nil
		}
	}

	return nil, newDeviceError(KindProtocol, "unknown device identifier")
}
