// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package flashdb resolves the JEDEC identifier of a probed flash chip to
// the register values and configuration command sequence the Smartbond QSPI
// controller needs for it.
package flashdb

import (
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

//go:embed flash_database.json
var databaseJSON []byte

// Descriptor is one flash configuration record. The register values and the
// command sequence are kept in their textual database form; the accessors
// parse them on demand. A Descriptor is immutable once loaded.
type Descriptor struct {
	Name         string `json:"name"`
	Manufacturer string `json:"flash_manufacturer"`
	DeviceType   string `json:"flash_device_type"`
	Density      string `json:"flash_density"`
	Size         int    `json:"flash_size,omitempty"`

	BurstCmdA          string `json:"flash_burstcmda_reg_value"`
	BurstCmdB          string `json:"flash_burstcmdb_reg_value"`
	CtrlMode           string `json:"flash_ctrlmode_reg_value,omitempty"`
	WriteConfigCommand string `json:"flash_write_config_command"`
}

// DB is a loaded flash database.
type DB struct {
	Configurations []*Descriptor `json:"flash_configurations"`
}

// Load parses a flash database from JSON.
func Load(data []byte) (*DB, error) {
	db := &DB{}
	if err := json.Unmarshal(data, db); err != nil {
		return nil, errors.Annotate(err, "parsing flash database")
	}
	return db, nil
}

// Default returns the database embedded in the binary.
func Default() (*DB, error) {
	return Load(databaseJSON)
}

// Lookup resolves a JEDEC triplet to its flash configuration, nil when the
// flash is not in the database.
func (db *DB) Lookup(manufacturer, deviceType, density byte) *Descriptor {
	for _, desc := range db.Configurations {
		m, errM := parseHexWord(desc.Manufacturer)
		d, errD := parseHexWord(desc.DeviceType)
		dens, errDens := parseHexWord(desc.Density)
		if errM != nil || errD != nil || errDens != nil {
			continue
		}
		if byte(m) == manufacturer && byte(d) == deviceType && byte(dens) == density {
			return desc
		}
	}
	return nil
}

// BurstCmdAValue parses the burst command A register value.
func (d *Descriptor) BurstCmdAValue() (uint32, error) {
	return parseHexWord(d.BurstCmdA)
}

// BurstCmdBValue parses the burst command B register value.
func (d *Descriptor) BurstCmdBValue() (uint32, error) {
	return parseHexWord(d.BurstCmdB)
}

// CtrlModeValue parses the optional controller mode register value. ok is
// false when the record does not carry one.
func (d *Descriptor) CtrlModeValue() (value uint32, ok bool, err error) {
	if d.CtrlMode == "" {
		return 0, false, nil
	}
	value, err = parseHexWord(d.CtrlMode)
	return value, err == nil, err
}

// ConfigSequence parses the full write configuration command sequence,
// including its trailing terminator byte.
func (d *Descriptor) ConfigSequence() ([]byte, error) {
	if strings.TrimSpace(d.WriteConfigCommand) == "" {
		return nil, nil
	}
	tokens := strings.Split(d.WriteConfigCommand, " ")
	seq := make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		v, err := parseHexWord(tok)
		if err != nil {
			return nil, errors.Annotatef(err, "config command byte %q", tok)
		}
		seq = append(seq, byte(v))
	}
	return seq, nil
}

func parseHexWord(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return uint32(v), nil
}
