// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smartbond

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/ezflash/ezFlashCLI/flashdb"
)

// Product header framing, consumed by the DA1469x/DA1470x boot ROM.
const (
	productHeaderMagic0 = 'P'
	productHeaderMagic1 = 'p'
	// Flash config section tag, stored big endian.
	productHeaderSectionTag = 0xAA11
)

// Image header framing.
const (
	imageHeaderMagic0 = 'Q'
	imageHeaderMagic1 = 'q'
	// Interrupt vector table offset inside the image slot.
	imageIVTOffset = 0x400

	imageSectionSecurity    = 0x22AA
	imageSectionDeviceAdmin = 0x44AA
)

// Version string embedded in generated image headers, zero padded to 16 bytes.
const imageVersionString = "ezFlashCLI"

// crc16CCITT computes the CRC-16/XMODEM variant (polynomial 0x1021, no
// reflection, no final xor) over data, starting from init.
func crc16CCITT(data []byte, init uint16) uint16 {
	crc := init
	for _, b := range data {
		crc ^= uint16(b) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// imageCRC32 is the standard ISO-3309 CRC32 of the raw image bytes.
func imageCRC32(image []byte) uint32 {
	return crc32.ChecksumIEEE(image)
}

// productHeaderLayout selects the family specific product header variant.
type productHeaderLayout struct {
	// size is the fixed padded size of the header blob.
	size int
	// ctrlMode adds the third burst word holding the controller mode
	// register value (DA1470x).
	ctrlMode bool
}

var (
	layoutDA1469x = productHeaderLayout{size: 0x1000}
	layoutDA1470x = productHeaderLayout{size: 0x1000, ctrlMode: true}
	layoutDA14592 = productHeaderLayout{size: 0x500}
)

// makeProductHeader builds the product header blob for one flash
// configuration. The layout is, in order: 'P' 'p', the two little endian
// image pointers, the burst command register words, the big endian section
// tag, the little endian config sequence length plus its raw bytes, a little
// endian CRC-16/XMODEM over everything before it, and 0xFF padding up to the
// fixed size.
func makeProductHeader(desc *flashdb.Descriptor, activeAddr, updateAddr uint32, layout productHeaderLayout) ([]byte, error) {
	burstA, err := desc.BurstCmdAValue()
	if err != nil {
		return nil, errors.Annotate(err, "burst command A")
	}
	burstB, err := desc.BurstCmdBValue()
	if err != nil {
		return nil, errors.Annotate(err, "burst command B")
	}
	configSeq, err := desc.ConfigSequence()
	if err != nil {
		return nil, errors.Trace(err)
	}

	buf := make([]byte, 0, layout.size)
	buf = append(buf, productHeaderMagic0, productHeaderMagic1)
	buf = binary.LittleEndian.AppendUint32(buf, activeAddr)
	buf = binary.LittleEndian.AppendUint32(buf, updateAddr)
	buf = binary.LittleEndian.AppendUint32(buf, burstA)
	buf = binary.LittleEndian.AppendUint32(buf, burstB)
	if layout.ctrlMode {
		ctrlMode, ok, err := desc.CtrlModeValue()
		if err != nil {
			return nil, errors.Annotate(err, "controller mode value")
		}
		if !ok {
			return nil, newDeviceError(KindProtocol, "flash %s carries no controller mode value", desc.Name)
		}
		buf = binary.LittleEndian.AppendUint32(buf, ctrlMode)
	}
	buf = binary.BigEndian.AppendUint16(buf, productHeaderSectionTag)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(configSeq)))
	buf = append(buf, configSeq...)
	buf = binary.LittleEndian.AppendUint16(buf, crc16CCITT(buf, 0xFFFF))

	if len(buf) > layout.size {
		return nil, newDeviceError(KindProtocol, "product header overflows %d bytes", layout.size)
	}
	for len(buf) < layout.size {
		buf = append(buf, 0xFF)
	}
	return buf, nil
}

// VerifyProductHeaderCRC recomputes the CRC embedded in a product header
// blob and reports whether it matches. The CRC field sits right after the
// config sequence, whose length field locates it.
func VerifyProductHeaderCRC(header []byte, layout691 bool) bool {
	// magic(2) + pointers(8) + burst words
	burstWords := 2
	if !layout691 {
		burstWords = 3
	}
	lenOff := 2 + 8 + 4*burstWords + 2
	if len(header) < lenOff+2 {
		return false
	}
	cfgLen := int(binary.LittleEndian.Uint16(header[lenOff:]))
	crcOff := lenOff + 2 + cfgLen
	if len(header) < crcOff+2 {
		return false
	}
	want := binary.LittleEndian.Uint16(header[crcOff:])
	return crc16CCITT(header[:crcOff], 0xFFFF) == want
}

// makeImageHeader builds the DA1469x/DA1470x image header: 'Q' 'q', little
// endian image size and CRC32, the padded version string, a timestamp, the
// IVT offset and the security and device admin section tags.
func makeImageHeader(image []byte, timestamp uint32) []byte {
	buf := make([]byte, 0, 42)
	buf = append(buf, imageHeaderMagic0, imageHeaderMagic1)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(image)))
	buf = binary.LittleEndian.AppendUint32(buf, imageCRC32(image))
	buf = appendVersionString(buf)
	buf = binary.LittleEndian.AppendUint32(buf, timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, imageIVTOffset)
	buf = binary.LittleEndian.AppendUint16(buf, imageSectionSecurity)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint16(buf, imageSectionDeviceAdmin)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	return buf
}

// makeSingleImageHeader builds the DA1453x single-image header used by the
// secondary bootloader layout: signature, little endian size and CRC32, the
// padded version string, a timestamp and a 32 byte reserved block.
func makeSingleImageHeader(image []byte, timestamp uint32) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, 0x70, 0x51, 0xAA, 0x01)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(image)))
	buf = binary.LittleEndian.AppendUint32(buf, imageCRC32(image))
	buf = appendVersionString(buf)
	buf = binary.LittleEndian.AppendUint32(buf, timestamp)
	buf = append(buf, make([]byte, 32)...)
	return buf
}

func appendVersionString(buf []byte) []byte {
	buf = append(buf, imageVersionString...)
	for i := len(imageVersionString); i < 16; i++ {
		buf = append(buf, 0)
	}
	return buf
}

// makeMicroHeader531 is the 6 byte boot marker plus big endian size the
// DA1453x/DA1458x boot ROM consumes in front of a raw binary.
func makeMicroHeader531(size int) []byte {
	buf := make([]byte, 0, 8)
	buf = append(buf, 0x70, 0x50, 0x00, 0x00, 0x00, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(size))
	return buf
}

// makeBootableImage68x wraps a raw binary into the DA1468x bootable layout:
// 'q' 'Q' marker, load tag, big endian payload size, and the image with the
// eight bytes displaced by the header dropped from offset 0x1F8.
func makeBootableImage68x(image []byte) []byte {
	buf := make([]byte, 0, len(image)+8)
	buf = append(buf, 'q', 'Q', 0x00, 0x00, 0x80, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16((len(image)-8)&0xFFFF))
	if len(image) <= 0x200 {
		if len(image) > 0x1F8 {
			buf = append(buf, image[:0x1F8]...)
		} else {
			buf = append(buf, image...)
		}
		return buf
	}
	buf = append(buf, image[:0x1F8]...)
	buf = append(buf, image[0x200:]...)
	return buf
}

// makeConfigScript592 builds the DA14592 boot config script pointing the ROM
// at the product header and the eflash cache setup.
func makeConfigScript592(productHeaderAddr uint32) []byte {
	buf := make([]byte, 0, 16)
	buf = binary.LittleEndian.AppendUint32(buf, 0xA5A5A5A5)
	buf = binary.LittleEndian.AppendUint32(buf, 0x60000000|productHeaderAddr)
	buf = binary.LittleEndian.AppendUint32(buf, cacheEFlashReg592)
	buf = binary.LittleEndian.AppendUint32(buf, cacheEFlashRegVal592)
	return buf
}

func headerTimestamp() uint32 {
	return uint32(time.Now().Unix())
}

// LinkerScriptProductHeader renders the product header and a matching image
// header as GNU linker script sections, for builds that link the headers
// into the firmware image instead of letting the tool program them.
func LinkerScriptProductHeader(desc *flashdb.Descriptor) (string, error) {
	burstA, err := desc.BurstCmdAValue()
	if err != nil {
		return "", errors.Annotate(err, "burst command A")
	}
	burstB, err := desc.BurstCmdBValue()
	if err != nil {
		return "", errors.Annotate(err, "burst command B")
	}
	configSeq, err := desc.ConfigSequence()
	if err != nil {
		return "", errors.Trace(err)
	}

	header, err := makeProductHeader(desc, defaultImageAddress69x, defaultImageAddress69x, layoutDA1469x)
	if err != nil {
		return "", errors.Trace(err)
	}
	crcOff := 22 + len(configSeq)
	crc := binary.LittleEndian.Uint16(header[crcOff:])

	var sequence strings.Builder
	for _, b := range configSeq {
		fmt.Fprintf(&sequence, "                BYTE(0x%02X)                      // Flash config sequence\n", b)
	}

	section := func(name, offset string) string {
		return fmt.Sprintf(`        .%s :
        AT ( QSPI_FLASH_ADDRESS%s)
        {
                __%s_start = .;
                SHORT(0x7050)                   // 'Pp' flag
                LONG(QSPI_FW_BASE_OFFSET)       // active image pointer
                LONG(QSPI_FW_BASE_OFFSET)       // update image pointer
                LONG(0x%08X)                // burstcmdA
                LONG(0x%08X)                // burstcmdB
                SHORT(0x11AA)                   // Flash config section
                SHORT(0x%04X)                   // Flash config length
%s                SHORT(0x%04X)                   // CRC

                . = __%s_start + 0x1000;
        } > ROM = 0xFF
`, name, offset, name, burstA, burstB, len(configSeq), sequence.String(), crc, name)
	}

	var out strings.Builder
	out.WriteString("\n#if ( dg_configUSE_SEGGER_FLASH_LOADER == 1 )\n")
	out.WriteString(section("prod_head", ""))
	out.WriteString("\n")
	out.WriteString(section("prod_head_backup", " + 0x1000"))
	out.WriteString(`
        .img_head :
        AT (QSPI_FW_BASE_ADDRESS)
        {
                _img_head_start = .;
                SHORT(0x7151)                   // 'Qq' flag
                LONG(SIZEOF(.text))
                LONG(0x0)                       // crc, patched later
                LONG(0x0)                       // version
                LONG(0x0)                       // version
                LONG(0x0)                       // version
                LONG(0x0)                       // version
                LONG(0x0)                       // timestamp
                LONG(QSPI_FW_IVT_OFFSET)        // IVT pointer
                SHORT(0x22AA)                   // Security section type
                SHORT(0x0)                      // Security section length
                SHORT(0x44AA)                   // Device admin type
                SHORT(0x0)                      // Device admin length

                . = _img_head_start + 0x400;
        } > ROM = 0xFF

#endif /* dg_configUSE_SEGGER_FLASH_LOADER */
`)
	return out.String(), nil
}
