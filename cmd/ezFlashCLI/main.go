// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// ezFlashCLI flashes and inspects Dialog Smartbond devices through a SEGGER
// J-Link debug probe.
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/ezflash/ezFlashCLI/flashdb"
	"github.com/ezflash/ezFlashCLI/jlink"
	"github.com/ezflash/ezFlashCLI/smartbond"
)

const version = "1.0.0"

var log = logrus.New()

func initLogger(verbose bool) {
	log.SetFormatter(&prefixed.TextFormatter{
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	})
	log.SetOutput(os.Stdout)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(log.Formatter)
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(log.Level)
}

// cli holds the session state shared by the operations.
type cli struct {
	probeID string
	force   bool
	imgAddr uint32

	db    *flashdb.DB
	info  *smartbond.DeviceInfo
	dev   smartbond.Device
	flash *flashdb.Descriptor
}

func main() {
	flags := pflag.NewFlagSet("ezFlashCLI", pflag.ExitOnError)
	verbose := flags.BoolP("verbose", "v", false, "increase verbosity")
	showVersion := flags.Bool("version", false, "return version number")
	probeID := flags.StringP("jlink", "j", "", "JLink probe serial number")
	force := flags.Bool("force", false, "write OTP key even when it exists")
	imgAddr := flags.String("active_image_address", "", "active image address in flash")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ezFlashCLI [flags] <operation> [arguments]\n\n"+
			"Operations:\n"+
			"  list                                   list JLink interfaces\n"+
			"  probe                                  identify the chip and its flash\n"+
			"  go                                     reset and start the CPU\n"+
			"  erase_flash                            erase the whole flash\n"+
			"  read_flash <addr> <length>             dump flash content\n"+
			"  read_flash_bin <addr> <length> <file>  dump flash content to a file\n"+
			"  write_flash <addr> <file>              write a file into the flash\n"+
			"  write_flash_bytes <addr> <byte>...     write raw bytes into the flash\n"+
			"  image_flash <file>                     program a bootable application image\n"+
			"  image_bootloader_flash <file> <bld>    program image plus secondary bootloader\n"+
			"  linker_header                          render the product header as linker script sections\n"+
			"  product_header_check                   verify the product header\n"+
			"  read_otp <key>                         scan the OTP config script for a key\n"+
			"  write_otp <key> <value>...             append a key to the OTP config script\n"+
			"  otp_blank_check                        check the OTP program area is blank\n"+
			"  read_otp_hex <addr> <length>           dump OTP content\n"+
			"  read_otp_bin <addr> <length> <file>    dump OTP content to a file\n\nFlags:\n")
		fmt.Fprint(os.Stderr, flags.FlagUsages())
	}
	flags.Parse(os.Args[1:])

	initLogger(*verbose)
	log.Infof("ezFlashCLI v%s", version)
	log.Info("By using the program you accept the SEGGER J-link™ license")

	if *showVersion {
		log.Info(version)
		return
	}

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(1)
	}

	db, err := flashdb.Default()
	if err != nil {
		log.Fatalf("Failed to load the flash database: %v", err)
	}

	c := &cli{probeID: *probeID, force: *force, db: db}
	if *imgAddr != "" {
		addr, err := parseNum(*imgAddr)
		if err != nil {
			log.Fatalf("Invalid active_image_address: %v", err)
		}
		c.imgAddr = addr
	}

	if err := c.run(args[0], args[1:]); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func (c *cli) run(operation string, args []string) error {
	defer func() {
		if c.dev != nil {
			c.dev.Close()
		}
		jlink.CloseUSB()
	}()

	switch operation {
	case "list":
		return c.list()
	case "probe":
		return c.probe()
	case "go":
		return c.goOp()
	case "erase_flash":
		return c.eraseFlash()
	case "read_flash":
		return c.readFlash(args, "")
	case "read_flash_bin":
		return c.readFlashBin(args)
	case "write_flash":
		return c.writeFlash(args)
	case "write_flash_bytes":
		return c.writeFlashBytes(args)
	case "image_flash":
		return c.imageFlash(args)
	case "image_bootloader_flash":
		return c.imageBootloaderFlash(args)
	case "linker_header":
		return c.linkerHeader()
	case "product_header_check":
		return c.productHeaderCheck()
	case "read_otp":
		return c.readOTP(args)
	case "write_otp":
		return c.writeOTP(args)
	case "otp_blank_check":
		return c.otpBlankCheck()
	case "read_otp_hex":
		return c.readOTPHex(args, "")
	case "read_otp_bin":
		return c.readOTPBin(args)
	default:
		return fmt.Errorf("unknown operation %q", operation)
	}
}

// connectDevice identifies the attached chip and constructs its driver.
func (c *cli) connectDevice() error {
	if c.dev != nil {
		return nil
	}

	probe := jlink.NewProbe()
	id, err := probe.Connect(c.probeID)
	if err != nil || len(id) == 0 {
		return fmt.Errorf("device not responding: %v", err)
	}

	info, err := smartbond.Identify(probe)
	if err != nil {
		return err
	}
	c.info = info

	dev, err := smartbond.New(info, probe)
	if err != nil {
		return err
	}
	c.dev = dev
	return nil
}

// probeFlash reads the JEDEC id and resolves the flash descriptor.
func (c *cli) probeFlash() error {
	if err := c.connectDevice(); err != nil {
		return err
	}
	id, err := c.dev.FlashProbe()
	if err != nil {
		return err
	}
	c.flash = c.db.Lookup(id.Manufacturer, id.DeviceType, id.Density)
	return nil
}

func (c *cli) list() error {
	probes, err := jlink.Browse()
	if err != nil {
		return err
	}
	log.Info("JLink devices:")
	for _, p := range probes {
		if p.SerialNumber != "" {
			log.Infof("  - %s (%s)", p.SerialNumber, p.Product)
		}
	}
	return nil
}

func (c *cli) probe() error {
	if err := c.probeFlash(); err != nil {
		return err
	}
	log.Infof("Smartbond chip: %s", c.info.PrettyName)
	log.Info("Flash information:")
	if c.flash != nil {
		log.Infof("  - Device Id: %s", c.flash.Name)
	} else {
		log.Info("  - Device Id: Not Found")
	}
	return nil
}

func (c *cli) goOp() error {
	if err := c.connectDevice(); err != nil {
		return err
	}
	log.Infof("Smartbond chip: %s", c.info.PrettyName)
	return c.dev.Reset()
}

func (c *cli) eraseFlash() error {
	if err := c.probeFlash(); err != nil {
		return err
	}
	if c.flash == nil {
		return fmt.Errorf("flash chip not found")
	}
	if err := c.dev.FlashErase(); err != nil {
		return fmt.Errorf("flash erase failed: %v", err)
	}
	log.Info("Flash erase success")
	return nil
}

func (c *cli) readFlash(args []string, outFile string) error {
	if len(args) < 2 {
		return fmt.Errorf("read_flash needs <addr> <length>")
	}
	addr, err := parseNum(args[0])
	if err != nil {
		return err
	}
	length, err := parseNum(args[1])
	if err != nil {
		return err
	}

	if err := c.probeFlash(); err != nil {
		return err
	}
	if c.flash != nil {
		if err := c.dev.FlashConfigureController(c.flash); err != nil {
			return err
		}
	}
	data, err := c.dev.ReadFlash(addr, int(length))
	if err != nil {
		return err
	}

	if outFile != "" {
		return os.WriteFile(outFile, data, 0o644)
	}
	hexDump(addr, data)
	return nil
}

func (c *cli) readFlashBin(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("read_flash_bin needs <addr> <length> <file>")
	}
	return c.readFlash(args[:2], args[2])
}

func (c *cli) writeFlash(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("write_flash needs <addr> <file>")
	}
	addr, err := parseNum(args[0])
	if err != nil {
		return err
	}
	data, err := loadBinary(args[1])
	if err != nil {
		return err
	}
	log.Infof("Program file size %d", len(data))

	if err := c.probeFlash(); err != nil {
		return err
	}
	if c.flash == nil {
		return fmt.Errorf("flash chip not found")
	}
	if err := c.dev.FlashProgramData(data, addr); err != nil {
		return fmt.Errorf("flash write failed: %v", err)
	}
	log.Info("Flash write success")
	return nil
}

func (c *cli) writeFlashBytes(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("write_flash_bytes needs <addr> <byte>...")
	}
	addr, err := parseNum(args[0])
	if err != nil {
		return err
	}
	data, err := decodeBytes(args[1:])
	if err != nil {
		return err
	}
	log.Infof("Writing at 0x%08x. Data: %v", addr, args[1:])

	if err := c.probeFlash(); err != nil {
		return err
	}
	if c.flash == nil {
		return fmt.Errorf("flash chip not found")
	}
	if err := c.dev.FlashProgramData(data, addr); err != nil {
		return fmt.Errorf("flash write failed: %v", err)
	}
	log.Info("Flash write success")
	return nil
}

func (c *cli) imageFlash(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("image_flash needs <file>")
	}
	data, err := loadBinary(args[0])
	if err != nil {
		return err
	}

	if err := c.probeFlash(); err != nil {
		return err
	}
	if c.flash == nil {
		return fmt.Errorf("flash chip not found")
	}

	params := smartbond.ProgramParams{Descriptor: c.flash}
	if c.imgAddr != 0 {
		addr := c.imgAddr
		params.ActiveImageAddress = &addr
	}
	if err := c.dev.FlashProgramImage(data, params); err != nil {
		return fmt.Errorf("flash image failed: %v", err)
	}
	log.Info("Flash image success")
	return nil
}

func (c *cli) imageBootloaderFlash(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("image_bootloader_flash needs <file> <bootloader>")
	}
	image, err := loadBinary(args[0])
	if err != nil {
		return err
	}
	bootloader, err := loadBinary(args[1])
	if err != nil {
		return err
	}

	if err := c.probeFlash(); err != nil {
		return err
	}
	if c.flash == nil {
		return fmt.Errorf("flash chip not found")
	}
	params := smartbond.BootloaderParams{Image: image, Bootloader: bootloader}
	if err := c.dev.FlashProgramImageWithBootloader(params); err != nil {
		return fmt.Errorf("flash image failed: %v", err)
	}
	log.Info("Flash image success")
	return nil
}

func (c *cli) linkerHeader() error {
	if err := c.probeFlash(); err != nil {
		return err
	}
	if c.flash == nil {
		return fmt.Errorf("flash chip not found")
	}
	script, err := smartbond.LinkerScriptProductHeader(c.flash)
	if err != nil {
		return err
	}
	log.Info(script)
	return nil
}

func (c *cli) productHeaderCheck() error {
	if err := c.probeFlash(); err != nil {
		return err
	}
	if c.flash == nil {
		return fmt.Errorf("flash chip not found")
	}

	calculated, err := c.dev.MakeProductHeader(c.flash, 0, 0)
	if err != nil {
		return err
	}
	if err := c.dev.FlashConfigureController(c.flash); err != nil {
		return err
	}
	programmed, err := c.dev.ReadProductHeader()
	if err != nil {
		return err
	}

	if bytes.Equal(calculated, programmed) {
		log.Info("Product header OK")
		return nil
	}
	return fmt.Errorf("product header mismatch")
}

func (c *cli) readOTP(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("read_otp needs <key>")
	}
	key, err := parseNum(args[0])
	if err != nil {
		return err
	}
	if err := c.connectDevice(); err != nil {
		return err
	}
	_, offset, err := c.dev.OTPRead(key)
	if err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("OTP scan failed (%d)", offset)
	}
	return nil
}

func (c *cli) writeOTP(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("write_otp needs <key> <value>...")
	}
	key, err := parseNum(args[0])
	if err != nil {
		return err
	}
	values := make([]uint32, 0, len(args)-1)
	for _, arg := range args[1:] {
		v, err := parseNum(arg)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	if err := c.connectDevice(); err != nil {
		return err
	}
	return c.dev.OTPWrite(key, values, c.force)
}

func (c *cli) otpBlankCheck() error {
	if err := c.connectDevice(); err != nil {
		return err
	}
	blank, err := c.dev.OTPBlankCheck()
	if err != nil {
		return err
	}
	if blank {
		log.Info("OTP is blank")
		return nil
	}
	return fmt.Errorf("OTP is NOT blank")
}

func (c *cli) readOTPHex(args []string, outFile string) error {
	if len(args) < 2 {
		return fmt.Errorf("read_otp_hex needs <addr> <length>")
	}
	addr, err := parseNum(args[0])
	if err != nil {
		return err
	}
	length, err := parseNum(args[1])
	if err != nil {
		return err
	}
	if err := c.connectDevice(); err != nil {
		return err
	}
	data, err := c.dev.OTPReadRaw(addr, int(length))
	if err != nil {
		return err
	}
	if outFile != "" {
		return os.WriteFile(outFile, data, 0o644)
	}
	hexDump(addr, data)
	return nil
}

func (c *cli) readOTPBin(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("read_otp_bin needs <addr> <length> <file>")
	}
	return c.readOTPHex(args[:2], args[2])
}

// hexDump prints data 16 bytes per line, prefixed with the address.
func hexDump(addr uint32, data []byte) {
	const lineWidth = 16
	for len(data) > 0 {
		line := data
		if len(line) > lineWidth {
			line = line[:lineWidth]
		}
		parts := make([]string, len(line))
		for i, b := range line {
			parts[i] = fmt.Sprintf("%02x", b)
		}
		log.Infof("%08X: %s", addr, strings.Join(parts, " "))
		data = data[len(line):]
		addr += lineWidth
	}
}

// parseNum accepts decimal or 0x prefixed hexadecimal.
func parseNum(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(n), nil
}

// decodeBytes turns command line byte arguments (decimal or 0x hex strings,
// hex strings may carry several bytes) into raw data.
func decodeBytes(args []string) ([]byte, error) {
	var data []byte
	for _, arg := range args {
		if strings.HasPrefix(arg, "0x") {
			chunk := arg[2:]
			if len(chunk)%2 != 0 {
				chunk = "0" + chunk
			}
			for i := 0; i < len(chunk); i += 2 {
				b, err := strconv.ParseUint(chunk[i:i+2], 16, 8)
				if err != nil {
					return nil, fmt.Errorf("failed to decode byte %q", arg)
				}
				data = append(data, byte(b))
			}
			continue
		}
		b, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("failed to decode byte %q", arg)
		}
		data = append(data, byte(b))
	}
	return data, nil
}

// loadBinary reads an application file. Intel hex files are flattened to
// their binary content, anything else is taken verbatim.
func loadBinary(filename string) ([]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", filename, err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".hex" && ext != ".ihex" {
		return os.ReadFile(filename)
	}

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %v", filename, err)
	}
	var data []byte
	for _, segment := range mem.GetDataSegments() {
		data = append(data, segment.Data...)
	}
	return data, nil
}
