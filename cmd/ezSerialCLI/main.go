// Copyright 2019 ezflash. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// ezSerialCLI loads an application into a Smartbond device over the UART
// boot protocol.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/ezflash/ezFlashCLI/serialboot"
)

const version = "1.0.0"

var log = logrus.New()

func main() {
	flags := pflag.NewFlagSet("ezSerialCLI", pflag.ExitOnError)
	verbose := flags.BoolP("verbose", "v", false, "increase verbosity")
	showVersion := flags.Bool("version", false, "return version number")
	oneWire := flags.BoolP("one", "o", false, "one wire UART mode")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ezSerialCLI [flags] <port> <application>\n\nFlags:\n")
		fmt.Fprint(os.Stderr, flags.FlagUsages())
	}
	flags.Parse(os.Args[1:])

	log.SetFormatter(&prefixed.TextFormatter{
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	})
	log.SetOutput(os.Stdout)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(log.Formatter)
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(log.Level)

	if *showVersion {
		log.Info(version)
		return
	}

	args := flags.Args()
	if len(args) < 2 {
		flags.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		log.Fatalf("Failed to read %s: %v", args[1], err)
	}

	loader, err := serialboot.Open(serialboot.Options{
		PortName: args[0],
		OneWire:  *oneWire,
	})
	if err != nil {
		log.Fatalf("Failed to open %s: %v", args[0], err)
	}
	defer loader.Close()

	if err := loader.Load(data); err != nil {
		log.Fatalf("Load failed: %v", err)
	}
}
