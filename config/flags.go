// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package config

import (
	"flag"
	"time"
)

// Flags are the command line overrides of the configuration.
type Flags struct {
	fs      *flag.FlagSet
	path    string
	device  string
	baud    int
	timeout time.Duration
	backend string
	apn     string
	chip    string
	debug   bool
	trace   bool
}

// RegisterFlags adds the configuration flags to the flag set.
//
// The flag defaults are those of the default configuration, but only flags
// explicitly set override the configuration file.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVar(&f.path, "c", "", "path to TOML config file")
	fs.StringVar(&f.device, "d", d.Serial.Device, "path to modem device")
	fs.IntVar(&f.baud, "b", d.Serial.Baud, "baud rate")
	fs.DurationVar(&f.timeout, "t", time.Duration(d.Serial.Timeout), "command timeout period")
	fs.StringVar(&f.backend, "backend", d.Serial.Backend, "serial library, bugst or tarm")
	fs.StringVar(&f.apn, "apn", d.GPRS.APN, "GPRS access point name")
	fs.StringVar(&f.chip, "gpiochip", d.GPIO.Chip, "GPIO chip, empty to disable reset and power control")
	fs.BoolVar(&f.debug, "debug", false, "enable development logging")
	fs.BoolVar(&f.trace, "v", false, "log modem interactions")
	return f
}

// Config returns the configuration file, or the default if none was
// specified, overridden by the flags that were set.
//
// Must be called after the flag set is parsed.
func (f *Flags) Config() (*Config, error) {
	c := Default()
	if f.path != "" {
		var err error
		if c, err = Load(f.path); err != nil {
			return nil, err
		}
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "d":
			c.Serial.Device = f.device
		case "b":
			c.Serial.Baud = f.baud
		case "t":
			c.Serial.Timeout = Duration(f.timeout)
		case "backend":
			c.Serial.Backend = f.backend
		case "apn":
			c.GPRS.APN = f.apn
		case "gpiochip":
			c.GPIO.Chip = f.chip
		case "debug":
			c.Debug = f.debug
		case "v":
			c.Serial.Trace = f.trace
		}
	})
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
