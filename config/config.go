// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package config provides the configuration shared by the sim800 commands.
//
// The configuration is read from a TOML file, if provided, and then
// overridden by any command line flags.
package config

import (
	"bytes"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/warthog618/sim800/serial"
)

// Duration is a time.Duration written as a string, such as "1m30s", in
// TOML.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Serial is the configuration of the link to the modem.
type Serial struct {
	Device  string   `toml:"device" comment:"serial device connected to the modem"`
	Baud    int      `toml:"baud"`
	Timeout Duration `toml:"timeout" comment:"default time allowed for each command"`
	Backend string   `toml:"backend" comment:"serial library, bugst or tarm"`
	Trace   bool     `toml:"trace,omitempty" comment:"log all serial traffic"`
}

// GPIO is the configuration of the lines controlling the modem.
type GPIO struct {
	Chip  string `toml:"chip" comment:"empty disables GPIO control"`
	Reset int    `toml:"reset" comment:"offset of the reset line"`
	Power int    `toml:"power" comment:"offset of the power line, negative if none"`
}

// GPRS is the configuration of the data bearer.
type GPRS struct {
	APN string `toml:"apn"`
}

// Timings overrides the modem timings.
//
// Zero values select the defaults.
type Timings struct {
	Boot           Duration `toml:"boot,omitempty"`
	ResetSettle    Duration `toml:"reset_settle,omitempty"`
	PowerSettle    Duration `toml:"power_settle,omitempty"`
	SMSReady       Duration `toml:"sms_ready,omitempty"`
	TextModeSettle Duration `toml:"text_mode_settle,omitempty"`
	Poll           Duration `toml:"poll,omitempty"`
	HTTPAction     Duration `toml:"http_action,omitempty"`
	BearerPoll     Duration `toml:"bearer_poll,omitempty"`
	BearerTimeout  Duration `toml:"bearer_timeout,omitempty"`
	BearerSettle   Duration `toml:"bearer_settle,omitempty"`
}

// Config is the complete configuration.
type Config struct {
	Serial  Serial  `toml:"serial"`
	GPIO    GPIO    `toml:"gpio"`
	GPRS    GPRS    `toml:"gprs"`
	Debug   bool    `toml:"debug" comment:"enable development logging"`
	Timings Timings `toml:"timings,omitempty"`
}

// Default returns the default configuration, which matches a SIM800 HAT on a
// Raspberry Pi.
func Default() *Config {
	return &Config{
		Serial: Serial{
			Device:  serial.DefaultPort(),
			Baud:    9600,
			Timeout: Duration(2 * time.Second),
			Backend: string(serial.BackendBugst),
		},
		GPIO: GPIO{
			Chip:  "gpiochip0",
			Reset: 27,
			Power: 22,
		},
		GPRS: GPRS{APN: "internet"},
	}
}

// Load reads the configuration from the TOML file at path.
//
// Values missing from the file retain their defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c := Default()
	d := toml.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	if err = d.Decode(c); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Marshal returns the configuration in TOML form.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// ErrInvalid indicates the configuration contains an invalid value.
var ErrInvalid = errors.New("invalid config")

// Validate checks the values the driver relies on.
func (c *Config) Validate() error {
	if c.Serial.Device == "" {
		return errors.Wrap(ErrInvalid, "serial device not set")
	}
	if c.Serial.Baud <= 0 {
		return errors.Wrapf(ErrInvalid, "serial baud %d", c.Serial.Baud)
	}
	if c.Serial.Timeout < 0 {
		return errors.Wrap(ErrInvalid, "negative serial timeout")
	}
	switch serial.Backend(c.Serial.Backend) {
	case serial.BackendBugst, serial.BackendTarm:
	default:
		return errors.Wrapf(ErrInvalid, "serial backend %q", c.Serial.Backend)
	}
	if c.GPIO.Chip != "" && c.GPIO.Reset < 0 {
		return errors.Wrapf(ErrInvalid, "gpio reset %d", c.GPIO.Reset)
	}
	if c.GPIO.Chip != "" && c.GPIO.Reset == c.GPIO.Power {
		return errors.Wrap(ErrInvalid, "gpio reset and power share a line")
	}
	return nil
}
