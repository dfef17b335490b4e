// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package serial provides the character stream used to talk to the modem.
package serial

import (
	"io"
	"time"

	"github.com/pkg/errors"
	bugst "go.bug.st/serial"
)

// Port is a duplex byte stream to a modem with a mutable read timeout.
//
// A Read that times out returns 0 bytes and no error.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout sets the maximum time a Read blocks waiting for data.
	SetReadTimeout(t time.Duration) error

	// ResetInputBuffer discards any received but unread data.
	ResetInputBuffer() error
}

// Backend identifies the serial library used to drive the port.
type Backend string

const (
	// BackendBugst uses go.bug.st/serial.
	BackendBugst Backend = "bugst"

	// BackendTarm uses github.com/tarm/serial.
	BackendTarm Backend = "tarm"
)

// Config describes a serial port.
type Config struct {
	port    string
	baud    int
	timeout time.Duration
	backend Backend
}

// Option modifies the Config used to open a Port.
type Option func(*Config)

// WithPort sets the device path of the port.
//
// The default is platform dependent.
func WithPort(port string) Option {
	return func(c *Config) {
		c.port = port
	}
}

// WithBaud sets the baud rate of the port.
//
// The default is 9600.
func WithBaud(baud int) Option {
	return func(c *Config) {
		c.baud = baud
	}
}

// WithReadTimeout sets the initial read timeout of the port.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.timeout = d
	}
}

// WithBackend selects the serial library.
//
// The default is BackendBugst.
func WithBackend(b Backend) Option {
	return func(c *Config) {
		c.backend = b
	}
}

// DefaultReadTimeout is the read timeout used when none is specified.
const DefaultReadTimeout = 2 * time.Second

// DefaultPort returns the default device path for the platform.
func DefaultPort() string {
	return defaultConfig.port
}

// New opens a serial port.
func New(options ...Option) (Port, error) {
	cfg := defaultConfig
	for _, option := range options {
		option(&cfg)
	}
	if cfg.timeout == 0 {
		cfg.timeout = DefaultReadTimeout
	}
	if cfg.baud <= 0 {
		return nil, errors.Errorf("invalid baud rate %d", cfg.baud)
	}
	switch cfg.backend {
	case BackendBugst, "":
		return openBugst(cfg)
	case BackendTarm:
		return openTarm(cfg)
	default:
		return nil, errors.Errorf("unknown serial backend %q", cfg.backend)
	}
}

func openBugst(cfg Config) (Port, error) {
	p, err := bugst.Open(cfg.port, &bugst.Mode{
		BaudRate: cfg.baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.port)
	}
	if err = p.SetReadTimeout(cfg.timeout); err != nil {
		p.Close()
		return nil, errors.Wrap(err, "set read timeout")
	}
	return p, nil
}
