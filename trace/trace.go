// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// Package trace provides a decorator for serial.Port that logs all reads
// and writes.
package trace

import (
	"encoding/hex"

	"github.com/warthog618/sim800/serial"
	"go.uber.org/zap"
)

// Trace is a trace log on a serial.Port.
//
// All reads and writes are written to the logger at debug level.
// Other Port methods are passed through untraced.
type Trace struct {
	serial.Port
	l    *zap.Logger
	wmsg string
	rmsg string
	hex  bool
}

// Option modifies a Trace object created by New.
type Option func(*Trace)

// New creates a new trace on the serial.Port.
func New(p serial.Port, options ...Option) *Trace {
	t := &Trace{
		Port: p,
		wmsg: "w",
		rmsg: "r",
	}
	for _, option := range options {
		option(t)
	}
	if t.l == nil {
		t.l = zap.NewNop()
	}
	return t
}

// WithReadMessage sets the message used for read logs.
func WithReadMessage(msg string) Option {
	return func(t *Trace) {
		t.rmsg = msg
	}
}

// WithWriteMessage sets the message used for write logs.
func WithWriteMessage(msg string) Option {
	return func(t *Trace) {
		t.wmsg = msg
	}
}

// WithHex logs the data as a hex dump rather than as text.
func WithHex() Option {
	return func(t *Trace) {
		t.hex = true
	}
}

// WithLogger specifies the logger to be used to log trace messages.
//
// By default traces are discarded.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trace) {
		t.l = l
	}
}

func (t *Trace) Read(p []byte) (n int, err error) {
	n, err = t.Port.Read(p)
	if n > 0 {
		t.l.Debug(t.rmsg, t.field(p[:n]))
	}
	return n, err
}

func (t *Trace) Write(p []byte) (n int, err error) {
	n, err = t.Port.Write(p)
	if n > 0 {
		t.l.Debug(t.wmsg, t.field(p[:n]))
	}
	return n, err
}

func (t *Trace) field(p []byte) zap.Field {
	if t.hex {
		return zap.String("data", hex.EncodeToString(p))
	}
	return zap.ByteString("data", p)
}
