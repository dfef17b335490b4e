// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package cli provides the setup shared by the sim800 commands.
package cli

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/warthog618/sim800/config"
	"github.com/warthog618/sim800/gpio"
	"github.com/warthog618/sim800/log"
	"github.com/warthog618/sim800/serial"
	"github.com/warthog618/sim800/sim800"
	"go.uber.org/zap"
)

// App is the modem and its supporting infrastructure.
type App struct {
	Config *config.Config
	Log    *zap.Logger
	Modem  *sim800.Modem
	ctrl   *gpio.Controller
}

// New builds the App from the configuration specified by the flags.
//
// The modem is not contacted.
func New(f *config.Flags) (*App, error) {
	c, err := f.Config()
	if err != nil {
		return nil, err
	}
	l, err := log.New(c.Debug)
	if err != nil {
		return nil, err
	}
	a := &App{Config: c, Log: l}
	if c.GPIO.Chip != "" {
		a.ctrl, err = gpio.Open(c.GPIO.Chip, c.GPIO.Reset, c.GPIO.Power)
		if err != nil {
			l.Warn("no reset or power control", zap.Error(err))
		}
	}
	a.Modem = sim800.New(Options(c, l, a.ctrl)...)
	return a, nil
}

// Stop stops the modem, logging any error.
func (a *App) Stop() {
	if err := a.Modem.Stop(); err != nil {
		a.Log.Warn("stop modem", zap.Error(err))
	}
}

// Close stops the modem and releases the GPIO lines.
func (a *App) Close() {
	a.Stop()
	if err := a.ctrl.Close(); err != nil {
		a.Log.Warn("release gpio", zap.Error(err))
	}
	a.Log.Sync()
}

// Options returns the modem options corresponding to the configuration.
func Options(c *config.Config, l *zap.Logger, ctrl *gpio.Controller) []sim800.Option {
	opts := []sim800.Option{
		sim800.WithDevice(c.Serial.Device),
		sim800.WithBaud(c.Serial.Baud),
		sim800.WithTimeout(time.Duration(c.Serial.Timeout)),
		sim800.WithBackend(serial.Backend(c.Serial.Backend)),
		sim800.WithAPN(c.GPRS.APN),
		sim800.WithLogger(l),
		sim800.WithTimings(Timings(c.Timings)),
	}
	if ctrl != nil {
		opts = append(opts, sim800.WithController(ctrl))
	}
	if c.Serial.Trace {
		opts = append(opts, sim800.WithTrace())
	}
	return opts
}

// Timings returns the default timings overridden by any set in t.
func Timings(t config.Timings) sim800.Timings {
	st := sim800.DefaultTimings
	override := func(dst *time.Duration, src config.Duration) {
		if src > 0 {
			*dst = time.Duration(src)
		}
	}
	override(&st.Boot, t.Boot)
	override(&st.ResetSettle, t.ResetSettle)
	override(&st.PowerSettle, t.PowerSettle)
	override(&st.SMSReady, t.SMSReady)
	override(&st.TextModeSettle, t.TextModeSettle)
	override(&st.Poll, t.Poll)
	override(&st.HTTPAction, t.HTTPAction)
	override(&st.BearerPoll, t.BearerPoll)
	override(&st.BearerTimeout, t.BearerTimeout)
	override(&st.BearerSettle, t.BearerSettle)
	return st
}

// Beginner is a modem that can be started.
type Beginner interface {
	Begin(options ...sim800.Option) error
}

// Begin starts the modem, retrying with backoff until it succeeds or the
// context is done.
func Begin(ctx context.Context, m Beginner, b *backoff.Backoff, l *zap.Logger) error {
	for {
		err := m.Begin()
		if err == nil {
			b.Reset()
			return nil
		}
		d := b.Duration()
		l.Warn("begin failed, retrying", zap.Error(err), zap.Duration("after", d))
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
