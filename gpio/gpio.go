// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package gpio drives the reset and power supply lines of a modem.
package gpio

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

//go:generate go run go.uber.org/mock/mockgen -source=gpio.go -destination=mock_line.go -package=gpio Line

// Line is a digital output line.
type Line interface {
	SetValue(value int) error
}

// Line levels.
const (
	Low  = 0
	High = 1
)

// DefaultPulse is the width of reset and power pulses.
const DefaultPulse = 250 * time.Millisecond

// ErrNoLine indicates the controller has no line for the requested action.
var ErrNoLine = errors.New("no line")

// Controller pulses the reset and power supply lines of a modem.
//
// The reset line is active low and the power supply line is active high.
type Controller struct {
	reset Line
	power Line
	pulse time.Duration
	sleep func(time.Duration)
}

// Option modifies a Controller.
type Option func(*Controller)

// WithPulse sets the width of the reset and power pulses.
func WithPulse(d time.Duration) Option {
	return func(c *Controller) {
		c.pulse = d
	}
}

// WithSleep replaces the function used to time pulses.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// NewController creates a Controller and drives both lines to their inactive
// levels.
//
// Either line may be nil if the modem lacks it.
func NewController(reset, power Line, options ...Option) (*Controller, error) {
	c := &Controller{
		reset: reset,
		power: power,
		pulse: DefaultPulse,
		sleep: time.Sleep,
	}
	for _, option := range options {
		option(c)
	}
	var err error
	if reset != nil {
		err = multierr.Append(err, errors.Wrap(reset.SetValue(High), "reset line"))
	}
	if power != nil {
		err = multierr.Append(err, errors.Wrap(power.SetValue(Low), "power line"))
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// HasReset returns true if the controller has a reset line.
func (c *Controller) HasReset() bool {
	return c != nil && c.reset != nil
}

// HasPowerControl returns true if the controller has a power supply line.
func (c *Controller) HasPowerControl() bool {
	return c != nil && c.power != nil
}

// HardwareReset pulses the reset line low.
func (c *Controller) HardwareReset() error {
	if !c.HasReset() {
		return ErrNoLine
	}
	return c.pulseLine(c.reset, Low, High)
}

// PowerCycle pulses the power supply line high.
func (c *Controller) PowerCycle() error {
	if !c.HasPowerControl() {
		return ErrNoLine
	}
	return c.pulseLine(c.power, High, Low)
}

func (c *Controller) pulseLine(l Line, active, inactive int) error {
	if err := l.SetValue(active); err != nil {
		return err
	}
	c.sleep(c.pulse)
	return l.SetValue(inactive)
}

// Close releases any lines that support it.
func (c *Controller) Close() error {
	if c == nil {
		return nil
	}
	var err error
	for _, l := range []Line{c.reset, c.power} {
		if cl, ok := l.(interface{ Close() error }); ok {
			err = multierr.Append(err, cl.Close())
		}
	}
	return err
}
