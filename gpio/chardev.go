// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

//go:build linux

package gpio

import (
	"github.com/pkg/errors"
	"github.com/warthog618/gpiod"
)

// RequestLine requests a line from the GPIO character device as an output
// with the initial value.
func RequestLine(chip string, offset int, initial int) (*gpiod.Line, error) {
	l, err := gpiod.RequestLine(chip, offset, gpiod.AsOutput(initial))
	if err != nil {
		return nil, errors.Wrapf(err, "request %s:%d", chip, offset)
	}
	return l, nil
}

// Open requests the reset and power lines from the chip and returns a
// Controller driving them.
//
// A negative power offset indicates the modem has no power supply line.
func Open(chip string, reset, power int, options ...Option) (*Controller, error) {
	rl, err := RequestLine(chip, reset, High)
	if err != nil {
		return nil, err
	}
	var pl Line
	if power >= 0 {
		l, err := RequestLine(chip, power, Low)
		if err != nil {
			rl.Close()
			return nil, err
		}
		pl = l
	}
	c, err := NewController(rl, pl, options...)
	if err != nil {
		rl.Close()
		if l, ok := pl.(*gpiod.Line); ok {
			l.Close()
		}
		return nil, err
	}
	return c, nil
}
