// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

//go:build !linux

package gpio

import "github.com/pkg/errors"

// Open is only supported on Linux.
func Open(chip string, reset, power int, options ...Option) (*Controller, error) {
	return nil, errors.New("gpio character device requires linux")
}
