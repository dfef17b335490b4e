// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package serial

import (
	"io"
	"time"

	"github.com/pkg/errors"
	tarm "github.com/tarm/serial"
)

// tarmPoll is the read timeout the tarm port is opened with.
//
// tarm fixes the timeout when the port is opened, so longer timeouts are
// built from repeated polls.
const tarmPoll = 100 * time.Millisecond

type tarmPort struct {
	p       *tarm.Port
	timeout time.Duration
}

func openTarm(cfg Config) (Port, error) {
	p, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.port,
		Baud:        cfg.baud,
		ReadTimeout: tarmPoll,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.port)
	}
	return &tarmPort{p: p, timeout: cfg.timeout}, nil
}

// Read polls the port until data arrives or the read timeout expires.
//
// tarm reports an expired poll as io.EOF on some platforms and as an empty
// read on others - both are treated as no data.
func (t *tarmPort) Read(b []byte) (int, error) {
	deadline := time.Now().Add(t.timeout)
	for {
		n, err := t.p.Read(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		if t.timeout >= 0 && !time.Now().Before(deadline) {
			return 0, nil
		}
	}
}

func (t *tarmPort) Write(b []byte) (int, error) {
	return t.p.Write(b)
}

func (t *tarmPort) Close() error {
	return t.p.Close()
}

// SetReadTimeout sets the overall timeout for Read.
//
// A negative timeout blocks until data arrives.
func (t *tarmPort) SetReadTimeout(d time.Duration) error {
	t.timeout = d
	return nil
}

func (t *tarmPort) ResetInputBuffer() error {
	return t.p.Flush()
}
