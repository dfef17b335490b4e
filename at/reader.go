// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package at

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ReadLine returns the next line received from the modem.
//
// The line terminator is stripped and invalid UTF-8 is replaced. Blank lines
// and indications are never returned. The SMS prompt, which is not
// terminated, is returned as ">".
//
// If no line arrives within the timeout then an empty line and a nil error
// are returned. A timeout of 0 uses the default timeout.
func (a *AT) ReadLine(timeout time.Duration) (string, error) {
	defer a.restoreTimeout()
	return a.readLine(a.deadline(timeout))
}

// ReadRaw reads exactly n bytes from the modem, without any line processing.
//
// If fewer than n bytes arrive within the timeout then those received are
// returned along with ErrTimeout.
func (a *AT) ReadRaw(n int, timeout time.Duration) ([]byte, error) {
	defer a.restoreTimeout()
	deadline := a.deadline(timeout)
	for len(a.buf) < n {
		ok, err := a.fill(deadline)
		if err != nil {
			return nil, err
		}
		if !ok {
			b := a.take(len(a.buf))
			return b, ErrTimeout
		}
	}
	return a.take(n), nil
}

// Poll reads and discards lines until the timeout expires, passing any
// indications received to their handlers.
func (a *AT) Poll(timeout time.Duration) error {
	defer a.restoreTimeout()
	deadline := a.deadline(timeout)
	for {
		line, err := a.readLine(deadline)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		a.log.Debug("discarded", zap.String("line", line))
	}
}

// ResetInput discards any input received from the modem but not yet read.
func (a *AT) ResetInput() error {
	a.buf = a.buf[:0]
	if r, ok := a.port.(inputResetter); ok {
		return r.ResetInputBuffer()
	}
	return nil
}

func (a *AT) readLine(deadline time.Time) (string, error) {
	for {
		a.buf = bytes.TrimLeft(a.buf, "\r\n")
		if len(a.buf) > 0 && a.buf[0] == '>' {
			// the SMS prompt has no terminator, but may have trailing space
			i := 1
			for ; i < len(a.buf) && a.buf[i] == ' '; i++ {
			}
			a.take(i)
			a.log.Debug("rx", zap.String("line", ">"))
			return ">", nil
		}
		if i := bytes.IndexByte(a.buf, '\n'); i >= 0 {
			raw := a.take(i + 1)
			line := strings.ToValidUTF8(string(bytes.TrimRight(raw, "\r\n")), "\uFFFD")
			if line == "" {
				continue
			}
			a.log.Debug("rx", zap.String("line", line))
			if a.indicate(line) {
				continue
			}
			return line, nil
		}
		ok, err := a.fill(deadline)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
	}
}

// fill performs a single read from the port, bounded by the deadline.
//
// Returns false if the deadline has passed.
func (a *AT) fill(deadline time.Time) (bool, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false, nil
	}
	if err := a.setTimeout(remaining); err != nil {
		return false, err
	}
	n, err := a.port.Read(a.rbuf)
	a.buf = append(a.buf, a.rbuf[:n]...)
	if err != nil && !(err == io.EOF && n == 0) {
		return false, errors.Wrap(err, "read")
	}
	return true, nil
}

// take removes and returns the first n buffered bytes.
func (a *AT) take(n int) []byte {
	b := make([]byte, n)
	copy(b, a.buf)
	a.buf = a.buf[:copy(a.buf, a.buf[n:])]
	return b
}

// indicate passes the line to the matching indication handler, if any.
func (a *AT) indicate(line string) bool {
	for prefix, handler := range a.inds {
		if strings.HasPrefix(line, prefix) {
			handler(line)
			return true
		}
	}
	return false
}

func (a *AT) setTimeout(d time.Duration) error {
	if d == a.portTimeout {
		return nil
	}
	if err := a.port.SetReadTimeout(d); err != nil {
		return errors.Wrap(err, "set read timeout")
	}
	a.portTimeout = d
	return nil
}

// restoreTimeout returns the port to the default read timeout.
func (a *AT) restoreTimeout() {
	if a.portTimeout == 0 {
		return
	}
	if err := a.setTimeout(a.timeout); err != nil {
		a.log.Warn("restore read timeout", zap.Error(err))
	}
}
