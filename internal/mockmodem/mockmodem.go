// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package mockmodem provides a scripted modem for testing.
//
// The mock does not attempt to emulate a real modem, it simply returns canned
// responses to the exact bytes written to it.
package mockmodem

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Modem is a scripted modem satisfying serial.Port.
type Modem struct {
	mu sync.Mutex

	// CmdSet maps written bytes to the responses returned for every write.
	CmdSet map[string][]string

	// Script maps written bytes to responses consumed in order.
	//
	// Script takes precedence over CmdSet until the responses are exhausted.
	Script map[string][][]string

	// Echo returns written bytes before the response.
	Echo bool

	// ErrOnWrite fails all writes.
	ErrOnWrite bool

	// OnWrite, if set, is called after each write is processed.
	OnWrite func(m *Modem, p []byte)

	// Writes records every write, in order.
	Writes []string

	// Timeouts records every read timeout set.
	Timeouts []time.Duration

	// Resets counts input buffer resets.
	Resets int

	// Closed indicates the port has been closed.
	Closed bool

	r []byte
}

// ErrClosed is returned by operations on a closed modem.
var ErrClosed = errors.New("closed")

// New creates a mock modem that responds to the commands in the cmdSet.
func New(cmdSet map[string][]string) *Modem {
	if cmdSet == nil {
		cmdSet = map[string][]string{}
	}
	return &Modem{CmdSet: cmdSet, Script: map[string][][]string{}}
}

// Queue adds data to be read from the modem, as if sent unsolicited.
func (m *Modem) Queue(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range lines {
		m.r = append(m.r, l...)
	}
}

// Read returns queued data, or no data after a short delay if nothing is
// queued.
func (m *Modem) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if len(m.r) == 0 {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, m.r)
	m.r = m.r[n:]
	m.mu.Unlock()
	return n, nil
}

// Write queues the response to the written bytes.
//
// Unknown commands, those terminated with <CR>, return ERROR. Other unknown
// writes are silently accepted.
func (m *Modem) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if m.ErrOnWrite {
		m.mu.Unlock()
		return 0, errors.New("write error")
	}
	key := string(p)
	m.Writes = append(m.Writes, key)
	if m.Echo {
		m.r = append(m.r, p...)
	}
	if s := m.Script[key]; len(s) > 0 {
		m.queue(s[0])
		m.Script[key] = s[1:]
	} else if v, ok := m.CmdSet[key]; ok {
		m.queue(v)
	} else if len(key) > 0 && key[len(key)-1] == '\r' {
		m.r = append(m.r, "\r\nERROR\r\n"...)
	}
	hook := m.OnWrite
	m.mu.Unlock()
	if hook != nil {
		hook(m, p)
	}
	return len(p), nil
}

func (m *Modem) queue(lines []string) {
	for _, l := range lines {
		m.r = append(m.r, l...)
	}
}

// Close closes the modem.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetReadTimeout records the timeout.
func (m *Modem) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timeouts = append(m.Timeouts, d)
	return nil
}

// ResetInputBuffer discards any queued data.
func (m *Modem) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resets++
	m.r = m.r[:0]
	return nil
}

// Commands returns the writes which were commands, stripped of the <CR>.
func (m *Modem) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cmds []string
	for _, w := range m.Writes {
		if len(w) > 0 && w[len(w)-1] == '\r' {
			cmds = append(cmds, w[:len(w)-1])
		}
	}
	return cmds
}

// Pending returns the number of queued bytes not yet read.
func (m *Modem) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.r)
}
