// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package gprs manages the GPRS bearer of a SIM800 modem.
package gprs

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/sim800/at"
	"go.uber.org/zap"
)

// BearerID is the bearer profile used for all GPRS sessions.
const BearerID = 1

// NoAddress is the address reported by a bearer without one.
const NoAddress = "0.0.0.0"

// Status is the connection status of a bearer.
type Status int

const (
	// Unknown indicates the status could not be determined.
	Unknown Status = iota - 1
	// Connecting indicates the bearer is being opened.
	Connecting
	// Connected indicates the bearer is open.
	Connected
	// Closing indicates the bearer is being closed.
	Closing
	// Closed indicates the bearer is closed.
	Closed
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Bearer is the state of the bearer profile as of the most recent query.
type Bearer struct {
	ID     int
	APN    string
	Status Status
	IP     string
}

// Manager configures, opens and closes the GPRS bearer.
type Manager struct {
	a            *at.AT
	bearer       Bearer
	log          *zap.Logger
	openTimeout  time.Duration
	settle       time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
	sleep        func(time.Duration)
}

// Option modifies a Manager.
type Option func(*Manager)

const (
	// DefaultPollInterval is the period between bearer status polls.
	DefaultPollInterval = 2 * time.Second

	// DefaultPollTimeout is the time allowed for the bearer to connect.
	DefaultPollTimeout = 10 * time.Second

	// DefaultSettle is the delay between opening the bearer and the first
	// poll.
	DefaultSettle = time.Second

	// attachTimeout is the time allowed for GPRS attach and detach.
	attachTimeout = 10 * time.Second

	// openTimeout is the time allowed for the bearer open command.
	openTimeout = 5 * time.Second
)

var sapbrRx = regexp.MustCompile(`^\+SAPBR: ?(\d+),(\d+),"?([^"]*)"?`)

// New creates a Manager for the bearer of the modem.
func New(a *at.AT, options ...Option) *Manager {
	m := &Manager{
		a:            a,
		bearer:       Bearer{ID: BearerID, Status: Unknown, IP: NoAddress},
		log:          zap.NewNop(),
		openTimeout:  openTimeout,
		settle:       DefaultSettle,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
		sleep:        time.Sleep,
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithPollInterval sets the period between status polls while opening.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithPollTimeout sets the time allowed for the bearer to connect.
func WithPollTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.pollTimeout = d
	}
}

// WithSettle sets the delay between opening the bearer and polling.
func WithSettle(d time.Duration) Option {
	return func(m *Manager) {
		m.settle = d
	}
}

// WithSleep replaces the function used for delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// Bearer returns the bearer state as of the most recent query.
func (m *Manager) Bearer() Bearer {
	return m.bearer
}

// Attach attaches to, or detaches from, the GPRS service.
func (m *Manager) Attach(attach bool) error {
	v := 0
	if attach {
		v = 1
	}
	if _, err := m.a.Command(fmt.Sprintf("+CGATT=%d", v), attachTimeout); err != nil {
		if attach {
			return errors.Wrap(err, "attach GPRS")
		}
		return errors.Wrap(err, "detach GPRS")
	}
	return nil
}

// Configure sets the bearer connection type to GPRS and the APN.
func (m *Manager) Configure(apn string) error {
	cmd := fmt.Sprintf(`+SAPBR=3,%d,"CONTYPE","GPRS"`, BearerID)
	if _, err := m.a.Command(cmd, 0); err != nil {
		return errors.Wrap(err, "activate bearer profile")
	}
	cmd = fmt.Sprintf(`+SAPBR=3,%d,"APN","%s"`, BearerID, apn)
	if _, err := m.a.Command(cmd, 0); err != nil {
		return errors.Wrap(err, "set bearer APN")
	}
	m.bearer.APN = apn
	return nil
}

// Query requests the bearer status from the modem.
func (m *Manager) Query() (Bearer, error) {
	g, err := m.a.Query(fmt.Sprintf("+SAPBR=2,%d", BearerID), sapbrRx, 0)
	if err != nil {
		m.bearer.Status = Unknown
		return m.bearer, errors.Wrap(err, "query bearer")
	}
	id, _ := strconv.Atoi(g[0])
	s, _ := strconv.Atoi(g[1])
	m.bearer.ID = id
	m.bearer.Status = Status(s)
	m.bearer.IP = g[2]
	if m.bearer.IP == "" {
		m.bearer.IP = NoAddress
	}
	m.log.Debug("bearer",
		zap.Stringer("status", m.bearer.Status),
		zap.String("ip", m.bearer.IP))
	return m.bearer, nil
}

// Open opens the bearer.
func (m *Manager) Open() error {
	if _, err := m.a.Command(fmt.Sprintf("+SAPBR=1,%d", BearerID), m.openTimeout); err != nil {
		return errors.Wrap(err, "open bearer")
	}
	return nil
}

// Close closes the bearer.
func (m *Manager) Close() error {
	if _, err := m.a.Command(fmt.Sprintf("+SAPBR=0,%d", BearerID), m.openTimeout); err != nil {
		return errors.Wrap(err, "close bearer")
	}
	m.bearer.Status = Closed
	m.bearer.IP = NoAddress
	return nil
}

// Setup attaches to GPRS, configures the bearer with the APN and opens it if
// not already connected.
//
// Once opened the bearer is polled until it connects or the poll timeout
// expires. The last reported address is recorded either way, so a bearer
// that fails to connect in time is not an error.
func (m *Manager) Setup(apn string) (Bearer, error) {
	m.log.Info("setup GPRS", zap.String("apn", apn))
	if err := m.Attach(true); err != nil {
		return m.bearer, err
	}
	if err := m.Configure(apn); err != nil {
		return m.bearer, err
	}
	b, err := m.Query()
	if err != nil {
		m.log.Warn("bearer status unknown", zap.Error(err))
	}
	if b.Status == Connected {
		return b, nil
	}
	if err = m.Open(); err != nil {
		return m.bearer, err
	}
	m.sleep(m.settle)
	for n := time.Duration(0); n < m.pollTimeout; n += m.pollInterval {
		if b, err = m.Query(); err != nil {
			m.log.Warn("bearer status unknown", zap.Error(err))
		}
		if b.Status == Connected {
			break
		}
		m.sleep(m.pollInterval)
	}
	if b.Status != Connected {
		m.log.Warn("bearer not connected", zap.Stringer("status", b.Status))
	}
	return m.bearer, nil
}
