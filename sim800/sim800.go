// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package sim800 provides a driver for SIM800 cellular modems.
//
// The Modem brings the modem up in layers, serial then GSM then GPRS, and
// tears it down in reverse. SMS operations require the GSM layer and HTTP
// operations the GPRS layer.
//
// A Modem is safe for concurrent use, though operations are serialised as the
// modem can only process one command at a time.
package sim800

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/warthog618/sim800/at"
	"github.com/warthog618/sim800/gpio"
	"github.com/warthog618/sim800/gprs"
	"github.com/warthog618/sim800/gsm"
	"github.com/warthog618/sim800/httpat"
	"github.com/warthog618/sim800/serial"
	"github.com/warthog618/sim800/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Opener opens the serial port to the modem.
type Opener func(device string, baud int, timeout time.Duration) (serial.Port, error)

// Timings are the delays and timeouts used while managing the modem.
type Timings struct {
	// Boot is the time allowed for the modem to boot after power up.
	Boot time.Duration

	// ResetSettle is the time allowed for the modem to recover from a
	// hardware reset.
	ResetSettle time.Duration

	// PowerSettle is the time allowed for the modem to recover from a power
	// cycle.
	PowerSettle time.Duration

	// SMSReady is the time allowed for the modem to report SMS Ready.
	SMSReady time.Duration

	// TextModeSettle is the delay after switching to SMS text mode.
	TextModeSettle time.Duration

	// Poll is the time spent polling for new message indications.
	Poll time.Duration

	// HTTPAction is the time allowed for an HTTP request to complete.
	HTTPAction time.Duration

	// BearerPoll is the period between bearer status polls.
	BearerPoll time.Duration

	// BearerTimeout is the time allowed for the bearer to connect.
	BearerTimeout time.Duration

	// BearerSettle is the delay between opening the bearer and polling.
	BearerSettle time.Duration
}

// DefaultTimings are the timings used unless overridden.
var DefaultTimings = Timings{
	Boot:           5 * time.Second,
	ResetSettle:    5 * time.Second,
	PowerSettle:    10 * time.Second,
	SMSReady:       gsm.DefaultSMSReadyTimeout,
	TextModeSettle: gsm.DefaultTextModeSettle,
	Poll:           500 * time.Millisecond,
	HTTPAction:     httpat.DefaultActionTimeout,
	BearerPoll:     gprs.DefaultPollInterval,
	BearerTimeout:  gprs.DefaultPollTimeout,
	BearerSettle:   gprs.DefaultSettle,
}

// DefaultAPN is the APN used when none is specified.
const DefaultAPN = "internet"

// Modem is a SIM800 modem.
type Modem struct {
	// covers all modem operations
	mu sync.Mutex

	device  string
	baud    int
	timeout time.Duration
	apn     string
	backend serial.Backend
	open    Opener
	trace   bool
	ctrl    *gpio.Controller
	log     *zap.Logger
	timings Timings
	sleep   func(time.Duration)
	policy  at.MatchPolicy

	state *stateMachine

	// valid while the serial port is open
	port serial.Port
	at   *at.AT
	gsm  *gsm.GSM
	gprs *gprs.Manager
	http *httpat.Session

	ip string
}

// Option modifies a Modem.
type Option func(*Modem)

// New creates a Modem.
//
// The modem is not contacted until Begin is called.
func New(options ...Option) *Modem {
	m := &Modem{
		device:  serial.DefaultPort(),
		baud:    9600,
		timeout: at.DefaultTimeout,
		apn:     DefaultAPN,
		backend: serial.BackendBugst,
		log:     zap.NewNop(),
		timings: DefaultTimings,
		sleep:   time.Sleep,
		ip:      gprs.NoAddress,
	}
	for _, option := range options {
		option(m)
	}
	if m.open == nil {
		m.open = m.openSerial
	}
	m.state = newStateMachine(fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			m.log.Info("state", zap.String("from", e.Src), zap.String("to", e.Dst))
		},
	})
	return m
}

// WithDevice sets the serial device connected to the modem.
func WithDevice(device string) Option {
	return func(m *Modem) {
		if device != "" {
			m.device = device
		}
	}
}

// WithBaud sets the baud rate of the serial link.
func WithBaud(baud int) Option {
	return func(m *Modem) {
		if baud > 0 {
			m.baud = baud
		}
	}
}

// WithTimeout sets the default time allowed for each command.
func WithTimeout(d time.Duration) Option {
	return func(m *Modem) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithAPN sets the APN used when GPRS is set up on demand.
func WithAPN(apn string) Option {
	return func(m *Modem) {
		if apn != "" {
			m.apn = apn
		}
	}
}

// WithBackend selects the serial library used by the default Opener.
func WithBackend(b serial.Backend) Option {
	return func(m *Modem) {
		m.backend = b
	}
}

// WithOpener replaces the function used to open the serial port.
func WithOpener(o Opener) Option {
	return func(m *Modem) {
		m.open = o
	}
}

// WithController provides the reset and power lines of the modem.
//
// Without a controller the recovery steps requiring those lines are skipped.
func WithController(c *gpio.Controller) Option {
	return func(m *Modem) {
		m.ctrl = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Modem) {
		m.log = l
	}
}

// WithTrace logs all serial traffic at debug level.
func WithTrace() Option {
	return func(m *Modem) {
		m.trace = true
	}
}

// WithTimings overrides the default timings.
func WithTimings(t Timings) Option {
	return func(m *Modem) {
		m.timings = t
	}
}

// WithSleep replaces the function used for delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(m *Modem) {
		m.sleep = sleep
	}
}

// WithMatchPolicy sets the handling of unexpected lines.
func WithMatchPolicy(p at.MatchPolicy) Option {
	return func(m *Modem) {
		m.policy = p
	}
}

var (
	// ErrNotConnected indicates the operation requires the GSM subsystem to
	// be ready.
	ErrNotConnected = errors.New("not connected")

	// ErrGPRSNotReady indicates the operation requires the GPRS bearer to be
	// set up.
	ErrGPRSNotReady = errors.New("GPRS not ready")

	// ErrUnreachable indicates the modem did not respond even after
	// recovery.
	ErrUnreachable = errors.New("modem unreachable")
)

// Begin opens the serial port and brings up the GSM subsystem.
//
// The options override those provided to New. If the modem is already up
// only the command timeout is updated. On failure the serial port is closed.
func (m *Modem) Begin(options ...Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, option := range options {
		option(m)
	}
	if m.state.Current() >= GsmReady {
		m.at.SetTimeout(m.timeout)
		return nil
	}
	if m.state.Current() == SerialOpen {
		m.closePort()
		m.state.Close()
	}
	if err := m.openPort(); err != nil {
		m.log.Error("open serial port", zap.String("device", m.device), zap.Error(err))
		return err
	}
	if err := m.state.Open(); err != nil {
		return err
	}
	if err := m.bringUp(); err != nil {
		m.log.Error("begin", zap.Error(err))
		m.closePort()
		m.state.Close()
		return err
	}
	return m.state.GsmUp()
}

func (m *Modem) openSerial(device string, baud int, timeout time.Duration) (serial.Port, error) {
	return serial.New(
		serial.WithPort(device),
		serial.WithBaud(baud),
		serial.WithReadTimeout(timeout),
		serial.WithBackend(m.backend))
}

func (m *Modem) openPort() error {
	p, err := m.open(m.device, m.baud, m.timeout)
	if err != nil {
		return errors.Wrap(err, "open serial port")
	}
	if m.trace {
		p = trace.New(p, trace.WithLogger(m.log.Named("serial")))
	}
	if err = p.ResetInputBuffer(); err != nil {
		m.log.Warn("reset input buffer", zap.Error(err))
	}
	m.port = p
	m.at = at.New(p,
		at.WithTimeout(m.timeout),
		at.WithMatchPolicy(m.policy),
		at.WithLogger(m.log.Named("at")))
	m.gsm = gsm.New(m.at,
		gsm.WithLogger(m.log.Named("gsm")),
		gsm.WithSMSReadyTimeout(m.timings.SMSReady),
		gsm.WithTextModeSettle(m.timings.TextModeSettle),
		gsm.WithSleep(m.sleep))
	m.gprs = gprs.New(m.at,
		gprs.WithLogger(m.log.Named("gprs")),
		gprs.WithPollInterval(m.timings.BearerPoll),
		gprs.WithPollTimeout(m.timings.BearerTimeout),
		gprs.WithSettle(m.timings.BearerSettle),
		gprs.WithSleep(m.sleep))
	m.http = httpat.New(m.at, m.baud,
		httpat.WithLogger(m.log.Named("http")),
		httpat.WithActionTimeout(m.timings.HTTPAction),
		httpat.WithSleep(m.sleep))
	return nil
}

func (m *Modem) closePort() error {
	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	m.ip = gprs.NoAddress
	return err
}

// bringUp restarts the modem and configures the GSM subsystem.
func (m *Modem) bringUp() error {
	// restores the default URC configuration
	if m.ctrl.HasPowerControl() {
		m.log.Info("power cycle")
		if err := m.ctrl.PowerCycle(); err != nil {
			m.log.Warn("power cycle", zap.Error(err))
		}
	} else {
		m.log.Info("no power control, assuming modem is powered")
	}
	m.sleep(m.timings.Boot)
	if m.ping() {
		if _, err := m.at.Command("Z", 0); err != nil {
			m.log.Warn("reset to default config", zap.Error(err))
		}
	} else if err := m.recover(); err != nil {
		return err
	}
	return m.gsm.Setup()
}

// ping checks the modem is responding to commands.
func (m *Modem) ping() bool {
	_, err := m.at.Command("", 0)
	return err == nil
}

// Stop tears down the modem and closes the serial port.
//
// Each step is attempted even if earlier steps fail, and the modem is always
// left Disconnected. The errors from any failed steps are returned.
func (m *Modem) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state.Current()
	if state == Disconnected {
		return nil
	}
	var err error
	if terr := m.http.Terminate(); terr != nil {
		// expected unless a session was left open
		m.log.Debug("terminate HTTP", zap.Error(terr))
	}
	if state >= GprsReady {
		err = multierr.Append(err, m.gprs.Attach(false))
	}
	if state >= GsmReady {
		if _, cerr := m.at.Command("+CFUN=0", 0); cerr != nil {
			err = multierr.Append(err, errors.Wrap(cerr, "disable phone functionality"))
		}
	}
	if cerr := m.closePort(); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "close serial port"))
	}
	m.state.Close()
	if err != nil {
		m.log.Warn("stop", zap.Error(err))
	}
	return err
}

// State returns the connection state.
func (m *Modem) State() State {
	return m.state.Current()
}

// IsConnected returns true if the GSM subsystem is ready.
func (m *Modem) IsConnected() bool {
	return m.state.Current() >= GsmReady
}

// require returns an error if the modem is not at least in the state.
func (m *Modem) require(op string, s State) error {
	if m.state.Current() >= s {
		return nil
	}
	err := ErrNotConnected
	if s == GprsReady && m.state.Current() == GsmReady {
		err = ErrGPRSNotReady
	}
	m.log.Error("usage", zap.String("op", op), zap.Stringer("state", m.state.Current()), zap.Error(err))
	return err
}

// Available returns the number of unread SMS messages.
//
// Returns 0 if the modem is not connected.
func (m *Modem) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.require("available", GsmReady) != nil {
		return 0
	}
	return m.gsm.Available(m.timings.Poll)
}

// ReadOldestSMS reads and deletes the oldest unread SMS message.
//
// Returns gsm.ErrNoMessage if there are no unread messages.
func (m *Modem) ReadOldestSMS() (gsm.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.require("read SMS", GsmReady); err != nil {
		return gsm.Message{}, err
	}
	m.gsm.Available(m.timings.Poll)
	msg, err := m.gsm.ReadOldest()
	if err != nil && err != gsm.ErrNoMessage {
		m.log.Error("read SMS", zap.Error(err))
	}
	return msg, err
}

// SendSMS sends the text to the number, and returns the message reference.
func (m *Modem) SendSMS(number, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.require("send SMS", GsmReady); err != nil {
		return "", err
	}
	mr, err := m.gsm.SendSMS(number, text)
	if err != nil {
		m.log.Error("send SMS", zap.String("number", number), zap.Error(err))
	}
	return mr, err
}

// Flush deletes all stored SMS messages.
func (m *Modem) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.require("flush", GsmReady); err != nil {
		return err
	}
	return m.gsm.Flush()
}

// SetupGPRS sets up the GPRS bearer with the APN.
//
// An empty APN selects the APN provided to New. Does nothing if GPRS is
// already set up.
func (m *Modem) SetupGPRS(apn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setupGPRS(apn)
}

func (m *Modem) setupGPRS(apn string) error {
	if err := m.require("setup GPRS", GsmReady); err != nil {
		return err
	}
	if m.state.Current() == GprsReady {
		return nil
	}
	if apn == "" {
		apn = m.apn
	}
	b, err := m.gprs.Setup(apn)
	if err != nil {
		m.log.Error("setup GPRS", zap.Error(err))
		return err
	}
	m.ip = b.IP
	return m.state.GprsUp()
}

// CloseGPRS closes the bearer and detaches from GPRS.
func (m *Modem) CloseGPRS() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.require("close GPRS", GprsReady); err != nil {
		return err
	}
	err := multierr.Append(m.gprs.Close(), m.gprs.Attach(false))
	m.ip = gprs.NoAddress
	if serr := m.state.GprsDown(); serr != nil {
		err = multierr.Append(err, serr)
	}
	return err
}

// IPAddress returns the address of the GPRS bearer, or 0.0.0.0 if it has
// none.
func (m *Modem) IPAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ip
}

// HTTPGet performs an HTTP GET of the url, setting up GPRS if necessary.
//
// A Result with Status 0 is returned with any error.
func (m *Modem) HTTPGet(url string) (httpat.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setupGPRS(""); err != nil {
		return httpat.Result{}, err
	}
	return m.do(httpat.Request{Method: httpat.GET, URL: url})
}

// HTTPHead performs an HTTP HEAD of the url, setting up GPRS if necessary.
func (m *Modem) HTTPHead(url string) (httpat.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setupGPRS(""); err != nil {
		return httpat.Result{}, err
	}
	return m.do(httpat.Request{Method: httpat.HEAD, URL: url})
}

// HTTPPost posts the body to the url.
//
// GPRS must already be set up. An empty contentType is chosen based on the
// body.
func (m *Modem) HTTPPost(url string, body []byte, contentType string) (httpat.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.require("HTTP POST", GprsReady); err != nil {
		return httpat.Result{}, err
	}
	return m.do(httpat.Request{
		Method:      httpat.POST,
		URL:         url,
		ContentType: contentType,
		Body:        body,
	})
}

func (m *Modem) do(req httpat.Request) (httpat.Result, error) {
	res, err := m.http.Do(gprs.BearerID, req)
	if err != nil {
		m.log.Error("HTTP request",
			zap.Stringer("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err))
	}
	return res, err
}

// Command issues a raw AT command and returns the info lines of the response.
//
// The command excludes the AT prefix. A timeout of 0 uses the default.
func (m *Modem) Command(cmd string, timeout time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.require("command", GsmReady); err != nil {
		return nil, err
	}
	return m.at.Command(cmd, timeout)
}
