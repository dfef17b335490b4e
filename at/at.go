// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// Package at provides a low level driver for AT modems.
//
// The driver is synchronous and half-duplex. Each call writes to the modem
// and reads its response before returning, so at most one command is ever
// outstanding. An AT is not safe for concurrent use; callers sharing a modem
// must serialise access.
package at

import (
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Port is the character stream connecting the AT to the modem.
//
// A Read that times out must return 0 bytes and either a nil error or io.EOF.
type Port interface {
	io.ReadWriter

	// SetReadTimeout sets the maximum time a Read blocks waiting for data.
	SetReadTimeout(t time.Duration) error
}

// inputResetter is implemented by ports able to discard buffered input.
type inputResetter interface {
	ResetInputBuffer() error
}

// AT represents a modem that can be managed using AT commands.
//
// Commands can be issued to the modem using the Command, Query and SMSCommand
// methods.
type AT struct {
	// the underlying modem
	port Port

	// default time allowed for each call
	timeout time.Duration

	// read timeout currently set on the port, 0 if never set
	portTimeout time.Duration

	// handling of lines that match no expectation
	policy MatchPolicy

	// indication handlers mapped by prefix
	inds map[string]InfoHandler

	// bytes read from the port but not yet consumed
	buf []byte

	// scratch for port reads
	rbuf []byte

	// identifier of the last command written, for echo detection
	cmdID string

	log *zap.Logger
}

// Option is a construction option for an AT.
type Option func(*AT)

// DefaultTimeout is the time allowed for a call when none is specified.
const DefaultTimeout = 2 * time.Second

// DefaultPromptTimeout is the time allowed for the SMS prompt to appear.
const DefaultPromptTimeout = 5 * time.Second

// New creates a new AT modem.
func New(port Port, options ...Option) *AT {
	a := &AT{
		port:    port,
		timeout: DefaultTimeout,
		inds:    make(map[string]InfoHandler),
		rbuf:    make([]byte, 256),
		log:     zap.NewNop(),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

const (
	sub = 0x1a
	esc = 0x1b
)

// WithTimeout sets the default time allowed for each call.
//
// The default timeout is 2 seconds.
func WithTimeout(d time.Duration) Option {
	return func(a *AT) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMatchPolicy sets the handling of lines that match no expectation.
//
// The default is DiscardUnmatched.
func WithMatchPolicy(p MatchPolicy) Option {
	return func(a *AT) {
		a.policy = p
	}
}

// WithLogger sets the logger for command traffic.
func WithLogger(l *zap.Logger) Option {
	return func(a *AT) {
		a.log = l
	}
}

// InfoHandler receives indication lines.
type InfoHandler func(line string)

// WithIndication adds an indication during construction.
func WithIndication(prefix string, handler InfoHandler) Option {
	return func(a *AT) {
		a.inds[prefix] = handler
	}
}

// AddIndication adds a handler for lines beginning with the prefix.
//
// Matching lines are passed to the handler as they are read and are never
// returned as part of a command response.
func (a *AT) AddIndication(prefix string, handler InfoHandler) error {
	if _, ok := a.inds[prefix]; ok {
		return ErrIndicationExists
	}
	a.inds[prefix] = handler
	return nil
}

// CancelIndication removes any indication corresponding to the prefix.
func (a *AT) CancelIndication(prefix string) {
	delete(a.inds, prefix)
}

// SetTimeout sets the default time allowed for each call.
func (a *AT) SetTimeout(d time.Duration) {
	if d > 0 {
		a.timeout = d
	}
}

// Timeout returns the default time allowed for each call.
func (a *AT) Timeout() time.Duration {
	return a.timeout
}

// Command issues the command to the modem and returns the result.
//
// The command should NOT include the AT prefix, nor the <CR> suffix which is
// automatically added.
//
// The return value includes the info (the lines returned by the modem between
// the command and the status line), or an error if the command did not
// complete successfully. A timeout of 0 uses the default timeout.
func (a *AT) Command(cmd string, timeout time.Duration) ([]string, error) {
	defer a.restoreTimeout()
	deadline := a.deadline(timeout)
	if err := a.writeCommand(cmd); err != nil {
		return nil, err
	}
	return a.collect(deadline, nil)
}

// Query issues the command and extracts the first line matching re.
//
// The captured groups of the match are returned once the modem has returned
// the status line. If the status line arrives before any matching line then
// the command error, or ErrNoMatch if the command succeeded, is returned.
func (a *AT) Query(cmd string, re *regexp.Regexp, timeout time.Duration) ([]string, error) {
	defer a.restoreTimeout()
	deadline := a.deadline(timeout)
	groups, err := a.queryHeader(cmd, re, deadline)
	if err != nil {
		return nil, err
	}
	if _, err := a.collect(deadline, nil); err != nil {
		return nil, err
	}
	return groups, nil
}

// QueryHeader issues the command and returns the captured groups of the first
// line matching re, leaving the remainder of the response unread.
//
// This allows a response with a payload that is not line oriented to be read
// with ReadRaw, and then completed with WaitStatus. Errors are as per Query.
func (a *AT) QueryHeader(cmd string, re *regexp.Regexp, timeout time.Duration) ([]string, error) {
	defer a.restoreTimeout()
	return a.queryHeader(cmd, re, a.deadline(timeout))
}

func (a *AT) queryHeader(cmd string, re *regexp.Regexp, deadline time.Time) ([]string, error) {
	if err := a.writeCommand(cmd); err != nil {
		return nil, err
	}
	for {
		line, err := a.readLine(deadline)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return nil, ErrTimeout
		}
		switch parseRxLine(line, a.cmdID) {
		case rxlStatusOK:
			return nil, ErrNoMatch
		case rxlStatusError:
			return nil, newError(line)
		case rxlEchoCmdLine:
			continue
		}
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1:], nil
		}
		if err = a.unmatched(line); err != nil {
			return nil, err
		}
	}
}

// SMSCommand issues an SMS command to the modem, and returns the result.
//
// An SMS command is issued in two steps; first the command line:
//
//	AT<command><CR>
//
// which the modem responds to with a ">" prompt, after which the SMS body is
// sent to the modem:
//
//	<sms><Ctrl-Z>
//
// The modem then completes the command as per other commands, such as those
// issued by Command.
//
// If the prompt does not arrive within promptTimeout the command is aborted
// with an escape and ErrNoPrompt is returned. Zero timeouts select the
// defaults.
func (a *AT) SMSCommand(cmd string, sms string, promptTimeout, timeout time.Duration) ([]string, error) {
	defer a.restoreTimeout()
	if promptTimeout <= 0 {
		promptTimeout = DefaultPromptTimeout
	}
	if err := a.writeCommand(cmd); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(promptTimeout)
	for prompt := false; !prompt; {
		line, err := a.readLine(deadline)
		if err != nil {
			return nil, err
		}
		if line == "" {
			a.log.Debug("no prompt", zap.String("cmd", cmd))
			a.Escape()
			return nil, ErrNoPrompt
		}
		switch parseRxLine(line, a.cmdID) {
		case rxlSMSPrompt:
			prompt = true
		case rxlStatusOK:
			return nil, ErrNoPrompt
		case rxlStatusError:
			return nil, newError(line)
		case rxlEchoCmdLine:
		default:
			if err = a.unmatched(line); err != nil {
				a.Escape()
				return nil, err
			}
		}
	}
	a.ResetInput()
	if err := a.WriteRaw([]byte(sms)); err != nil {
		a.Escape()
		return nil, err
	}
	if err := a.WriteRaw([]byte{sub}); err != nil {
		return nil, err
	}
	echo := func(line string) bool {
		// swallow the echoed body
		return (sms != "" && strings.HasPrefix(line, sms)) ||
			strings.HasSuffix(line, string(rune(sub)))
	}
	return a.collect(a.deadline(timeout), echo)
}

// Write writes the command, prefixed with AT and terminated with <CR>, to the
// modem without waiting for a response.
func (a *AT) Write(cmd string) error {
	return a.writeCommand(cmd)
}

// WriteRaw writes the bytes to the modem unaltered.
func (a *AT) WriteRaw(b []byte) error {
	_, err := a.port.Write(b)
	if err != nil {
		return errors.Wrap(err, "write")
	}
	return nil
}

// Escape writes an escape to the modem, aborting any pending prompt.
func (a *AT) Escape() error {
	a.log.Debug("escape")
	return a.WriteRaw([]byte{esc})
}

// WaitStatus reads lines until the modem returns a status line.
//
// The info lines received before the status line are returned.
func (a *AT) WaitStatus(timeout time.Duration) ([]string, error) {
	defer a.restoreTimeout()
	return a.collect(a.deadline(timeout), nil)
}

// collect reads info lines until a status line.
//
// Lines for which skip returns true are discarded.
func (a *AT) collect(deadline time.Time, skip func(string) bool) (info []string, err error) {
	for {
		line, err := a.readLine(deadline)
		if err != nil {
			return info, err
		}
		if line == "" {
			return info, ErrTimeout
		}
		switch parseRxLine(line, a.cmdID) {
		case rxlStatusOK:
			return info, nil
		case rxlStatusError:
			return info, newError(line)
		case rxlEchoCmdLine, rxlSMSPrompt:
			continue
		}
		if skip != nil && skip(line) {
			continue
		}
		info = append(info, line)
	}
}

// writeCommand writes a one line command to the modem.
func (a *AT) writeCommand(cmd string) error {
	a.cmdID = parseCmdID(cmd)
	a.log.Debug("command", zap.String("cmd", "AT"+cmd))
	return a.WriteRaw([]byte("AT" + cmd + "\r"))
}

func (a *AT) deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = a.timeout
	}
	return time.Now().Add(timeout)
}

// CMEError indicates a CME Error was returned by the modem.
//
// The value is the error value, in string form, which may be the numeric or
// textual, depending on the modem configuration.
type CMEError string

// CMSError indicates a CMS Error was returned by the modem.
//
// The value is the error value, in string form, which may be the numeric or
// textual, depending on the modem configuration.
type CMSError string

func (e CMEError) Error() string {
	return string("CME Error: " + e)
}

func (e CMSError) Error() string {
	return string("CMS Error: " + e)
}

var (
	// ErrError indicates the modem returned a generic AT ERROR in response to
	// an operation.
	ErrError = errors.New("ERROR")

	// ErrTimeout indicates the modem did not return an expected line within
	// the time allowed.
	ErrTimeout = errors.New("timeout")

	// ErrNoPrompt indicates the modem did not prompt for the body of an SMS
	// command.
	ErrNoPrompt = errors.New("no prompt")

	// ErrNoMatch indicates a query completed without returning a matching
	// line.
	ErrNoMatch = errors.New("no matching line")

	// ErrIndicationExists indicates there is already a indication registered
	// for a prefix.
	ErrIndicationExists = errors.New("indication exists")
)

// newError parses a line and creates an error corresponding to the content.
func newError(line string) error {
	var err error
	switch {
	case strings.HasPrefix(line, "ERROR"):
		err = ErrError
	case strings.HasPrefix(line, "+CMS ERROR:"):
		err = CMSError(strings.TrimSpace(line[11:]))
	case strings.HasPrefix(line, "+CME ERROR:"):
		err = CMEError(strings.TrimSpace(line[11:]))
	}
	return err
}

// Received line types.
type rxl int

const (
	rxlUnknown rxl = iota
	rxlEchoCmdLine
	rxlInfo
	rxlStatusOK
	rxlStatusError
	rxlSMSPrompt
)

// parseCmdID returns the identifier component of the command.
//
// This is the section prior to any '=' or '?' and is generally, but not
// always, used to prefix info lines corresponding to the command.
func parseCmdID(cmdLine string) string {
	if idx := strings.IndexAny(cmdLine, "=?"); idx != -1 {
		return cmdLine[0:idx]
	}
	return cmdLine
}

// parseRxLine parses a received line and identifies the line type.
func parseRxLine(line string, cmdID string) rxl {
	switch {
	case line == "OK":
		return rxlStatusOK
	case strings.HasPrefix(line, "ERROR"),
		strings.HasPrefix(line, "+CME ERROR:"),
		strings.HasPrefix(line, "+CMS ERROR:"):
		return rxlStatusError
	case line == ">":
		return rxlSMSPrompt
	case len(cmdID) > 0 && strings.HasPrefix(line, cmdID+":"):
		return rxlInfo
	case strings.HasPrefix(line, "AT"+cmdID):
		return rxlEchoCmdLine
	default:
		return rxlUnknown
	}
}
