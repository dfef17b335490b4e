// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package httpat performs HTTP requests using the HTTP service of a SIM800
// modem.
//
// The modem performs the request itself, over an open GPRS bearer, so the
// host only transfers the request body and response data over the serial
// link.
package httpat

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/warthog618/sim800/at"
	"go.uber.org/zap"
)

// Method is the HTTP method of a request.
type Method int

const (
	// GET requests the resource.
	GET Method = iota
	// POST sends the body to the resource.
	POST
	// HEAD requests only the status of the resource.
	HEAD
)

func (m Method) String() string {
	switch m {
	case GET:
		return "GET"
	case POST:
		return "POST"
	case HEAD:
		return "HEAD"
	}
	return "Method(" + strconv.Itoa(int(m)) + ")"
}

// Request describes a single HTTP request.
type Request struct {
	Method Method
	URL    string

	// ContentType of the body. If empty it is chosen by ContentType.
	ContentType string

	Body []byte
}

// Result is the outcome of a request.
//
// A Status of 0 indicates the request could not be issued.
type Result struct {
	Status int
	Length int
	Data   []byte
}

const (
	// MaxBodySize is the largest body the modem accepts.
	MaxBodySize = 319488

	// MaxTransmitTime is the longest the modem waits for a body.
	MaxTransmitTime = 120 * time.Second

	// DefaultActionTimeout is the time allowed for the modem to complete
	// the request.
	DefaultActionTimeout = 20 * time.Second

	// overhead is the framing added to the body during upload.
	overhead = 2
)

var (
	// ErrBodySize indicates the body is empty or larger than MaxBodySize.
	ErrBodySize = errors.New("body size out of range")

	// ErrTransmitTooLong indicates the body cannot be transferred to the
	// modem within MaxTransmitTime at the link baud rate.
	ErrTransmitTooLong = errors.New("body transmit time too long")
)

var (
	actionRx = regexp.MustCompile(`^\+HTTPACTION: ?[012],(\d+),(\d*)`)
	readRx   = regexp.MustCompile(`^\+HTTPREAD: ?(\d+)`)
)

// TransmitTime returns the time allowed for uploading a body of n bytes to
// the modem at the baud rate.
//
// The body and a small framing overhead are assumed to transfer at 80% of the
// baud rate, and a second is added for latency.
func TransmitTime(n, baud int) (time.Duration, error) {
	if n <= 0 || n > MaxBodySize {
		return 0, ErrBodySize
	}
	if baud <= 0 {
		return 0, errors.Errorf("invalid baud rate %d", baud)
	}
	bits := float64(n+overhead) * 8
	ms := 1000 + int64(1000*bits/(float64(baud)*0.8))
	d := time.Duration(ms) * time.Millisecond
	if d > MaxTransmitTime {
		return 0, ErrTransmitTooLong
	}
	return d, nil
}

// ReadTime returns the time allowed for the modem to return a response body
// of n bytes at the baud rate.
//
// Each byte costs ten bits on the wire and a second is added for latency. A
// zero duration, selecting the default timeout, is returned for an invalid
// baud rate.
func ReadTime(n, baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	return time.Second + time.Duration(n)*10*time.Second/time.Duration(baud)
}

// ContentType returns the default content type for the body.
func ContentType(body []byte) string {
	if utf8.Valid(body) {
		return "text/plain"
	}
	return "application/octet-stream"
}

// Session performs HTTP requests through the modem.
type Session struct {
	a             *at.AT
	baud          int
	log           *zap.Logger
	actionTimeout time.Duration
	sleep         func(time.Duration)
}

// Option modifies a Session.
type Option func(*Session)

// New creates a Session for a modem linked at the baud rate.
func New(a *at.AT, baud int, options ...Option) *Session {
	s := &Session{
		a:             a,
		baud:          baud,
		log:           zap.NewNop(),
		actionTimeout: DefaultActionTimeout,
		sleep:         time.Sleep,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithActionTimeout sets the time allowed for the modem to complete a
// request.
func WithActionTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.actionTimeout = d
	}
}

// WithSleep replaces the function used to pace uploads.
func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Session) {
		s.sleep = sleep
	}
}

// Do performs the request over the bearer identified by cid.
//
// The HTTP service is always terminated before Do returns. A response body is
// only read for a 200 status.
func (s *Session) Do(cid int, req Request) (Result, error) {
	var pace time.Duration
	if req.Method == POST {
		var err error
		if pace, err = TransmitTime(len(req.Body), s.baud); err != nil {
			return Result{}, err
		}
	}
	defer func() {
		if err := s.Terminate(); err != nil {
			s.log.Warn("terminate HTTP", zap.Error(err))
		}
	}()
	if err := s.init(); err != nil {
		return Result{}, err
	}
	if _, err := s.a.Command(fmt.Sprintf(`+HTTPPARA="CID",%d`, cid), 0); err != nil {
		return Result{}, errors.Wrap(err, "bind bearer")
	}
	if _, err := s.a.Command(`+HTTPPARA="URL","`+req.URL+`"`, 0); err != nil {
		return Result{}, errors.Wrap(err, "set URL")
	}
	if req.Method == POST {
		if err := s.upload(req, pace); err != nil {
			return Result{}, err
		}
	}
	status, length, err := s.action(req.Method)
	if err != nil {
		return Result{}, err
	}
	res := Result{Status: status, Length: length}
	if status != 200 {
		s.log.Warn("HTTP request failed",
			zap.Stringer("method", req.Method),
			zap.Int("status", status))
		return res, nil
	}
	if req.Method == HEAD {
		return res, nil
	}
	if res.Data, err = s.read(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Terminate stops the HTTP service.
func (s *Session) Terminate() error {
	if _, err := s.a.Command("+HTTPTERM", 0); err != nil {
		return errors.Wrap(err, "terminate HTTP")
	}
	return nil
}

// init starts the HTTP service, terminating any service left open by an
// earlier session.
func (s *Session) init() error {
	_, err := s.a.Command("+HTTPINIT", 0)
	if err == nil {
		return nil
	}
	s.log.Warn("HTTP init failed, terminating stale session", zap.Error(err))
	s.a.Command("+HTTPTERM", 0)
	if _, err = s.a.Command("+HTTPINIT", 0); err != nil {
		return errors.Wrap(err, "init HTTP")
	}
	return nil
}

// upload transfers the body to the modem, then waits the paced time for the
// modem to absorb it.
func (s *Session) upload(req Request, pace time.Duration) error {
	ct := req.ContentType
	if ct == "" {
		ct = ContentType(req.Body)
	}
	if _, err := s.a.Command(`+HTTPPARA="CONTENT","`+ct+`"`, 0); err != nil {
		return errors.Wrap(err, "set content type")
	}
	ms := pace.Milliseconds()
	if err := s.a.Write(fmt.Sprintf("+HTTPDATA=%d,%d", len(req.Body), ms)); err != nil {
		return err
	}
	l, err := s.a.WaitFor(0, "DOWNLOAD", "ERROR")
	if err != nil {
		return errors.Wrap(err, "wait for DOWNLOAD")
	}
	if l == "ERROR" {
		return errors.Wrap(at.ErrError, "HTTPDATA")
	}
	if err = s.a.WriteRaw(req.Body); err != nil {
		return err
	}
	s.log.Debug("uploading", zap.Int("size", len(req.Body)), zap.Int64("ms", ms))
	s.sleep(pace)
	if _, err = s.a.WaitStatus(0); err != nil {
		return errors.Wrap(err, "upload body")
	}
	return nil
}

// action issues the request and waits for its completion.
func (s *Session) action(m Method) (status, length int, err error) {
	if _, err = s.a.Command(fmt.Sprintf("+HTTPACTION=%d", int(m)), 0); err != nil {
		return 0, 0, errors.Wrapf(err, "%s request", m)
	}
	g, err := s.a.WaitForPattern(s.actionTimeout, actionRx)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "%s response", m)
	}
	status, _ = strconv.Atoi(g[0])
	length, _ = strconv.Atoi(g[1])
	return status, length, nil
}

// read reads the response data.
func (s *Session) read() ([]byte, error) {
	if err := s.a.Write("+HTTPREAD"); err != nil {
		return nil, err
	}
	g, err := s.a.WaitForPattern(0, readRx)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	n, _ := strconv.Atoi(g[0])
	data, err := s.a.ReadRaw(n, ReadTime(n, s.baud))
	if err != nil {
		return nil, errors.Wrap(err, "read response data")
	}
	if _, err = s.a.WaitStatus(0); err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	return data, nil
}
