// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// Package gsm provides the GSM and SMS functionality of a SIM800 modem.
package gsm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/sim800/at"
	"github.com/warthog618/sim800/info"
	"github.com/warthog618/sms/encoding/gsm7"
	"go.uber.org/zap"
)

// GSM modem decorates the AT modem with GSM specific functionality.
//
// GSM tracks the indices of unread messages, populated by Setup and by new
// message indications, and returns them oldest first via ReadOldest.
type GSM struct {
	*at.AT
	pending         []int
	log             *zap.Logger
	smsReadyTimeout time.Duration
	textModeSettle  time.Duration
	sleep           func(time.Duration)
}

// Option modifies a GSM.
type Option func(*GSM)

// Message is an SMS message read from the modem.
type Message struct {
	Index  int
	Sender string
	Text   string
}

// Status identifies a class of stored messages.
type Status string

const (
	// Read is received messages that have been read.
	Read Status = "READ"
	// Unread is received messages that have not been read.
	Unread Status = "UNREAD"
	// Sent is stored messages that have been sent.
	Sent Status = "SENT"
	// Unsent is stored messages that have not been sent.
	Unsent Status = "UNSENT"
	// All is all messages.
	All Status = "ALL"
)

// listArg returns the form of the status used by +CMGL.
func (s Status) listArg() string {
	switch s {
	case Read, Unread:
		return "REC " + string(s)
	case Sent, Unsent:
		return "STO " + string(s)
	}
	return string(s)
}

const (
	// DefaultSMSReadyTimeout is the time allowed for the modem to report
	// SMS Ready after enabling full functionality.
	DefaultSMSReadyTimeout = 10 * time.Second

	// DefaultTextModeSettle is the time allowed for the modem to settle after
	// switching to text mode.
	DefaultTextModeSettle = 5 * time.Second

	// sendTimeout is the time allowed for the modem to send a message.
	sendTimeout = 10 * time.Second

	// slowTimeout is the time allowed for slower configuration commands.
	slowTimeout = 5 * time.Second
)

// New creates a new GSM modem.
func New(a *at.AT, options ...Option) *GSM {
	g := &GSM{
		AT:              a,
		log:             zap.NewNop(),
		smsReadyTimeout: DefaultSMSReadyTimeout,
		textModeSettle:  DefaultTextModeSettle,
		sleep:           time.Sleep,
	}
	for _, option := range options {
		option(g)
	}
	a.CancelIndication("+CMTI:")
	a.AddIndication("+CMTI:", g.newMessage)
	return g
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *GSM) {
		g.log = l
	}
}

// WithSMSReadyTimeout sets the time Setup waits for SMS Ready.
func WithSMSReadyTimeout(d time.Duration) Option {
	return func(g *GSM) {
		g.smsReadyTimeout = d
	}
}

// WithTextModeSettle sets the time Setup waits after switching to text mode.
func WithTextModeSettle(d time.Duration) Option {
	return func(g *GSM) {
		g.textModeSettle = d
	}
}

// WithSleep replaces the function used for settling delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(g *GSM) {
		g.sleep = sleep
	}
}

// Setup configures the modem for text mode SMS and collects the indices of
// any unread messages.
func (g *GSM) Setup() error {
	g.log.Info("setup GSM")
	// disable Call Ready
	if _, err := g.Command("+CIURC=0", slowTimeout); err != nil {
		return errors.Wrap(err, "disable URC presentation")
	}
	if _, err := g.Command("+CFUN=1", 0); err != nil {
		return errors.Wrap(err, "set phone functionality")
	}
	if _, err := g.WaitFor(g.smsReadyTimeout, "SMS Ready"); err != nil {
		if err != at.ErrTimeout {
			return errors.Wrap(err, "wait for SMS Ready")
		}
		g.log.Info("no SMS Ready")
	}
	if _, err := g.Command("+CMGF=1", 0); err != nil {
		return errors.Wrap(err, "set text mode")
	}
	g.sleep(g.textModeSettle)
	if _, err := g.Command(`+CSCS="GSM"`, slowTimeout); err != nil {
		return errors.Wrap(err, "set GSM character set")
	}
	if _, err := g.Command("+CNMI=2,1", 0); err != nil {
		return errors.Wrap(err, "enable new message indication")
	}
	// the text length in the +CMGR header allows the body to be read raw
	if _, err := g.Command("+CSDH=1", 0); err != nil {
		g.log.Warn("show text mode parameters", zap.Error(err))
	}
	for _, s := range []Status{Read, Sent, Unsent} {
		if err := g.DeleteAll(s); err != nil {
			return err
		}
	}
	unread, err := g.Fetch(Unread)
	if err != nil {
		return err
	}
	g.pending = unread
	g.log.Info("unread SMS", zap.Int("count", len(unread)))
	return nil
}

// Fetch returns the indices of the stored messages with the status, without
// altering their state.
func (g *GSM) Fetch(s Status) ([]int, error) {
	lines, err := g.Command(`+CMGL="`+s.listArg()+`",1`, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s messages", s)
	}
	idx := []int{}
	for _, l := range lines {
		p := info.Params(l, "+CMGL")
		if len(p) < 2 {
			// body or other noise
			continue
		}
		i, err := strconv.Atoi(p[0])
		if err != nil {
			continue
		}
		idx = append(idx, i)
	}
	return idx, nil
}

// Pending returns the indices of unread messages not yet returned by
// ReadOldest.
func (g *GSM) Pending() []int {
	p := make([]int, len(g.pending))
	copy(p, g.pending)
	return p
}

// Available returns the number of unread messages, after polling the modem
// for new message indications.
func (g *GSM) Available(poll time.Duration) int {
	if err := g.Poll(poll); err != nil {
		g.log.Warn("poll for new messages", zap.Error(err))
	}
	return len(g.pending)
}

// ReadOldest reads and deletes the oldest unread message.
//
// The message is only removed from the pending indices once it has been read
// and deleted. If the message no longer exists the index is dropped and
// ErrNoMessage is returned.
//
// If the header carries the text length the body is read verbatim, else the
// body is rebuilt from the lines of the response, which loses blank lines.
func (g *GSM) ReadOldest() (Message, error) {
	if len(g.pending) == 0 {
		return Message{}, ErrNoMessage
	}
	i := g.pending[0]
	groups, err := g.QueryHeader(fmt.Sprintf("+CMGR=%d,0", i), firstLineRx, 0)
	if err == at.ErrNoMatch {
		g.drop(i)
		return Message{}, ErrNoMessage
	}
	if err != nil {
		return Message{}, errors.Wrapf(err, "read message %d", i)
	}
	msg, err := g.readCMGR(i, groups[0])
	if err != nil {
		return Message{}, err
	}
	if err = g.Delete(i); err != nil {
		return Message{}, err
	}
	g.drop(i)
	return msg, nil
}

// firstLineRx matches the first info line of a response.
var firstLineRx = regexp.MustCompile(`^(.+)$`)

// readCMGR reads the remainder of a +CMGR response following the header.
func (g *GSM) readCMGR(i int, header string) (Message, error) {
	p := info.Params(header, "+CMGR")
	if len(p) < 2 {
		g.log.Error("invalid response to AT+CMGR", zap.String("header", header))
		g.WaitStatus(0)
		return Message{}, ErrMalformedResponse
	}
	msg := Message{Index: i, Sender: p[1]}
	// with AT+CSDH=1 the header ends with the text length
	if len(p) >= cmgrParamsWithLength {
		n, err := strconv.Atoi(p[len(p)-1])
		if err != nil {
			g.log.Error("invalid length in AT+CMGR", zap.String("header", header))
			g.WaitStatus(0)
			return Message{}, ErrMalformedResponse
		}
		text, err := g.ReadRaw(n, 0)
		if err != nil {
			return Message{}, errors.Wrapf(err, "read message %d", i)
		}
		msg.Text = string(text)
		if _, err = g.WaitStatus(0); err != nil {
			return Message{}, errors.Wrapf(err, "read message %d", i)
		}
		return msg, nil
	}
	lines, err := g.WaitStatus(0)
	if err != nil {
		return Message{}, errors.Wrapf(err, "read message %d", i)
	}
	msg.Text = strings.Join(lines, "\n")
	return msg, nil
}

// cmgrParamsWithLength is the number of +CMGR parameters for a received
// message when text mode parameters are shown.
const cmgrParamsWithLength = 11

// SendSMS sends an SMS message to the number.
//
// The message reference is returned on success, else an error. The message
// must be encodable in the GSM 7-bit default alphabet.
func (g *GSM) SendSMS(number string, message string) (string, error) {
	if _, err := gsm7.Encode([]byte(message)); err != nil {
		return "", ErrUnencodable
	}
	g.log.Debug("send SMS", zap.String("number", number))
	if _, err := g.Command("+CMGF=1", 0); err != nil {
		return "", errors.Wrap(err, "set text mode")
	}
	i, err := g.SMSCommand(`+CMGS="`+number+`"`, message, 0, sendTimeout)
	if err != nil {
		return "", errors.Wrap(err, "send SMS")
	}
	// parse response, ignoring any lines other than well-formed.
	for _, l := range i {
		if info.HasPrefix(l, "+CMGS") {
			return info.TrimPrefix(l, "+CMGS"), nil
		}
	}
	return "", ErrMalformedResponse
}

// Delete deletes the message at the index.
func (g *GSM) Delete(index int) error {
	if _, err := g.Command(fmt.Sprintf("+CMGD=%d", index), 0); err != nil {
		return errors.Wrapf(err, "delete message %d", index)
	}
	return nil
}

// DeleteAll deletes all messages with the status.
func (g *GSM) DeleteAll(s Status) error {
	if _, err := g.Command(`+CMGDA="DEL `+string(s)+`"`, 0); err != nil {
		return errors.Wrapf(err, "delete %s messages", s)
	}
	return nil
}

// Flush deletes all stored messages and forgets any pending indices.
func (g *GSM) Flush() error {
	if err := g.DeleteAll(All); err != nil {
		return err
	}
	g.pending = nil
	return nil
}

// newMessage handles +CMTI indications.
func (g *GSM) newMessage(line string) {
	p := info.Params(line, "+CMTI")
	if len(p) < 2 {
		g.log.Warn("malformed indication", zap.String("line", line))
		return
	}
	i, err := strconv.Atoi(p[len(p)-1])
	if err != nil {
		g.log.Warn("malformed indication", zap.String("line", line))
		return
	}
	for _, v := range g.pending {
		if v == i {
			return
		}
	}
	g.log.Info("new message available", zap.Int("index", i))
	g.pending = append(g.pending, i)
}

func (g *GSM) drop(index int) {
	for n, v := range g.pending {
		if v == index {
			g.pending = append(g.pending[:n], g.pending[n+1:]...)
			return
		}
	}
}

var (
	// ErrMalformedResponse indicates the modem returned a badly formed
	// response.
	ErrMalformedResponse = errors.New("modem returned malformed response")

	// ErrNoMessage indicates there is no message to read.
	ErrNoMessage = errors.New("no message")

	// ErrUnencodable indicates the message contains characters outside the
	// GSM 7-bit default alphabet.
	ErrUnencodable = errors.New("message not encodable in GSM 7-bit alphabet")
)
