// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package httpat_test

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/sim800/at"
	"github.com/warthog618/sim800/httpat"
	"github.com/warthog618/sim800/internal/mockmodem"
)

const url = "http://example.com/x"

type sleeper struct {
	sleeps []time.Duration
}

func (s *sleeper) sleep(d time.Duration) {
	s.sleeps = append(s.sleeps, d)
}

func TestTransmitTime(t *testing.T) {
	patterns := []struct {
		name string
		n    int
		baud int
		d    time.Duration
		err  error
	}{
		{"small", 100, 9600, 1106 * time.Millisecond, nil},
		{"one", 1, 9600, 1003 * time.Millisecond, nil},
		{"max", httpat.MaxBodySize, 115200, 28733 * time.Millisecond, nil},
		{"too big", httpat.MaxBodySize + 1, 115200, 0, httpat.ErrBodySize},
		{"empty", 0, 115200, 0, httpat.ErrBodySize},
		{"too slow", 200000, 9600, 0, httpat.ErrTransmitTooLong},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			d, err := httpat.TransmitTime(p.n, p.baud)
			assert.Equal(t, p.err, err)
			assert.Equal(t, p.d, d)
		}
		t.Run(p.name, f)
	}
}

func TestTransmitTimeBaud(t *testing.T) {
	d, err := httpat.TransmitTime(100, 0)
	assert.Error(t, err)
	assert.Zero(t, d)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/plain", httpat.ContentType([]byte("hello")))
	assert.Equal(t, "application/octet-stream", httpat.ContentType([]byte{0xff, 0xfe, 0x00}))
}

func TestMethodString(t *testing.T) {
	assert.Equal(t, "GET", httpat.GET.String())
	assert.Equal(t, "POST", httpat.POST.String())
	assert.Equal(t, "HEAD", httpat.HEAD.String())
	assert.Equal(t, "Method(5)", httpat.Method(5).String())
}

func baseCmds() map[string][]string {
	return map[string][]string{
		"AT+HTTPINIT\r":                         {"\r\nOK\r\n"},
		"AT+HTTPTERM\r":                         {"\r\nOK\r\n"},
		"AT+HTTPPARA=\"CID\",1\r":               {"\r\nOK\r\n"},
		"AT+HTTPPARA=\"URL\",\"" + url + "\"\r": {"\r\nOK\r\n"},
		"AT+HTTPREAD\r":                         {"\r\n+HTTPREAD: 5\r\nhello\r\nOK\r\n"},
	}
}

func setup(t *testing.T, extra map[string][]string, baud int) (*httpat.Session, *mockmodem.Modem, *sleeper) {
	cmdSet := baseCmds()
	for k, v := range extra {
		if v == nil {
			delete(cmdSet, k)
			continue
		}
		cmdSet[k] = v
	}
	mm := mockmodem.New(cmdSet)
	s := &sleeper{}
	a := at.New(mm, at.WithTimeout(100*time.Millisecond))
	hs := httpat.New(a, baud,
		httpat.WithSleep(s.sleep),
		httpat.WithActionTimeout(50*time.Millisecond))
	require.NotNil(t, hs)
	return hs, mm, s
}

var preamble = []string{
	"AT+HTTPINIT",
	"AT+HTTPPARA=\"CID\",1",
	"AT+HTTPPARA=\"URL\",\"" + url + "\"",
}

func cmds(c ...string) []string {
	return append(append([]string(nil), preamble...), c...)
}

func TestGet(t *testing.T) {
	patterns := []struct {
		name   string
		method httpat.Method
		cmds   map[string][]string
		res    httpat.Result
		err    error
		sent   []string
	}{
		{
			"ok",
			httpat.GET,
			map[string][]string{
				"AT+HTTPACTION=0\r": {"\r\nOK\r\n", "\r\n+HTTPACTION: 0,200,5\r\n"},
			},
			httpat.Result{Status: 200, Length: 5, Data: []byte("hello")},
			nil,
			cmds("AT+HTTPACTION=0", "AT+HTTPREAD", "AT+HTTPTERM"),
		},
		{
			"not found",
			httpat.GET,
			map[string][]string{
				"AT+HTTPACTION=0\r": {"\r\nOK\r\n", "\r\n+HTTPACTION: 0,404,0\r\n"},
			},
			httpat.Result{Status: 404},
			nil,
			cmds("AT+HTTPACTION=0", "AT+HTTPTERM"),
		},
		{
			"network error",
			httpat.GET,
			map[string][]string{
				"AT+HTTPACTION=0\r": {"\r\nOK\r\n", "\r\n+HTTPACTION: 0,601,0\r\n"},
			},
			httpat.Result{Status: 601},
			nil,
			cmds("AT+HTTPACTION=0", "AT+HTTPTERM"),
		},
		{
			"head",
			httpat.HEAD,
			map[string][]string{
				"AT+HTTPACTION=2\r": {"\r\nOK\r\n", "\r\n+HTTPACTION: 2,200,1234\r\n"},
			},
			httpat.Result{Status: 200, Length: 1234},
			nil,
			cmds("AT+HTTPACTION=2", "AT+HTTPTERM"),
		},
		{
			"action timeout",
			httpat.GET,
			map[string][]string{
				"AT+HTTPACTION=0\r": {"\r\nOK\r\n"},
			},
			httpat.Result{},
			at.ErrTimeout,
			cmds("AT+HTTPACTION=0", "AT+HTTPTERM"),
		},
		{
			"action error",
			httpat.GET,
			nil,
			httpat.Result{},
			at.ErrError,
			cmds("AT+HTTPACTION=0", "AT+HTTPTERM"),
		},
		{
			"cid error",
			httpat.GET,
			map[string][]string{"AT+HTTPPARA=\"CID\",1\r": nil},
			httpat.Result{},
			at.ErrError,
			[]string{"AT+HTTPINIT", "AT+HTTPPARA=\"CID\",1", "AT+HTTPTERM"},
		},
		{
			"url error",
			httpat.GET,
			map[string][]string{"AT+HTTPPARA=\"URL\",\"" + url + "\"\r": nil},
			httpat.Result{},
			at.ErrError,
			cmds("AT+HTTPTERM"),
		},
		{
			"read error",
			httpat.GET,
			map[string][]string{
				"AT+HTTPACTION=0\r": {"\r\nOK\r\n", "\r\n+HTTPACTION: 0,200,5\r\n"},
				"AT+HTTPREAD\r":     {"\r\nERROR\r\n"},
			},
			httpat.Result{},
			at.ErrTimeout,
			cmds("AT+HTTPACTION=0", "AT+HTTPREAD", "AT+HTTPTERM"),
		},
		{
			"short read",
			httpat.GET,
			map[string][]string{
				"AT+HTTPACTION=0\r": {"\r\nOK\r\n", "\r\n+HTTPACTION: 0,200,10\r\n"},
				"AT+HTTPREAD\r":     {"\r\n+HTTPREAD: 10\r\nhello"},
			},
			httpat.Result{},
			at.ErrTimeout,
			cmds("AT+HTTPACTION=0", "AT+HTTPREAD", "AT+HTTPTERM"),
		},
		{
			"term error",
			httpat.GET,
			map[string][]string{
				"AT+HTTPACTION=0\r": {"\r\nOK\r\n", "\r\n+HTTPACTION: 0,200,5\r\n"},
				"AT+HTTPTERM\r":     nil,
			},
			httpat.Result{Status: 200, Length: 5, Data: []byte("hello")},
			nil,
			cmds("AT+HTTPACTION=0", "AT+HTTPREAD", "AT+HTTPTERM"),
		},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			hs, mm, _ := setup(t, p.cmds, 115200)
			res, err := hs.Do(1, httpat.Request{Method: p.method, URL: url})
			assert.Equal(t, p.err, errors.Cause(err))
			assert.Equal(t, p.res, res)
			assert.Equal(t, p.sent, mm.Commands())
		}
		t.Run(p.name, f)
	}
}

func TestReadTime(t *testing.T) {
	patterns := []struct {
		name string
		n    int
		baud int
		d    time.Duration
	}{
		{"empty", 0, 9600, time.Second},
		{"small", 96, 9600, 1100 * time.Millisecond},
		{"large", 3000, 9600, 4125 * time.Millisecond},
		{"fast", 115200, 115200, 11 * time.Second},
		{"invalid baud", 100, 0, 0},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			assert.Equal(t, p.d, httpat.ReadTime(p.n, p.baud))
		}
		t.Run(p.name, f)
	}
}

// slowPort returns at most one byte per millisecond, as a modem feeding a
// long response through a slow link.
type slowPort struct {
	*mockmodem.Modem
}

func (p slowPort) Read(b []byte) (int, error) {
	time.Sleep(time.Millisecond)
	if len(b) > 1 {
		b = b[:1]
	}
	return p.Modem.Read(b)
}

func TestGetSlowBody(t *testing.T) {
	body := strings.Repeat("x", 400)
	cmdSet := baseCmds()
	cmdSet["AT+HTTPACTION=0\r"] = []string{"\r\nOK\r\n", "\r\n+HTTPACTION: 0,200,400\r\n"}
	cmdSet["AT+HTTPREAD\r"] = []string{"\r\n+HTTPREAD: 400\r\n", body, "\r\nOK\r\n"}
	mm := mockmodem.New(cmdSet)
	// the body takes longer to arrive than the command timeout
	a := at.New(slowPort{mm}, at.WithTimeout(100*time.Millisecond))
	hs := httpat.New(a, 9600, httpat.WithActionTimeout(time.Second))
	res, err := hs.Do(1, httpat.Request{Method: httpat.GET, URL: url})
	require.Nil(t, err)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, 400, res.Length)
	assert.Equal(t, []byte(body), res.Data)
	assert.Equal(t, cmds("AT+HTTPACTION=0", "AT+HTTPREAD", "AT+HTTPTERM"), mm.Commands())
}

func TestInitRetry(t *testing.T) {
	hs, mm, _ := setup(t, map[string][]string{
		"AT+HTTPACTION=0\r": {"\r\nOK\r\n", "\r\n+HTTPACTION: 0,200,5\r\n"},
	}, 115200)
	mm.Script["AT+HTTPINIT\r"] = [][]string{{"\r\nERROR\r\n"}}
	res, err := hs.Do(1, httpat.Request{Method: httpat.GET, URL: url})
	assert.Nil(t, err)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, []string{
		"AT+HTTPINIT",
		"AT+HTTPTERM",
		"AT+HTTPINIT",
		"AT+HTTPPARA=\"CID\",1",
		"AT+HTTPPARA=\"URL\",\"" + url + "\"",
		"AT+HTTPACTION=0",
		"AT+HTTPREAD",
		"AT+HTTPTERM",
	}, mm.Commands())
}

func TestInitFailure(t *testing.T) {
	hs, mm, _ := setup(t, map[string][]string{"AT+HTTPINIT\r": {"\r\nERROR\r\n"}}, 115200)
	res, err := hs.Do(1, httpat.Request{Method: httpat.GET, URL: url})
	assert.Equal(t, at.ErrError, errors.Cause(err))
	assert.Equal(t, httpat.Result{}, res)
	assert.Equal(t, []string{
		"AT+HTTPINIT",
		"AT+HTTPTERM",
		"AT+HTTPINIT",
		"AT+HTTPTERM",
	}, mm.Commands())
}

func TestPost(t *testing.T) {
	action := []string{"\r\nOK\r\n", "\r\n+HTTPACTION: 1,200,5\r\n"}
	patterns := []struct {
		name  string
		ct    string
		body  []byte
		baud  int
		cmds  map[string][]string
		res   httpat.Result
		err   error
		sent  []string
		pace  []time.Duration
		write bool
	}{
		{
			"text",
			"",
			[]byte("hello world"),
			9600,
			map[string][]string{
				"AT+HTTPPARA=\"CONTENT\",\"text/plain\"\r": {"\r\nOK\r\n"},
				"AT+HTTPDATA=11,1013\r":                    {"\r\nDOWNLOAD\r\n"},
				"hello world":                              {"\r\nOK\r\n"},
				"AT+HTTPACTION=1\r":                        action,
			},
			httpat.Result{Status: 200, Length: 5, Data: []byte("hello")},
			nil,
			cmds(
				"AT+HTTPPARA=\"CONTENT\",\"text/plain\"",
				"AT+HTTPDATA=11,1013",
				"AT+HTTPACTION=1",
				"AT+HTTPREAD",
				"AT+HTTPTERM"),
			[]time.Duration{1013 * time.Millisecond},
			true,
		},
		{
			"binary",
			"",
			[]byte{0xff, 0x00},
			115200,
			map[string][]string{
				"AT+HTTPPARA=\"CONTENT\",\"application/octet-stream\"\r": {"\r\nOK\r\n"},
				"AT+HTTPDATA=2,1000\r": {"\r\nDOWNLOAD\r\n"},
				"\xff\x00":             {"\r\nOK\r\n"},
				"AT+HTTPACTION=1\r":    action,
			},
			httpat.Result{Status: 200, Length: 5, Data: []byte("hello")},
			nil,
			cmds(
				"AT+HTTPPARA=\"CONTENT\",\"application/octet-stream\"",
				"AT+HTTPDATA=2,1000",
				"AT+HTTPACTION=1",
				"AT+HTTPREAD",
				"AT+HTTPTERM"),
			[]time.Duration{1000 * time.Millisecond},
			true,
		},
		{
			"json",
			"application/json",
			[]byte("{}"),
			115200,
			map[string][]string{
				"AT+HTTPPARA=\"CONTENT\",\"application/json\"\r": {"\r\nOK\r\n"},
				"AT+HTTPDATA=2,1000\r":                           {"\r\nDOWNLOAD\r\n"},
				"{}":                                             {"\r\nOK\r\n"},
				"AT+HTTPACTION=1\r": {
					"\r\nOK\r\n", "\r\n+HTTPACTION: 1,500,0\r\n"},
			},
			httpat.Result{Status: 500},
			nil,
			cmds(
				"AT+HTTPPARA=\"CONTENT\",\"application/json\"",
				"AT+HTTPDATA=2,1000",
				"AT+HTTPACTION=1",
				"AT+HTTPTERM"),
			[]time.Duration{1000 * time.Millisecond},
			true,
		},
		{
			"data error",
			"",
			[]byte("hello world"),
			9600,
			map[string][]string{
				"AT+HTTPPARA=\"CONTENT\",\"text/plain\"\r": {"\r\nOK\r\n"},
				"AT+HTTPDATA=11,1013\r":                    {"\r\nERROR\r\n"},
			},
			httpat.Result{},
			at.ErrError,
			cmds(
				"AT+HTTPPARA=\"CONTENT\",\"text/plain\"",
				"AT+HTTPDATA=11,1013",
				"AT+HTTPTERM"),
			nil,
			false,
		},
		{
			"content error",
			"",
			[]byte("hello world"),
			9600,
			nil,
			httpat.Result{},
			at.ErrError,
			cmds(
				"AT+HTTPPARA=\"CONTENT\",\"text/plain\"",
				"AT+HTTPTERM"),
			nil,
			false,
		},
		{
			"too big",
			"",
			make([]byte, httpat.MaxBodySize+1),
			115200,
			nil,
			httpat.Result{},
			httpat.ErrBodySize,
			nil,
			nil,
			false,
		},
		{
			"empty",
			"",
			nil,
			115200,
			nil,
			httpat.Result{},
			httpat.ErrBodySize,
			nil,
			nil,
			false,
		},
		{
			"too slow",
			"",
			make([]byte, 200000),
			9600,
			nil,
			httpat.Result{},
			httpat.ErrTransmitTooLong,
			nil,
			nil,
			false,
		},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			hs, mm, s := setup(t, p.cmds, p.baud)
			res, err := hs.Do(1, httpat.Request{
				Method:      httpat.POST,
				URL:         url,
				ContentType: p.ct,
				Body:        p.body,
			})
			assert.Equal(t, p.err, errors.Cause(err))
			assert.Equal(t, p.res, res)
			assert.Equal(t, p.sent, mm.Commands())
			assert.Equal(t, p.pace, s.sleeps)
			if p.write {
				assert.Contains(t, mm.Writes, string(p.body))
			} else if p.sent == nil {
				assert.Empty(t, mm.Writes)
			}
		}
		t.Run(p.name, f)
	}
}
