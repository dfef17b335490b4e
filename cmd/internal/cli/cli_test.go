// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package cli_test

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/sim800/cmd/internal/cli"
	"github.com/warthog618/sim800/config"
	"github.com/warthog618/sim800/internal/mockmodem"
	"github.com/warthog618/sim800/serial"
	"github.com/warthog618/sim800/sim800"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTimings(t *testing.T) {
	assert.Equal(t, sim800.DefaultTimings, cli.Timings(config.Timings{}))

	st := cli.Timings(config.Timings{
		Boot:       config.Duration(time.Minute),
		HTTPAction: config.Duration(time.Hour),
	})
	expected := sim800.DefaultTimings
	expected.Boot = time.Minute
	expected.HTTPAction = time.Hour
	assert.Equal(t, expected, st)
}

func TestOptions(t *testing.T) {
	c := config.Default()
	assert.Len(t, cli.Options(c, zap.NewNop(), nil), 7)
	c.Serial.Trace = true
	assert.Len(t, cli.Options(c, zap.NewNop(), nil), 8)
}

func TestNew(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := config.RegisterFlags(fs)
	require.Nil(t, fs.Parse([]string{"-gpiochip", "", "-d", "/dev/null"}))
	a, err := cli.New(f)
	require.Nil(t, err)
	require.NotNil(t, a.Modem)
	assert.Equal(t, "/dev/null", a.Config.Serial.Device)
	assert.Equal(t, sim800.Disconnected, a.Modem.State())
	a.Close()
}

func TestNewInvalid(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := config.RegisterFlags(fs)
	require.Nil(t, fs.Parse([]string{"-backend", "usb"}))
	a, err := cli.New(f)
	assert.NotNil(t, err)
	assert.Nil(t, a)
}

type flakyModem struct {
	failures int
	calls    int
}

func (m *flakyModem) Begin(options ...sim800.Option) error {
	m.calls++
	if m.calls <= m.failures {
		return errors.New("no response")
	}
	return nil
}

func TestBegin(t *testing.T) {
	b := &backoff.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond}
	m := &flakyModem{failures: 2}
	err := cli.Begin(context.Background(), m, b, zap.NewNop())
	assert.Nil(t, err)
	assert.Equal(t, 3, m.calls)
	assert.Equal(t, float64(0), b.Attempt())
}

func TestBeginCancelled(t *testing.T) {
	b := &backoff.Backoff{Min: time.Hour, Max: time.Hour}
	m := &flakyModem{failures: 10}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := cli.Begin(ctx, m, b, zap.NewNop())
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, 1, m.calls)
}

func TestStopLogsError(t *testing.T) {
	ok := []string{"\r\nOK\r\n"}
	mm := mockmodem.New(map[string][]string{
		"AT\r":                       ok,
		"ATZ\r":                      ok,
		"AT+CIURC=0\r":               ok,
		"AT+CFUN=1\r":                {"\r\nOK\r\n", "\r\nSMS Ready\r\n"},
		"AT+CMGF=1\r":                ok,
		"AT+CSCS=\"GSM\"\r":          ok,
		"AT+CNMI=2,1\r":              ok,
		"AT+CSDH=1\r":                ok,
		"AT+CMGDA=\"DEL READ\"\r":    ok,
		"AT+CMGDA=\"DEL SENT\"\r":    ok,
		"AT+CMGDA=\"DEL UNSENT\"\r":  ok,
		"AT+CMGL=\"REC UNREAD\",1\r": ok,
	})
	core, logs := observer.New(zapcore.WarnLevel)
	a := &cli.App{
		Config: config.Default(),
		Log:    zap.New(core),
		Modem: sim800.New(
			sim800.WithOpener(func(string, int, time.Duration) (serial.Port, error) {
				return mm, nil
			}),
			sim800.WithTimeout(50*time.Millisecond),
			sim800.WithSleep(func(time.Duration) {})),
	}
	require.Nil(t, a.Modem.Begin())
	// AT+CFUN=0 is rejected
	a.Stop()
	assert.Equal(t, sim800.Disconnected, a.Modem.State())
	assert.Equal(t, 1, logs.FilterMessage("stop modem").Len())
}
