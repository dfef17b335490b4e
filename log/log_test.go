// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package log_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/sim800/log"
	"go.uber.org/zap/zapcore"
)

func TestConfig(t *testing.T) {
	patterns := []struct {
		name     string
		debug    bool
		level    zapcore.Level
		encoding string
	}{
		{"debug", true, zapcore.DebugLevel, "console"},
		{"production", false, zapcore.InfoLevel, "json"},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			c := log.Config(p.debug)
			assert.Equal(t, p.level, c.Level.Level())
			assert.Equal(t, p.encoding, c.Encoding)
			assert.NotNil(t, c.EncoderConfig.EncodeTime)
		}
		t.Run(p.name, f)
	}
}

func TestNew(t *testing.T) {
	l, err := log.New(true)
	require.Nil(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l = log.Must(false)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}
