// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

package trace

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type bufPort struct {
	bytes.Buffer
	timeout time.Duration
	resets  int
}

func (b *bufPort) Close() error { return nil }

func (b *bufPort) SetReadTimeout(d time.Duration) error {
	b.timeout = d
	return nil
}

func (b *bufPort) ResetInputBuffer() error {
	b.resets++
	return nil
}

func newObserved() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestNew(t *testing.T) {
	mrw := &bufPort{}
	mrw.WriteString("one")
	l, _ := newObserved()
	// vanilla
	tr := New(mrw)
	require.NotNil(t, tr)
	// with opts
	tr = New(mrw, WithLogger(l), WithReadMessage("R"))
	require.NotNil(t, tr)
}

func TestRead(t *testing.T) {
	mrw := &bufPort{}
	mrw.WriteString("one")
	l, logs := newObserved()
	tr := New(mrw, WithLogger(l))
	i := make([]byte, 10)
	n, err := tr.Read(i)
	assert.Nil(t, err)
	assert.Equal(t, 3, n)
	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "r", entries[0].Message)
	assert.Equal(t, "one", entries[0].ContextMap()["data"])
}

func TestWrite(t *testing.T) {
	mrw := &bufPort{}
	l, logs := newObserved()
	tr := New(mrw, WithLogger(l))
	n, err := tr.Write([]byte("two"))
	assert.Nil(t, err)
	assert.Equal(t, 3, n)
	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "w", entries[0].Message)
	assert.Equal(t, "two", entries[0].ContextMap()["data"])
}

func TestReadMessage(t *testing.T) {
	mrw := &bufPort{}
	mrw.WriteString("one")
	l, logs := newObserved()
	tr := New(mrw, WithLogger(l), WithReadMessage("R"), WithHex())
	i := make([]byte, 10)
	n, err := tr.Read(i)
	assert.Nil(t, err)
	assert.Equal(t, 3, n)
	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "R", entries[0].Message)
	assert.Equal(t, "6f6e65", entries[0].ContextMap()["data"])
}

func TestWriteMessage(t *testing.T) {
	mrw := &bufPort{}
	l, logs := newObserved()
	tr := New(mrw, WithLogger(l), WithWriteMessage("W"))
	_, err := tr.Write([]byte("two"))
	assert.Nil(t, err)
	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "W", entries[0].Message)
}

func TestPassThrough(t *testing.T) {
	mrw := &bufPort{}
	l, logs := newObserved()
	tr := New(mrw, WithLogger(l))
	assert.Nil(t, tr.SetReadTimeout(time.Second))
	assert.Nil(t, tr.ResetInputBuffer())
	assert.Nil(t, tr.Close())
	assert.Equal(t, time.Second, mrw.timeout)
	assert.Equal(t, 1, mrw.resets)
	assert.Zero(t, logs.Len())
}
