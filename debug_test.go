// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nfc

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferCloser struct {
	*bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

// withSessionBuffer routes the session log into a buffer for one test.
// Tests using it share package state and must not run in parallel.
func withSessionBuffer(t *testing.T) *bufferCloser {
	t.Helper()
	buf := &bufferCloser{Buffer: &bytes.Buffer{}}
	require.NoError(t, session.open(buf, "memory"))
	enabled := debugEnabled.Load()
	t.Cleanup(func() {
		_ = session.close()
		debugEnabled.Store(enabled)
	})
	return buf
}

func TestDebugf_WritesToSessionLog(t *testing.T) {
	buf := withSessionBuffer(t)
	SetDebugEnabled(false)

	Debugf("test message %d", 42)

	out := buf.String()
	assert.Contains(t, out, "# go-nfc session log")
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, `msg="test message 42"`)
}

func TestDebugf_NoSessionNoDebug(t *testing.T) {
	enabled := debugEnabled.Load()
	t.Cleanup(func() { debugEnabled.Store(enabled) })
	SetDebugEnabled(false)

	assert.False(t, Logger().Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, Logger().Enabled(context.Background(), slog.LevelInfo))

	SetDebugEnabled(true)
	assert.True(t, Logger().Enabled(context.Background(), slog.LevelDebug))
}

func TestDebugHex(t *testing.T) {
	buf := withSessionBuffer(t)

	debugHex("mcu tx", []byte{0xA5, 0x01, 0xFF})

	out := buf.String()
	assert.Contains(t, out, `msg="mcu tx"`)
	assert.Contains(t, out, "len=3")
	assert.Contains(t, out, "A5 01 FF")
}

func TestLogHandler_ConsoleLevel(t *testing.T) {
	enabled := debugEnabled.Load()
	t.Cleanup(func() { debugEnabled.Store(enabled) })

	var console bytes.Buffer
	l := slog.New(newLogHandler(&console)).With("reader", "r1").WithGroup("card")

	SetDebugEnabled(false)
	l.Debug("hidden")
	l.Info("shown", "uid", "04A1")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "reader=r1")
	assert.Contains(t, console.String(), "card.uid=04A1")

	SetDebugEnabled(true)
	l.Debug("now visible")
	assert.Contains(t, console.String(), "now visible")
}

func TestLogHandler_SessionGetsDerivedAttrs(t *testing.T) {
	buf := withSessionBuffer(t)
	SetDebugEnabled(false)

	l := slog.New(newLogHandler(io.Discard)).With("reader", "r2").WithGroup("psam")
	l.Debug("reset", "atr", "3B16")

	out := buf.String()
	assert.Contains(t, out, "reader=r2")
	assert.Contains(t, out, "psam.atr=3B16")
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	Debugf("card %s", "in")
	assert.Contains(t, buf.String(), `"msg":"card in"`)

	SetLogger(nil)
	assert.NotSame(t, orig, Logger())
	assert.IsType(t, &logHandler{}, Logger().Handler())
}
