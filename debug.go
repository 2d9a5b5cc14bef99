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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// debugEnabled lowers the console level to Debug. Set from NFC_DEBUG or
// DEBUG at start-up.
var debugEnabled atomic.Bool

var logger atomic.Pointer[slog.Logger]

func init() {
	if os.Getenv("NFC_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled.Store(true)
	}
	logger.Store(slog.New(newLogHandler(os.Stderr)))
}

// Logger returns the logger the package writes to.
func Logger() *slog.Logger { return logger.Load() }

// SetLogger replaces the package logger. nil restores the default handler,
// which writes Info and above to stderr and everything to the session log.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(newLogHandler(os.Stderr))
	}
	logger.Store(l)
}

// SetDebugEnabled switches debug records on the console on or off. The
// session log receives them either way.
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...any) {
	l := Logger()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug(fmt.Sprintf(format, args...))
}

// debugHex logs a frame in hex under label.
func debugHex(label string, data []byte) {
	l := Logger()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug(label, slog.String("frame", formatHexBytes(data)), slog.Int("len", len(data)))
}

// handlerOp is a WithAttrs or WithGroup call replayed on the session
// handler, which can change after the logger was derived.
type handlerOp struct {
	group string
	attrs []slog.Attr
}

// logHandler fans records out to the console and to the open session log.
type logHandler struct {
	console slog.Handler
	ops     []handlerOp
}

func newLogHandler(w io.Writer) *logHandler {
	return &logHandler{console: slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})}
}

func consoleLevel() slog.Level {
	if debugEnabled.Load() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func (h *logHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= consoleLevel() || session.handler() != nil
}

func (h *logHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if r.Level >= consoleLevel() {
		errs = append(errs, h.console.Handle(ctx, r.Clone()))
	}
	if s := session.handler(); s != nil {
		for _, op := range h.ops {
			if op.group != "" {
				s = s.WithGroup(op.group)
			} else {
				s = s.WithAttrs(op.attrs)
			}
		}
		errs = append(errs, s.Handle(ctx, r))
	}
	return errors.Join(errs...)
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logHandler{
		console: h.console.WithAttrs(attrs),
		ops:     append(h.ops[:len(h.ops):len(h.ops)], handlerOp{attrs: attrs}),
	}
}

func (h *logHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &logHandler{
		console: h.console.WithGroup(name),
		ops:     append(h.ops[:len(h.ops):len(h.ops)], handlerOp{group: name}),
	}
}
