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

package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	nfc "github.com/ZaparooProject/go-nfc"
)

// newLogger picks a text handler for terminals and JSON otherwise, unless
// the format is forced.
func newLogger(cfg LogConfig, out *os.File) *slog.Logger {
	return slog.New(newHandler(cfg, out, term.IsTerminal(int(out.Fd()))))
}

func newHandler(cfg LogConfig, w io.Writer, tty bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	switch cfg.Format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		return slog.NewTextHandler(w, opts)
	}
	if tty {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging installs the application logger and configures the library
// log. With a session directory the library keeps its own handler so the
// session file receives every frame; otherwise it shares the application
// handler. The returned func closes the session log.
func setupLogging(cfg LogConfig, debug bool, out *os.File) (func(), error) {
	if debug {
		cfg.Level = "debug"
	}
	logger := newLogger(cfg, out)
	slog.SetDefault(logger)
	nfc.SetDebugEnabled(parseLevel(cfg.Level) == slog.LevelDebug)

	if cfg.Dir == "" {
		nfc.SetLogger(logger.With("component", "nfc"))
		return func() {}, nil
	}
	path, err := nfc.InitSessionLog(cfg.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info("session log opened", "path", path)
	return func() {
		if err := nfc.CloseSessionLog(); err != nil {
			logger.Warn("close session log", "error", err)
		}
	}, nil
}
