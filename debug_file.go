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
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// sessionLog is the optional debug log file of a process. Every record the
// package logs goes there at Debug level while it is open.
type sessionLog struct {
	w    io.WriteCloser
	h    slog.Handler
	path string
	mu   syncutil.RWMutex
}

var session sessionLog

func (s *sessionLog) handler() slog.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h
}

func (s *sessionLog) open(w io.WriteCloser, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		return fmt.Errorf("%w: session log %s already open", ErrWrongState, s.path)
	}
	writeSessionHeader(w)
	s.w = w
	s.path = path
	s.h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return nil
}

func (s *sessionLog) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	_, _ = fmt.Fprintf(s.w, "# session ended %s\n", time.Now().Format(time.RFC3339))
	err := s.w.Close()
	s.w, s.h, s.path = nil, nil, ""
	if err != nil {
		return fmt.Errorf("close session log: %w", err)
	}
	return nil
}

// InitSessionLog creates nfc_<timestamp>.log in dir, or in the current
// directory when dir is empty, and returns its path.
func InitSessionLog(dir string) (string, error) {
	name := fmt.Sprintf("nfc_%s.log", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // name is generated here
	if err != nil {
		return "", fmt.Errorf("create session log: %w", err)
	}
	if err := session.open(f, path); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// CloseSessionLog closes the session log if one is open.
func CloseSessionLog() error {
	return session.close()
}

// SessionLogPath returns the path of the open session log, "" if none.
func SessionLogPath() string {
	session.mu.RLock()
	defer session.mu.RUnlock()
	return session.path
}

func writeSessionHeader(w io.Writer) {
	version := "(devel)"
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if dep.Path == "github.com/ZaparooProject/go-nfc" {
				version = dep.Version
			}
		}
		if bi.Main.Path == "github.com/ZaparooProject/go-nfc" && bi.Main.Version != "" {
			version = bi.Main.Version
		}
	}
	_, _ = fmt.Fprintf(w, "# go-nfc session log\n")
	_, _ = fmt.Fprintf(w, "# started %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "# go-nfc %s, %s, %s/%s, pid %d\n",
		version, runtime.Version(), runtime.GOOS, runtime.GOARCH, os.Getpid())
	_, _ = fmt.Fprintf(w, "# command %s\n", strings.Join(os.Args, " "))
}
