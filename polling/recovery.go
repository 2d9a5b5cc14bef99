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

package polling

import (
	"context"
	"fmt"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// Recoverer brings a reader back after sleep/wake or a fatal error.
type Recoverer interface {
	// AttemptRecovery returns nil once the reader answers again.
	AttemptRecovery(ctx context.Context) error

	// Handle returns the current handle; it may change after a reopen.
	Handle() *nfc.Handle
}

// ReopenFunc reopens the transport and returns a fresh handle.
type ReopenFunc func() (*nfc.Handle, error)

// DefaultRecoverer tries a front-end chip reset first and falls back to
// reopening the reader with reopenFunc.
type DefaultRecoverer struct {
	handle      *nfc.Handle
	reopenFunc  ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer for h. Without reopenFunc only
// the chip reset is tried.
func NewDefaultRecoverer(h *nfc.Handle, reopenFunc ReopenFunc, backoff time.Duration, maxAttempts int) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		handle:      h,
		reopenFunc:  reopenFunc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery resets the front-end and, if that fails, replaces the
// handle with a reopened one. The old handle is closed on reopen.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		err := r.handle.Ops().ChipReset()
		if err == nil {
			nfc.Debugf("recovery: chip reset succeeded on attempt %d", attempt+1)
			return nil
		}
		lastErr = err

		if r.reopenFunc == nil {
			continue
		}
		_ = r.handle.Close()
		h, err := r.reopenFunc()
		if err == nil {
			nfc.Debugf("recovery: reader reopened on attempt %d", attempt+1)
			r.handle = h
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("recovery failed after %d attempts: %w", r.maxAttempts, lastErr)
}

// Handle returns the current handle.
func (r *DefaultRecoverer) Handle() *nfc.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}
