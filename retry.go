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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryConfig is an exponential backoff policy. Only errors for which
// IsRetryable is true are retried.
type RetryConfig struct {
	// MaxAttempts counts the first try; zero or one means no retry.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after each failed attempt.
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the wait at random.
	Jitter float64
	// RetryTimeout bounds all attempts together; zero means no bound.
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the retry policy for activation requests
// (REQA, WUPA, REQB, WUPB). It is tight because a missing card is the
// common case while polling.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       ActivationRetries,
		InitialBackoff:    ActivationInitialBackoff,
		MaxBackoff:        ActivationMaxBackoff,
		BackoffMultiplier: ActivationBackoffMultiplier,
		Jitter:            ActivationJitter,
		RetryTimeout:      ActivationRetryTimeout,
	}
}

// PSAMRetryConfig returns the retry policy for secure element resets.
func PSAMRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       PSAMResetRetries,
		InitialBackoff:    PSAMResetBackoff,
		MaxBackoff:        PSAMResetBackoff * 4,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      PSAMResetTimeout,
	}
}

// CardWriteRetryConfig returns the policy for whole write operations on a
// card that may still be sliding into place.
func CardWriteRetryConfig(attempts int) *RetryConfig {
	if attempts <= 0 {
		attempts = CardWriteRetries
	}
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    CardWriteBackoff,
		MaxBackoff:        CardWriteMaxBackoff,
		BackoffMultiplier: 1.5,
	}
}

// RetryableFunc is one attempt of a retried operation.
type RetryableFunc func() error

// RetryWithConfig runs retryFunc until it succeeds, fails with an error that
// is not retryable, or config runs out. A nil config is DefaultRetryConfig.
func RetryWithConfig(ctx context.Context, config *RetryConfig, retryFunc RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return retryFunc()
	}
	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	b := backoff{config: config, next: config.InitialBackoff}
	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", ctx.Err())
		}
		err := retryFunc()
		if err == nil || !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt >= config.MaxAttempts {
			return lastErr
		}
		if !b.wait(ctx) {
			return lastErr
		}
	}
}

// RetryCardWrite runs a write operation up to attempts times with
// CardWriteRetryConfig. The final error names the attempt count.
func RetryCardWrite(ctx context.Context, attempts int, op string, write func(context.Context) error) error {
	config := CardWriteRetryConfig(attempts)
	n := 0
	err := RetryWithConfig(ctx, config, func() error {
		n++
		err := write(ctx)
		if err != nil && IsRetryable(err) && n < config.MaxAttempts {
			Debugf("%s: attempt %d failed, retrying: %v", op, n, err)
		}
		return err
	})
	if err != nil && n > 1 {
		return fmt.Errorf("%s failed after %d attempts: %w", op, n, err)
	}
	return err
}

// backoff yields the jittered waits of one retry loop.
type backoff struct {
	config *RetryConfig
	next   time.Duration
}

// wait sleeps for the next backoff. It returns false if ctx ended first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(calculateJitteredSleep(b.next, b.config.Jitter))
	defer timer.Stop()
	b.next = calculateNextBackoff(b.next, b.config)
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func calculateNextBackoff(current time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(current) * config.BackoffMultiplier)
	if next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

// calculateJitteredSleep adds up to jitterFactor*base at random.
func calculateJitteredSleep(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return base
	}
	f := float64(binary.LittleEndian.Uint64(b[:])) / float64(1<<64)
	return base + time.Duration(f*jitterFactor*float64(base))
}
