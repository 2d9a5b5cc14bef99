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
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
)

// SleepRecoveryConfig configures recovery after the host slept. A poll
// cycle that starts much later than scheduled means the front-end may have
// lost power or its USB link while the host was suspended.
type SleepRecoveryConfig struct {
	// Enabled turns sleep detection on.
	Enabled bool

	// TimeDiscontinuityThreshold is how far past the poll interval a cycle
	// may start before it counts as a sleep. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of recovery attempts before the
	// session gives up. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts.
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns the recovery defaults.
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep reports whether elapsed exceeds pollInterval plus the
// threshold.
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	return elapsed > pollInterval+cfg.TimeDiscontinuityThreshold
}

// Config holds polling configuration options
type Config struct {
	// PollInterval is the time between detection cycles.
	PollInterval time.Duration
	// IdleInterval replaces PollInterval once no card was seen for
	// IdleAfter. Zero keeps polling at PollInterval.
	IdleInterval time.Duration
	IdleAfter    time.Duration
	// CardRemovalTimeout is how long a card may go unseen before it is
	// reported removed.
	CardRemovalTimeout time.Duration
	// WriteRetries is the attempt count of the WithRetry write helpers.
	WriteRetries int
	// SleepRecovery configures recovery after host sleep/wake cycles.
	SleepRecovery SleepRecoveryConfig
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:       250 * time.Millisecond,
		IdleInterval:       500 * time.Millisecond,
		IdleAfter:          5 * time.Second,
		CardRemovalTimeout: 600 * time.Millisecond,
		WriteRetries:       nfc.CardWriteRetries,
		SleepRecovery:      DefaultSleepRecoveryConfig(),
	}
}

// interval returns the poll interval given the time since the last card.
func (c *Config) interval(sinceCard time.Duration) time.Duration {
	if c.IdleInterval > 0 && c.IdleAfter > 0 && sinceCard > c.IdleAfter {
		return c.IdleInterval
	}
	return c.PollInterval
}
