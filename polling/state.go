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
	"errors"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
)

// CardDetectionState is the presence state of the session.
type CardDetectionState int

const (
	StateIdle CardDetectionState = iota
	// StateCardPresent arms the removal timer.
	StateCardPresent
	// StateReading suspends the removal timer while callbacks run.
	StateReading
	// StatePostReadGrace is a shortened removal window after a new card
	// was handled.
	StatePostReadGrace
)

func (s CardDetectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCardPresent:
		return "present"
	case StateReading:
		return "reading"
	case StatePostReadGrace:
		return "grace"
	default:
		return "unknown"
	}
}

// CardState tracks the card in the field of a reader.
type CardState struct {
	LastSeenTime   time.Time
	ReadStartTime  time.Time
	RemovalTimer   *time.Timer
	Info           *nfc.CardInfo
	LastUID        string
	LastType       nfc.CardType
	DetectionState CardDetectionState
	Present        bool
}

// ErrNoCardInPoll means a poll cycle found nothing; it is not a failure.
var ErrNoCardInPoll = errors.New("no card detected in polling cycle")

// safeTimerStop stops timer and drains its channel if it already fired.
func safeTimerStop(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// TransitionToReading suspends the removal timer.
func (cs *CardState) TransitionToReading() {
	cs.DetectionState = StateReading
	cs.ReadStartTime = time.Now()
	safeTimerStop(cs.RemovalTimer)
	cs.RemovalTimer = nil
}

// TransitionToPostReadGrace arms a removal timer of half the timeout.
func (cs *CardState) TransitionToPostReadGrace(timeout time.Duration, callback func()) {
	cs.DetectionState = StatePostReadGrace
	safeTimerStop(cs.RemovalTimer)
	cs.RemovalTimer = time.AfterFunc(timeout/2, callback)
}

// TransitionToPresent records a sighting and rearms the removal timer.
func (cs *CardState) TransitionToPresent(timeout time.Duration, callback func()) {
	cs.DetectionState = StateCardPresent
	cs.LastSeenTime = time.Now()
	safeTimerStop(cs.RemovalTimer)
	cs.RemovalTimer = time.AfterFunc(timeout, callback)
}

// TransitionToIdle forgets the card.
func (cs *CardState) TransitionToIdle() {
	safeTimerStop(cs.RemovalTimer)
	*cs = CardState{}
}

// CanStartRemovalTimer reports whether a removal timer may run.
func (cs *CardState) CanStartRemovalTimer() bool {
	return cs.DetectionState == StateCardPresent || cs.DetectionState == StatePostReadGrace
}
