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

import "time"

// Activation retry constants control REQA/WUPA/REQB/WUPB retries on timeout.
// Retrying is never done inside an authenticated session.
const (
	// ActivationRetries is the number of attempts for one activation request.
	ActivationRetries = 2
	// ActivationInitialBackoff is the delay before the second attempt. A card
	// entering the field needs about 5ms to power up (ISO14443-3 FDT).
	ActivationInitialBackoff = 5 * time.Millisecond
	// ActivationMaxBackoff caps the backoff between attempts.
	ActivationMaxBackoff = 20 * time.Millisecond
	// ActivationBackoffMultiplier is the exponential backoff multiplier.
	ActivationBackoffMultiplier = 2.0
	// ActivationJitter is the random jitter factor (0.0-1.0).
	ActivationJitter = 0.1
	// ActivationRetryTimeout bounds all attempts of one request.
	ActivationRetryTimeout = 200 * time.Millisecond
)

// Card timing constants
const (
	// FieldResetDelay is how long the field stays off when resetting all
	// cards to Idle.
	FieldResetDelay = 5 * time.Millisecond
	// FieldOnGuardTime is the wait after switching the field on before the
	// first request (ISO14443-3 guard time).
	FieldOnGuardTime = 5 * time.Millisecond
	// ShortFrameTimeout is used for requests a card answers within a few
	// hundred microseconds (REQA, anticollision, HLTA).
	ShortFrameTimeout = 5 * time.Millisecond
	// MaxISODEPErrors is the number of consecutive unrecoverable ISO-DEP
	// transmission errors after which the card is considered removed.
	MaxISODEPErrors = 3
	// AuthenIDHookTimeout bounds the authentication ID hook when the config
	// does not set a read timeout.
	AuthenIDHookTimeout = 100 * time.Millisecond
)

// PSAM retry constants
const (
	// PSAMResetRetries is the number of attempts for a secure element reset.
	PSAMResetRetries = 3
	// PSAMResetBackoff is the initial delay between reset attempts.
	PSAMResetBackoff = 20 * time.Millisecond
	// PSAMResetTimeout bounds all reset attempts.
	PSAMResetTimeout = 2 * time.Second
	// PSAMAPDUTimeout bounds one APDU exchange with the secure element.
	PSAMAPDUTimeout = 1 * time.Second
)

// Card write retry constants apply to whole write operations driven from a
// polling session.
const (
	// CardWriteRetries is the default number of write attempts.
	CardWriteRetries = 3
	// CardWriteBackoff is the wait before the second attempt.
	CardWriteBackoff = 100 * time.Millisecond
	// CardWriteMaxBackoff caps the wait between attempts.
	CardWriteMaxBackoff = 250 * time.Millisecond
)
