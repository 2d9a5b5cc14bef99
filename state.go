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

import "fmt"

// CardState is the activation state of the card currently in the field, as
// tracked by the protocol engine.
type CardState int

// Card states. StatePowerOff is the only state without a powered card;
// StateIdle and StateHalt both mean the card ignores commands until woken,
// they differ only in how they were reached.
const (
	StatePowerOff CardState = iota - 1
	StateIdle
	StateReady
	StateReadyX
	StateActive
	StateHalt
	StateISO14443P4
	StateAuthenticated
	StateReadWrite
	StateActiveID
)

func (s CardState) String() string {
	switch s {
	case StatePowerOff:
		return "PowerOff"
	case StateIdle:
		return "Idle"
	case StateReady:
		return "Ready"
	case StateReadyX:
		return "ReadyX"
	case StateActive:
		return "Active"
	case StateHalt:
		return "Halt"
	case StateISO14443P4:
		return "ISO14443-4"
	case StateAuthenticated:
		return "Authenticated"
	case StateReadWrite:
		return "ReadWrite"
	case StateActiveID:
		return "ActiveID"
	default:
		return fmt.Sprintf("CardState(%d)", int(s))
	}
}

// Activated reports whether a card has been selected and can take
// application commands.
func (s CardState) Activated() bool {
	switch s {
	case StateActive, StateISO14443P4, StateAuthenticated, StateReadWrite, StateActiveID:
		return true
	default:
		return false
	}
}

// in reports whether s is one of the given states.
func (s CardState) in(states ...CardState) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}

// Protocol identifies the air interface a card was activated on.
type Protocol byte

// Protocols, matching the subtype field of the terminal's card info record.
const (
	ProtocolUnknown Protocol = iota
	ProtocolISO14443A
	ProtocolISO14443B
	ProtocolISO15693
	ProtocolIDCard
)

func (p Protocol) String() string {
	switch p {
	case ProtocolISO14443A:
		return "ISO14443A"
	case ProtocolISO14443B:
		return "ISO14443B"
	case ProtocolISO15693:
		return "ISO15693"
	case ProtocolIDCard:
		return "IDCard"
	default:
		return "Unknown"
	}
}
