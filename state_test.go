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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCardState_Activated(t *testing.T) {
	t.Parallel()

	activated := map[CardState]bool{
		StateActive:        true,
		StateISO14443P4:    true,
		StateAuthenticated: true,
		StateReadWrite:     true,
		StateActiveID:      true,
	}
	for s := StatePowerOff; s <= StateActiveID; s++ {
		assert.Equal(t, activated[s], s.Activated(), s.String())
	}
}

func TestCardState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PowerOff", StatePowerOff.String())
	assert.Equal(t, "ISO14443-4", StateISO14443P4.String())
	assert.Equal(t, "CardState(42)", CardState(42).String())
}

func TestProtocol_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ISO14443A", ProtocolISO14443A.String())
	assert.Equal(t, "IDCard", ProtocolIDCard.String())
	assert.Equal(t, "Unknown", Protocol(9).String())
}
