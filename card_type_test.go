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

func TestClassifyTypeA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		atqa       [2]byte
		uidLen     int
		want       CardType
		sak        byte
		sak28AsCPU bool
	}{
		{name: "classic 1K EV1", atqa: [2]byte{0x04, 0x00}, sak: 0x08, uidLen: 4, want: CardTypeMF1S503},
		{name: "classic 1K 7 byte", atqa: [2]byte{0x44, 0x00}, sak: 0x08, uidLen: 7, want: CardTypeMF1S500},
		{name: "classic other ATQA", atqa: [2]byte{0x02, 0x00}, sak: 0x08, uidLen: 4, want: CardTypeM1},
		{name: "classic mini", atqa: [2]byte{0x04, 0x00}, sak: 0x09, uidLen: 4, want: CardTypeM1},
		{name: "classic 4K", atqa: [2]byte{0x02, 0x00}, sak: 0x18, uidLen: 4, want: CardTypeMF1S703},
		{name: "ultralight", atqa: [2]byte{0x44, 0x00}, sak: 0x00, uidLen: 7, want: CardTypeUltralight},
		{name: "plus", atqa: [2]byte{0x04, 0x00}, sak: 0x10, uidLen: 4, want: CardTypePlus},
		{name: "sak 28 as M1", atqa: [2]byte{0x04, 0x00}, sak: 0x28, uidLen: 4, want: CardTypeM1},
		{name: "sak 28 as CPU", atqa: [2]byte{0x04, 0x00}, sak: 0x28, uidLen: 4, sak28AsCPU: true, want: CardTypeCPUA},
		{name: "sak 38 as 4K", atqa: [2]byte{0x02, 0x00}, sak: 0x38, uidLen: 4, want: CardTypeMF1S703},
		{name: "desfire", atqa: [2]byte{0x44, 0x03}, sak: 0x20, uidLen: 7, want: CardTypeDESFire},
		{name: "cpu", atqa: [2]byte{0x04, 0x00}, sak: 0x20, uidLen: 4, want: CardTypeCPUA},
		{name: "unknown", atqa: [2]byte{0x04, 0x00}, sak: 0x01, uidLen: 4, want: CardTypeA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClassifyTypeA(tt.atqa, tt.sak, tt.uidLen, tt.sak28AsCPU))
		})
	}
}

func TestClassifyTypeB(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CardTypeB, ClassifyTypeB(false, false))
	assert.Equal(t, CardTypeCPUB, ClassifyTypeB(true, false))
	assert.Equal(t, CardTypeIdentity, ClassifyTypeB(true, true))
}

func TestCardType_IsMifareClassic(t *testing.T) {
	t.Parallel()

	for _, ct := range []CardType{CardTypeMF1S503, CardTypeMF1S500, CardTypeMF1S703, CardTypeM1} {
		assert.True(t, ct.IsMifareClassic(), ct.String())
	}
	for _, ct := range []CardType{CardTypeUltralight, CardTypeCPUA, CardTypePlus, CardTypeB} {
		assert.False(t, ct.IsMifareClassic(), ct.String())
	}
}
