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
	"github.com/stretchr/testify/require"
)

func TestCRC_KnownVectors(t *testing.T) {
	t.Parallel()

	// HLTA and REQB as sent on air
	assert.Equal(t, []byte{0x50, 0x00, 0x57, 0xCD}, appendCRC([]byte{0x50, 0x00}, ProtocolISO14443A))
	assert.Equal(t, []byte{0x05, 0x00, 0x08, 0x39, 0x73}, appendCRC([]byte{0x05, 0x00, 0x08}, ProtocolISO14443B))
}

func TestCheckCRC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		frame   []byte
		proto   Protocol
	}{
		{name: "valid A", frame: []byte{0x50, 0x00, 0x57, 0xCD}, proto: ProtocolISO14443A},
		{name: "valid B", frame: []byte{0x05, 0x00, 0x08, 0x39, 0x73}, proto: ProtocolISO14443B},
		{name: "15693 uses CRC B", frame: []byte{0x05, 0x00, 0x08, 0x39, 0x73}, proto: ProtocolISO15693},
		{name: "corrupted", frame: []byte{0x50, 0x01, 0x57, 0xCD}, proto: ProtocolISO14443A, wantErr: ErrCRC},
		{name: "wrong CRC family", frame: []byte{0x50, 0x00, 0x57, 0xCD}, proto: ProtocolISO14443B, wantErr: ErrCRC},
		{name: "too short", frame: []byte{0x57, 0xCD}, proto: ProtocolISO14443A, wantErr: ErrInvalidFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			body, err := checkCRC(tt.frame, tt.proto)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.frame[:len(tt.frame)-2], body)
		})
	}
}
