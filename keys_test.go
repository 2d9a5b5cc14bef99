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

func TestParseKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Key
		wantErr bool
	}{
		{name: "plain", in: "A0A1A2A3A4A5", want: Key{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}},
		{name: "lowercase with colons", in: "d3:f7:d3:f7:d3:f7", want: Key{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}},
		{name: "spaces", in: "FF FF FF FF FF FF", want: DefaultKey},
		{name: "too short", in: "FFFF", wantErr: true},
		{name: "not hex", in: "GGGGGGGGGGGG", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			k, err := ParseKey(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, k)
		})
	}
}

func TestKey_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "A0A1A2A3A4A5", Key{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}.String())
}

func TestKeyType_Valid(t *testing.T) {
	t.Parallel()
	assert.True(t, KeyA.Valid())
	assert.True(t, KeyB.Valid())
	assert.False(t, KeyType(0x30).Valid())
	assert.Equal(t, "KeyType(0x30)", KeyType(0x30).String())
}

func TestDiversifyKey(t *testing.T) {
	t.Parallel()

	master := []byte("site master secret")
	uid := []byte{0x12, 0x34, 0x56, 0x78}

	k1, err := DiversifyKey(master, uid, 1)
	require.NoError(t, err)
	again, err := DiversifyKey(master, uid, 1)
	require.NoError(t, err)
	assert.Equal(t, k1, again, "derivation is deterministic")

	k2, err := DiversifyKey(master, uid, 2)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2, "sectors get different keys")

	other, err := DiversifyKey(master, []byte{0x12, 0x34, 0x56, 0x79}, 1)
	require.NoError(t, err)
	assert.NotEqual(t, k1, other, "cards get different keys")

	_, err = DiversifyKey(nil, uid, 1)
	require.ErrorIs(t, err, ErrParameter)
	_, err = DiversifyKey(master, nil, 1)
	require.ErrorIs(t, err, ErrParameter)
}
