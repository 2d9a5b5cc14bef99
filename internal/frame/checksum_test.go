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

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBCC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{name: "empty data", data: []byte{}, want: 0},
		{name: "single byte", data: []byte{0x42}, want: 0x42},
		{name: "two bytes", data: []byte{0x10, 0x20}, want: 0x30},
		{name: "cancelling bytes", data: []byte{0xA5, 0xA5}, want: 0x00},
		{name: "multiple bytes", data: []byte{0x01, 0x02, 0x03, 0x04}, want: 0x04},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CalculateBCC(tt.data))
		})
	}
}

func TestEncodeRequest_Layout(t *testing.T) {
	t.Parallel()

	buf, err := EncodeRequest(CmdField, []byte{0x01})
	require.NoError(t, err)

	// STX, len=2, cmd, data, bcc(0x00^0x02^0x11^0x01), ETX
	assert.Equal(t, []byte{STX, 0x00, 0x02, CmdField, 0x01, 0x12, ETX}, buf)

	n, err := FrameLength(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	good, err := EncodeResponse(CmdTransceive, 0x00, []byte{0x00, 0x04, 0x00})
	require.NoError(t, err)

	tests := []struct {
		wantErr error
		name    string
		buf     []byte
	}{
		{name: "Valid_Frame", buf: good},
		{name: "Truncated", buf: good[:len(good)-1], wantErr: ErrIncomplete},
		{name: "Bad_STX", buf: append([]byte{0x7E}, good[1:]...), wantErr: ErrBadMarker},
		{name: "Bad_BCC", buf: corrupt(good, len(good)-2), wantErr: ErrBadBCC},
		{name: "Bad_ETX", buf: corrupt(good, len(good)-1), wantErr: ErrBadMarker},
		{name: "Zero_Length", buf: []byte{STX, 0x00, 0x00, 0x00, ETX}, wantErr: ErrBadLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := DecodeResponse(tt.buf)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, byte(CmdTransceive), resp.Cmd)
			assert.Equal(t, byte(0x00), resp.Status)
			assert.Equal(t, []byte{0x00, 0x04, 0x00}, resp.Data)
		})
	}
}

func TestDecodeRequest_RoundTrip(t *testing.T) {
	t.Parallel()

	buf, err := EncodeRequest(CmdAuthenticate, []byte{0x60, 0x04, 0xFF})
	require.NoError(t, err)

	cmd, data, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(CmdAuthenticate), cmd)
	assert.Equal(t, []byte{0x60, 0x04, 0xFF}, data)
}

func TestEncodeRequest_TooLong(t *testing.T) {
	t.Parallel()

	_, err := EncodeRequest(CmdTransceive, make([]byte, MaxDataLength+2))
	require.ErrorIs(t, err, ErrDataTooLong)
}

func corrupt(buf []byte, idx int) []byte {
	out := append([]byte(nil), buf...)
	out[idx] ^= 0xFF
	return out
}
