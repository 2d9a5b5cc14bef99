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

package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// activate runs REQA and a full select on a single card.
func activate(t *testing.T, c *VirtualCard) {
	t.Helper()
	_, _, ok := c.receive(ProtoA, []byte{0x26}, 7)
	require.True(t, ok)
	for level := range c.levels() {
		cl := c.cascade(level)
		sel := append([]byte{selectCodes[level], 0x70}, cl[:]...)
		_, _, ok := c.receive(ProtoA, appendCRC(sel, crcA), 0)
		require.True(t, ok)
	}
	require.True(t, c.IsActive())
}

func sendA(c *VirtualCard, body ...byte) ([]byte, int, bool) {
	return c.receive(ProtoA, appendCRC(body, crcA), 0)
}

func TestNewMifare1K_Layout(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		uid  []byte
		atqa [2]byte
	}{
		{name: "4 byte UID", uid: []byte{0x12, 0x34, 0x56, 0x78}, atqa: [2]byte{0x04, 0x00}},
		{name: "7 byte UID", uid: []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, atqa: [2]byte{0x44, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewMifare1K(tt.uid)
			assert.Equal(t, tt.atqa, c.ATQA)
			assert.Equal(t, tt.uid, c.Block(0)[:len(tt.uid)])
			assert.Equal(t, DefaultKey, c.Block(3)[:6])
			assert.Len(t, c.Memory, 64)
		})
	}
}

func TestVirtualCard_Cascade_SevenByteUID(t *testing.T) {
	t.Parallel()
	c := NewMifare1K([]byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})

	cl1 := c.cascade(0)
	assert.Equal(t, byte(0x88), cl1[0])
	assert.Equal(t, cl1[0]^cl1[1]^cl1[2]^cl1[3], cl1[4])
	cl2 := c.cascade(1)
	assert.Equal(t, []byte{0x33, 0x44, 0x55, 0x66}, cl2[:4])
	assert.Equal(t, 2, c.levels())
}

func TestVirtualCard_Mifare_ReadNeedsAuthentication(t *testing.T) {
	t.Parallel()
	c := NewMifare1K(nil)
	activate(t, c)

	resp, bits, ok := sendA(c, 0x30, 0x04)
	require.True(t, ok)
	assert.Equal(t, 4, bits)
	assert.Equal(t, []byte{mfNAK}, resp)
	assert.False(t, c.IsActive())
}

func TestVirtualCard_Mifare_AuthReadWrite(t *testing.T) {
	t.Parallel()
	c := NewMifare1K(nil)
	activate(t, c)
	require.True(t, c.authenticate(0x60, 4, DefaultKey, c.UID))
	assert.Equal(t, 1, c.AuthenticatedSector())

	resp, bits, ok := sendA(c, 0xA0, 0x05)
	require.True(t, ok)
	assert.Equal(t, []byte{mfACK}, resp)
	assert.Equal(t, 4, bits)

	data := []byte("0123456789ABCDEF")
	resp, _, ok = sendA(c, data...)
	require.True(t, ok)
	assert.Equal(t, []byte{mfACK}, resp)
	assert.Equal(t, data, c.Block(5))

	resp, _, ok = sendA(c, 0x30, 0x05)
	require.True(t, ok)
	body, crcOK := checkCRC(resp, crcA)
	require.True(t, crcOK)
	assert.Equal(t, data, body)
}

func TestVirtualCard_Mifare_WrongKeyDropsCard(t *testing.T) {
	t.Parallel()
	c := NewMifare1K(nil)
	activate(t, c)

	assert.False(t, c.authenticate(0x61, 4, []byte{1, 2, 3, 4, 5, 6}, c.UID))
	assert.False(t, c.IsActive())
	assert.Equal(t, -1, c.AuthenticatedSector())
}

func TestVirtualCard_Mifare_ValueOperations(t *testing.T) {
	t.Parallel()
	c := NewMifare1K(nil)
	c.SetBlock(8, encodeValue(100, 8))
	activate(t, c)
	require.True(t, c.authenticate(0x60, 8, DefaultKey, c.UID))

	resp, _, ok := sendA(c, 0xC1, 0x08)
	require.True(t, ok)
	assert.Equal(t, []byte{mfACK}, resp)
	_, _, ok = sendA(c, 25, 0, 0, 0)
	assert.False(t, ok)

	resp, _, ok = sendA(c, 0xB0, 0x09)
	require.True(t, ok)
	assert.Equal(t, []byte{mfACK}, resp)
	v, valid := decodeValue(c.Block(9))
	require.True(t, valid)
	assert.Equal(t, int32(125), v)
}

func TestVirtualCard_NTAG(t *testing.T) {
	t.Parallel()
	c := NewNTAG(KindNTAG215, nil)
	activate(t, c)

	resp, _, ok := sendA(c, 0x60)
	require.True(t, ok)
	body, _ := checkCRC(resp, crcA)
	assert.Equal(t, byte(0x11), body[6])

	resp, _, _ = sendA(c, 0xA2, 0x04, 1, 2, 3, 4)
	assert.Equal(t, []byte{mfACK}, resp)
	resp, _, _ = sendA(c, 0xA2, 0x01, 1, 2, 3, 4)
	assert.Equal(t, []byte{mfNAK}, resp)

	resp, _, ok = sendA(c, 0x3A, 0x03, 0x04)
	require.True(t, ok)
	body, _ = checkCRC(resp, crcA)
	assert.Equal(t, []byte{0xE1, 0x10, 0x3E, 0x00, 1, 2, 3, 4}, body)

	// READ rolls over past the last page
	resp, _, ok = sendA(c, 0x30, byte(len(c.Memory)-1))
	require.True(t, ok)
	body, _ = checkCRC(resp, crcA)
	assert.Equal(t, c.Block(0), body[4:8])
}

func TestVirtualCard_Layer4_ChainingAndWTX(t *testing.T) {
	t.Parallel()
	var got []byte
	c := NewCPUA(nil, func(apdu []byte) []byte {
		got = append([]byte(nil), apdu...)
		return []byte{0x90, 0x00}
	})
	c.WTX = 1
	activate(t, c)

	resp, _, ok := sendA(c, 0xE0, 0x80)
	require.True(t, ok)
	body, _ := checkCRC(resp, crcA)
	assert.Equal(t, c.ATS, body)

	resp, _, _ = sendA(c, 0x12, 0x00, 0xA4)
	body, _ = checkCRC(resp, crcA)
	assert.Equal(t, []byte{0xA2}, body)

	resp, _, _ = sendA(c, 0x03, 0x04, 0x00)
	body, _ = checkCRC(resp, crcA)
	assert.Equal(t, []byte{0xF2, 0x01}, body)

	resp, _, _ = sendA(c, 0xF2, 0x01)
	body, _ = checkCRC(resp, crcA)
	assert.Equal(t, []byte{0x03, 0x90, 0x00}, body)
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x00}, got)

	// R(NAK) repeats the last block
	resp, _, _ = sendA(c, 0xB3)
	body, _ = checkCRC(resp, crcA)
	assert.Equal(t, []byte{0x03, 0x90, 0x00}, body)
}

func TestVirtualCard_TypeB(t *testing.T) {
	t.Parallel()
	c := NewIDCard(nil, nil)

	resp, _, ok := c.receive(ProtoB, appendCRC([]byte{0x05, 0x00, 0x00}, crcB), 0)
	require.True(t, ok)
	body, crcOK := checkCRC(resp, crcB)
	require.True(t, crcOK)
	require.Len(t, body, 12)
	assert.Equal(t, byte(0x50), body[0])

	attrib := append([]byte{0x1D}, c.PUPI[:]...)
	attrib = append(attrib, 0x00, 0x08, 0x01, 0x00)
	_, _, ok = c.receive(ProtoIDCard, appendCRC(attrib, crcB), 0)
	require.True(t, ok)

	resp, _, ok = c.receive(ProtoB, appendCRC(idCardGetUID, crcB), 0)
	require.True(t, ok)
	body, _ = checkCRC(resp, crcB)
	assert.Equal(t, append(append([]byte(nil), TestGUID...), 0x90, 0x00), body)

	// Type A frames are ignored
	_, _, ok = c.receive(ProtoA, []byte{0x26}, 7)
	assert.False(t, ok)
}

func TestVirtualCard_VICC(t *testing.T) {
	t.Parallel()
	c := NewVICC(nil)
	c.AFI = 0x07

	resp, _, ok := c.receive(Proto15693, appendCRC([]byte{0x36, 0x01, 0x07, 0x00}, crcB), 0)
	require.True(t, ok)
	body, _ := checkCRC(resp, crcB)
	require.Len(t, body, 10)
	assert.Equal(t, TestVICCUID[7], body[2])

	_, _, ok = c.receive(Proto15693, appendCRC([]byte{0x36, 0x01, 0x08, 0x00}, crcB), 0)
	assert.False(t, ok, "other AFI stays silent")

	quiet := append([]byte{0x22, 0x02}, body[2:10]...)
	_, _, ok = c.receive(Proto15693, appendCRC(quiet, crcB), 0)
	assert.False(t, ok)
	assert.True(t, c.IsHalted())
}
