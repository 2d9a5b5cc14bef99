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

	virt "github.com/ZaparooProject/go-nfc/internal/testing"
)

func TestSectorGeometry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		block   byte
		sector  int
		first   byte
		trailer bool
	}{
		{name: "manufacturer block", block: 0, sector: 0, first: 0},
		{name: "first trailer", block: 3, sector: 0, first: 0, trailer: true},
		{name: "sector 1", block: 5, sector: 1, first: 4},
		{name: "last small sector trailer", block: 127, sector: 31, first: 124, trailer: true},
		{name: "first large sector", block: 128, sector: 32, first: 128},
		{name: "large sector trailer", block: 143, sector: 32, first: 128, trailer: true},
		{name: "last block of 4K", block: 255, sector: 39, first: 240, trailer: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.sector, SectorOfBlock(tt.block))
			assert.Equal(t, tt.first, FirstBlockOfSector(tt.sector))
			assert.Equal(t, tt.trailer, IsTrailerBlock(tt.block))
		})
	}
	assert.Equal(t, 4, BlocksInSector(31))
	assert.Equal(t, 16, BlocksInSector(32))
}

func TestCrypto1_AuthReadWrite(t *testing.T) {
	t.Parallel()

	frontends(t, func() []*virt.VirtualCard {
		return []*virt.VirtualCard{virt.NewMifare1K(nil)}
	}, func(t *testing.T, h *Handle) {
		ops := h.Ops()
		selectA(t, h)

		require.NoError(t, ops.Crypto1Authen(4, KeyA, DefaultKey))
		assert.Equal(t, StateAuthenticated, ops.CardState())

		data := [BlockSize]byte{0: 0xCA, 1: 0xFE, 15: 0x01}
		require.NoError(t, ops.Crypto1Write(5, data))
		assert.Equal(t, StateReadWrite, ops.CardState())

		got, err := ops.Crypto1Read(5)
		require.NoError(t, err)
		assert.Equal(t, data, got)

		trailer, err := ops.Crypto1Read(7)
		require.NoError(t, err)
		assert.Equal(t, make([]byte, KeyLen), trailer[:KeyLen], "key A reads back as zeros")
	})
}

func TestCrypto1_SectorNotAuthenticated(t *testing.T) {
	t.Parallel()

	r := newMCUHandle(t, nil, virt.NewMifare1K(nil))
	ops := r.h.Ops()
	selectA(t, r.h)

	_, err := ops.Crypto1Read(4)
	require.ErrorIs(t, err, ErrSectorNotAuthenticated)

	require.NoError(t, ops.Crypto1Authen(4, KeyA, DefaultKey))
	_, err = ops.Crypto1Read(8)
	require.ErrorIs(t, err, ErrSectorNotAuthenticated)
	assert.Equal(t, StateAuthenticated, ops.CardState(), "a refused call keeps the session")

	// re-authenticating moves the session to another sector
	require.NoError(t, ops.Crypto1Authen(8, KeyA, DefaultKey))
	_, err = ops.Crypto1Read(8)
	require.NoError(t, err)
	_, err = ops.Crypto1Read(4)
	require.ErrorIs(t, err, ErrSectorNotAuthenticated)
}

func TestCrypto1_WrongKey(t *testing.T) {
	t.Parallel()

	frontends(t, func() []*virt.VirtualCard {
		return []*virt.VirtualCard{virt.NewMifare1K(nil)}
	}, func(t *testing.T, h *Handle) {
		ops := h.Ops()
		selectA(t, h)

		uid := ops.UID()

		err := ops.Crypto1Authen(4, KeyB, Key{1, 2, 3, 4, 5, 6})
		require.ErrorIs(t, err, ErrAuthentication)
		assert.Equal(t, StateActive, ops.CardState())
		assert.Equal(t, uid, ops.UID())

		// the same session takes the right key afterwards
		require.NoError(t, ops.Crypto1Authen(4, KeyA, DefaultKey))
		_, err = ops.Crypto1Read(4)
		require.NoError(t, err)
		assert.Equal(t, StateReadWrite, ops.CardState())
	})
}

func TestCrypto1_WrongKeyCardGone(t *testing.T) {
	t.Parallel()

	card := virt.NewMifare1K(nil)
	r := newMCUHandle(t, nil, card)
	ops := r.h.Ops()
	selectA(t, r.h)

	card.Remove()
	require.Error(t, ops.Crypto1Authen(4, KeyA, Key{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, StateIdle, ops.CardState())
	assert.Nil(t, ops.UID())
}

func TestCrypto1_InvalidKeyType(t *testing.T) {
	t.Parallel()

	r := newMCUHandle(t, nil, virt.NewMifare1K(nil))
	selectA(t, r.h)
	require.ErrorIs(t, r.h.Ops().Crypto1Authen(4, KeyType(0x30), DefaultKey), ErrParameter)
}

func TestCrypto1_ReadErrorDropsCard(t *testing.T) {
	t.Parallel()

	card := virt.NewMifare1K(nil)
	r := newMCUHandle(t, nil, card)
	ops := r.h.Ops()
	selectA(t, r.h)
	require.NoError(t, ops.Crypto1Authen(4, KeyA, DefaultKey))

	card.Remove()
	_, err := ops.Crypto1Read(4)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateIdle, ops.CardState())
	assert.Nil(t, ops.UID())
}

func TestCrypto1_SevenByteUIDUsesAuthenIDHook(t *testing.T) {
	t.Parallel()

	uid := []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	r := newMCUHandle(t, nil, virt.NewMifare1K(uid))
	ops := r.h.Ops()

	var seen []byte
	require.NoError(t, r.h.RegisterAuthenIDHook(func(id, out []byte) (int, error) {
		seen = append([]byte(nil), id...)
		return copy(out, id[3:]), nil
	}))
	selectA(t, r.h)
	require.NoError(t, ops.Crypto1Authen(4, KeyA, DefaultKey))
	assert.Equal(t, uid, seen)

	// a hook returning a short ID fails the authentication
	require.NoError(t, r.h.RegisterAuthenIDHook(func(_, out []byte) (int, error) {
		return copy(out, []byte{1, 2}), nil
	}))
	require.ErrorIs(t, ops.Crypto1Authen(4, KeyA, DefaultKey), ErrProtocol)
}

func TestCrypto1_ValueBlocks(t *testing.T) {
	t.Parallel()

	card := virt.NewMifare1K(nil)
	v := EncodeValueBlock(100, 8)
	card.SetBlock(8, v[:])
	r := newChipHandle(t, nil, card)
	ops := r.h.Ops()
	selectA(t, r.h)
	require.NoError(t, ops.Crypto1Authen(8, KeyA, DefaultKey))

	require.NoError(t, ops.Crypto1Increment(8, 25))
	require.NoError(t, ops.Crypto1Transfer(8))
	require.NoError(t, ops.Crypto1Decrement(8, 5))
	require.NoError(t, ops.Crypto1Transfer(9))

	blk, err := ops.Crypto1Read(8)
	require.NoError(t, err)
	got, addr, err := DecodeValueBlock(blk)
	require.NoError(t, err)
	assert.Equal(t, int32(125), got)
	assert.Equal(t, byte(8), addr)

	blk, err = ops.Crypto1Read(9)
	require.NoError(t, err)
	got, _, err = DecodeValueBlock(blk)
	require.NoError(t, err)
	assert.Equal(t, int32(120), got)

	require.ErrorIs(t, ops.Crypto1Increment(8, -1), ErrParameter)
}

func TestCrypto1_ValueBlocksUnsupportedOnMCU(t *testing.T) {
	t.Parallel()

	r := newMCUHandle(t, nil, virt.NewMifare1K(nil))
	selectA(t, r.h)
	require.NoError(t, r.h.Ops().Crypto1Authen(8, KeyA, DefaultKey))
	require.ErrorIs(t, r.h.Ops().Crypto1Increment(8, 1), ErrUnsupported)
	require.ErrorIs(t, r.h.Ops().Crypto1Transfer(8), ErrUnsupported)
}

func TestValueBlock_Encoding(t *testing.T) {
	t.Parallel()

	for _, v := range []int32{0, 1, -1, 123456, -2147483648} {
		blk := EncodeValueBlock(v, 0x21)
		got, addr, err := DecodeValueBlock(blk)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, byte(0x21), addr)
	}

	blk := EncodeValueBlock(5, 1)
	blk[4] ^= 0xFF
	_, _, err := DecodeValueBlock(blk)
	require.ErrorIs(t, err, ErrProtocol)
}
