// go-nfc
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-nfc.
//
// go-nfc is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-nfc is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-nfc; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfc "github.com/ZaparooProject/go-nfc"
	virt "github.com/ZaparooProject/go-nfc/internal/testing"
)

func detectCard(t *testing.T, card *virt.VirtualCard) *nfc.Handle {
	t.Helper()
	h, err := connect(simConnector(virt.NewVirtualMCU(card)), testConfig(t).reader)
	require.NoError(t, err)
	t.Cleanup(func() { closeHandle(h) })
	return h
}

func TestStressCard_NTAG(t *testing.T) {
	t.Parallel()
	h := detectCard(t, virt.NewNTAG(virt.KindNTAG215, nil))
	info, err := h.Detect()
	require.NoError(t, err)

	var out bytes.Buffer
	res := stressCard(context.Background(), h, info, &out, t.TempDir())
	assert.True(t, res.Success, out.String())
	assert.Equal(t, len(testSizes), res.Passed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.CrashFile)
}

func TestStressCard_SkipsOtherCards(t *testing.T) {
	t.Parallel()
	h := detectCard(t, virt.NewMifare1K(nil))
	info, err := h.Detect()
	require.NoError(t, err)

	var out bytes.Buffer
	res := stressCard(context.Background(), h, info, &out, t.TempDir())
	assert.True(t, res.Skipped)
	assert.False(t, res.Success)
	assert.Contains(t, out.String(), "skipped")
}

func TestStressCard_CrashReport(t *testing.T) {
	t.Parallel()
	card := virt.NewNTAG(virt.KindNTAG213, nil)
	card.SetBlock(3, []byte{0x00, 0x00, 0x00, 0x00})
	h := detectCard(t, card)
	info, err := h.Detect()
	require.NoError(t, err)

	var out bytes.Buffer
	res := stressCard(context.Background(), h, info, &out, t.TempDir())
	require.False(t, res.Success)
	require.NotEmpty(t, res.CrashFile)

	data, err := os.ReadFile(res.CrashFile)
	require.NoError(t, err)
	var report CrashReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "capability_container", report.Operation)
	assert.Equal(t, info.UIDHex(), report.CardUID)
	assert.NotEmpty(t, report.OperationLog)
}

func TestGenerateTestText(t *testing.T) {
	t.Parallel()
	for _, size := range testSizes {
		text := generateTestText(size, 100)
		assert.True(t, utf8.ValidString(text), size.String())
		assert.LessOrEqual(t, len(text), 100)
		assert.NotEmpty(t, text)
	}
	assert.Len(t, generateTestText(testSizeFull, 100), 100)
	assert.LessOrEqual(t, len(generateTestText(testSizeTiny, 100)), 4)
}

func TestFormatHexDump(t *testing.T) {
	t.Parallel()
	lines := formatHexDump([]byte{0x04, 0xA1, 0xB2, 0x9F, 0xC3, 0xD4})
	assert.Equal(t, []string{"Page 000: 04 A1 B2 9F", "Page 001: C3 D4"}, lines)
	assert.Equal(t, "E1103E00", formatHexString([]byte{0xE1, 0x10, 0x3E, 0x00}))
}

func TestVerifyText(t *testing.T) {
	t.Parallel()
	require.NoError(t, verifyText("abc", "abc"))
	require.Error(t, verifyText("abc", "ab"))
}
