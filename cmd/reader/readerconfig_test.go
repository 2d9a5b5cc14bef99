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

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfc "github.com/ZaparooProject/go-nfc"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadReaderConfig(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "reader.yaml", `
device: /dev/spidev0.0
frontend: chip
protocols: [a, 15693]
work_mode: interactive
identity_card: true
spi:
  reset_pin: GPIO25
  frequency_hz: 2000000
psam:
  device: /dev/i2c-1:0x50
poll:
  interval: 100ms
  removal_timeout: 1s
  write_retries: 5
log:
  format: json
  level: debug
listen: ":8080"
`)
	cfg, err := loadReaderConfig(path)
	require.NoError(t, err)

	ft, err := cfg.frontendType()
	require.NoError(t, err)
	assert.Equal(t, nfc.FrontendChip, ft)
	assert.Equal(t, "GPIO25", cfg.SPI.ResetPin)
	assert.Equal(t, int64(2000000), cfg.SPI.FrequencyHz)
	assert.Equal(t, ":8080", cfg.Listen)

	mc, err := cfg.moduleConfig()
	require.NoError(t, err)
	assert.Equal(t, nfc.ProtocolMaskA|nfc.ProtocolMask15693, mc.Ops.CardProtocol)
	assert.Equal(t, nfc.WorkModeInteractive, mc.WorkMode)
	assert.True(t, mc.Ops.IdentityCardEnable)
	assert.True(t, mc.PSAMEnable)

	pc := cfg.pollingConfig()
	assert.Equal(t, 100*time.Millisecond, pc.PollInterval)
	assert.Equal(t, time.Second, pc.CardRemovalTimeout)
	assert.Equal(t, 5, pc.WriteRetries)
}

func TestLoadReaderConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := loadReaderConfig("")
	require.NoError(t, err)

	mc, err := cfg.moduleConfig()
	require.NoError(t, err)
	assert.Equal(t, nfc.ProtocolMaskA|nfc.ProtocolMaskB, mc.Ops.CardProtocol)
	assert.Equal(t, nfc.WorkModeAuto, mc.WorkMode)
	assert.False(t, mc.PSAMEnable)
}

func TestLoadReaderConfig_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		invalid bool
	}{
		{name: "unknown key", body: "devise: /dev/ttyUSB0\n"},
		{name: "bad duration", body: "poll:\n  interval: soon\n"},
		{name: "bad frontend", body: "frontend: usb\n", invalid: true},
		{name: "bad protocol", body: "protocols: [felica]\n", invalid: true},
		{name: "no protocol", body: "protocols: []\n", invalid: true},
		{name: "bad work mode", body: "work_mode: lazy\n", invalid: true},
		{name: "bad log format", body: "log:\n  format: xml\n", invalid: true},
		{name: "negative timing", body: "poll:\n  interval: -1s\n", invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := loadReaderConfig(writeFile(t, "reader.yaml", tt.body))
			require.Error(t, err)
			if tt.invalid {
				require.ErrorIs(t, err, errInvalidConfig)
			}
		})
	}

	_, err := loadReaderConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestModuleConfig_CBORFile(t *testing.T) {
	t.Parallel()
	base := nfc.DefaultConfig()
	base.Ops.ReadTimeout = 250 * time.Millisecond
	base.Ops.KeyA = "A0A1A2A3A4A5"
	path := filepath.Join(t.TempDir(), "nfc.cbor")
	require.NoError(t, nfc.SaveConfigFile(path, base))

	cfg := defaultReaderConfig()
	cfg.NFCConfig = path
	cfg.Protocols = []string{"b"}
	mc, err := cfg.moduleConfig()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, mc.Ops.ReadTimeout)
	assert.Equal(t, "A0A1A2A3A4A5", mc.Ops.KeyA)
	assert.Equal(t, nfc.ProtocolMaskB, mc.Ops.CardProtocol)
}
