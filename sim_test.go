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
	"time"

	"github.com/stretchr/testify/require"

	virt "github.com/ZaparooProject/go-nfc/internal/testing"
)

// simHost adapts the simulator transport to HostTransport and
// PSAMTransport. An empty read with a timeout reports ErrTimeout, the way
// a real link does once the deadline passes.
type simHost struct {
	*virt.SimulatorTransport
}

func (h simHost) Read(buf []byte, timeout time.Duration) (int, error) {
	n, err := h.SimulatorTransport.Read(buf, timeout)
	if err == nil && n == 0 && timeout > 0 {
		return 0, NewTimeoutError("read", "sim")
	}
	return n, err
}

func (h simHost) Recv(buf []byte, timeout time.Duration) (int, error) {
	return h.Read(buf, timeout)
}

func (h simHost) GPIO(line GPIOLine, v bool) error {
	return h.SetLine(int(line), v)
}

// noRetry keeps failed requests from sleeping through backoff.
var noRetry = &RetryConfig{}

// testConfig is DefaultConfig with every air protocol enabled.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Ops.CardProtocol = ProtocolMaskA | ProtocolMaskB | ProtocolMask15693
	return cfg
}

type mcuRig struct {
	h    *Handle
	mcu  *virt.VirtualMCU
	link *virt.SimulatorTransport
}

func newMCUHandle(t *testing.T, cfg *Config, cards ...*virt.VirtualCard) *mcuRig {
	t.Helper()
	mcu := virt.NewVirtualMCU(cards...)
	link := virt.NewSimulatorTransport(mcu)
	if cfg == nil {
		cfg = testConfig()
	}
	h, err := Init(simHost{link}, cfg, FrontendMCU, WithRetryConfig(noRetry))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return &mcuRig{h: h, mcu: mcu, link: link}
}

type chipRig struct {
	h    *Handle
	chip *virt.VirtualChip
	link *virt.SimulatorTransport
}

func newChipHandle(t *testing.T, cfg *Config, cards ...*virt.VirtualCard) *chipRig {
	t.Helper()
	chip := virt.NewVirtualChip(cards...)
	link := virt.NewChipTransport(chip)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	h, err := Init(simHost{link}, cfg, FrontendChip, WithRetryConfig(noRetry))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return &chipRig{h: h, chip: chip, link: link}
}

// frontends runs fn against both front-end variants with the same cards.
// Cards are built per run since the simulators own their state.
func frontends(t *testing.T, cards func() []*virt.VirtualCard, fn func(t *testing.T, h *Handle)) {
	t.Helper()
	t.Run("mcu", func(t *testing.T) {
		t.Parallel()
		fn(t, newMCUHandle(t, DefaultConfig(), cards()...).h)
	})
	t.Run("chip", func(t *testing.T) {
		t.Parallel()
		fn(t, newChipHandle(t, DefaultConfig(), cards()...).h)
	})
}

// selectA wakes and selects the only Type A card in the field.
func selectA(t *testing.T, h *Handle) []byte {
	t.Helper()
	ops := h.Ops()
	require.NoError(t, ops.AntennaControl(true))
	_, err := ops.RequestA()
	require.NoError(t, err)
	uid, _, err := ops.ActivateA()
	require.NoError(t, err)
	return uid
}
