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

package polling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nfc "github.com/ZaparooProject/go-nfc"
	virt "github.com/ZaparooProject/go-nfc/internal/testing"
)

var errUnplugged = errors.New("device unplugged")

// testHost adapts the simulator to nfc.HostTransport. Setting fail makes
// every transfer fail as if the reader was unplugged.
type testHost struct {
	*virt.SimulatorTransport
	fail atomic.Bool
}

func (h *testHost) Read(buf []byte, timeout time.Duration) (int, error) {
	if h.fail.Load() {
		return 0, nfc.NewTransportError("read", "test", errUnplugged, nfc.ErrorTypePermanent)
	}
	n, err := h.SimulatorTransport.Read(buf, timeout)
	if err == nil && n == 0 && timeout > 0 {
		return 0, nfc.NewTimeoutError("read", "test")
	}
	return n, err
}

func (h *testHost) Write(buf []byte) (int, error) {
	if h.fail.Load() {
		return 0, nfc.NewTransportError("write", "test", errUnplugged, nfc.ErrorTypePermanent)
	}
	return h.SimulatorTransport.Write(buf)
}

func (h *testHost) GPIO(line nfc.GPIOLine, v bool) error {
	return h.SetLine(int(line), v)
}

type reader struct {
	h    *nfc.Handle
	mcu  *virt.VirtualMCU
	host *testHost
}

func newReader(t *testing.T, cards ...*virt.VirtualCard) *reader {
	t.Helper()
	mcu := virt.NewVirtualMCU(cards...)
	host := &testHost{SimulatorTransport: virt.NewSimulatorTransport(mcu)}
	h, err := nfc.Init(host, nfc.DefaultConfig(), nfc.FrontendMCU,
		nfc.WithRetryConfig(&nfc.RetryConfig{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return &reader{h: h, mcu: mcu, host: host}
}

// swap replaces the cards in the field.
func (r *reader) swap(cards ...*virt.VirtualCard) {
	r.mcu.WithField(func(f *virt.Field) {
		for _, c := range f.Cards {
			c.Remove()
		}
		f.Add(cards...)
	})
}

func fastConfig() *Config {
	return &Config{
		PollInterval:       5 * time.Millisecond,
		CardRemovalTimeout: 60 * time.Millisecond,
		WriteRetries:       2,
	}
}

// fakeRecoverer clears the host failure and counts attempts.
type fakeRecoverer struct {
	r     *reader
	err   error
	calls atomic.Int32
}

func (f *fakeRecoverer) AttemptRecovery(context.Context) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	f.r.host.fail.Store(false)
	return nil
}

func (f *fakeRecoverer) Handle() *nfc.Handle { return f.r.h }

// startSession runs s.Start in the background and returns its result
// channel. The session is stopped at cleanup.
func startSession(t *testing.T, s *Session) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = s.Close()
	})
	return cancel, done
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}
