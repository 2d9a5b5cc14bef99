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

package uart

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	nfc "github.com/ZaparooProject/go-nfc"
	virt "github.com/ZaparooProject/go-nfc/internal/testing"
)

var errPortClosed = errors.New("port is closed")

// mockPort wraps a virtual front-end MCU in the serial.Port interface.
type mockPort struct {
	sim         *virt.VirtualMCU
	readTimeout time.Duration
	dtr, rts    bool
	flushes     int
	drainErrs   int
	closed      bool
	mu          sync.Mutex
}

func newMockPort(cards ...*virt.VirtualCard) *mockPort {
	return &mockPort{sim: virt.NewVirtualMCU(cards...)}
}

func (*mockPort) SetMode(*serial.Mode) error { return nil }

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errPortClosed
	}
	return m.sim.Read(p)
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errPortClosed
	}
	return m.sim.Write(p)
}

func (m *mockPort) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drainErrs > 0 {
		m.drainErrs--
		return errors.New("drain: interrupted system call")
	}
	return nil
}

func (m *mockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	buf := make([]byte, 256)
	for {
		if n, _ := m.sim.Read(buf); n == 0 {
			return nil
		}
	}
}

func (*mockPort) ResetOutputBuffer() error { return nil }

func (m *mockPort) SetDTR(dtr bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dtr = dtr
	return nil
}

func (m *mockPort) SetRTS(rts bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rts = rts
	return nil
}

func (*mockPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (m *mockPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = t
	return nil
}

func (m *mockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (*mockPort) Break(time.Duration) error { return nil }

func newTestTransport(t *testing.T, port *mockPort) *Transport {
	t.Helper()
	tr, err := newTransport(port, "/dev/mock")
	require.NoError(t, err)
	return tr
}

func TestPlatformHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, runtime.GOOS == "windows", isWindows())
	if isWindows() {
		assert.Equal(t, 100*time.Millisecond, getWindowsTimeout())
	} else {
		assert.Equal(t, 50*time.Millisecond, getWindowsTimeout())

		start := time.Now()
		windowsPostWriteDelay()
		assert.Less(t, time.Since(start), 5*time.Millisecond)
	}
}

func TestIsInterruptedSystemCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "eintr", err: errors.New("read: EINTR"), want: true},
		{name: "text", err: errors.New("interrupted system call"), want: true},
		{name: "other", err: errors.New("device gone"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isInterruptedSystemCall(tt.err))
		})
	}
}

func TestTransport_ReadTimeout(t *testing.T) {
	t.Parallel()

	port := newMockPort()
	tr := newTestTransport(t, port)

	buf := make([]byte, 8)
	_, err := tr.Read(buf, 20*time.Millisecond)
	require.ErrorIs(t, err, nfc.ErrTimeout)
	assert.Equal(t, 20*time.Millisecond, port.readTimeout)

	n, err := tr.Read(buf, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransport_DrainRetry(t *testing.T) {
	t.Parallel()

	port := newMockPort()
	port.drainErrs = 2
	tr := newTestTransport(t, port)

	_, err := tr.Write([]byte{0x00})
	require.NoError(t, err)

	port.drainErrs = 5
	_, err = tr.Write([]byte{0x00})
	require.Error(t, err)
}

func TestTransport_GPIO(t *testing.T) {
	t.Parallel()

	port := newMockPort()
	tr := newTestTransport(t, port)

	require.NoError(t, tr.GPIO(nfc.GPIOReset, false))
	assert.True(t, port.dtr)
	require.NoError(t, tr.GPIO(nfc.GPIOReset, true))
	assert.False(t, port.dtr)

	require.NoError(t, tr.GPIO(nfc.GPIOMode, false))
	assert.True(t, port.rts)

	require.ErrorIs(t, tr.GPIO(nfc.GPIOStandby, true), nfc.ErrUnsupported)
}

func TestTransport_ExchangeLength(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, newMockPort())
	require.ErrorIs(t, tr.Exchange([]byte{1, 2}, make([]byte, 1)), nfc.ErrParameter)
}

func TestTransport_Close(t *testing.T) {
	t.Parallel()

	port := newMockPort()
	tr := newTestTransport(t, port)
	assert.Equal(t, "/dev/mock", tr.PortName())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, port.closed)

	_, err := tr.Read(make([]byte, 1), time.Millisecond)
	require.ErrorIs(t, err, nfc.ErrTransportClose)
	_, err = tr.Write([]byte{1})
	require.ErrorIs(t, err, nfc.ErrTransportClose)
	require.ErrorIs(t, tr.Flush(), nfc.ErrTransportClose)
	require.ErrorIs(t, tr.GPIO(nfc.GPIOReset, true), nfc.ErrTransportClose)
}

func TestTransport_DetectOverUART(t *testing.T) {
	t.Parallel()

	tests := []struct {
		card func() *virt.VirtualCard
		name string
		want nfc.CardType
	}{
		{name: "mifare 1k", card: func() *virt.VirtualCard { return virt.NewMifare1K(nil) },
			want: nfc.CardTypeMF1S503},
		{name: "ntag", card: func() *virt.VirtualCard { return virt.NewNTAG(virt.KindNTAG215, nil) },
			want: nfc.CardTypeUltralight},
		{name: "vicc", card: func() *virt.VirtualCard { return virt.NewVICC(nil) },
			want: nfc.CardTypeISO15693},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			port := newMockPort(tt.card())
			tr := newTestTransport(t, port)
			cfg := nfc.DefaultConfig()
			cfg.Ops.CardProtocol = nfc.ProtocolMaskA | nfc.ProtocolMaskB | nfc.ProtocolMask15693

			h, err := nfc.Init(tr, cfg, nfc.FrontendMCU, nfc.WithRetryConfig(&nfc.RetryConfig{}))
			require.NoError(t, err)
			defer func() { _ = h.Close() }()

			info, err := h.Detect()
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.CardType)
		})
	}
}

func TestTransport_DetectNoCard(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, newMockPort())
	h, err := nfc.Init(tr, nfc.DefaultConfig(), nfc.FrontendMCU, nfc.WithRetryConfig(&nfc.RetryConfig{}))
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	_, err = h.Detect()
	require.ErrorIs(t, err, nfc.ErrNoCard)
}
