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

package testing

import (
	"errors"
	"io"
	"slices"
	"time"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// ErrClosed is returned by a closed SimulatorTransport.
var ErrClosed = errors.New("simulator transport closed")

var errNoChip = errors.New("no register level device attached")

// SimulatorTransport connects the engine to a simulated front-end. Framed
// devices (VirtualMCU, VirtualALPAR) are reached through Read and Write,
// a VirtualChip through Exchange. Read never blocks: with nothing pending
// it returns 0 and the caller applies its own timeout.
type SimulatorTransport struct {
	dev  io.ReadWriter
	chip *VirtualChip
	// Writes records every buffer written.
	Writes [][]byte
	lines  map[int]bool
	// MaxChunk limits the bytes returned by one Read, 0 means unlimited.
	MaxChunk int
	delay    time.Duration
	mu       syncutil.Mutex
	closed   bool
}

// NewSimulatorTransport creates a transport backed by a framed device.
func NewSimulatorTransport(dev io.ReadWriter) *SimulatorTransport {
	return &SimulatorTransport{dev: dev, lines: make(map[int]bool)}
}

// NewChipTransport creates a transport backed by a register level chip.
func NewChipTransport(chip *VirtualChip) *SimulatorTransport {
	return &SimulatorTransport{chip: chip, lines: make(map[int]bool)}
}

// Read returns pending bytes from the device.
func (t *SimulatorTransport) Read(buf []byte, _ time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	if t.dev == nil {
		return 0, nil
	}
	if t.MaxChunk > 0 && len(buf) > t.MaxChunk {
		buf = buf[:t.MaxChunk]
	}
	n, err := t.dev.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	return n, nil
}

// Write hands buf to the device.
func (t *SimulatorTransport) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	t.Writes = append(t.Writes, slices.Clone(buf))
	if t.dev == nil {
		return len(buf), nil
	}
	return t.dev.Write(buf)
}

// Recv is Read for the secure element channel.
func (t *SimulatorTransport) Recv(buf []byte, timeout time.Duration) (int, error) {
	return t.Read(buf, timeout)
}

// Send is Write for the secure element channel.
func (t *SimulatorTransport) Send(buf []byte) (int, error) { return t.Write(buf) }

// Exchange runs a full-duplex transfer with the chip.
func (t *SimulatorTransport) Exchange(tx, rx []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.chip == nil {
		return errNoChip
	}
	return t.chip.Exchange(tx, rx)
}

// Flush drops pending device output.
func (t *SimulatorTransport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.dev == nil {
		return nil
	}
	var scratch [64]byte
	for {
		n, err := t.dev.Read(scratch[:])
		if n == 0 || err != nil {
			return nil
		}
	}
}

// SetLine drives a control line.
func (t *SimulatorTransport) SetLine(line int, v bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.lines[line] = v
	return nil
}

// Line returns the last level driven on line.
func (t *SimulatorTransport) Line(line int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lines[line]
}

// DelayUs accounts the delay without sleeping.
func (t *SimulatorTransport) DelayUs(us uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay += time.Duration(us) * time.Microsecond
}

// DelayMs accounts the delay without sleeping.
func (t *SimulatorTransport) DelayMs(ms uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay += time.Duration(ms) * time.Millisecond
}

// Delayed returns the sum of the requested delays.
func (t *SimulatorTransport) Delayed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// Close marks the transport closed.
func (t *SimulatorTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close was called.
func (t *SimulatorTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
