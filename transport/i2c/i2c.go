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

// Package i2c attaches a secure element controller speaking ALPAR over an
// I2C bus. It implements nfc.PSAMTransport for the chip front-end.
//
// Every read transaction starts with a count byte: zero when the
// controller has nothing queued, otherwise the number of valid bytes that
// follow.
package i2c

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	nfc "github.com/ZaparooProject/go-nfc"
)

const (
	// DefaultAddr is the 7-bit address of the controller.
	DefaultAddr = 0x50

	maxClockFreq = 400 * physic.KiloHertz

	// largest read transaction, count byte included
	maxRead = 64
)

// Transport is an I2C link to the controller.
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser
	busName string
	buf     [maxRead]byte
	mu      sync.Mutex
	closed  bool
}

// parseI2CPath splits "/dev/i2c-1:0x50" into the bus and address. A bare
// bus uses DefaultAddr.
func parseI2CPath(path string) (bus string, addr uint16, err error) {
	bus, a, ok := strings.Cut(path, ":")
	if !ok {
		return bus, DefaultAddr, nil
	}
	var v uint16
	if _, err := fmt.Sscanf(a, "0x%x", &v); err != nil || v > 0x7F {
		return "", 0, fmt.Errorf("%w: bad I2C address %q", nfc.ErrParameter, a)
	}
	return bus, v, nil
}

// New opens the bus named by path, optionally suffixed with ":0xNN".
func New(path string) (*Transport, error) {
	busName, addr, err := parseI2CPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nfc.NewTransportError("open", busName, err, nfc.ErrorTypePermanent)
	}
	_ = bus.SetSpeed(maxClockFreq) // keep the default speed on failure
	return newTransport(bus, busName, addr), nil
}

func newTransport(bus i2c.BusCloser, name string, addr uint16) *Transport {
	return &Transport{dev: &i2c.Dev{Addr: addr, Bus: bus}, bus: bus, busName: name}
}

// readOnce runs one read transaction into buf and returns the valid count.
func (t *Transport) readOnce(buf []byte) (int, error) {
	size := min(len(buf)+1, maxRead)
	if err := t.dev.Tx(nil, t.buf[:size]); err != nil {
		return 0, nfc.NewTransportError("read", t.busName, err, nfc.ErrorTypeTransient)
	}
	n := min(int(t.buf[0]), size-1)
	copy(buf, t.buf[1:1+n])
	return n, nil
}

// Recv polls the controller until it has data or timeout passes.
func (t *Transport) Recv(buf []byte, timeout time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, nfc.ErrTransportClose
	}
	deadline := time.Now().Add(timeout)
	delay := time.Millisecond
	for {
		n, err := t.readOnce(buf)
		if err != nil || n > 0 {
			return n, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if timeout <= 0 {
				return 0, nil
			}
			return 0, nfc.NewTimeoutError("recv", t.busName)
		}
		// 1ms, 2ms, 4ms, capped at 8ms
		time.Sleep(min(delay, remaining))
		delay = min(delay*2, 8*time.Millisecond)
	}
}

// Send writes buf in one transaction.
func (t *Transport) Send(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, nfc.ErrTransportClose
	}
	if err := t.dev.Tx(buf, nil); err != nil {
		return 0, nfc.NewTransportError("send", t.busName, err, nfc.ErrorTypeTransient)
	}
	return len(buf), nil
}

// Flush reads until the controller reports nothing queued.
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nfc.ErrTransportClose
	}
	var scratch [maxRead - 1]byte
	for range 16 {
		n, err := t.readOnce(scratch[:])
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// Exchange writes tx then reads len(rx) bytes.
func (t *Transport) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("%w: exchange of %d and %d bytes", nfc.ErrParameter, len(tx), len(rx))
	}
	if _, err := t.Send(tx); err != nil {
		return err
	}
	for got := 0; got < len(rx); {
		n, err := t.Recv(rx[got:], 100*time.Millisecond)
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}

// Close releases the bus.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.bus.Close(); err != nil {
		return fmt.Errorf("failed to close I2C bus: %w", err)
	}
	return nil
}

var _ nfc.PSAMTransport = (*Transport)(nil)
