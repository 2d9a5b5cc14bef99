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

// Package spi attaches an RF reader IC over SPI. Register transfers go
// through Exchange and the reset, mode and standby lines are GPIO pins
// resolved by name from the periph registry.
package spi

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	nfc "github.com/ZaparooProject/go-nfc"
)

const (
	// DefaultFrequency is safely below the 10 MHz limit of common reader ICs.
	DefaultFrequency = 4 * physic.MegaHertz

	// Address byte MSB set means register read, mode 0 and MSB first.
	mode = spi.Mode0
)

// Transport drives a reader IC over an SPI bus.
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	lines    map[nfc.GPIOLine]gpio.PinOut
	portName string
	mu       sync.Mutex
	closed   bool
}

type options struct {
	pins map[nfc.GPIOLine]string
	freq physic.Frequency
}

// Option configures New.
type Option func(*options)

// WithFrequency overrides DefaultFrequency.
func WithFrequency(f physic.Frequency) Option {
	return func(o *options) { o.freq = f }
}

// WithPin maps a front-end control line to a named GPIO pin,
// for example WithPin(nfc.GPIOReset, "GPIO25").
func WithPin(line nfc.GPIOLine, name string) Option {
	return func(o *options) { o.pins[line] = name }
}

// New opens the SPI port portName, such as "/dev/spidev0.0" or "SPI0.0".
func New(portName string, opts ...Option) (*Transport, error) {
	o := options{freq: DefaultFrequency, pins: map[nfc.GPIOLine]string{}}
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	lines := make(map[nfc.GPIOLine]gpio.PinOut, len(o.pins))
	for line, name := range o.pins {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: no GPIO pin %q for %s line", nfc.ErrParameter, name, line)
		}
		lines[line] = p
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, nfc.NewTransportError("open", portName, err, nfc.ErrorTypePermanent)
	}
	conn, err := port.Connect(o.freq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}
	return newTransport(port, conn, portName, lines), nil
}

func newTransport(port spi.PortCloser, conn spi.Conn, name string, lines map[nfc.GPIOLine]gpio.PinOut) *Transport {
	if lines == nil {
		lines = map[nfc.GPIOLine]gpio.PinOut{}
	}
	return &Transport{port: port, conn: conn, portName: name, lines: lines}
}

// Exchange runs one full-duplex transfer with chip select held for its
// whole length.
func (t *Transport) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("%w: exchange of %d and %d bytes", nfc.ErrParameter, len(tx), len(rx))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nfc.ErrTransportClose
	}
	if err := t.conn.Tx(tx, rx); err != nil {
		return nfc.NewTransportError("exchange", t.portName, err, nfc.ErrorTypeTransient)
	}
	return nil
}

// Read clocks len(buf) bytes in. The bus master owns the clock, so data
// is always there and timeout has no effect.
func (t *Transport) Read(buf []byte, _ time.Duration) (int, error) {
	tx := make([]byte, len(buf))
	if err := t.Exchange(tx, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Write clocks buf out and discards what comes back.
func (t *Transport) Write(buf []byte) (int, error) {
	if err := t.Exchange(buf, make([]byte, len(buf))); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Flush is a no-op: SPI has no receive buffer.
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nfc.ErrTransportClose
	}
	return nil
}

// GPIO drives a mapped control line. Unmapped lines are nfc.ErrUnsupported.
func (t *Transport) GPIO(line nfc.GPIOLine, value bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nfc.ErrTransportClose
	}
	p, ok := t.lines[line]
	if !ok {
		return fmt.Errorf("%w: %s line not wired", nfc.ErrUnsupported, line)
	}
	if err := p.Out(gpio.Level(value)); err != nil {
		return nfc.NewTransportError("gpio "+line.String(), t.portName, err, nfc.ErrorTypeTransient)
	}
	return nil
}

func (*Transport) DelayUs(us uint32) { time.Sleep(time.Duration(us) * time.Microsecond) }

func (*Transport) DelayMs(ms uint32) { time.Sleep(time.Duration(ms) * time.Millisecond) }

// Close releases the port. The GPIO pins are left as they are.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.port == nil {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close SPI port: %w", err)
	}
	return nil
}

// PortName returns the port the transport was opened on.
func (t *Transport) PortName() string { return t.portName }

var _ nfc.HostTransport = (*Transport)(nil)
