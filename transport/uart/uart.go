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

// Package uart attaches a front-end MCU or a secure element controller over
// a serial port. It implements nfc.HostTransport and nfc.PSAMTransport.
package uart

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	nfc "github.com/ZaparooProject/go-nfc"
)

// DefaultBaudRate is the rate of the front-end MCU link.
const DefaultBaudRate = 115200

// exchangeTimeout bounds the read half of Exchange.
const exchangeTimeout = 100 * time.Millisecond

// Transport is a serial link. The DTR and RTS modem lines double as the
// reset and mode lines of the attached front-end.
type Transport struct {
	port        serial.Port
	portName    string
	readTimeout time.Duration
	mu          sync.Mutex
	closed      bool
}

type options struct {
	baud int
}

// Option configures New.
type Option func(*options)

// WithBaudRate overrides DefaultBaudRate.
func WithBaudRate(baud int) Option {
	return func(o *options) { o.baud = baud }
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// getWindowsTimeout returns the idle read timeout of a fresh port.
func getWindowsTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// windowsPostWriteDelay gives Windows drivers time to push the buffer out.
func windowsPostWriteDelay() {
	if isWindows() {
		time.Sleep(15 * time.Millisecond)
	}
}

// New opens portName 8N1.
func New(portName string, opts ...Option) (*Transport, error) {
	o := options{baud: DefaultBaudRate}
	for _, opt := range opts {
		opt(&o)
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: o.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, nfc.NewTransportError("open", portName, err, nfc.ErrorTypePermanent)
	}
	t, err := newTransport(port, portName)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

func newTransport(port serial.Port, portName string) (*Transport, error) {
	timeout := getWindowsTimeout()
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("UART set read timeout: %w", err)
	}
	return &Transport{port: port, portName: portName, readTimeout: timeout}, nil
}

func (t *Transport) setReadTimeout(timeout time.Duration) error {
	if timeout == t.readTimeout {
		return nil
	}
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("UART set read timeout: %w", err)
	}
	t.readTimeout = timeout
	return nil
}

// Read waits up to timeout for data. An empty read with a positive timeout
// is an nfc.ErrTimeout.
func (t *Transport) Read(buf []byte, timeout time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, nfc.ErrTransportClose
	}
	if err := t.setReadTimeout(max(timeout, 0)); err != nil {
		return 0, err
	}
	const maxRetries = 3
	for attempt := 0; ; attempt++ {
		n, err := t.port.Read(buf)
		if err != nil {
			if isInterruptedSystemCall(err) && attempt < maxRetries {
				continue
			}
			return n, nfc.NewTransportError("read", t.portName, err, nfc.ErrorTypeTransient)
		}
		if n == 0 && timeout > 0 {
			return 0, nfc.NewTimeoutError("read", t.portName)
		}
		return n, nil
	}
}

// Write sends buf and waits for it to leave the port.
func (t *Transport) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, nfc.ErrTransportClose
	}
	n, err := t.port.Write(buf)
	if err != nil {
		return n, nfc.NewTransportError("write", t.portName, err, nfc.ErrorTypeTransient)
	}
	if n != len(buf) {
		return n, nfc.NewTransportError("write", t.portName,
			fmt.Errorf("short write %d of %d", n, len(buf)), nfc.ErrorTypeTransient)
	}
	if err := t.drainWithRetry("write"); err != nil {
		return n, err
	}
	windowsPostWriteDelay()
	return n, nil
}

// Exchange writes tx and reads len(rx) bytes back. A serial link has no
// clocked full-duplex transfer, so the answer follows the request.
func (t *Transport) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("%w: exchange of %d and %d bytes", nfc.ErrParameter, len(tx), len(rx))
	}
	if _, err := t.Write(tx); err != nil {
		return err
	}
	deadline := time.Now().Add(exchangeTimeout)
	for got := 0; got < len(rx); {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nfc.NewTimeoutError("exchange", t.portName)
		}
		n, err := t.Read(rx[got:], remaining)
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}

// Flush drops pending input.
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nfc.ErrTransportClose
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return nfc.NewTransportError("flush", t.portName, err, nfc.ErrorTypeTransient)
	}
	return nil
}

// GPIO drives reset on DTR and mode on RTS. USB serial adapters invert
// both, so a low line is an asserted modem signal.
func (t *Transport) GPIO(line nfc.GPIOLine, value bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nfc.ErrTransportClose
	}
	var err error
	switch line {
	case nfc.GPIOReset:
		err = t.port.SetDTR(!value)
	case nfc.GPIOMode:
		err = t.port.SetRTS(!value)
	default:
		return fmt.Errorf("%w: uart has no %s line", nfc.ErrUnsupported, line)
	}
	if err != nil {
		return nfc.NewTransportError("gpio "+line.String(), t.portName, err, nfc.ErrorTypeTransient)
	}
	return nil
}

func (*Transport) DelayUs(us uint32) { time.Sleep(time.Duration(us) * time.Microsecond) }

func (*Transport) DelayMs(ms uint32) { time.Sleep(time.Duration(ms) * time.Millisecond) }

// Recv and Send make the port usable as a secure element link.
func (t *Transport) Recv(buf []byte, timeout time.Duration) (int, error) { return t.Read(buf, timeout) }

func (t *Transport) Send(buf []byte) (int, error) { return t.Write(buf) }

// Close closes the port. Further calls fail with nfc.ErrTransportClose.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// PortName returns the device path the transport was opened on.
func (t *Transport) PortName() string { return t.portName }

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	var err error
	for attempt := range maxRetries {
		if err = t.port.Drain(); err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) {
			break
		}
		time.Sleep(baseDelay << attempt)
	}
	return nfc.NewTransportError(operation+" drain", t.portName, err, nfc.ErrorTypeTransient)
}

var (
	_ nfc.HostTransport = (*Transport)(nil)
	_ nfc.PSAMTransport = (*Transport)(nil)
)
