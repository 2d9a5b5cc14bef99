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

package nfc

import (
	"fmt"
	"time"
)

// GPIOLine names the control lines of the RF front-end.
type GPIOLine int

const (
	// GPIOReset is the active-low hard reset line.
	GPIOReset GPIOLine = iota
	// GPIOMode selects the front-end interface mode at reset.
	GPIOMode
	// GPIOStandby puts the front-end in low power standby when high.
	GPIOStandby
)

func (l GPIOLine) String() string {
	switch l {
	case GPIOReset:
		return "reset"
	case GPIOMode:
		return "mode"
	case GPIOStandby:
		return "standby"
	default:
		return fmt.Sprintf("GPIOLine(%d)", int(l))
	}
}

// HostTransport is the byte level link to the RF front-end. Implementations
// know nothing about card protocols. All calls are synchronous and are made
// from a single goroutine per handle.
type HostTransport interface {
	// Read waits up to timeout for data. A timeout with no data is reported
	// as an error wrapping ErrTimeout; with a zero timeout Read returns
	// (0, nil) when nothing is pending.
	Read(buf []byte, timeout time.Duration) (int, error)

	// Write sends buf and returns the number of bytes written.
	Write(buf []byte) (int, error)

	// Exchange performs one full-duplex transfer. len(rx) must equal len(tx).
	Exchange(tx, rx []byte) error

	// Flush drops any pending received data.
	Flush() error

	// GPIO drives a front-end control line.
	GPIO(line GPIOLine, value bool) error

	// DelayUs and DelayMs block for the given time.
	DelayUs(us uint32)
	DelayMs(ms uint32)

	// Close releases the link.
	Close() error
}

// PSAMTransport is the byte level link to the secure element controller.
type PSAMTransport interface {
	// Recv waits up to timeout for data, like HostTransport.Read.
	Recv(buf []byte, timeout time.Duration) (int, error)
	Send(buf []byte) (int, error)
	Flush() error
	Exchange(tx, rx []byte) error
	Close() error
}

// FrontendType selects how the RF front-end is attached to the host.
type FrontendType int

const (
	// FrontendMCU is a companion microcontroller speaking a framed command
	// protocol over a serial link.
	FrontendMCU FrontendType = iota
	// FrontendChip is an RF reader IC driven register by register.
	FrontendChip
)

func (t FrontendType) String() string {
	switch t {
	case FrontendMCU:
		return "mcu"
	case FrontendChip:
		return "chip"
	default:
		return fmt.Sprintf("FrontendType(%d)", int(t))
	}
}

// readFull reads exactly len(buf) bytes from t, sharing timeout across the
// partial reads.
func readFull(t HostTransport, buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return NewTimeoutError("read", "")
		}
		n, err := t.Read(buf[got:], remaining)
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}
