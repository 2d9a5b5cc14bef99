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
	"fmt"
	"time"
)

// xfer describes one raw frame exchange with the card.
type xfer struct {
	tx []byte
	// txLastBits is the number of valid bits in the last tx byte, 0 means 8.
	txLastBits int
	// rxAlign is the bit position in the first rx byte where the first
	// received bit is stored. Used by bit oriented anticollision.
	rxAlign int
	timeout time.Duration
}

// rxFrame is the raw answer of a card.
type rxFrame struct {
	data []byte
	// lastBits is the number of valid bits in the last byte, 0 means 8.
	lastBits int
}

// collisionError reports a bit collision during anticollision. bit is the
// 0-based index of the first colliding bit counted from the start of the
// UID field of the anticollision frame, known bits included.
type collisionError struct {
	bit int
}

func (e *collisionError) Error() string {
	return fmt.Sprintf("bit collision at bit %d", e.bit)
}

func (*collisionError) Unwrap() error {
	return ErrProtocol
}

// frontend is the physical side of the protocol engine: a reader IC or a
// companion MCU that moves raw frames to and from the card. Crypto1 runs
// inside the front-end; once authenticate succeeds, transceive encrypts and
// decrypts transparently until stopCrypto.
type frontend interface {
	name() string
	// reset hard resets the front-end and applies cfg. The field is off
	// afterwards.
	reset(cfg *Config) error
	field(on bool) error
	setProtocol(p Protocol) error
	// setBitRate switches the ISO14443-4 bit rate divisors (0..3).
	setBitRate(dsi, dri byte) error
	// transceive sends x.tx and returns the answer. A silent card is an
	// error wrapping ErrTimeout.
	transceive(x xfer) (rxFrame, error)
	authenticate(kt KeyType, block byte, key Key, uid [4]byte, timeout time.Duration) error
	stopCrypto() error
	// valueOps reports whether value block commands are available.
	valueOps() bool
	close() error
}

// Front-end status codes. The MCU reports them directly; the chip
// front-end maps its error register onto them.
const (
	feStatusOK          byte = 0x00
	feStatusTimeout     byte = 0x01
	feStatusCRC         byte = 0x02
	feStatusParity      byte = 0x03
	feStatusCollision   byte = 0x04
	feStatusAuth        byte = 0x05
	feStatusOverflow    byte = 0x06
	feStatusProtocol    byte = 0x07
	feStatusParam       byte = 0x80
	feStatusUnsupported byte = 0x81
)

func frontendStatusMeaning(status byte) string {
	switch status {
	case feStatusOK:
		return "success"
	case feStatusTimeout:
		return "no answer from card"
	case feStatusCRC:
		return "CRC error"
	case feStatusParity:
		return "parity error"
	case feStatusCollision:
		return "bit collision"
	case feStatusAuth:
		return "authentication error"
	case feStatusOverflow:
		return "buffer overflow"
	case feStatusProtocol:
		return "RF protocol error"
	case feStatusParam:
		return "invalid parameter"
	case feStatusUnsupported:
		return "command not supported"
	default:
		return "unknown error"
	}
}

// frontendStatusKind maps a front-end status to an error kind.
func frontendStatusKind(status byte) error {
	switch status {
	case feStatusTimeout:
		return ErrTimeout
	case feStatusAuth:
		return ErrAuthentication
	case feStatusParam:
		return ErrParameter
	case feStatusUnsupported:
		return ErrUnsupported
	default:
		return ErrProtocol
	}
}

func newFrontendError(op string, status byte) *FrontendError {
	return &FrontendError{Op: op, Status: status, Kind: frontendStatusKind(status)}
}

func newFrontend(t FrontendType, host HostTransport) (frontend, error) {
	switch t {
	case FrontendChip:
		return newChipFrontend(host), nil
	case FrontendMCU:
		return newMCUFrontend(host), nil
	default:
		return nil, fmt.Errorf("%w: front-end type %s", ErrParameter, t)
	}
}
