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

// Package alpar encodes the ALPAR protocol spoken by contact smart card
// interface controllers of the TDA8029 family.
//
// A frame is an acknowledge byte, a 16-bit big endian payload length, a
// command byte, the payload and an LRC that XORs every preceding byte. The
// host always sends ACK; the controller answers ACK on success and NAK with
// a one byte status payload on failure.
package alpar

import (
	"errors"
	"fmt"
)

// Frame markers
const (
	ACK = 0x60
	NAK = 0xE0

	HeaderLength  = 4
	MaxDataLength = 512
)

// Commands
const (
	CmdCardCommand   = 0x00
	CmdCheckPresence = 0x09
	CmdSetBaud       = 0x0B
	CmdPowerOff      = 0x4D
	CmdPowerUp5V     = 0x6E
	CmdPowerUp3V     = 0x6D
)

// Frame errors
var (
	ErrIncomplete  = errors.New("incomplete frame")
	ErrBadMarker   = errors.New("bad frame marker")
	ErrBadLRC      = errors.New("LRC mismatch")
	ErrDataTooLong = errors.New("payload too long")
)

// Frame is a decoded ALPAR frame.
type Frame struct {
	Data []byte
	Cmd  byte
	// Nak is set when the controller refused the command; Data then holds
	// the status byte.
	Nak bool
}

// Status returns the error status of a NAK frame, 0 otherwise.
func (f *Frame) Status() byte {
	if !f.Nak || len(f.Data) == 0 {
		return 0
	}
	return f.Data[0]
}

// LRC returns the XOR of data.
func LRC(data []byte) byte {
	var lrc byte
	for _, b := range data {
		lrc ^= b
	}
	return lrc
}

// Encode builds an ACK frame for cmd.
func Encode(cmd byte, data []byte) ([]byte, error) {
	return encode(ACK, cmd, data)
}

// EncodeNak builds a NAK frame carrying status. Used by simulators.
func EncodeNak(cmd, status byte) []byte {
	out, _ := encode(NAK, cmd, []byte{status})
	return out
}

func encode(marker, cmd byte, data []byte) ([]byte, error) {
	if len(data) > MaxDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrDataTooLong, len(data))
	}
	out := make([]byte, 0, HeaderLength+len(data)+1)
	out = append(out, marker, byte(len(data)>>8), byte(len(data)), cmd)
	out = append(out, data...)
	return append(out, LRC(out)), nil
}

// FrameLength returns the total length of the frame starting at buf[0].
func FrameLength(buf []byte) (int, error) {
	if len(buf) < HeaderLength {
		return 0, ErrIncomplete
	}
	if buf[0] != ACK && buf[0] != NAK {
		return 0, fmt.Errorf("%w: 0x%02X", ErrBadMarker, buf[0])
	}
	n := int(buf[1])<<8 | int(buf[2])
	if n > MaxDataLength {
		return 0, fmt.Errorf("%w: %d bytes", ErrDataTooLong, n)
	}
	return HeaderLength + n + 1, nil
}

// Decode parses one complete frame.
func Decode(buf []byte) (*Frame, error) {
	n, err := FrameLength(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < n {
		return nil, ErrIncomplete
	}
	if LRC(buf[:n-1]) != buf[n-1] {
		return nil, ErrBadLRC
	}
	return &Frame{
		Cmd:  buf[3],
		Nak:  buf[0] == NAK,
		Data: append([]byte(nil), buf[HeaderLength:n-1]...),
	}, nil
}
