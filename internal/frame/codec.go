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

package frame

import (
	"errors"
	"fmt"
)

// Frame errors
var (
	ErrIncomplete  = errors.New("incomplete frame")
	ErrBadMarker   = errors.New("bad frame marker")
	ErrBadBCC      = errors.New("BCC mismatch")
	ErrBadLength   = errors.New("bad frame length")
	ErrDataTooLong = errors.New("payload too long")
)

// Response is a decoded MCU response frame.
type Response struct {
	Data   []byte
	Cmd    byte
	Status byte
}

// EncodeRequest builds a request frame for cmd.
func EncodeRequest(cmd byte, data []byte) ([]byte, error) {
	return encode(append([]byte{cmd}, data...))
}

// EncodeResponse builds a response frame. Used by simulators.
func EncodeResponse(cmd, status byte, data []byte) ([]byte, error) {
	return encode(append([]byte{cmd, status}, data...))
}

func encode(body []byte) ([]byte, error) {
	if len(body) > MaxDataLength+2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrDataTooLong, len(body))
	}
	out := make([]byte, 0, len(body)+HeaderLength+TrailerLength)
	out = append(out, STX, byte(len(body)>>8), byte(len(body)))
	out = append(out, body...)
	out = append(out, CalculateBCC(out[1:]), ETX)
	return out, nil
}

// BodyLength validates a frame header and returns the number of bytes
// that follow it, trailer included.
func BodyLength(header []byte) (int, error) {
	if len(header) < HeaderLength {
		return 0, ErrIncomplete
	}
	if header[0] != STX {
		return 0, fmt.Errorf("%w: 0x%02X", ErrBadMarker, header[0])
	}
	n := int(header[1])<<8 | int(header[2])
	if n == 0 || n > MaxDataLength+2 {
		return 0, fmt.Errorf("%w: %d", ErrBadLength, n)
	}
	return n + TrailerLength, nil
}

// decodeBody validates a complete frame and returns the bytes between the
// header and the trailer.
func decodeBody(buf []byte) ([]byte, error) {
	n, err := BodyLength(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < HeaderLength+n {
		return nil, ErrIncomplete
	}
	end := HeaderLength + n
	if buf[end-1] != ETX {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadMarker, buf[end-1])
	}
	if CalculateBCC(buf[1:end-TrailerLength]) != buf[end-TrailerLength] {
		return nil, ErrBadBCC
	}
	return buf[HeaderLength : end-TrailerLength], nil
}

// DecodeRequest parses a request frame. Used by simulators.
func DecodeRequest(buf []byte) (cmd byte, data []byte, err error) {
	body, err := decodeBody(buf)
	if err != nil {
		return 0, nil, err
	}
	return body[0], append([]byte(nil), body[1:]...), nil
}

// DecodeResponse parses a response frame.
func DecodeResponse(buf []byte) (*Response, error) {
	body, err := decodeBody(buf)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: response without status", ErrBadLength)
	}
	return &Response{
		Cmd:    body[0],
		Status: body[1],
		Data:   append([]byte(nil), body[2:]...),
	}, nil
}

// FrameLength returns the total length of the frame starting at buf[0],
// or ErrIncomplete if the header is not complete yet.
func FrameLength(buf []byte) (int, error) {
	n, err := BodyLength(buf)
	if err != nil {
		return 0, err
	}
	return HeaderLength + n, nil
}
