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

package testing

type crcKind int

const (
	crcA crcKind = iota
	crcB
)

func crc(data []byte, k crcKind) uint16 {
	c := uint16(0x6363)
	if k == crcB {
		c = 0xFFFF
	}
	for _, b := range data {
		b ^= byte(c)
		b ^= b << 4
		w := uint16(b)
		c = (c >> 8) ^ (w << 8) ^ (w << 3) ^ (w >> 4)
	}
	if k == crcB {
		c = ^c
	}
	return c
}

func appendCRC(data []byte, k crcKind) []byte {
	c := crc(data, k)
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	return append(out, byte(c), byte(c>>8))
}

// checkCRC strips and verifies the trailing CRC.
func checkCRC(frame []byte, k crcKind) ([]byte, bool) {
	if len(frame) < 3 {
		return nil, false
	}
	body := frame[:len(frame)-2]
	c := crc(body, k)
	return body, frame[len(frame)-2] == byte(c) && frame[len(frame)-1] == byte(c>>8)
}
