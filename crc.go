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

// crc16 runs the ISO/IEC 13239 CRC (reflected polynomial 0x8408) over data.
func crc16(data []byte, crc uint16) uint16 {
	for _, b := range data {
		b ^= byte(crc & 0xFF)
		b ^= b << 4
		b16 := uint16(b)
		crc = (crc >> 8) ^ (b16 << 8) ^ (b16 << 3) ^ (b16 >> 4)
	}
	return crc
}

// CRCA computes the ISO14443 Type A frame CRC.
func CRCA(data []byte) uint16 {
	return crc16(data, 0x6363)
}

// CRCB computes the ISO14443 Type B frame CRC. ISO15693 uses the same CRC.
func CRCB(data []byte) uint16 {
	return ^crc16(data, 0xFFFF)
}

// appendCRC appends the CRC of data, least significant byte first.
func appendCRC(data []byte, p Protocol) []byte {
	var crc uint16
	if p == ProtocolISO14443A {
		crc = CRCA(data)
	} else {
		crc = CRCB(data)
	}
	return append(data, byte(crc), byte(crc>>8))
}

// checkCRC verifies and strips the trailing CRC of a received frame.
func checkCRC(frame []byte, p Protocol) ([]byte, error) {
	if len(frame) < 3 {
		return nil, ErrInvalidFrame
	}
	body := frame[:len(frame)-2]
	var crc uint16
	if p == ProtocolISO14443A {
		crc = CRCA(body)
	} else {
		crc = CRCB(body)
	}
	if frame[len(frame)-2] != byte(crc) || frame[len(frame)-1] != byte(crc>>8) {
		return nil, ErrCRC
	}
	return body, nil
}
