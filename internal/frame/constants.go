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

// Package frame implements the framing used on the serial link between the
// host and the front-end MCU.
//
// Request:  STX LEN_H LEN_L CMD DATA... BCC ETX
// Response: STX LEN_H LEN_L CMD STATUS DATA... BCC ETX
//
// LEN counts the bytes between LEN_L and BCC. BCC is the XOR of LEN_H
// through the last data byte.
package frame

// Frame markers
const (
	STX = 0x02 // Start of frame
	ETX = 0x03 // End of frame
)

// Frame size limits
const (
	MaxDataLength  = 1024 // Maximum payload length
	HeaderLength   = 3    // STX + 16-bit length
	TrailerLength  = 2    // BCC + ETX
	MinFrameLength = HeaderLength + 1 + TrailerLength
)

// Card front-end commands
const (
	CmdVersion      = 0x01
	CmdReset        = 0x10
	CmdField        = 0x11
	CmdProtocol     = 0x12
	CmdBitRate      = 0x13
	CmdConfigure    = 0x14
	CmdTransceive   = 0x20
	CmdAuthenticate = 0x21
	CmdStopCrypto   = 0x22
)

// Secure element commands
const (
	CmdPSAMReset     = 0x30
	CmdPSAMAPDU      = 0x31
	CmdPSAMBaud      = 0x32
	CmdPSAMPowerDown = 0x33
	CmdPSAMFwBegin   = 0x34
	CmdPSAMFwChunk   = 0x35
	CmdPSAMFwEnd     = 0x36
	CmdPSAMPassthru  = 0x3F
)

// Transceive flag bits
const (
	// TxLastBitsMask selects the valid bits of the last transmitted byte.
	TxLastBitsMask = 0x07
	// RxAlignShift positions the receive alignment in the flags byte.
	RxAlignShift = 4
)
