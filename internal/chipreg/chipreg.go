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

// Package chipreg holds the register map of the MFRC522 compatible reader
// IC driven by the chip front-end.
package chipreg

// Registers
const (
	Command    = 0x01
	ComIEn     = 0x02
	DivIEn     = 0x03
	ComIrq     = 0x04
	DivIrq     = 0x05
	Error      = 0x06
	Status1    = 0x07
	Status2    = 0x08
	FIFOData   = 0x09
	FIFOLevel  = 0x0A
	Control    = 0x0C
	BitFraming = 0x0D
	Coll       = 0x0E
	Mode       = 0x11
	TxMode     = 0x12
	RxMode     = 0x13
	TxControl  = 0x14
	TxASK      = 0x15
	RFCfg      = 0x26
	GsN        = 0x27
	CWGsP      = 0x28
	ModGsP     = 0x29
	TMode      = 0x2A
	TPrescaler = 0x2B
	TReloadH   = 0x2C
	TReloadL   = 0x2D
	Version    = 0x37

	// NumRegs is the size of the register file.
	NumRegs = 0x40
)

// Commands written to the Command register
const (
	CmdIdle       = 0x00
	CmdCalcCRC    = 0x03
	CmdTransceive = 0x0C
	CmdMFAuthent  = 0x0E
	CmdSoftReset  = 0x0F

	// CmdPowerDown is the soft power down bit of the Command register.
	CmdPowerDown = 0x10
)

// ComIrq bits
const (
	IrqTx    = 0x40
	IrqRx    = 0x20
	IrqIdle  = 0x10
	IrqErr   = 0x02
	IrqTimer = 0x01

	// IrqClearAll clears every ComIrq flag when written.
	IrqClearAll = 0x7F
)

// Error register bits
const (
	ErrBufferOvfl = 0x10
	ErrColl       = 0x08
	ErrCRC        = 0x04
	ErrParity     = 0x02
	ErrProtocol   = 0x01
)

// Field bits
const (
	// FIFOFlush in FIFOLevel clears the FIFO when written.
	FIFOFlush = 0x80
	// StartSend in BitFraming starts the transmission of a Transceive.
	StartSend = 0x80
	// RxLastBitsMask in Control gives the valid bits of the last byte.
	RxLastBitsMask = 0x07
	// CollPosNotValid in Coll is set when no collision position is known.
	CollPosNotValid = 0x20
	// CollPosMask in Coll gives the collision bit position, 0 meaning 32.
	CollPosMask = 0x1F
	// MFCrypto1On in Status2 is set while Crypto1 is active.
	MFCrypto1On = 0x08
	// TxRFEnable turns on both antenna drivers in TxControl.
	TxRFEnable = 0x03
	// TAuto in TMode starts the timer at the end of a transmission.
	TAuto = 0x80
	// Force100ASK in TxASK selects Type A modulation.
	Force100ASK = 0x40
	// ModeCRCPreset6363 in Mode selects the Type A CRC preset.
	ModeCRCPreset6363 = 0x3D
	// TxSpeedShift positions the bit rate field of TxMode and RxMode.
	TxSpeedShift = 4
	// FramingB selects Type B framing in TxMode and RxMode.
	FramingB = 0x03
)

// Known values of the Version register
const (
	VersionV1    = 0x91
	VersionV2    = 0x92
	VersionClone = 0x88
)

// TimerTick is the period of one timer count with the default prescaler
// (13.56MHz / (2*0xA9+1) = 40kHz), in microseconds.
const TimerTick = 25

// DefaultPrescaler is the TPrescaler value giving TimerTick.
const DefaultPrescaler = 0xA9

// ReadAddr returns the SPI address byte reading reg.
func ReadAddr(reg byte) byte {
	return ((reg << 1) & 0x7E) | 0x80
}

// WriteAddr returns the SPI address byte writing reg.
func WriteAddr(reg byte) byte {
	return (reg << 1) & 0x7E
}

// DecodeAddr splits an SPI address byte into register and direction.
func DecodeAddr(addr byte) (reg byte, read bool) {
	return (addr >> 1) & 0x3F, addr&0x80 != 0
}
