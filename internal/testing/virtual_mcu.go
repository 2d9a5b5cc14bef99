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

package testing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/ZaparooProject/go-nfc/internal/frame"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// Front-end status codes
const (
	statusOK          = 0x00
	statusTimeout     = 0x01
	statusCollision   = 0x04
	statusAuth        = 0x05
	statusParam       = 0x80
	statusUnsupported = 0x81
)

// VirtualMCU simulates the front-end MCU at the serial frame level. It
// implements io.ReadWriter: the host writes request frames and reads the
// responses. A SAM attached to it answers the secure element commands.
type VirtualMCU struct {
	Field    *Field
	SAM      *VirtualSAM
	Firmware string
	// Config holds the last front-end tuning received.
	Config     []byte
	rxBuffer   bytes.Buffer
	txBuffer   bytes.Buffer
	commands   []byte
	mu         syncutil.Mutex
	injectBCC  bool
	dropNext   bool
	resetCount int
	bitRate    [2]byte
}

// NewVirtualMCU creates a front-end MCU with the given cards in its field.
func NewVirtualMCU(cards ...*VirtualCard) *VirtualMCU {
	return &VirtualMCU{
		Field:    &Field{Cards: cards},
		Firmware: "virtual-mcu 1.0",
	}
}

// Write receives request frames from the host.
func (v *VirtualMCU) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rxBuffer.Write(data)
	v.processReceivedData()
	return len(data), nil
}

// Read returns pending response bytes, 0 when none are waiting.
func (v *VirtualMCU) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, _ := v.txBuffer.Read(buf)
	return n, nil
}

// InjectBCCError corrupts the checksum of the next response.
func (v *VirtualMCU) InjectBCCError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectBCC = true
}

// DropNextResponse swallows the next response.
func (v *VirtualMCU) DropNextResponse() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropNext = true
}

// Commands returns the command bytes received so far.
func (v *VirtualMCU) Commands() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return bytes.Clone(v.commands)
}

// CommandCount returns how often cmd was received.
func (v *VirtualMCU) CommandCount(cmd byte) int {
	return bytes.Count(v.Commands(), []byte{cmd})
}

// Resets returns how many reset commands were received.
func (v *VirtualMCU) Resets() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.resetCount
}

// BitRate returns the last DSI and DRI set by the host.
func (v *VirtualMCU) BitRate() (dsi, dri byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bitRate[0], v.bitRate[1]
}

// WithField runs fn with the field locked.
func (v *VirtualMCU) WithField(fn func(f *Field)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.Field)
}

// processReceivedData handles every complete request in the buffer and
// drops garbage in front of a frame start.
func (v *VirtualMCU) processReceivedData() {
	for {
		data := v.rxBuffer.Bytes()
		i := bytes.IndexByte(data, frame.STX)
		if i < 0 {
			v.rxBuffer.Reset()
			return
		}
		v.rxBuffer.Next(i)
		data = v.rxBuffer.Bytes()

		n, err := frame.FrameLength(data)
		if errors.Is(err, frame.ErrIncomplete) {
			return
		}
		if err != nil {
			v.rxBuffer.Next(1)
			continue
		}
		if len(data) < n {
			return
		}
		cmd, payload, err := frame.DecodeRequest(data[:n])
		v.rxBuffer.Next(n)
		if err != nil {
			continue
		}
		v.commands = append(v.commands, cmd)
		status, resp := v.processCommand(cmd, payload)
		v.sendResponse(cmd, status, resp)
	}
}

func (v *VirtualMCU) sendResponse(cmd, status byte, data []byte) {
	if v.dropNext {
		v.dropNext = false
		return
	}
	out, err := frame.EncodeResponse(cmd, status, data)
	if err != nil {
		out, _ = frame.EncodeResponse(cmd, statusParam, nil)
	}
	if v.injectBCC {
		v.injectBCC = false
		out[len(out)-2] ^= 0xFF
	}
	v.txBuffer.Write(out)
}

func (v *VirtualMCU) processCommand(cmd byte, data []byte) (byte, []byte) {
	switch cmd {
	case frame.CmdVersion:
		return statusOK, []byte(v.Firmware)
	case frame.CmdReset:
		v.resetCount++
		v.Field.setOn(false)
		v.bitRate = [2]byte{}
		return statusOK, nil
	case frame.CmdConfigure:
		v.Config = bytes.Clone(data)
		return statusOK, nil
	case frame.CmdField:
		if len(data) != 1 {
			return statusParam, nil
		}
		v.Field.setOn(data[0] != 0)
		return statusOK, nil
	case frame.CmdProtocol:
		if len(data) != 1 || data[0] < ProtoA || data[0] > ProtoIDCard {
			return statusUnsupported, nil
		}
		v.Field.setProtocol(data[0])
		return statusOK, nil
	case frame.CmdBitRate:
		if len(data) != 2 {
			return statusParam, nil
		}
		v.bitRate = [2]byte{data[0], data[1]}
		return statusOK, nil
	case frame.CmdTransceive:
		return v.handleTransceive(data)
	case frame.CmdAuthenticate:
		if len(data) != 12 {
			return statusParam, nil
		}
		if !v.Field.authenticate(data[0], data[1], data[2:8], data[8:12]) {
			return statusAuth, nil
		}
		return statusOK, nil
	case frame.CmdStopCrypto:
		v.Field.stopCrypto()
		return statusOK, nil
	}
	if v.SAM != nil {
		return v.SAM.handleMCU(cmd, data)
	}
	return statusUnsupported, nil
}

func (v *VirtualMCU) handleTransceive(data []byte) (byte, []byte) {
	if len(data) < 4 {
		return statusParam, nil
	}
	bits := int(data[0] & frame.TxLastBitsMask)
	ans := v.Field.transceive(data[3:], bits)
	switch {
	case !ans.ok:
		return statusTimeout, nil
	case ans.collision >= 0:
		return statusCollision, append([]byte{byte(ans.collision)}, ans.data...)
	default:
		return statusOK, append([]byte{byte(ans.bits)}, ans.data...)
	}
}

// mcuFirmware collects a secure element firmware image.
type mcuFirmware struct {
	image []byte
	size  int
}

func (f *mcuFirmware) begin(data []byte) byte {
	if len(data) != 4 {
		return statusParam
	}
	f.size = int(binary.BigEndian.Uint32(data))
	f.image = f.image[:0]
	return statusOK
}

func (f *mcuFirmware) chunk(data []byte) byte {
	if len(data) < 4 || int(binary.BigEndian.Uint32(data)) != len(f.image) {
		return statusParam
	}
	f.image = append(f.image, data[4:]...)
	if len(f.image) > f.size {
		return statusParam
	}
	return statusOK
}

func (f *mcuFirmware) end(data []byte) byte {
	if len(data) != 5 || len(f.image) != f.size {
		return statusParam
	}
	if binary.BigEndian.Uint32(data) != crc32.ChecksumIEEE(f.image) {
		return statusParam
	}
	return statusOK
}
