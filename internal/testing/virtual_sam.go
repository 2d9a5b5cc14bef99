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

import (
	"bytes"
	"errors"
	"slices"

	"github.com/ZaparooProject/go-nfc/internal/alpar"
	"github.com/ZaparooProject/go-nfc/internal/frame"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// DefaultATR is a T=0 ATR with TA1 = 0x13.
var DefaultATR = []byte{0x3B, 0x16, 0x13, 0x81, 0x31, 0xFE, 0x45, 0x4A}

// VirtualSAM simulates a contact secure element. With T0 set, commands
// returning data answer 61XX for case 4 and 6CXX for a wrong Le, the way
// a T=0 card does.
type VirtualSAM struct {
	// Handler answers APDUs; nil answers 6D 00.
	Handler func(apdu []byte) []byte
	ATR     []byte
	// Firmware is the last complete firmware image.
	Firmware []byte
	pending  []byte
	fw       mcuFirmware
	// Mute makes the secure element ignore commands.
	Mute     bool
	T0       bool
	Powered  bool
	Rebooted bool
	Baud     byte
}

// NewVirtualSAM returns a SAM with DefaultATR.
func NewVirtualSAM(handler func([]byte) []byte) *VirtualSAM {
	return &VirtualSAM{Handler: handler, ATR: slices.Clone(DefaultATR)}
}

// command runs one APDU. nil means the SAM did not answer.
func (s *VirtualSAM) command(apdu []byte) []byte {
	if !s.Powered || s.Mute || len(apdu) < 4 {
		return nil
	}
	if apdu[1] == 0xC0 && s.pending != nil {
		out := append(s.pending, 0x90, 0x00)
		s.pending = nil
		return out
	}
	resp := []byte{0x6D, 0x00}
	if s.Handler != nil {
		resp = s.Handler(apdu)
	}
	if !s.T0 || len(resp) <= 2 || !bytes.Equal(resp[len(resp)-2:], []byte{0x90, 0x00}) {
		return resp
	}
	data := resp[:len(resp)-2]
	if len(apdu) == 5 {
		if int(apdu[4]) != len(data) {
			return []byte{0x6C, byte(len(data))}
		}
		return resp
	}
	s.pending = slices.Clone(data)
	return []byte{0x61, byte(len(data))}
}

func (s *VirtualSAM) powerUp() []byte {
	if s.Mute {
		return nil
	}
	s.Powered = true
	s.pending = nil
	return slices.Clone(s.ATR)
}

// handleMCU answers the secure element commands of the MCU frame protocol.
func (s *VirtualSAM) handleMCU(cmd byte, data []byte) (byte, []byte) {
	switch cmd {
	case frame.CmdPSAMReset:
		atr := s.powerUp()
		if atr == nil {
			return statusTimeout, nil
		}
		return statusOK, atr
	case frame.CmdPSAMAPDU:
		resp := s.command(data)
		if resp == nil {
			return statusTimeout, nil
		}
		return statusOK, resp
	case frame.CmdPSAMBaud:
		if len(data) != 1 || !s.Powered {
			return statusParam, nil
		}
		s.Baud = data[0]
		return statusOK, nil
	case frame.CmdPSAMPowerDown:
		s.Powered = false
		return statusOK, nil
	case frame.CmdPSAMFwBegin:
		return s.fw.begin(data), nil
	case frame.CmdPSAMFwChunk:
		return s.fw.chunk(data), nil
	case frame.CmdPSAMFwEnd:
		st := s.fw.end(data)
		if st == statusOK {
			s.Firmware = slices.Clone(s.fw.image)
			s.Rebooted = data[4] != 0
		}
		return st, nil
	case frame.CmdPSAMPassthru:
		return statusOK, slices.Clone(data)
	default:
		return statusUnsupported, nil
	}
}

// ALPAR status bytes
const (
	alparCardAbsent  = 0x40
	alparUnknownCmd  = 0x20
	alparCardTimeout = 0xC0
)

// VirtualALPAR simulates a TDA8029 style contact card interface speaking
// ALPAR. It implements io.ReadWriter like VirtualMCU.
type VirtualALPAR struct {
	SAM      *VirtualSAM
	rxBuffer bytes.Buffer
	txBuffer bytes.Buffer
	mu       syncutil.Mutex
}

// NewVirtualALPAR wraps sam; a nil sam reports an empty slot.
func NewVirtualALPAR(sam *VirtualSAM) *VirtualALPAR {
	return &VirtualALPAR{SAM: sam}
}

func (v *VirtualALPAR) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rxBuffer.Write(data)
	for {
		buf := v.rxBuffer.Bytes()
		i := bytes.IndexByte(buf, alpar.ACK)
		if i < 0 {
			v.rxBuffer.Reset()
			break
		}
		v.rxBuffer.Next(i)
		buf = v.rxBuffer.Bytes()
		n, err := alpar.FrameLength(buf)
		if errors.Is(err, alpar.ErrIncomplete) || err == nil && len(buf) < n {
			break
		}
		if err != nil {
			v.rxBuffer.Next(1)
			continue
		}
		f, err := alpar.Decode(buf[:n])
		v.rxBuffer.Next(n)
		if err != nil {
			continue
		}
		v.txBuffer.Write(v.handle(f.Cmd, f.Data))
	}
	return len(data), nil
}

func (v *VirtualALPAR) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, _ := v.txBuffer.Read(buf)
	return n, nil
}

func (v *VirtualALPAR) handle(cmd byte, data []byte) []byte {
	ok := func(d []byte) []byte {
		out, _ := alpar.Encode(cmd, d)
		return out
	}
	s := v.SAM
	switch cmd {
	case alpar.CmdCheckPresence:
		if s == nil {
			return ok([]byte{0x00})
		}
		return ok([]byte{0x01})
	case alpar.CmdPowerUp5V, alpar.CmdPowerUp3V:
		if s == nil {
			return alpar.EncodeNak(cmd, alparCardAbsent)
		}
		atr := s.powerUp()
		if atr == nil {
			return alpar.EncodeNak(cmd, alparCardTimeout)
		}
		return ok(atr)
	case alpar.CmdCardCommand:
		if s == nil {
			return alpar.EncodeNak(cmd, alparCardAbsent)
		}
		resp := s.command(data)
		if resp == nil {
			return alpar.EncodeNak(cmd, alparCardTimeout)
		}
		return ok(resp)
	case alpar.CmdSetBaud:
		if s == nil || len(data) != 1 {
			return alpar.EncodeNak(cmd, alparCardAbsent)
		}
		s.Baud = data[0]
		return ok(nil)
	case alpar.CmdPowerOff:
		if s != nil {
			s.Powered = false
		}
		return ok(nil)
	default:
		return alpar.EncodeNak(cmd, alparUnknownCmd)
	}
}
