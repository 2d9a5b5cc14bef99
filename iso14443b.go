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
	"bytes"
	"fmt"
)

// ISO14443-3B commands
const (
	cmdREQB   = 0x05
	cmdATTRIB = 0x1D
	cmdHLTB   = 0x50

	atqbCode   = 0x50
	atqbLen    = 12
	reqbWakeup = 0x08
	// FSDI 8 in ATTRIB param 2
	attribFSDI = 0x08

	// GUIDLen is the length of an identity card GUID.
	GUIDLen = 8
)

// identity card GUID request, sent as a raw Type B frame
var idCardGetUID = []byte{0x00, 0x36, 0x00, 0x00, 0x08}

// atqb holds the answer to REQB/WUPB.
type atqb struct {
	pupi     [4]byte
	appData  [4]byte
	protInfo [3]byte
}

func (a atqb) iso4() bool { return a.protInfo[1]&0x01 != 0 }

func (a atqb) fsc() int { return fscFromFSCI(a.protInfo[1] >> 4) }

func (a atqb) fwi() byte { return a.protInfo[2] >> 4 }

func (e *engine) RequestB(afi byte) ([]byte, error) {
	return e.requestB("requestB", afi, 0, StateIdle, StatePowerOff)
}

func (e *engine) WakeupB(afi byte) ([]byte, error) {
	return e.requestB("wakeupB", afi, reqbWakeup, StateIdle, StatePowerOff, StateHalt)
}

func (e *engine) requestB(op string, afi, param byte, allowed ...CardState) ([]byte, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if !e.state.in(allowed...) {
		return nil, wrongState(op, e.state)
	}
	if err := e.AntennaControl(true); err != nil {
		return nil, err
	}
	if err := e.switchProtocol(ProtocolISO14443B); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := e.transceiveCRC([]byte{cmdREQB, afi, param}, ShortFrameTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(resp) < atqbLen || resp[0] != atqbCode {
		return nil, fmt.Errorf("%s: %w: ATQB of %d bytes", op, ErrInvalidFrame, len(resp))
	}

	e.clearSession()
	copy(e.atqb.pupi[:], resp[1:5])
	copy(e.atqb.appData[:], resp[5:9])
	copy(e.atqb.protInfo[:], resp[9:12])
	e.uid = append([]byte(nil), e.atqb.pupi[:]...)
	e.proto = ProtocolISO14443B
	e.setState(StateReady)
	return append([]byte(nil), resp...), nil
}

// AttribB selects the Type B card answering the last ATQB. dsi and dri are
// the ISO14443-4 bit rate divisor exponents (0 keeps 106 kbit/s), cid the
// card identifier. Cards announcing ISO14443-4 end in StateISO14443P4,
// others in StateActive; a failure leaves StateReadyX.
func (e *engine) AttribB(dsi, dri, cid byte) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if dsi > 3 || dri > 3 || cid > 0x0E {
		return fmt.Errorf("%w: attrib DSI %d DRI %d CID %d", ErrParameter, dsi, dri, cid)
	}
	if !e.state.in(StateReady, StateReadyX) || e.proto != ProtocolISO14443B {
		return wrongState("attribB", e.state)
	}

	var protoType byte
	if e.atqb.iso4() {
		protoType = 0x01
	}
	tx := make([]byte, 0, 9)
	tx = append(tx, cmdATTRIB)
	tx = append(tx, e.atqb.pupi[:]...)
	tx = append(tx, 0x00, dsi<<6|dri<<4|attribFSDI, protoType, cid&0x0F)

	resp, err := e.transceiveCRC(tx, e.readTimeout())
	if err == nil && len(resp) < 1 {
		err = fmt.Errorf("%w: empty ATTRIB answer", ErrInvalidFrame)
	}
	if err != nil {
		e.setState(StateReadyX)
		return fmt.Errorf("attribB: %w", err)
	}
	if dsi != 0 || dri != 0 {
		if err := e.fe.setBitRate(dsi, dri); err != nil {
			e.setState(StateReadyX)
			return fmt.Errorf("attribB: %w", err)
		}
	}

	e.isodep = isodepState{fsc: e.atqb.fsc(), fwt: fwtFromFWI(e.atqb.fwi())}
	if e.atqb.iso4() {
		e.setState(StateISO14443P4)
	} else {
		e.setState(StateActive)
	}
	return nil
}

// IDCardUID reads the GUID of an identity card selected with AttribB.
func (e *engine) IDCardUID() ([]byte, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if !e.state.in(StateActive, StateISO14443P4) || e.proto != ProtocolISO14443B {
		return nil, wrongState("idCardUID", e.state)
	}
	resp, err := e.transceiveCRC(idCardGetUID, e.readTimeout())
	if err != nil {
		return nil, fmt.Errorf("idCardUID: %w", err)
	}
	if len(resp) != GUIDLen+2 || !bytes.Equal(resp[GUIDLen:], []byte{0x90, 0x00}) {
		return nil, fmt.Errorf("idCardUID: %w: % X", ErrInvalidFrame, resp)
	}
	e.uid = append([]byte(nil), resp[:GUIDLen]...)
	e.proto = ProtocolIDCard
	e.setState(StateActiveID)
	return e.UID(), nil
}

// HaltB halts the current Type B card. Errors are ignored. Like HaltA it
// does nothing without a woken card.
func (e *engine) HaltB() {
	if !e.cardWoken() {
		return
	}
	if e.fieldOn && e.state.Activated() && (e.proto == ProtocolISO14443B || e.proto == ProtocolIDCard) {
		tx := make([]byte, 0, 5)
		tx = append(tx, cmdHLTB)
		tx = append(tx, e.atqb.pupi[:]...)
		_, _ = e.transceiveCRC(tx, ShortFrameTimeout)
	}
	e.clearSession()
	e.setState(StateHalt)
}
