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
	"errors"
	"fmt"
)

// ISO14443-3A commands
const (
	cmdREQA     = 0x26
	cmdWUPA     = 0x52
	cmdHLTA     = 0x50
	cmdRATS     = 0xE0
	cmdPPS      = 0xD0
	cmdDeselect = 0xC2

	cascadeTag = 0x88
	// NVB of a complete SELECT: 7 bytes
	nvbSelect = 0x70
	// FSDI 8 announces a 256 byte reader frame size.
	ratsParam = 0x80
)

var selectCodes = [3]byte{0x93, 0x95, 0x97}

func (e *engine) RequestA() ([2]byte, error) {
	return e.requestA("requestA", cmdREQA, StateIdle, StatePowerOff)
}

func (e *engine) WakeupA() ([2]byte, error) {
	return e.requestA("wakeupA", cmdWUPA, StateIdle, StatePowerOff, StateHalt)
}

func (e *engine) requestA(op string, cmd byte, allowed ...CardState) ([2]byte, error) {
	var atqa [2]byte
	if err := e.checkOpen(); err != nil {
		return atqa, err
	}
	if !e.state.in(allowed...) {
		return atqa, wrongState(op, e.state)
	}
	if err := e.AntennaControl(true); err != nil {
		return atqa, err
	}
	if err := e.switchProtocol(ProtocolISO14443A); err != nil {
		return atqa, fmt.Errorf("%s: %w", op, err)
	}

	rx, err := e.fe.transceive(xfer{tx: []byte{cmd}, txLastBits: 7, timeout: ShortFrameTimeout})
	var coll *collisionError
	if err != nil && !errors.As(err, &coll) {
		return atqa, fmt.Errorf("%s: %w", op, err)
	}
	// several cards answering at once garble the ATQA, which is fine:
	// anticollision sorts them out
	if coll == nil && len(rx.data) != 2 {
		return atqa, fmt.Errorf("%s: %w: ATQA of %d bytes", op, ErrInvalidFrame, len(rx.data))
	}
	copy(atqa[:], rx.data)

	e.clearSession()
	e.atqa = atqa
	e.proto = ProtocolISO14443A
	e.setState(StateReady)
	return atqa, nil
}

// ActivateA runs anticollision and select over all cascade levels and
// returns the complete UID and the SAK. On failure the card is back in
// StateIdle.
func (e *engine) ActivateA() ([]byte, byte, error) {
	if err := e.checkOpen(); err != nil {
		return nil, 0, err
	}
	if e.state != StateReady || e.proto != ProtocolISO14443A {
		return nil, 0, wrongState("activateA", e.state)
	}

	var uid []byte
	var sak byte
	for level := range selectCodes {
		part, s, err := e.anticollision(level)
		if err != nil {
			e.setState(StateIdle)
			return nil, 0, fmt.Errorf("activateA: cascade level %d: %w", level+1, err)
		}
		sak = s
		more := sak&sakUIDIncomplete != 0
		if (part[0] == cascadeTag) != more {
			e.setState(StateIdle)
			return nil, 0, fmt.Errorf("activateA: cascade level %d: %w", level+1, ErrCascade)
		}
		if !more {
			uid = append(uid, part[:]...)
			break
		}
		uid = append(uid, part[1:]...)
		if level == len(selectCodes)-1 {
			e.setState(StateIdle)
			return nil, 0, fmt.Errorf("activateA: %w: UID longer than 10 bytes", ErrCascade)
		}
	}

	e.selected(uid, sak)
	return e.UID(), sak, nil
}

// anticollision resolves one cascade level and selects it. Collisions are
// resolved by taking the branch with the colliding bit set.
func (e *engine) anticollision(level int) ([4]byte, byte, error) {
	var part [4]byte
	sel := selectCodes[level]
	// UID CLn followed by BCC
	var known [5]byte
	knownBits := 0

	for knownBits < 40 {
		nBytes, nBits := knownBits/8, knownBits%8
		tx := make([]byte, 0, 7)
		tx = append(tx, sel, byte((2+nBytes)<<4|nBits))
		tx = append(tx, known[:nBytes]...)
		if nBits > 0 {
			tx = append(tx, known[nBytes]&byte(1<<nBits-1))
		}

		rx, err := e.fe.transceive(xfer{tx: tx, txLastBits: nBits, rxAlign: nBits, timeout: ShortFrameTimeout})
		var coll *collisionError
		if err != nil && !errors.As(err, &coll) {
			return part, 0, err
		}

		for i, b := range rx.data {
			idx := nBytes + i
			if idx >= len(known) {
				break
			}
			if i == 0 && nBits > 0 {
				low := byte(1<<nBits - 1)
				b = known[idx]&low | b&^low
			}
			known[idx] = b
		}

		if coll == nil {
			knownBits = 40
			break
		}
		if coll.bit < knownBits || coll.bit >= 40 {
			return part, 0, fmt.Errorf("%w: collision bit %d outside unresolved range", ErrProtocol, coll.bit)
		}
		Debugf("anticollision: level %d collision at bit %d", level+1, coll.bit)
		byteIdx, bitIdx := coll.bit/8, coll.bit%8
		known[byteIdx] = known[byteIdx]&byte(1<<bitIdx-1) | 1<<bitIdx
		for i := byteIdx + 1; i < len(known); i++ {
			known[i] = 0
		}
		knownBits = coll.bit + 1
	}

	if known[0]^known[1]^known[2]^known[3] != known[4] {
		return part, 0, fmt.Errorf("%w: UID BCC mismatch", ErrProtocol)
	}
	copy(part[:], known[:4])

	sak, err := e.selectLevel(sel, known)
	if err != nil {
		return part, 0, err
	}
	return part, sak, nil
}

func (e *engine) selectLevel(sel byte, cln [5]byte) (byte, error) {
	tx := make([]byte, 0, 7)
	tx = append(tx, sel, nvbSelect)
	tx = append(tx, cln[:]...)
	resp, err := e.transceiveCRC(tx, ShortFrameTimeout)
	if err != nil {
		return 0, err
	}
	if len(resp) != 1 {
		return 0, fmt.Errorf("%w: SAK of %d bytes", ErrInvalidFrame, len(resp))
	}
	return resp[0], nil
}

// SelectByUID selects a card with a known UID without anticollision.
func (e *engine) SelectByUID(uid []byte) (byte, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	levels := 0
	switch len(uid) {
	case 4:
		levels = 1
	case 7:
		levels = 2
	case 10:
		levels = 3
	default:
		return 0, fmt.Errorf("%w: UID length %d", ErrParameter, len(uid))
	}
	if e.state != StateReady || e.proto != ProtocolISO14443A {
		return 0, wrongState("selectByUID", e.state)
	}

	var sak byte
	rest := uid
	for level := 0; level < levels; level++ {
		var cln [5]byte
		last := level == levels-1
		if last {
			copy(cln[:4], rest)
		} else {
			cln[0] = cascadeTag
			copy(cln[1:4], rest)
			rest = rest[3:]
		}
		cln[4] = cln[0] ^ cln[1] ^ cln[2] ^ cln[3]

		s, err := e.selectLevel(selectCodes[level], cln)
		if err != nil {
			e.setState(StateIdle)
			return 0, fmt.Errorf("selectByUID: cascade level %d: %w", level+1, err)
		}
		if (s&sakUIDIncomplete != 0) == last {
			e.setState(StateIdle)
			return 0, fmt.Errorf("selectByUID: cascade level %d: %w", level+1, ErrCascade)
		}
		sak = s
	}

	e.selected(uid, sak)
	return sak, nil
}

func (e *engine) selected(uid []byte, sak byte) {
	e.uid = append([]byte(nil), uid...)
	e.sak = sak
	e.proto = ProtocolISO14443A
	e.authSector = -1
	e.setState(StateActive)
	Debugf("selected card %X SAK %02X", e.uid, sak)
}

// GetATS sends RATS to an active ISO14443-4 card. On success the card is in
// StateISO14443P4; on failure it is in StateReadyX.
func (e *engine) GetATS() ([]byte, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.state != StateActive || e.proto != ProtocolISO14443A {
		return nil, wrongState("getATS", e.state)
	}
	if e.sak&sakISO14443P4 == 0 {
		return nil, fmt.Errorf("getATS: %w: card SAK %02X is not ISO14443-4", ErrUnsupported, e.sak)
	}

	resp, err := e.transceiveCRC([]byte{cmdRATS, ratsParam}, e.readTimeout())
	if err == nil {
		err = e.parseATS(resp)
	}
	if err != nil {
		e.setState(StateReadyX)
		return nil, fmt.Errorf("getATS: %w", err)
	}
	e.ats = append([]byte(nil), resp...)
	e.setState(StateISO14443P4)

	ops := e.opsConfig()
	if ops.BaudTx != 0 || ops.BaudRx != 0 {
		e.pps(ops.BaudRx, ops.BaudTx)
	}
	return append([]byte(nil), e.ats...), nil
}

func (e *engine) parseATS(ats []byte) error {
	if len(ats) < 1 || int(ats[0]) != len(ats) {
		return fmt.Errorf("%w: ATS length byte does not match", ErrInvalidFrame)
	}
	st := isodepState{fsc: isodepDefaultFSC, fwt: fwtFromFWI(isodepDefaultFWI)}
	if len(ats) > 1 {
		t0 := ats[1]
		st.fsc = fscFromFSCI(t0 & 0x0F)
		i := 2
		if t0&0x10 != 0 {
			if i < len(ats) {
				st.ta = ats[i]
			}
			i++
		}
		if t0&0x20 != 0 && i < len(ats) {
			st.fwt = fwtFromFWI(ats[i] >> 4)
		}
	}
	e.isodep = st
	return nil
}

// pps raises the bit rate when the card supports it. A refused PPS keeps
// the card at 106 kbit/s.
func (e *engine) pps(dsi, dri byte) {
	ta := e.isodep.ta
	if dsi > 0 && ta&(1<<(3+dsi)) == 0 || dri > 0 && ta&(1<<(dri-1)) == 0 {
		Debugf("pps: card TA %02X does not support DSI %d DRI %d", ta, dsi, dri)
		return
	}
	resp, err := e.transceiveCRC([]byte{cmdPPS, 0x11, dsi<<2 | dri}, e.isodep.fwt)
	if err != nil || len(resp) != 1 || resp[0] != cmdPPS {
		Debugf("pps: refused: %v", err)
		return
	}
	if err := e.fe.setBitRate(dsi, dri); err != nil {
		Debugf("pps: front-end bit rate: %v", err)
	}
}

// HaltA sends DESELECT to ISO14443-4 cards and HLTA to others. Errors are
// ignored: the card ends in StateHalt either way. With no card woken
// (StatePowerOff, StateIdle) it does nothing.
func (e *engine) HaltA() {
	if !e.cardWoken() {
		return
	}
	if e.fieldOn && e.proto == ProtocolISO14443A {
		if e.state == StateISO14443P4 {
			_, _ = e.transceiveCRC([]byte{cmdDeselect}, e.isodep.fwt)
		} else if e.state.Activated() {
			_ = e.transceiveNoAnswer([]byte{cmdHLTA, 0x00}, ShortFrameTimeout)
		}
	}
	_ = e.fe.stopCrypto()
	e.clearSession()
	e.setState(StateHalt)
}
