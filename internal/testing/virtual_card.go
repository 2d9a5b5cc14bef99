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
	"slices"
)

// CardKind selects the card model a VirtualCard simulates.
type CardKind int

const (
	KindMifare1K CardKind = iota
	KindNTAG213
	KindNTAG215
	KindNTAG216
	KindCPUA
	KindTypeB
	KindIDCard
	KindVICC
)

// Air protocols, numbered like the front-end protocol selector.
const (
	ProtoA      byte = 1
	ProtoB      byte = 2
	Proto15693  byte = 3
	ProtoIDCard byte = 4
)

type cardState int

const (
	stateIdle cardState = iota
	stateReady
	stateActive
	stateHalt
	stateLayer4
	stateQuiet
)

// MIFARE acknowledge nibbles
const (
	mfACK = 0x0A
	mfNAK = 0x04
)

var selectCodes = [3]byte{0x93, 0x95, 0x97}

// idCardGetUID is the identity card GUID request.
var idCardGetUID = []byte{0x00, 0x36, 0x00, 0x00, 0x08}

// DefaultKey is the transport key of a blank MIFARE Classic card.
var DefaultKey = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Default UIDs used by the constructors when nil is passed
var (
	TestM1UID   = []byte{0x12, 0x34, 0x56, 0x78}
	TestNTAGUID = []byte{0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0x80}
	TestCPUUID  = []byte{0x08, 0x11, 0x22, 0x33}
	TestPUPI    = []byte{0xB1, 0xB2, 0xB3, 0xB4}
	TestGUID    = []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80}
	TestVICCUID = []byte{0xE0, 0x04, 0x01, 0x00, 0x11, 0x22, 0x33, 0x44}
)

// VirtualCard simulates a contactless card at the frame level. The reader
// side handles Crypto1, so an authenticated session is plain text here.
type VirtualCard struct {
	// APDUHandler answers ISO14443-4 APDUs. Nil answers 6D 00.
	APDUHandler func(apdu []byte) []byte
	UID         []byte
	ATS         []byte
	GUID        []byte
	// Memory holds 16 byte blocks for MIFARE Classic and 4 byte pages for
	// NTAG and vicinity cards.
	Memory [][]byte
	// transfer buffer of a pending value operation
	transfer []byte
	pending  func(body []byte) ([]byte, int, bool)
	chain    []byte
	last     []byte
	Version  [8]byte
	ATQA     [2]byte
	PUPI     [4]byte
	ProtInfo [3]byte
	Kind     CardKind
	// WTX is the number of waiting time extensions sent before every APDU
	// answer.
	WTX        int
	state      cardState
	level      int
	authSector int
	wtxLeft    int
	AFI        byte
	SAK        byte
	Present    bool
}

// NewMifare1K returns a blank MIFARE Classic 1K with a 4 or 7 byte UID and
// the transport keys in every trailer.
func NewMifare1K(uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestM1UID
	}
	c := &VirtualCard{
		Kind:       KindMifare1K,
		UID:        slices.Clone(uid),
		SAK:        0x08,
		ATQA:       [2]byte{0x04, 0x00},
		Memory:     make([][]byte, 64),
		Present:    true,
		authSector: -1,
	}
	if len(uid) == 7 {
		c.ATQA = [2]byte{0x44, 0x00}
	}
	for i := range c.Memory {
		c.Memory[i] = make([]byte, 16)
		if i%4 == 3 {
			copy(c.Memory[i], DefaultKey)
			copy(c.Memory[i][6:], []byte{0xFF, 0x07, 0x80, 0x69})
			copy(c.Memory[i][10:], DefaultKey)
		}
	}
	blk0 := c.Memory[0]
	n := copy(blk0, uid)
	if len(uid) == 4 {
		blk0[4] = uid[0] ^ uid[1] ^ uid[2] ^ uid[3]
		n++
	}
	blk0[n] = c.SAK
	blk0[n+1], blk0[n+2] = c.ATQA[0], c.ATQA[1]
	return c
}

// NewNTAG returns an NTAG21x of the given kind with an empty NDEF area.
func NewNTAG(kind CardKind, uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestNTAGUID
	}
	var pages int
	var size, ccSize byte
	switch kind {
	case KindNTAG215:
		pages, size, ccSize = 135, 0x11, 0x3E
	case KindNTAG216:
		pages, size, ccSize = 231, 0x13, 0x6D
	default:
		kind = KindNTAG213
		pages, size, ccSize = 45, 0x0F, 0x12
	}
	c := &VirtualCard{
		Kind:       kind,
		UID:        slices.Clone(uid),
		SAK:        0x00,
		ATQA:       [2]byte{0x44, 0x00},
		Version:    [8]byte{0x00, 0x04, 0x04, 0x02, 0x01, 0x00, size, 0x03},
		Memory:     make([][]byte, pages),
		Present:    true,
		authSector: -1,
	}
	for i := range c.Memory {
		c.Memory[i] = make([]byte, 4)
	}
	copy(c.Memory[0], uid[:3])
	c.Memory[0][3] = 0x88 ^ uid[0] ^ uid[1] ^ uid[2]
	copy(c.Memory[1], uid[3:7])
	c.Memory[2][0] = uid[3] ^ uid[4] ^ uid[5] ^ uid[6]
	c.Memory[2][1] = 0x48
	copy(c.Memory[3], []byte{0xE1, 0x10, ccSize, 0x00})
	// empty NDEF TLV and terminator
	copy(c.Memory[4], []byte{0x03, 0x00, 0xFE, 0x00})
	return c
}

// NewCPUA returns an ISO14443-4 Type A card whose APDUs go to handler.
func NewCPUA(uid []byte, handler func([]byte) []byte) *VirtualCard {
	if uid == nil {
		uid = TestCPUUID
	}
	return &VirtualCard{
		Kind: KindCPUA,
		UID:  slices.Clone(uid),
		SAK:  0x20,
		ATQA: [2]byte{0x04, 0x00},
		// FSCI 8, TA 0x80, FWI 7
		ATS:         []byte{0x05, 0x78, 0x80, 0x70, 0x02},
		APDUHandler: handler,
		Present:     true,
		authSector:  -1,
	}
}

// NewTypeB returns a Type B card. iso4 cards take APDUs through handler.
func NewTypeB(pupi []byte, iso4 bool, handler func([]byte) []byte) *VirtualCard {
	if pupi == nil {
		pupi = TestPUPI
	}
	c := &VirtualCard{
		Kind:        KindTypeB,
		UID:         slices.Clone(pupi),
		ProtInfo:    [3]byte{0x00, 0x80, 0x71},
		APDUHandler: handler,
		Present:     true,
		authSector:  -1,
	}
	copy(c.PUPI[:], pupi)
	if iso4 {
		c.ProtInfo[1] |= 0x01
	}
	return c
}

// NewIDCard returns an identity card answering the GUID request.
func NewIDCard(pupi, guid []byte) *VirtualCard {
	if guid == nil {
		guid = TestGUID
	}
	c := NewTypeB(pupi, true, nil)
	c.Kind = KindIDCard
	c.GUID = slices.Clone(guid)
	return c
}

// NewVICC returns an ISO15693 card. uid is given most significant byte
// first.
func NewVICC(uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestVICCUID
	}
	c := &VirtualCard{
		Kind:       KindVICC,
		UID:        slices.Clone(uid),
		Memory:     make([][]byte, 28),
		Present:    true,
		authSector: -1,
	}
	for i := range c.Memory {
		c.Memory[i] = make([]byte, 4)
	}
	return c
}

// Remove takes the card out of the field.
func (c *VirtualCard) Remove() { c.Present = false }

// Insert puts the card back. It starts powered down.
func (c *VirtualCard) Insert() {
	c.Present = true
	c.powerOff()
}

// IsActive reports whether the card is selected.
func (c *VirtualCard) IsActive() bool {
	return c.state == stateActive || c.state == stateLayer4
}

// IsHalted reports whether the card was halted or silenced.
func (c *VirtualCard) IsHalted() bool {
	return c.state == stateHalt || c.state == stateQuiet
}

// AuthenticatedSector returns the sector of the running Crypto1 session,
// -1 if none.
func (c *VirtualCard) AuthenticatedSector() int { return c.authSector }

// Block returns a copy of MIFARE block or NTAG page n.
func (c *VirtualCard) Block(n int) []byte { return slices.Clone(c.Memory[n]) }

// SetBlock overwrites MIFARE block or NTAG page n.
func (c *VirtualCard) SetBlock(n int, data []byte) { copy(c.Memory[n], data) }

// SetSectorKeys changes the trailer keys of a MIFARE sector.
func (c *VirtualCard) SetSectorKeys(sector int, keyA, keyB []byte) {
	t := c.Memory[sector*4+3]
	copy(t, keyA)
	copy(t[10:], keyB)
}

func (c *VirtualCard) powerOff() {
	c.state = stateIdle
	c.level = 0
	c.clearSession()
}

func (c *VirtualCard) clearSession() {
	c.authSector = -1
	c.pending = nil
	c.transfer = nil
	c.chain = nil
	c.last = nil
}

func (c *VirtualCard) protocol() byte {
	switch c.Kind {
	case KindTypeB, KindIDCard:
		return ProtoB
	case KindVICC:
		return Proto15693
	default:
		return ProtoA
	}
}

func (c *VirtualCard) isMifare() bool { return c.Kind == KindMifare1K }

func (c *VirtualCard) isNTAG() bool {
	return c.Kind == KindNTAG213 || c.Kind == KindNTAG215 || c.Kind == KindNTAG216
}

// cascade returns the UID part and BCC of a cascade level.
func (c *VirtualCard) cascade(level int) [5]byte {
	var cl [5]byte
	switch {
	case len(c.UID) == 4:
		copy(cl[:4], c.UID)
	case len(c.UID) == 7 && level == 0:
		cl[0] = 0x88
		copy(cl[1:4], c.UID[:3])
	case len(c.UID) == 7:
		copy(cl[:4], c.UID[3:7])
	case level < 2:
		cl[0] = 0x88
		copy(cl[1:4], c.UID[level*3:level*3+3])
	default:
		copy(cl[:4], c.UID[6:10])
	}
	cl[4] = cl[0] ^ cl[1] ^ cl[2] ^ cl[3]
	return cl
}

func (c *VirtualCard) levels() int {
	switch len(c.UID) {
	case 7:
		return 2
	case 10:
		return 3
	default:
		return 1
	}
}

// anticollisionID returns the cascade level bits of a card taking part in
// the anticollision for sel.
func (c *VirtualCard) anticollisionID(sel byte) ([5]byte, bool) {
	if !c.Present || c.protocol() != ProtoA || c.state != stateReady || c.level >= len(selectCodes) {
		return [5]byte{}, false
	}
	if selectCodes[c.level] != sel {
		return [5]byte{}, false
	}
	return c.cascade(c.level), true
}

// receive handles one reader frame. bits is the number of valid bits of
// the last byte, 0 meaning 8. It returns the answer, the valid bits of its
// last byte and false when the card stays silent.
func (c *VirtualCard) receive(proto byte, tx []byte, bits int) ([]byte, int, bool) {
	if !c.Present || len(tx) == 0 {
		return nil, 0, false
	}
	if proto == ProtoIDCard {
		proto = ProtoB
	}
	if proto != c.protocol() {
		return nil, 0, false
	}
	switch proto {
	case ProtoA:
		return c.receiveA(tx, bits)
	case ProtoB:
		return c.receiveB(tx)
	default:
		return c.receiveV(tx)
	}
}

func silent() ([]byte, int, bool) { return nil, 0, false }

func ack() ([]byte, int, bool) { return []byte{mfACK}, 4, true }

func nak() ([]byte, int, bool) { return []byte{mfNAK}, 4, true }

func answerA(data []byte) ([]byte, int, bool) { return appendCRC(data, crcA), 0, true }

func answerB(data []byte) ([]byte, int, bool) { return appendCRC(data, crcB), 0, true }

func (c *VirtualCard) receiveA(tx []byte, bits int) ([]byte, int, bool) {
	if bits == 7 && len(tx) == 1 {
		wake := tx[0] == 0x52
		if tx[0] != 0x26 && !wake {
			return silent()
		}
		if c.state != stateIdle && !(wake && c.state == stateHalt) {
			return silent()
		}
		c.state = stateReady
		c.level = 0
		c.clearSession()
		return c.ATQA[:], 0, true
	}

	body, ok := checkCRC(tx, crcA)
	if !ok {
		return silent()
	}
	if c.pending != nil {
		p := c.pending
		c.pending = nil
		return p(body)
	}
	switch c.state {
	case stateReady:
		return c.selectA(body)
	case stateActive:
		return c.activeA(body)
	case stateLayer4:
		return c.layer4(body, answerA)
	default:
		return silent()
	}
}

func (c *VirtualCard) selectA(body []byte) ([]byte, int, bool) {
	if len(body) != 7 || body[1] != 0x70 || c.level >= len(selectCodes) || body[0] != selectCodes[c.level] {
		return silent()
	}
	cl := c.cascade(c.level)
	if !bytes.Equal(body[2:7], cl[:]) {
		// another card was selected
		c.state = stateIdle
		return silent()
	}
	c.level++
	if c.level < c.levels() {
		return answerA([]byte{0x04})
	}
	c.state = stateActive
	return answerA([]byte{c.SAK})
}

func (c *VirtualCard) activeA(body []byte) ([]byte, int, bool) {
	switch {
	case len(body) == 2 && body[0] == 0x50 && body[1] == 0x00:
		c.state = stateHalt
		c.clearSession()
		return silent()
	case body[0] == 0xE0 && len(body) == 2:
		if c.ATS == nil {
			return silent()
		}
		c.state = stateLayer4
		c.chain, c.last = nil, nil
		return answerA(c.ATS)
	case c.isMifare():
		return c.mifare(body)
	case c.isNTAG():
		return c.ntag(body)
	default:
		return silent()
	}
}

// authenticate checks a Crypto1 authentication request against the
// trailer keys.
func (c *VirtualCard) authenticate(keyType, block byte, key, uid []byte) bool {
	if !c.Present || !c.isMifare() || c.state != stateActive || int(block) >= len(c.Memory) {
		return false
	}
	tail := c.UID[len(c.UID)-4:]
	if len(c.UID) == 4 {
		tail = c.UID
	}
	if !bytes.Equal(uid, tail) {
		return false
	}
	sector := int(block) / 4
	trailer := c.Memory[sector*4+3]
	want := trailer[0:6]
	if keyType == 0x61 {
		want = trailer[10:16]
	}
	if !bytes.Equal(key, want) {
		// a failed authentication drops the card to idle
		c.state = stateIdle
		c.clearSession()
		return false
	}
	c.authSector = sector
	return true
}

// stopCrypto ends the Crypto1 session.
func (c *VirtualCard) stopCrypto() { c.authSector = -1 }

func (c *VirtualCard) authorized(block byte) bool {
	return c.authSector >= 0 && int(block) < len(c.Memory) && int(block)/4 == c.authSector
}

func (c *VirtualCard) fail() ([]byte, int, bool) {
	c.state = stateIdle
	c.clearSession()
	return nak()
}

func (c *VirtualCard) mifare(body []byte) ([]byte, int, bool) {
	if len(body) != 2 {
		return c.fail()
	}
	cmd, blk := body[0], body[1]
	if !c.authorized(blk) {
		return c.fail()
	}
	switch cmd {
	case 0x30:
		out := slices.Clone(c.Memory[blk])
		if blk%4 == 3 {
			// key A never reads back
			clear(out[:6])
		}
		return answerA(out)
	case 0xA0:
		if blk == 0 {
			return c.fail()
		}
		c.pending = func(data []byte) ([]byte, int, bool) {
			if len(data) != 16 {
				return c.fail()
			}
			copy(c.Memory[blk], data)
			return ack()
		}
		return ack()
	case 0xC0, 0xC1, 0xC2:
		v, ok := decodeValue(c.Memory[blk])
		if !ok {
			return c.fail()
		}
		c.pending = func(data []byte) ([]byte, int, bool) {
			if len(data) != 4 {
				return c.fail()
			}
			operand := int32(binary.LittleEndian.Uint32(data))
			switch cmd {
			case 0xC0:
				v -= operand
			case 0xC1:
				v += operand
			}
			c.transfer = encodeValue(v, c.Memory[blk][12])
			// no answer to the operand
			return silent()
		}
		return ack()
	case 0xB0:
		if c.transfer == nil || blk%4 == 3 {
			return c.fail()
		}
		copy(c.Memory[blk], c.transfer)
		c.transfer = nil
		return ack()
	default:
		return c.fail()
	}
}

func decodeValue(b []byte) (int32, bool) {
	v := binary.LittleEndian.Uint32(b[0:])
	if ^v != binary.LittleEndian.Uint32(b[4:]) || v != binary.LittleEndian.Uint32(b[8:]) {
		return 0, false
	}
	if b[12] != ^b[13] || b[12] != b[14] || b[12] != ^b[15] {
		return 0, false
	}
	return int32(v), true
}

func encodeValue(v int32, addr byte) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], uint32(v))
	binary.LittleEndian.PutUint32(b[4:], ^uint32(v))
	binary.LittleEndian.PutUint32(b[8:], uint32(v))
	b[12], b[13], b[14], b[15] = addr, ^addr, addr, ^addr
	return b
}

func (c *VirtualCard) ntag(body []byte) ([]byte, int, bool) {
	last := len(c.Memory) - 1
	switch {
	case len(body) == 1 && body[0] == 0x60:
		return answerA(c.Version[:])
	case len(body) == 2 && body[0] == 0x30:
		if int(body[1]) > last {
			return nak()
		}
		out := make([]byte, 0, 16)
		for i := range 4 {
			out = append(out, c.Memory[(int(body[1])+i)%len(c.Memory)]...)
		}
		return answerA(out)
	case len(body) == 3 && body[0] == 0x3A:
		start, end := int(body[1]), int(body[2])
		if start > end || end > last {
			return nak()
		}
		var out []byte
		for p := start; p <= end; p++ {
			out = append(out, c.Memory[p]...)
		}
		return answerA(out)
	case len(body) == 6 && body[0] == 0xA2:
		p := int(body[1])
		if p < 2 || p > last {
			return nak()
		}
		copy(c.Memory[p], body[2:])
		return ack()
	default:
		return nak()
	}
}

// layer4 runs the ISO14443-4 block protocol.
func (c *VirtualCard) layer4(body []byte, answer func([]byte) ([]byte, int, bool)) ([]byte, int, bool) {
	pcb := body[0]
	switch {
	case c.Kind == KindIDCard && bytes.Equal(body, idCardGetUID):
		return answer(append(slices.Clone(c.GUID), 0x90, 0x00))
	case pcb == 0xC2:
		c.state = stateHalt
		return answer([]byte{0xC2})
	case pcb&0xE6 == 0x02:
		num := pcb & 0x01
		c.chain = append(c.chain, body[1:]...)
		if pcb&0x10 != 0 {
			c.last = []byte{0xA2 | num}
			return answer(c.last)
		}
		apdu := c.chain
		c.chain = nil
		resp := []byte{0x6D, 0x00}
		if c.APDUHandler != nil {
			resp = c.APDUHandler(apdu)
		}
		c.last = append([]byte{0x02 | num}, resp...)
		c.wtxLeft = c.WTX
		if c.wtxLeft > 0 {
			c.wtxLeft--
			return answer([]byte{0xF2, 0x01})
		}
		return answer(c.last)
	case pcb&0xF7 == 0xF2:
		if c.wtxLeft > 0 {
			c.wtxLeft--
			return answer([]byte{0xF2, 0x01})
		}
		return answer(c.last)
	case pcb&0xE6 == 0xA2 && pcb&0x10 != 0:
		// R(NAK): repeat the last block
		if c.last == nil {
			return silent()
		}
		return answer(c.last)
	default:
		return silent()
	}
}

func (c *VirtualCard) receiveB(tx []byte) ([]byte, int, bool) {
	body, ok := checkCRC(tx, crcB)
	if !ok {
		return silent()
	}
	switch {
	case body[0] == 0x05 && len(body) == 3:
		wake := body[2]&0x08 != 0
		if c.state != stateIdle && !(wake && c.state == stateHalt) {
			return silent()
		}
		if body[1] != 0 && body[1] != c.AFI {
			return silent()
		}
		c.state = stateReady
		c.clearSession()
		out := []byte{0x50}
		out = append(out, c.PUPI[:]...)
		out = append(out, 0x00, 0x00, 0x00, 0x00)
		out = append(out, c.ProtInfo[:]...)
		return answerB(out)
	case body[0] == 0x1D && len(body) == 9:
		if c.state != stateReady || !bytes.Equal(body[1:5], c.PUPI[:]) {
			return silent()
		}
		if c.ProtInfo[1]&0x01 != 0 {
			c.state = stateLayer4
		} else {
			c.state = stateActive
		}
		return answerB([]byte{0x00})
	case body[0] == 0x50 && len(body) == 5:
		if !bytes.Equal(body[1:5], c.PUPI[:]) || (c.state != stateActive && c.state != stateLayer4) {
			return silent()
		}
		c.state = stateHalt
		return answerB([]byte{0x00})
	case c.state == stateLayer4:
		return c.layer4(body, answerB)
	default:
		return silent()
	}
}

// receiveV handles ISO15693 requests.
func (c *VirtualCard) receiveV(tx []byte) ([]byte, int, bool) {
	body, ok := checkCRC(tx, crcB)
	if !ok || len(body) < 2 {
		return silent()
	}
	flags, cmd := body[0], body[1]
	wire := slices.Clone(c.UID)
	slices.Reverse(wire)

	if flags&0x04 != 0 {
		if cmd != 0x01 || c.state == stateQuiet {
			return silent()
		}
		if flags&0x10 != 0 && (len(body) < 3 || body[2] != c.AFI) {
			return silent()
		}
		if c.state == stateIdle {
			c.state = stateReady
		}
		return answerB(append([]byte{0x00, 0x00}, wire...))
	}
	if flags&0x20 != 0 && (len(body) < 10 || !bytes.Equal(body[2:10], wire)) {
		return silent()
	}
	switch cmd {
	case 0x02:
		c.state = stateQuiet
		return silent()
	case 0x25:
		c.state = stateActive
		return answerB([]byte{0x00})
	default:
		// command not supported
		return answerB([]byte{0x01, 0x01})
	}
}
