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
	"slices"
)

// Field is the RF field of a simulated reader and the cards inside it.
// It is not safe for concurrent use; the simulated front-ends lock around
// it.
type Field struct {
	Cards []*VirtualCard
	// Frames records every frame sent to the cards.
	Frames [][]byte
	// DropAnswers loses the next n card answers, after PassAnswers more
	// have gone through.
	DropAnswers int
	PassAnswers int
	proto       byte
	on          bool
}

// airAnswer is the outcome of one exchange on the field.
type airAnswer struct {
	data []byte
	bits int
	// collision is the first colliding bit, -1 without collision.
	collision int
	ok        bool
}

func noAnswer() airAnswer { return airAnswer{collision: -1} }

// On reports whether the field is switched on.
func (f *Field) On() bool { return f.on }

// Protocol returns the selected air protocol.
func (f *Field) Protocol() byte { return f.proto }

// Add puts cards into the field.
func (f *Field) Add(cards ...*VirtualCard) { f.Cards = append(f.Cards, cards...) }

// Count returns how many frames starting with cmd were sent.
func (f *Field) Count(cmd byte) int {
	n := 0
	for _, fr := range f.Frames {
		if len(fr) > 0 && fr[0] == cmd {
			n++
		}
	}
	return n
}

func (f *Field) setOn(on bool) {
	if !on {
		for _, c := range f.Cards {
			c.powerOff()
		}
	}
	f.on = on
}

func (f *Field) setProtocol(p byte) { f.proto = p }

func (f *Field) stopCrypto() {
	for _, c := range f.Cards {
		c.stopCrypto()
	}
}

func (f *Field) authenticate(keyType, block byte, key, uid []byte) bool {
	if !f.on {
		return false
	}
	for _, c := range f.Cards {
		if c.IsActive() && c.authenticate(keyType, block, key, uid) {
			return true
		}
	}
	return false
}

// transceive sends tx to every card and merges the answers the way a
// receiver would see them.
func (f *Field) transceive(tx []byte, txBits int) airAnswer {
	f.Frames = append(f.Frames, slices.Clone(tx))
	if !f.on || len(tx) == 0 {
		return noAnswer()
	}

	var ans airAnswer
	if f.proto == ProtoA && len(tx) >= 2 && isSelectCode(tx[0]) && tx[1] != 0x70 {
		ans = f.anticollision(tx)
	} else {
		ans = f.broadcast(tx, txBits)
	}
	if ans.ok && f.DropAnswers > 0 {
		if f.PassAnswers > 0 {
			f.PassAnswers--
			return ans
		}
		f.DropAnswers--
		return noAnswer()
	}
	return ans
}

func isSelectCode(b byte) bool { return slices.Contains(selectCodes[:], b) }

func (f *Field) broadcast(tx []byte, txBits int) airAnswer {
	var answers [][]byte
	bits := 0
	for _, c := range f.Cards {
		data, b, ok := c.receive(f.proto, tx, txBits)
		if ok {
			answers = append(answers, data)
			bits = b
		}
	}
	switch {
	case len(answers) == 0:
		return noAnswer()
	case len(answers) == 1:
		return airAnswer{data: answers[0], bits: bits, collision: -1, ok: true}
	}
	first := answers[0]
	for _, a := range answers[1:] {
		if bit := firstDiff(first, a, 0); bit >= 0 {
			return airAnswer{data: first, collision: bit, ok: true}
		}
	}
	return airAnswer{data: first, bits: bits, collision: -1, ok: true}
}

// anticollision answers an ANTICOLLISION frame from every card in Ready
// whose cascade level matches the known bits.
func (f *Field) anticollision(tx []byte) airAnswer {
	nvb := tx[1]
	nBytes, nBits := int(nvb>>4)-2, int(nvb&0x0F)
	known := nBytes*8 + nBits
	if nBytes < 0 || len(tx) < 2+nBytes {
		return noAnswer()
	}

	var ids [][5]byte
	for _, c := range f.Cards {
		id, ok := c.anticollisionID(tx[0])
		if !ok {
			continue
		}
		if d := firstDiff(id[:], tx[2:], 0); d >= 0 && d < known {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return noAnswer()
	}

	first := ids[0]
	coll := -1
	for _, id := range ids[1:] {
		if bit := firstDiff(first[:], id[:], known); bit >= 0 && (coll < 0 || bit < coll) {
			coll = bit
		}
	}
	if coll < 0 {
		return airAnswer{data: slices.Clone(first[nBytes:]), collision: -1, ok: true}
	}
	return airAnswer{data: slices.Clone(first[nBytes : coll/8+1]), collision: coll, ok: true}
}

// firstDiff returns the first bit at or after from where a and b differ,
// bits counted least significant first, or -1. Bits past the shorter
// slice do not count.
func firstDiff(a, b []byte, from int) int {
	n := min(len(a), len(b)) * 8
	for i := from; i < n; i++ {
		if (a[i/8]>>(i%8))&1 != (b[i/8]>>(i%8))&1 {
			return i
		}
	}
	return -1
}

// Card returns the first card whose UID is uid.
func (f *Field) Card(uid []byte) *VirtualCard {
	for _, c := range f.Cards {
		if bytes.Equal(c.UID, uid) {
			return c
		}
	}
	return nil
}
