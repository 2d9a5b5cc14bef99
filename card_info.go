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
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxUIDLen is the largest card identifier a CardInfo can hold.
const MaxUIDLen = 16

// CardInfo is a snapshot of one card activation, handed to callbacks.
// Callbacks that keep it after returning must call Copy.
type CardInfo struct {
	Timestamp   time.Time     // wall clock at activation
	Monotonic   time.Duration // time since the handle was initialised
	ATS         []byte
	BlockData   []byte // block read by the automatic sector read, if enabled
	DetectionID uuid.UUID
	ID          [MaxUIDLen]byte
	IDLen       int
	ATQA        [2]byte
	CardType    CardType
	Subtype     Protocol
	SAK         byte
}

// NewCardInfo builds a CardInfo for id. The timestamps and detection ID are
// filled in by the dispatcher.
func NewCardInfo(cardType CardType, id []byte, subtype Protocol) (*CardInfo, error) {
	if len(id) == 0 || len(id) > MaxUIDLen {
		return nil, fmt.Errorf("%w: card id length %d", ErrParameter, len(id))
	}
	info := &CardInfo{
		CardType: cardType,
		Subtype:  subtype,
		IDLen:    len(id),
	}
	copy(info.ID[:], id)
	return info, nil
}

// UID returns the card identifier bytes.
func (c *CardInfo) UID() []byte {
	out := make([]byte, c.IDLen)
	copy(out, c.ID[:c.IDLen])
	return out
}

// UIDHex returns the card identifier as lowercase hex.
func (c *CardInfo) UIDHex() string {
	return hex.EncodeToString(c.ID[:c.IDLen])
}

// Copy returns a deep copy of c.
func (c *CardInfo) Copy() *CardInfo {
	if c == nil {
		return nil
	}
	out := *c
	if c.ATS != nil {
		out.ATS = append([]byte(nil), c.ATS...)
	}
	if c.BlockData != nil {
		out.BlockData = append([]byte(nil), c.BlockData...)
	}
	return &out
}

// Manufacturer returns the chip manufacturer encoded in the first byte of a
// 7- or 10-byte UID (ISO/IEC 7816-6). 4-byte UIDs are random or fixed
// numbers and carry no manufacturer code.
func (c *CardInfo) Manufacturer() string {
	if c.IDLen < 7 {
		return "Unknown"
	}
	switch c.ID[0] {
	case 0x04:
		return "NXP"
	case 0x02:
		return "STMicroelectronics"
	case 0x05:
		return "Infineon"
	case 0x07:
		return "Texas Instruments"
	default:
		return "Unknown"
	}
}

// String returns a brief one-line summary
func (c *CardInfo) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s %s uid=%s", c.Subtype, c.CardType, strings.ToUpper(c.UIDHex()))
	if c.Subtype == ProtocolISO14443A {
		_, _ = fmt.Fprintf(&sb, " atqa=%02X%02X sak=%02X", c.ATQA[0], c.ATQA[1], c.SAK)
	}
	if len(c.ATS) > 0 {
		_, _ = fmt.Fprintf(&sb, " ats=%X", c.ATS)
	}
	return sb.String()
}
