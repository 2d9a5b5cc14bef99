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
	"fmt"
	"slices"
)

// ISO15693 request flags and commands
const (
	vFlagHighRate  = 0x02
	vFlagInventory = 0x04
	vFlagAFI       = 0x10
	vFlagOneSlot   = 0x20
	vFlagAddressed = 0x20
	vFlagError     = 0x01

	vCmdInventory = 0x01
	vCmdStayQuiet = 0x02
	vCmdSelect    = 0x25

	// VICCUIDLen is the length of an ISO15693 UID.
	VICCUIDLen = 8
)

// Inventory15693 runs a single slot inventory. afi 0 addresses every card
// family. The UID is returned most significant byte first.
func (e *engine) Inventory15693(afi byte) ([]byte, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if !e.state.in(StateIdle, StatePowerOff) {
		return nil, wrongState("inventory15693", e.state)
	}
	if err := e.AntennaControl(true); err != nil {
		return nil, err
	}
	if err := e.switchProtocol(ProtocolISO15693); err != nil {
		return nil, fmt.Errorf("inventory15693: %w", err)
	}

	flags := byte(vFlagHighRate | vFlagInventory | vFlagOneSlot)
	tx := []byte{flags, vCmdInventory}
	if afi != 0 {
		tx[0] |= vFlagAFI
		tx = append(tx, afi)
	}
	// mask length
	tx = append(tx, 0x00)

	resp, err := e.transceiveCRC(tx, e.readTimeout())
	if err != nil {
		return nil, fmt.Errorf("inventory15693: %w", err)
	}
	if err := vResponseError(resp, 2+VICCUIDLen); err != nil {
		return nil, fmt.Errorf("inventory15693: %w", err)
	}

	e.clearSession()
	e.uid = slices.Clone(resp[2 : 2+VICCUIDLen])
	slices.Reverse(e.uid)
	e.proto = ProtocolISO15693
	e.setState(StateReady)
	return e.UID(), nil
}

// Select15693 selects the card with the given UID (most significant byte
// first).
func (e *engine) Select15693(uid []byte) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if len(uid) != VICCUIDLen {
		return fmt.Errorf("%w: UID length %d", ErrParameter, len(uid))
	}
	if e.state != StateReady || e.proto != ProtocolISO15693 {
		return wrongState("select15693", e.state)
	}

	tx := make([]byte, 0, 2+VICCUIDLen)
	tx = append(tx, vFlagHighRate|vFlagAddressed, vCmdSelect)
	tx = append(tx, wireUID(uid)...)
	resp, err := e.transceiveCRC(tx, e.readTimeout())
	if err == nil {
		err = vResponseError(resp, 1)
	}
	if err != nil {
		return fmt.Errorf("select15693: %w", err)
	}
	e.uid = slices.Clone(uid)
	e.setState(StateActive)
	return nil
}

// stayQuiet15693 silences the current card until the field is reset.
func (e *engine) stayQuiet15693() {
	if !e.cardWoken() {
		return
	}
	if e.fieldOn && e.proto == ProtocolISO15693 && len(e.uid) == VICCUIDLen {
		tx := make([]byte, 0, 2+VICCUIDLen)
		tx = append(tx, vFlagHighRate|vFlagAddressed, vCmdStayQuiet)
		tx = append(tx, wireUID(e.uid)...)
		_ = e.transceiveNoAnswer(tx, ShortFrameTimeout)
	}
	e.clearSession()
	e.setState(StateHalt)
}

// wireUID converts a UID to the least significant byte first air order.
func wireUID(uid []byte) []byte {
	out := slices.Clone(uid)
	slices.Reverse(out)
	return out
}

func vResponseError(resp []byte, minLen int) error {
	if len(resp) >= 2 && resp[0]&vFlagError != 0 {
		return fmt.Errorf("%w: card error code 0x%02X", ErrProtocol, resp[1])
	}
	if len(resp) < minLen {
		return fmt.Errorf("%w: answer of %d bytes", ErrInvalidFrame, len(resp))
	}
	return nil
}
