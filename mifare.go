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

// MIFARE Classic commands
const (
	mfRead      = 0x30
	mfWrite     = 0xA0
	mfDecrement = 0xC0
	mfIncrement = 0xC1
	mfRestore   = 0xC2
	mfTransfer  = 0xB0
)

// MIFARE Classic geometry
const (
	BlockSize = 16
	// blocks below this index live in 4-block sectors
	smallSectorBlocks = 128
	smallSectorCount  = 32
)

// SectorOfBlock returns the sector holding block. Sectors 0-31 have 4
// blocks, sectors 32-39 of a 4K card have 16.
func SectorOfBlock(block byte) int {
	if block < smallSectorBlocks {
		return int(block) / 4
	}
	return smallSectorCount + (int(block)-smallSectorBlocks)/16
}

// FirstBlockOfSector returns the first block of sector.
func FirstBlockOfSector(sector int) byte {
	if sector < smallSectorCount {
		return byte(sector * 4)
	}
	return byte(smallSectorBlocks + (sector-smallSectorCount)*16)
}

// BlocksInSector returns the number of blocks of sector, trailer included.
func BlocksInSector(sector int) int {
	if sector < smallSectorCount {
		return 4
	}
	return 16
}

// IsTrailerBlock reports whether block is the key and access bit trailer
// of its sector.
func IsTrailerBlock(block byte) bool {
	s := SectorOfBlock(block)
	return int(block) == int(FirstBlockOfSector(s))+BlocksInSector(s)-1
}

// Crypto1Authen authenticates the sector of block. Cards with a UID longer
// than 4 bytes use the ID from the authentication ID hook, or the last four
// UID bytes without one. A rejected key leaves no sector authenticated; the
// card is selected again so the next attempt can use another key.
func (e *engine) Crypto1Authen(block byte, kt KeyType, key Key) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if !kt.Valid() {
		return fmt.Errorf("%w: key type %s", ErrParameter, kt)
	}
	ok := e.state.in(StateActive, StateAuthenticated, StateReadWrite) ||
		e.state == StateISO14443P4 && e.sak&sakClassic != 0
	if !ok || e.proto != ProtocolISO14443A {
		return wrongState("crypto1Authen", e.state)
	}

	uid4, err := e.authUID()
	if err != nil {
		e.authSector = -1
		return fmt.Errorf("crypto1Authen block %d: %w", block, err)
	}
	if err := e.fe.authenticate(kt, block, key, uid4, e.readTimeout()); err != nil {
		_ = e.fe.stopCrypto()
		e.authSector = -1
		e.reselect()
		return fmt.Errorf("crypto1Authen block %d %s: %w", block, kt, err)
	}
	e.authSector = SectorOfBlock(block)
	e.setState(StateAuthenticated)
	return nil
}

// reselect wakes and selects the current card after a failed
// authentication sent it back to Idle. ISO14443-4 sessions get their ATS
// again. If the card does not come back it is dropped.
func (e *engine) reselect() {
	uid, prev := e.uid, e.state
	e.setState(StateIdle)
	err := e.reselectUID(uid)
	if err == nil && prev == StateISO14443P4 {
		_, err = e.GetATS()
	}
	if err != nil {
		Debugf("crypto1Authen: card %X did not come back: %v", uid, err)
		e.dropCard()
	}
}

func (e *engine) reselectUID(uid []byte) error {
	if _, err := e.WakeupA(); err != nil {
		return err
	}
	_, err := e.SelectByUID(uid)
	return err
}

// checkSector verifies that block lies in the authenticated sector.
func (e *engine) checkSector(op string, block byte) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	switch e.state {
	case StateAuthenticated, StateReadWrite:
		if e.authSector != SectorOfBlock(block) {
			return fmt.Errorf("%s block %d: %w (sector %d is)", op, block, ErrSectorNotAuthenticated, e.authSector)
		}
		return nil
	case StateActive, StateISO14443P4:
		if e.proto == ProtocolISO14443A {
			return fmt.Errorf("%s block %d: %w", op, block, ErrSectorNotAuthenticated)
		}
	}
	return wrongState(op, e.state)
}

// sessionError handles a failed exchange inside an authenticated session.
// The card drops to Idle on any error, so does the engine.
func (e *engine) sessionError(op string, block byte, err error) error {
	if !errors.Is(err, ErrParameter) {
		e.dropCard()
	}
	return fmt.Errorf("%s block %d: %w", op, block, err)
}

func (e *engine) Crypto1Read(block byte) ([BlockSize]byte, error) {
	var out [BlockSize]byte
	if err := e.checkSector("crypto1Read", block); err != nil {
		return out, err
	}
	resp, err := e.transceiveCRC([]byte{mfRead, block}, e.readTimeout())
	if err == nil && len(resp) != BlockSize {
		err = fmt.Errorf("%w: read returned %d bytes", ErrInvalidFrame, len(resp))
	}
	if err != nil {
		return out, e.sessionError("crypto1Read", block, err)
	}
	copy(out[:], resp)
	e.setState(StateReadWrite)
	return out, nil
}

func (e *engine) Crypto1Write(block byte, data [BlockSize]byte) error {
	if err := e.checkSector("crypto1Write", block); err != nil {
		return err
	}
	timeout := e.readTimeout()
	if err := e.transceiveAck([]byte{mfWrite, block}, timeout); err != nil {
		return e.sessionError("crypto1Write", block, err)
	}
	if err := e.transceiveAck(data[:], timeout); err != nil {
		return e.sessionError("crypto1Write", block, err)
	}
	e.setState(StateReadWrite)
	return nil
}
