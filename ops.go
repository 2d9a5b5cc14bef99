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

// AuthenIDFunc computes the 4-byte ID used for Crypto1 authentication of a
// card with a 7- or 10-byte UID. It must fill exactly len(out) bytes and
// return the count. It runs with the handle's config mutex held, so it must
// not call back into the handle, and it is abandoned with a TimeoutError if
// it does not return within the configured read timeout.
type AuthenIDFunc func(cardID, out []byte) (int, error)

// CardProtocolOps is the card protocol state machine of one front-end.
//
// Every operation checks the current CardState first and fails with an
// error wrapping ErrWrongState, leaving the state unchanged, when it is not
// allowed. Implementations are NOT safe for concurrent use: the caller
// serialises all protocol calls on a handle.
type CardProtocolOps interface {
	// Name returns the front-end variant name.
	Name() string
	// CardState returns the current state without touching the card.
	CardState() CardState
	// ChipReset hard resets the front-end. The state becomes StatePowerOff.
	ChipReset() error
	// AntennaControl switches the RF field. Off forces StatePowerOff; on
	// moves StatePowerOff to StateIdle.
	AntennaControl(on bool) error
	// UpdateConfig replaces the protocol tunables.
	UpdateConfig(cfg *OpsConfig) error
	// RegisterAuthenID installs the authentication ID hook, nil removes it.
	RegisterAuthenID(cb AuthenIDFunc) error

	// UID returns the identifier of the activated card, nil if none.
	UID() []byte
	// Protocol returns the air interface of the current card.
	Protocol() Protocol

	RequestA() ([2]byte, error)
	WakeupA() ([2]byte, error)
	ActivateA() (uid []byte, sak byte, err error)
	SelectByUID(uid []byte) (sak byte, err error)
	GetATS() ([]byte, error)
	HaltA()

	RequestB(afi byte) ([]byte, error)
	WakeupB(afi byte) ([]byte, error)
	AttribB(dsi, dri, cid byte) error
	HaltB()
	IDCardUID() ([]byte, error)

	Inventory15693(afi byte) ([]byte, error)
	Select15693(uid []byte) error

	// Halt halts the current card with the command of its protocol.
	Halt()

	// APDU exchanges one command APDU with an ISO14443-4 card.
	APDU(send []byte) ([]byte, error)

	Crypto1Authen(block byte, kt KeyType, key Key) error
	Crypto1Read(block byte) ([BlockSize]byte, error)
	Crypto1Write(block byte, data [BlockSize]byte) error
	Crypto1Increment(block byte, value int32) error
	Crypto1Decrement(block byte, value int32) error
	Crypto1Restore(block byte) error
	Crypto1Transfer(block byte) error

	NTAGReadVersion() ([NTAGVersionLen]byte, error)
	NTAGReadPage(page byte) ([BlockSize]byte, error)
	NTAGFastReadPage(start, end byte) ([]byte, error)
	NTAGWritePage(page byte, data [NTAGPageSize]byte) error

	// Close releases the front-end and its transport.
	Close() error
}

// RegisterAuthenID installs cb as the authentication ID hook of ops.
func RegisterAuthenID(ops CardProtocolOps, cb AuthenIDFunc) error {
	if ops == nil {
		return ErrParameter
	}
	return ops.RegisterAuthenID(cb)
}
