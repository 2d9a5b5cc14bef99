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
	"time"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// engine is the CardProtocolOps implementation shared by both front-end
// variants. Card state fields are owned by the goroutine driving the
// handle; cfg and authenID are guarded by mu, the handle's config mutex.
type engine struct {
	fe   frontend
	host HostTransport
	mu   *syncutil.RWMutex

	cfg      Config
	authenID AuthenIDFunc

	uid         []byte
	ats         []byte
	ntagVersion *[NTAGVersionLen]byte
	isodep      isodepState
	authSector  int
	state       CardState
	proto       Protocol
	feProto     Protocol
	atqa        [2]byte
	atqb        atqb
	sak         byte
	fieldOn     bool
	closed      bool
}

func newEngine(fe frontend, host HostTransport, mu *syncutil.RWMutex, cfg *Config) *engine {
	return &engine{
		fe:         fe,
		host:       host,
		mu:         mu,
		cfg:        *cfg.Clone(),
		state:      StatePowerOff,
		authSector: -1,
	}
}

func (e *engine) Name() string { return e.fe.name() }

func (e *engine) CardState() CardState { return e.state }

func (e *engine) Protocol() Protocol { return e.proto }

func (e *engine) UID() []byte {
	if e.uid == nil {
		return nil
	}
	return append([]byte(nil), e.uid...)
}

func (e *engine) setState(s CardState) {
	if e.state != s {
		Debugf("card state %s -> %s", e.state, s)
	}
	e.state = s
}

// clearSession forgets everything learned about the current card.
func (e *engine) clearSession() {
	e.uid = nil
	e.ats = nil
	e.sak = 0
	e.atqa = [2]byte{}
	e.atqb = atqb{}
	e.proto = ProtocolUnknown
	e.authSector = -1
	e.ntagVersion = nil
	e.isodep = isodepState{}
}

// dropCard is called when the card stopped answering in a session. The
// card falls back to Idle on its own; the engine mirrors that.
func (e *engine) dropCard() {
	_ = e.fe.stopCrypto()
	e.clearSession()
	if e.fieldOn {
		e.setState(StateIdle)
	} else {
		e.setState(StatePowerOff)
	}
}

// cardWoken reports whether a card has answered since the field came up or
// the last halt. PowerOff and Idle have nothing to halt.
func (e *engine) cardWoken() bool {
	return !e.state.in(StatePowerOff, StateIdle)
}

func (e *engine) checkOpen() error {
	if e.closed {
		return ErrHandleClosed
	}
	return nil
}

func (e *engine) opsConfig() OpsConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Ops
}

func (e *engine) readTimeout() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.cfg.Ops.ReadTimeout <= 0 {
		return AuthenIDHookTimeout
	}
	return e.cfg.Ops.ReadTimeout
}

func (e *engine) UpdateConfig(cfg *OpsConfig) error {
	if cfg == nil {
		return ErrParameter
	}
	full := e.config()
	full.Ops = *cfg
	if err := full.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg.Ops = full.Clone().Ops
	e.mu.Unlock()
	return nil
}

// setConfigLocked replaces the whole configuration. Called by the handle with
// the config mutex held.
func (e *engine) setConfigLocked(cfg *Config) {
	e.cfg = *cfg.Clone()
}

func (e *engine) config() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Clone()
}

func (e *engine) RegisterAuthenID(cb AuthenIDFunc) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.mu.Lock()
	e.authenID = cb
	e.mu.Unlock()
	return nil
}

func (e *engine) ChipReset() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	cfg := e.config()
	e.clearSession()
	e.fieldOn = false
	e.feProto = ProtocolUnknown
	e.setState(StatePowerOff)
	if err := e.fe.reset(cfg); err != nil {
		return fmt.Errorf("chip reset: %w", err)
	}
	return nil
}

func (e *engine) AntennaControl(on bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if !on {
		_ = e.fe.stopCrypto()
		err := e.fe.field(false)
		e.fieldOn = false
		e.clearSession()
		e.setState(StatePowerOff)
		if err != nil {
			return fmt.Errorf("antenna off: %w", err)
		}
		return nil
	}
	if e.fieldOn {
		return nil
	}
	if err := e.fe.field(true); err != nil {
		return fmt.Errorf("antenna on: %w", err)
	}
	e.fieldOn = true
	e.host.DelayMs(uint32(FieldOnGuardTime / time.Millisecond))
	if e.state == StatePowerOff {
		e.setState(StateIdle)
	}
	return nil
}

// resetField power cycles every card in the field back to Idle.
func (e *engine) resetField() error {
	if err := e.AntennaControl(false); err != nil {
		return err
	}
	e.host.DelayMs(uint32(FieldResetDelay / time.Millisecond))
	return e.AntennaControl(true)
}

func (e *engine) switchProtocol(p Protocol) error {
	if e.feProto == p {
		return nil
	}
	if err := e.fe.setProtocol(p); err != nil {
		return err
	}
	e.feProto = p
	return nil
}

// crcProtocol selects the CRC of the air interface the front-end is on.
func (e *engine) crcProtocol() Protocol {
	if e.feProto == ProtocolISO14443A {
		return ProtocolISO14443A
	}
	return ProtocolISO14443B
}

// transceiveCRC sends tx with a CRC and returns the CRC-checked answer. A
// 4-bit answer is a MIFARE NAK.
func (e *engine) transceiveCRC(tx []byte, timeout time.Duration) ([]byte, error) {
	p := e.crcProtocol()
	frame := appendCRC(append(make([]byte, 0, len(tx)+2), tx...), p)
	rx, err := e.fe.transceive(xfer{tx: frame, timeout: timeout})
	if err != nil {
		return nil, err
	}
	if rx.lastBits == 4 && len(rx.data) == 1 {
		return nil, fmt.Errorf("%w (0x%X)", ErrNAK, rx.data[0]&0x0F)
	}
	return checkCRC(rx.data, p)
}

// 4-bit MIFARE acknowledge
const mfACK = 0x0A

// transceiveAck sends tx with a CRC and expects a 4-bit ACK.
func (e *engine) transceiveAck(tx []byte, timeout time.Duration) error {
	frame := appendCRC(append(make([]byte, 0, len(tx)+2), tx...), e.crcProtocol())
	rx, err := e.fe.transceive(xfer{tx: frame, timeout: timeout})
	if err != nil {
		return err
	}
	if rx.lastBits != 4 || len(rx.data) != 1 {
		return fmt.Errorf("%w: expected ACK, got %d bytes", ErrInvalidFrame, len(rx.data))
	}
	if rx.data[0]&0x0F != mfACK {
		return fmt.Errorf("%w (0x%X)", ErrNAK, rx.data[0]&0x0F)
	}
	return nil
}

// transceiveNoAnswer sends tx with a CRC where the card only answers on
// error. Silence is success.
func (e *engine) transceiveNoAnswer(tx []byte, timeout time.Duration) error {
	frame := appendCRC(append(make([]byte, 0, len(tx)+2), tx...), e.crcProtocol())
	rx, err := e.fe.transceive(xfer{tx: frame, timeout: timeout})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil
		}
		return err
	}
	if rx.lastBits == 4 && len(rx.data) == 1 && rx.data[0]&0x0F != mfACK {
		return fmt.Errorf("%w (0x%X)", ErrNAK, rx.data[0]&0x0F)
	}
	return nil
}

// Halt halts the current card with the halt command of its protocol.
func (e *engine) Halt() {
	switch e.proto {
	case ProtocolISO14443B, ProtocolIDCard:
		e.HaltB()
	case ProtocolISO15693:
		e.stayQuiet15693()
	default:
		e.HaltA()
	}
}

func (e *engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.clearSession()
	e.fieldOn = false
	e.setState(StatePowerOff)
	return e.fe.close()
}
