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
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// TaskFlag scopes a card operation within a session.
type TaskFlag int

const (
	// TaskAuto activates the card, runs the operation and halts it.
	TaskAuto TaskFlag = iota
	// TaskStart activates the card if needed and keeps the session open.
	TaskStart
	// TaskFinish runs the operation on the open session and then halts the
	// card whatever the outcome.
	TaskFinish
)

func (t TaskFlag) String() string {
	switch t {
	case TaskAuto:
		return "auto"
	case TaskStart:
		return "start"
	case TaskFinish:
		return "finish"
	default:
		return fmt.Sprintf("TaskFlag(%d)", int(t))
	}
}

// Option configures a Handle at Init.
type Option func(*Handle) error

// WithPSAM attaches the secure element channel.
func WithPSAM(t PSAMTransport) Option {
	return func(h *Handle) error {
		if t == nil {
			return fmt.Errorf("%w: nil PSAM transport", ErrParameter)
		}
		h.psamTransport = t
		return nil
	}
}

// WithRetryConfig replaces the activation retry policy.
func WithRetryConfig(rc *RetryConfig) Option {
	return func(h *Handle) error {
		if rc == nil {
			return fmt.Errorf("%w: nil retry config", ErrParameter)
		}
		h.retry = rc
		return nil
	}
}

// WithClock replaces the wall clock used for CardInfo timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handle) error {
		if now == nil {
			return fmt.Errorf("%w: nil clock", ErrParameter)
		}
		h.now = now
		return nil
	}
}

// Handle is one NFC reader: the host transport, its front-end and card
// state machine, the optional secure element and the callbacks.
//
// Thread Safety: card operations (Detect, IsCardIn, the M1, NTAG and APDU
// wrappers and everything reached through Ops) must be driven from one
// goroutine at a time, typically the polling loop and the callbacks it
// runs. Config, callback registration and PSAM operations may be called
// from any goroutine.
type Handle struct {
	engine        *engine
	host          HostTransport
	se            *psam
	psamTransport PSAMTransport
	retry         *RetryConfig
	now           func() time.Time
	start         time.Time
	callbacks     registry
	mu            syncutil.RWMutex
	frontend      FrontendType
	closed        atomic.Bool
}

// Init creates a handle for the front-end of type t attached to host. A nil
// cfg uses DefaultConfig. When cfg.Enable is set the front-end is reset
// before Init returns.
func Init(host HostTransport, cfg *Config, t FrontendType, opts ...Option) (*Handle, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: nil host transport", ErrParameter)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fe, err := newFrontend(t, host)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		host:     host,
		frontend: t,
		retry:    DefaultRetryConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	h.start = h.now()
	h.engine = newEngine(fe, host, &h.mu, cfg)

	if h.psamTransport != nil {
		if h.se, err = newPSAM(t, h.psamTransport, nil); err != nil {
			return nil, err
		}
	}

	if cfg.Enable {
		if err := h.engine.ChipReset(); err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
	}
	if cfg.PSAMEnable && h.se != nil {
		if _, err := h.se.Reset(false); err != nil {
			Debugf("init: secure element reset failed: %v", err)
		}
	}
	Debugf("init: %s front-end ready", t)
	return h, nil
}

// Deinit releases the front-end, the transports and the callbacks.
// Operations on the handle fail with ErrHandleClosed afterwards.
func (h *Handle) Deinit() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.callbacks.clear()
	var errs []error
	if err := h.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if h.se != nil {
		if err := h.se.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close is Deinit.
func (h *Handle) Close() error { return h.Deinit() }

func (h *Handle) checkOpen() error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	return nil
}

// Ops returns the card protocol state machine of the handle.
func (h *Handle) Ops() CardProtocolOps { return h.engine }

// FrontendType returns the front-end variant of the handle.
func (h *Handle) FrontendType() FrontendType { return h.frontend }

// UpdateConfig validates and applies cfg. Front-end tuning takes effect at
// the next chip reset.
func (h *Handle) UpdateConfig(cfg *Config) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.engine.setConfigLocked(cfg)
	h.mu.Unlock()
	return nil
}

// Config returns a copy of the live configuration.
func (h *Handle) Config() Config {
	return *h.engine.config()
}

// RegisterAuthenIDHook installs the authentication ID hook; nil removes it.
func (h *Handle) RegisterAuthenIDHook(cb AuthenIDFunc) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	return RegisterAuthenID(h.engine, cb)
}

// RegisterCallback adds a named card callback. At most one callback can be
// CallbackExclusive.
func (h *Handle) RegisterCallback(name string, cb CardCallback, mode CallbackMode, userData any) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	return h.callbacks.register(name, cb, mode, userData)
}

// UnregisterCallback removes a callback, waiting for a running invocation
// to return. A callback must not unregister itself.
func (h *Handle) UnregisterCallback(name string) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	return h.callbacks.unregister(name)
}

// CardState returns the state of the card state machine.
func (h *Handle) CardState() CardState { return h.engine.CardState() }

// IsCardIn reports whether a card is present. An open session counts as
// present; otherwise the field is probed without dispatching.
func (h *Handle) IsCardIn() bool {
	if h.checkOpen() != nil {
		return false
	}
	if h.engine.state.Activated() {
		return true
	}
	cfg := h.Config()
	if !cfg.Enable {
		return false
	}
	_, err := h.detect(&cfg)
	if err != nil {
		return false
	}
	h.engine.Halt()
	return true
}

// Detect runs one detection cycle over the enabled protocols and hands the
// card to the callbacks. In WorkModeAuto the card is halted after the
// callbacks return. ErrNoCard means nothing answered.
func (h *Handle) Detect() (*CardInfo, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	cfg := h.Config()
	if !cfg.Enable {
		return nil, fmt.Errorf("detect: %w", ErrDisabled)
	}
	info, err := h.detect(&cfg)
	if err != nil {
		return nil, err
	}
	n := h.callbacks.dispatch(h, info)
	Debugf("detect: %s dispatched to %d callbacks", info, n)
	if cfg.WorkMode == WorkModeAuto && h.engine.state.Activated() {
		h.engine.Halt()
	}
	return info, nil
}

func (h *Handle) detect(cfg *Config) (*CardInfo, error) {
	steps := []struct {
		run  func(*Config) (*CardInfo, error)
		mask ProtocolMask
	}{
		{mask: ProtocolMaskA, run: h.detectA},
		{mask: ProtocolMaskB, run: h.detectB},
		{mask: ProtocolMask15693, run: h.detect15693},
	}

	var firstErr error
	for _, step := range steps {
		if !cfg.Ops.CardProtocol.Has(step.mask) {
			continue
		}
		if err := h.idle(); err != nil {
			return nil, err
		}
		info, err := step.run(cfg)
		if err == nil {
			h.stamp(info)
			return info, nil
		}
		if errors.Is(err, ErrVirtualCard) {
			return nil, err
		}
		if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrUnsupported) && firstErr == nil {
			firstErr = err
		}
		Debugf("detect %s: %v", step.mask, err)
	}
	if firstErr != nil {
		return nil, fmt.Errorf("detect: %w", firstErr)
	}
	return nil, ErrNoCard
}

// idle brings every card in the field back to Idle.
func (h *Handle) idle() error {
	switch h.engine.state {
	case StateIdle:
		return nil
	case StatePowerOff:
		return h.engine.AntennaControl(true)
	default:
		return h.engine.resetField()
	}
}

func (h *Handle) stamp(info *CardInfo) {
	now := h.now()
	info.Timestamp = now
	info.Monotonic = now.Sub(h.start)
	info.DetectionID = uuid.New()
}

// retryRequest retries a REQA/REQB style request on timeout.
func (h *Handle) retryRequest(fn func() error) error {
	return RetryWithConfig(context.Background(), h.retry, fn)
}

func (h *Handle) detectA(cfg *Config) (*CardInfo, error) {
	e := h.engine
	var atqa [2]byte
	err := h.retryRequest(func() error {
		var err error
		atqa, err = e.RequestA()
		return err
	})
	if err != nil {
		return nil, err
	}
	uid, sak, err := e.ActivateA()
	if err != nil {
		return nil, err
	}

	ops := &cfg.Ops
	ct := ClassifyTypeA(atqa, sak, len(uid), ops.SAK28AsCPU)
	info, err := NewCardInfo(ct, uid, ProtocolISO14443A)
	if err != nil {
		return nil, err
	}
	info.ATQA = atqa
	info.SAK = sak

	if ops.ISO14443P4Switch && (ct == CardTypeCPUA || ct == CardTypeDESFire) {
		ats, err := e.GetATS()
		if err != nil {
			return nil, err
		}
		info.ATS = ats
	}

	if ct.IsMifareClassic() {
		if ops.CheckM1VirtualCard && len(ops.M1VirtualBlock0) > 0 {
			if err := h.checkVirtualCard(ops); err != nil {
				info.CardType = CardTypeNotSupported
				return nil, fmt.Errorf("detect %X: %w", uid, err)
			}
		}
		if ops.SectorSwitch {
			info.BlockData = h.readSectorSwitch(ops)
		}
	}
	return info, nil
}

// checkVirtualCard compares block 0 against the trusted images. Cards whose
// sector 0 cannot be read with the configured key fail too.
func (h *Handle) checkVirtualCard(ops *OpsConfig) error {
	e := h.engine
	if err := e.Crypto1Authen(0, KeyA, ops.sector0Key()); err != nil {
		return fmt.Errorf("%w: %v", ErrVirtualCard, err)
	}
	blk, err := e.Crypto1Read(0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVirtualCard, err)
	}
	if !ops.trustedBlock0(blk[:]) {
		return ErrVirtualCard
	}
	return nil
}

// readSectorSwitch reads the configured block. Failures only cost the
// block data.
func (h *Handle) readSectorSwitch(ops *OpsConfig) []byte {
	e := h.engine
	if err := e.Crypto1Authen(ops.BlockNum, ops.KeyType, ops.sectorKey()); err != nil {
		Debugf("sector switch: %v", err)
		return nil
	}
	blk, err := e.Crypto1Read(ops.BlockNum)
	if err != nil {
		Debugf("sector switch: %v", err)
		return nil
	}
	return blk[:]
}

func (h *Handle) detectB(cfg *Config) (*CardInfo, error) {
	e := h.engine
	ops := &cfg.Ops
	var afi byte
	if ops.AFIEnable {
		afi = ops.AFI
	}
	err := h.retryRequest(func() error {
		_, err := e.RequestB(afi)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := e.AttribB(ops.BaudRx, ops.BaudTx, 0); err != nil {
		return nil, err
	}

	iso4 := e.state == StateISO14443P4
	uid := e.UID()
	subtype := ProtocolISO14443B
	identity := false
	if ops.IdentityCardEnable {
		guid, err := e.IDCardUID()
		if err != nil {
			Debugf("detect B: identity card GUID: %v", err)
		} else {
			uid, subtype, identity = guid, ProtocolIDCard, true
		}
	}
	return NewCardInfo(ClassifyTypeB(iso4, identity), uid, subtype)
}

func (h *Handle) detect15693(cfg *Config) (*CardInfo, error) {
	e := h.engine
	var afi byte
	if cfg.Ops.AFIEnable {
		afi = cfg.Ops.AFI
	}
	uid, err := e.Inventory15693(afi)
	if err != nil {
		return nil, err
	}
	if err := e.Select15693(uid); err != nil {
		return nil, err
	}
	return NewCardInfo(CardTypeISO15693, uid, ProtocolISO15693)
}

// activate brings a Type A card into a session for a task wrapper. An open
// session is kept; otherwise the card is woken and selected.
func (h *Handle) activate(task TaskFlag) error {
	if task == TaskFinish {
		if !h.engine.state.Activated() {
			return wrongState("finish task", h.engine.state)
		}
		return nil
	}
	if h.engine.state.Activated() && h.engine.proto == ProtocolISO14443A {
		return nil
	}
	if err := h.idle(); err != nil {
		return err
	}
	err := h.retryRequest(func() error {
		_, err := h.engine.WakeupA()
		return err
	})
	if err != nil {
		return err
	}
	_, _, err = h.engine.ActivateA()
	return err
}

// finish halts the card for TaskAuto and TaskFinish.
func (h *Handle) finish(task TaskFlag) {
	if task == TaskAuto || task == TaskFinish {
		h.engine.HaltA()
	}
}

// APDU exchanges one APDU with an ISO14443-4 card within task. With
// TaskAuto or TaskStart a Type A card is activated and switched to
// ISO14443-4 first if needed.
func (h *Handle) APDU(task TaskFlag, send []byte) ([]byte, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if task != TaskFinish && h.engine.state != StateISO14443P4 {
		if err := h.activate(task); err != nil {
			return nil, err
		}
		if h.engine.state == StateActive {
			if _, err := h.engine.GetATS(); err != nil {
				h.finish(TaskFinish)
				return nil, err
			}
		}
	}
	resp, err := h.engine.APDU(send)
	if task == TaskAuto || task == TaskFinish {
		h.engine.Halt()
	}
	return resp, err
}

// SecureElement returns the PSAM of the handle, nil without WithPSAM.
func (h *Handle) SecureElement() SecureElement {
	if h.se == nil {
		return nil
	}
	return h.se
}

func (h *Handle) psam() (*psam, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if h.se == nil {
		return nil, fmt.Errorf("%w: no secure element channel", ErrUnsupported)
	}
	if !h.Config().PSAMEnable {
		return nil, fmt.Errorf("psam: %w", ErrDisabled)
	}
	return h.se, nil
}

// PSAMReset powers up the secure element and returns its ATR.
func (h *Handle) PSAMReset(force bool) ([]byte, error) {
	se, err := h.psam()
	if err != nil {
		return nil, err
	}
	return se.Reset(force)
}

// PSAMAPDU exchanges one APDU with the secure element.
func (h *Handle) PSAMAPDU(apdu []byte) ([]byte, error) {
	se, err := h.psam()
	if err != nil {
		return nil, err
	}
	return se.APDU(apdu)
}

func (h *Handle) PSAMChangeBaud() error {
	se, err := h.psam()
	if err != nil {
		return err
	}
	return se.ChangeBaud()
}

func (h *Handle) PSAMPowerDown() error {
	se, err := h.psam()
	if err != nil {
		return err
	}
	return se.PowerDown()
}

func (h *Handle) PSAMUpdateFirmware(path string, reboot bool) error {
	se, err := h.psam()
	if err != nil {
		return err
	}
	return se.UpdateFirmware(path, reboot)
}

// PSAMOpsFunc sends a raw controller command and returns its answer.
func (h *Handle) PSAMOpsFunc(data []byte) ([]byte, error) {
	se, err := h.psam()
	if err != nil {
		return nil, err
	}
	return se.Passthrough(data)
}
