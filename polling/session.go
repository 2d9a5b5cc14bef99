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

// Package polling watches a reader for cards arriving and leaving. A
// Session runs detection cycles on an nfc.Handle, debounces removal with a
// timer and serializes write operations against the polling loop.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// ErrWriteTimeout means no card showed up before a write deadline.
var ErrWriteTimeout = errors.New("timeout waiting for card")

// WriteFunc performs a write on the card described by info. The card may
// be halted; the TaskAuto wrappers of h activate it again.
type WriteFunc func(ctx context.Context, h *nfc.Handle, info *nfc.CardInfo) error

// Session handles continuous card monitoring with state machine
type Session struct {
	OnCardDetected func(info *nfc.CardInfo) error
	OnCardRemoved  func()
	OnCardChanged  func(info *nfc.CardInfo) error
	config         *Config
	handle         *nfc.Handle
	recoverer      Recoverer
	actor          *DeviceActor
	pauseChan      chan struct{}
	resumeChan     chan struct{}
	ackChan        chan struct{}
	lastPoll       time.Time
	lastCard       time.Time
	state          CardState
	stateMutex     syncutil.RWMutex
	writeMutex     syncutil.Mutex
	closed         atomic.Bool
	isPaused       atomic.Bool
}

// NewSession creates a session polling h. A nil config is DefaultConfig.
func NewSession(h *nfc.Handle, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{
		handle:     h,
		config:     config,
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
	}
}

// NewActorBasedSession creates a session whose polling runs on a
// DeviceActor goroutine. Start returns immediately.
func NewActorBasedSession(h *nfc.Handle, config *Config) *Session {
	s := NewSession(h, config)
	s.actor = NewDeviceActor(h, s.config, DeviceCallbacks{
		OnCardDetected: s.processPollingResults,
		OnPollError:    s.handlePollingError,
	})
	return s
}

// SetRecoverer enables sleep and fatal error recovery.
func (s *Session) SetRecoverer(r Recoverer) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.recoverer = r
}

// Start polls until ctx ends, a callback fails or the reader is lost for
// good. Actor based sessions return at once.
func (s *Session) Start(ctx context.Context) error {
	if s.actor != nil {
		return s.actor.Start(ctx)
	}
	return s.runPollingLoop(ctx)
}

// GetState returns a copy of the card state.
func (s *Session) GetState() CardState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// Handle returns the handle being polled. It changes after a recovery
// that reopened the reader.
func (s *Session) Handle() *nfc.Handle {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.handle
}

// GetDeviceActor returns the actor of an actor based session, else nil.
func (s *Session) GetDeviceActor() *DeviceActor {
	return s.actor
}

// SetOnCardDetected sets the callback for a card entering an empty field.
func (s *Session) SetOnCardDetected(callback func(*nfc.CardInfo) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnCardDetected = callback
}

// SetOnCardRemoved sets the callback for the field becoming empty.
func (s *Session) SetOnCardRemoved(callback func()) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnCardRemoved = callback
}

// SetOnCardChanged sets the callback for a different card replacing the
// current one between two cycles.
func (s *Session) SetOnCardChanged(callback func(*nfc.CardInfo) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnCardChanged = callback
}

// Close stops the session. The handle stays open.
func (s *Session) Close() error {
	s.closed.Store(true)

	s.stateMutex.Lock()
	safeTimerStop(s.state.RemovalTimer)
	s.state.RemovalTimer = nil
	s.stateMutex.Unlock()

	s.isPaused.Store(false)
	select {
	case <-s.pauseChan:
	default:
	}
	select {
	case <-s.resumeChan:
	default:
	}

	if s.actor != nil {
		if err := s.actor.Stop(context.Background()); err != nil {
			return fmt.Errorf("failed to stop device actor: %w", err)
		}
	}
	return nil
}

// Pause stops polling after the current cycle.
func (s *Session) Pause() {
	if s.isPaused.CompareAndSwap(false, true) {
		if s.actor != nil {
			s.actor.Pause()
			return
		}
		select {
		case s.pauseChan <- struct{}{}:
		default:
		}
	}
}

// Resume restarts polling after Pause.
func (s *Session) Resume() {
	if s.isPaused.CompareAndSwap(true, false) {
		if s.actor != nil {
			s.actor.Resume()
			return
		}
		select {
		case s.resumeChan <- struct{}{}:
		default:
		}
	}
}

// IsPaused reports whether polling is paused.
func (s *Session) IsPaused() bool { return s.isPaused.Load() }

// pauseWithAck pauses polling and waits briefly for the loop to confirm.
// Without a running loop the ack never comes and the wait times out.
func (s *Session) pauseWithAck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.isPaused.CompareAndSwap(false, true) {
		return nil
	}
	if s.actor != nil {
		s.actor.Pause()
		return nil
	}

	select {
	case s.pauseChan <- struct{}{}:
	default:
		return nil
	}
	ackTimeout := time.NewTimer(100 * time.Millisecond)
	defer ackTimeout.Stop()
	select {
	case <-s.ackChan:
		return nil
	case <-ackTimeout.C:
		return nil
	case <-ctx.Done():
		s.isPaused.Store(false)
		return ctx.Err()
	}
}

// executeWrite runs fn and drops any card session it left open on error.
func (s *Session) executeWrite(writeCtx context.Context, info *nfc.CardInfo, fn WriteFunc) error {
	h := s.Handle()
	if err := fn(writeCtx, h, info); err != nil {
		h.Ops().Halt()
		return err
	}
	return nil
}

// WriteToNextCard pauses polling, waits up to timeout for a card and runs
// fn on it. sessionCtx bounds the wait, writeCtx is handed to fn.
func (s *Session) WriteToNextCard(
	sessionCtx context.Context,
	writeCtx context.Context,
	timeout time.Duration,
	fn WriteFunc,
) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if err := s.pauseWithAck(sessionCtx); err != nil {
		return fmt.Errorf("failed to pause polling: %w", err)
	}
	defer s.Resume()

	timeoutCtx, cancel := context.WithTimeout(sessionCtx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		info, err := s.performSinglePoll()
		if err == nil {
			return s.executeWrite(writeCtx, info, fn)
		}
		if !errors.Is(err, ErrNoCardInPoll) {
			return fmt.Errorf("card detection failed: %w", err)
		}

		select {
		case <-ticker.C:
		case <-timeoutCtx.Done():
			if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
				return ErrWriteTimeout
			}
			return timeoutCtx.Err()
		}
	}
}

// WriteToCard pauses polling and runs fn on an already detected card.
func (s *Session) WriteToCard(
	sessionCtx context.Context,
	writeCtx context.Context,
	info *nfc.CardInfo,
	fn WriteFunc,
) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if err := s.pauseWithAck(sessionCtx); err != nil {
		return fmt.Errorf("failed to pause polling: %w", err)
	}
	defer s.Resume()

	return s.executeWrite(writeCtx, info, fn)
}

func (s *Session) withRetry(fn WriteFunc) WriteFunc {
	return func(ctx context.Context, h *nfc.Handle, info *nfc.CardInfo) error {
		op := "write " + info.CardType.String()
		return nfc.RetryCardWrite(ctx, s.config.WriteRetries, op, func(ctx context.Context) error {
			return fn(ctx, h, info)
		})
	}
}

// WriteToNextCardWithRetry is WriteToNextCard retrying fn on timeouts,
// for cards still sliding into place.
func (s *Session) WriteToNextCardWithRetry(
	sessionCtx context.Context,
	writeCtx context.Context,
	timeout time.Duration,
	fn WriteFunc,
) error {
	return s.WriteToNextCard(sessionCtx, writeCtx, timeout, s.withRetry(fn))
}

// WriteToCardWithRetry is WriteToCard retrying fn on timeouts.
func (s *Session) WriteToCardWithRetry(
	sessionCtx context.Context,
	writeCtx context.Context,
	info *nfc.CardInfo,
	fn WriteFunc,
) error {
	return s.WriteToCard(sessionCtx, writeCtx, info, s.withRetry(fn))
}

// runPollingLoop polls until ctx ends or a cycle fails.
func (s *Session) runPollingLoop(ctx context.Context) error {
	now := time.Now()
	s.lastPoll, s.lastCard = now, now

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		if err := s.handleContextAndPause(ctx); err != nil {
			return err
		}
		if err := s.checkSleep(ctx); err != nil {
			return err
		}
		if err := s.executeSinglePollingCycle(ctx); err != nil {
			return err
		}
		timer.Reset(s.config.interval(time.Since(s.lastCard)))
		if err := s.waitForNextPollOrPause(ctx, timer); err != nil {
			return err
		}
	}
}

// checkSleep runs recovery when the loop resumes much later than planned.
func (s *Session) checkSleep(ctx context.Context) error {
	now := time.Now()
	elapsed := now.Sub(s.lastPoll)
	s.lastPoll = now
	if !s.config.SleepRecovery.DetectSleep(elapsed, s.config.PollInterval) {
		return nil
	}
	nfc.Debugf("polling: %v since last cycle, assuming host sleep", elapsed)
	s.handleCardRemoval()
	return s.recover(ctx)
}

func (s *Session) hasRecoverer() bool {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.recoverer != nil
}

// recover runs the recoverer if one is set and adopts its handle.
func (s *Session) recover(ctx context.Context) error {
	s.stateMutex.RLock()
	r := s.recoverer
	s.stateMutex.RUnlock()
	if r == nil {
		return nil
	}
	if err := r.AttemptRecovery(ctx); err != nil {
		return fmt.Errorf("reader recovery: %w", err)
	}
	s.stateMutex.Lock()
	s.handle = r.Handle()
	s.stateMutex.Unlock()
	return nil
}

// executeSinglePollingCycle polls once. Only callback failures and lost
// readers end the loop.
func (s *Session) executeSinglePollingCycle(ctx context.Context) error {
	info, err := s.performSinglePoll()
	if err != nil {
		if errors.Is(err, ErrNoCardInPoll) {
			return nil
		}
		if nfc.IsFatal(err) {
			s.handleCardRemoval()
			if !s.hasRecoverer() {
				return fmt.Errorf("polling stopped: %w", err)
			}
			return s.recover(ctx)
		}
		s.handlePollingError(err)
		return nil
	}
	if err := s.processPollingResults(info); err != nil {
		return fmt.Errorf("callback error during polling: %w", err)
	}
	return nil
}

// waitForNextPollOrPause waits for the timer or parks on a pause.
func (s *Session) waitForNextPollOrPause(ctx context.Context, timer *time.Timer) error {
	select {
	case <-timer.C:
		return nil
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) handlePauseSignal(ctx context.Context) error {
	select {
	case s.ackChan <- struct{}{}:
	default:
	}
	return s.waitForResume(ctx)
}

func (s *Session) handleContextAndPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	default:
		return nil
	}
}

func (s *Session) waitForResume(ctx context.Context) error {
	select {
	case <-s.resumeChan:
		s.lastPoll = time.Now()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// performSinglePoll runs one detection cycle.
func (s *Session) performSinglePoll() (*nfc.CardInfo, error) {
	info, err := s.Handle().Detect()
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, nfc.ErrNoCard):
		return nil, ErrNoCardInPoll
	case errors.Is(err, nfc.ErrVirtualCard):
		nfc.Debugf("polling: ignoring untrusted card: %v", err)
		return nil, ErrNoCardInPoll
	default:
		return nil, fmt.Errorf("card detection failed: %w", err)
	}
}

// handlePollingError treats a failed cycle other than a timeout as the
// card leaving.
func (s *Session) handlePollingError(err error) {
	if errors.Is(err, nfc.ErrTimeout) || errors.Is(err, context.Canceled) {
		return
	}
	nfc.Debugf("polling: %v", err)
	s.handleCardRemoval()
}

// handleCardRemoval reports the card gone. It runs from the removal timer
// and from the polling loop.
func (s *Session) handleCardRemoval() {
	if s.closed.Load() {
		return
	}

	s.stateMutex.Lock()
	// a cycle holding the card is running; the timer is stale
	if s.state.DetectionState == StateReading {
		s.stateMutex.Unlock()
		return
	}
	wasPresent := s.state.Present
	if wasPresent {
		s.state.TransitionToIdle()
	}
	onRemoved := s.OnCardRemoved
	s.stateMutex.Unlock()

	if wasPresent && onRemoved != nil {
		onRemoved()
	}
}

// processPollingResults runs the callbacks for info and rearms removal.
func (s *Session) processPollingResults(info *nfc.CardInfo) error {
	if info == nil {
		return nil
	}
	s.lastCard = time.Now()

	// stop the removal timer before callbacks that may take long
	s.stateMutex.Lock()
	s.state.TransitionToReading()
	s.stateMutex.Unlock()

	changed, err := s.updateCardState(info)
	if err != nil {
		s.stateMutex.Lock()
		s.state.TransitionToPresent(s.config.CardRemovalTimeout, s.handleCardRemoval)
		s.stateMutex.Unlock()
		return err
	}

	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if changed {
		s.state.TransitionToPostReadGrace(s.config.CardRemovalTimeout, s.handleCardRemoval)
	} else {
		s.state.TransitionToPresent(s.config.CardRemovalTimeout, s.handleCardRemoval)
	}
	return nil
}

// safeCallCallback runs callback, turning a panic into an error.
func (*Session) safeCallCallback(callback func(*nfc.CardInfo) error, info *nfc.CardInfo, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s callback panicked: %v", name, r)
		}
	}()
	if err := callback(info); err != nil {
		return fmt.Errorf("%s callback failed: %w", name, err)
	}
	return nil
}

// updateCardState runs OnCardDetected or OnCardChanged and records info.
// It reports whether the card is new to the session.
func (s *Session) updateCardState(info *nfc.CardInfo) (bool, error) {
	uid := info.UIDHex()

	s.stateMutex.RLock()
	wasPresent := s.state.Present
	changed := wasPresent && s.state.LastUID != uid
	onDetected := s.OnCardDetected
	onChanged := s.OnCardChanged
	s.stateMutex.RUnlock()

	switch {
	case !wasPresent && onDetected != nil:
		if err := s.safeCallCallback(onDetected, info, "OnCardDetected"); err != nil {
			return false, err
		}
	case changed && onChanged != nil:
		if err := s.safeCallCallback(onChanged, info, "OnCardChanged"); err != nil {
			return false, err
		}
	}

	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.state.LastSeenTime = time.Now()
	s.state.Info = info
	if wasPresent && !changed {
		return false, nil
	}
	s.state.Present = true
	s.state.LastUID = uid
	s.state.LastType = info.CardType
	return true, nil
}
