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

package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
)

// DeviceCallbacks receives the results of the actor's detection cycles.
type DeviceCallbacks struct {
	OnCardDetected func(info *nfc.CardInfo) error
	// OnPollError gets failed cycles other than an empty field.
	OnPollError func(err error)
}

// DeviceMetrics tracks operational metrics for DeviceActor
type DeviceMetrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Failed cycles, empty fields excluded
	CardsDetected   int64         // Cycles that found a card
	CallbackErrors  int64         // OnCardDetected failures
	LastPollLatency time.Duration // Duration of the last Detect call
}

// DeviceActor owns the polling goroutine of a handle.
type DeviceActor struct {
	handle    *nfc.Handle
	config    *Config
	callbacks DeviceCallbacks
	stopChan  chan struct{}
	wg        sync.WaitGroup

	pollCycles      atomic.Int64
	cardsDetected   atomic.Int64
	pollErrors      atomic.Int64
	callbackErrors  atomic.Int64
	lastPollLatency atomic.Int64

	currentInterval   atomic.Int64
	lastCardDetection atomic.Int64

	// held for the duration of a detection cycle
	cycleMu sync.Mutex
	running atomic.Bool
	paused  atomic.Bool
}

// NewDeviceActor creates an actor for h. It does not poll until Start.
func NewDeviceActor(h *nfc.Handle, config *Config, callbacks DeviceCallbacks) *DeviceActor {
	if config == nil {
		config = DefaultConfig()
	}
	da := &DeviceActor{
		handle:    h,
		config:    config,
		callbacks: callbacks,
		stopChan:  make(chan struct{}, 1),
	}
	da.currentInterval.Store(int64(config.PollInterval))
	da.lastCardDetection.Store(time.Now().UnixNano())
	return da
}

// Start launches the polling goroutine; a second Start is a no-op.
func (da *DeviceActor) Start(_ context.Context) error {
	if da.running.CompareAndSwap(false, true) {
		da.wg.Add(1)
		go da.pollLoop()
	}
	return nil
}

// Pause skips detection cycles until Resume. It returns once a cycle in
// progress has completed, so the caller may use the handle.
func (da *DeviceActor) Pause() {
	da.paused.Store(true)
	da.cycleMu.Lock()
	defer da.cycleMu.Unlock()
}

// Resume undoes Pause.
func (da *DeviceActor) Resume() { da.paused.Store(false) }

func (da *DeviceActor) pollLoop() {
	defer da.wg.Done()
	timer := time.NewTimer(0)
	defer func() {
		timer.Stop()
		da.running.Store(false)
	}()

	for {
		select {
		case <-timer.C:
			da.performPoll()
			da.adjustPollInterval()
			timer.Reset(time.Duration(da.currentInterval.Load()))
		case <-da.stopChan:
			return
		}
	}
}

// performPoll runs one detection cycle.
func (da *DeviceActor) performPoll() {
	da.cycleMu.Lock()
	defer da.cycleMu.Unlock()
	if da.handle == nil || da.paused.Load() {
		return
	}

	start := time.Now()
	info, err := da.handle.Detect()
	da.pollCycles.Add(1)
	da.lastPollLatency.Store(int64(time.Since(start)))

	if err != nil {
		if errors.Is(err, nfc.ErrNoCard) {
			return
		}
		da.pollErrors.Add(1)
		if da.callbacks.OnPollError != nil {
			da.callbacks.OnPollError(err)
		}
		return
	}

	da.cardsDetected.Add(1)
	da.lastCardDetection.Store(start.UnixNano())
	if da.callbacks.OnCardDetected != nil {
		if err := da.callbacks.OnCardDetected(info); err != nil {
			da.callbackErrors.Add(1)
			nfc.Debugf("polling actor: %v", err)
		}
	}
}

// adjustPollInterval slows polling down while the field stays empty.
func (da *DeviceActor) adjustPollInterval() {
	since := time.Since(time.Unix(0, da.lastCardDetection.Load()))
	da.currentInterval.Store(int64(da.config.interval(since)))
}

// Stop ends the polling goroutine and waits for it.
func (da *DeviceActor) Stop(_ context.Context) error {
	select {
	case da.stopChan <- struct{}{}:
	default:
	}
	da.wg.Wait()
	return nil
}

// GetMetrics returns current operational metrics
func (da *DeviceActor) GetMetrics() DeviceMetrics {
	return DeviceMetrics{
		PollCycles:      da.pollCycles.Load(),
		PollErrors:      da.pollErrors.Load(),
		CardsDetected:   da.cardsDetected.Load(),
		CallbackErrors:  da.callbackErrors.Load(),
		LastPollLatency: time.Duration(da.lastPollLatency.Load()),
	}
}

// GetCurrentPollInterval returns the current adaptive polling interval
func (da *DeviceActor) GetCurrentPollInterval() time.Duration {
	return time.Duration(da.currentInterval.Load())
}
