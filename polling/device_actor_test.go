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

package polling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfc "github.com/ZaparooProject/go-nfc"
	virt "github.com/ZaparooProject/go-nfc/internal/testing"
)

func TestDeviceActor_Metrics(t *testing.T) {
	t.Parallel()

	r := newReader(t, virt.NewMifare1K(nil))
	seen := make(chan struct{}, 16)
	da := NewDeviceActor(r.h, fastConfig(), DeviceCallbacks{
		OnCardDetected: func(*nfc.CardInfo) error {
			select {
			case seen <- struct{}{}:
			default:
			}
			return errors.New("not interested")
		},
	})

	require.NoError(t, da.Start(context.Background()))
	require.NoError(t, da.Start(context.Background()))
	waitFor(t, seen)
	require.NoError(t, da.Stop(context.Background()))

	m := da.GetMetrics()
	assert.Positive(t, m.PollCycles)
	assert.Positive(t, m.CardsDetected)
	assert.Equal(t, m.CardsDetected, m.CallbackErrors)
	assert.Zero(t, m.PollErrors)
	assert.Positive(t, m.LastPollLatency)
}

func TestDeviceActor_PollErrors(t *testing.T) {
	t.Parallel()

	r := newReader(t)
	r.host.fail.Store(true)
	errs := make(chan error, 16)
	da := NewDeviceActor(r.h, fastConfig(), DeviceCallbacks{
		OnPollError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	})
	require.NoError(t, da.Start(context.Background()))
	t.Cleanup(func() { _ = da.Stop(context.Background()) })

	require.ErrorIs(t, waitFor(t, errs), errUnplugged)
	assert.Positive(t, da.GetMetrics().PollErrors)
}

func TestDeviceActor_AdaptiveInterval(t *testing.T) {
	t.Parallel()

	r := newReader(t)
	cfg := fastConfig()
	cfg.IdleAfter = 10 * time.Millisecond
	cfg.IdleInterval = 15 * time.Millisecond
	da := NewDeviceActor(r.h, cfg, DeviceCallbacks{})
	assert.Equal(t, cfg.PollInterval, da.GetCurrentPollInterval())

	require.NoError(t, da.Start(context.Background()))
	t.Cleanup(func() { _ = da.Stop(context.Background()) })

	assert.Eventually(t, func() bool {
		return da.GetCurrentPollInterval() == cfg.IdleInterval
	}, time.Second, time.Millisecond)
}

func TestDeviceActor_PauseWaitsForCycle(t *testing.T) {
	t.Parallel()

	r := newReader(t, virt.NewMifare1K(nil))
	da := NewDeviceActor(r.h, fastConfig(), DeviceCallbacks{})
	require.NoError(t, da.Start(context.Background()))
	t.Cleanup(func() { _ = da.Stop(context.Background()) })

	assert.Eventually(t, func() bool { return da.GetMetrics().PollCycles > 0 }, time.Second, time.Millisecond)
	da.Pause()
	cycles := da.GetMetrics().PollCycles

	// the handle is ours while paused
	_, err := r.h.Detect()
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, cycles, da.GetMetrics().PollCycles)

	da.Resume()
	assert.Eventually(t, func() bool { return da.GetMetrics().PollCycles > cycles }, time.Second, time.Millisecond)
}

func TestActorBasedSession(t *testing.T) {
	t.Parallel()

	card := virt.NewNTAG(virt.KindNTAG215, nil)
	r := newReader(t, card)
	s := NewActorBasedSession(r.h, fastConfig())
	require.NotNil(t, s.GetDeviceActor())

	detected := make(chan *nfc.CardInfo, 4)
	removed := make(chan struct{}, 4)
	s.SetOnCardDetected(func(info *nfc.CardInfo) error {
		detected <- info
		return nil
	})
	s.SetOnCardRemoved(func() { removed <- struct{}{} })

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	info := waitFor(t, detected)
	assert.Equal(t, nfc.CardTypeUltralight, info.CardType)

	page := [nfc.NTAGPageSize]byte{9, 8, 7, 6}
	err := s.WriteToCard(context.Background(), context.Background(), info,
		func(_ context.Context, h *nfc.Handle, _ *nfc.CardInfo) error {
			return h.NTAGWritePage(nfc.TaskAuto, 7, page)
		})
	require.NoError(t, err)
	assert.False(t, s.IsPaused())

	r.swap()
	waitFor(t, removed)

	require.NoError(t, s.Close())
	r.mcu.WithField(func(*virt.Field) {
		assert.Equal(t, page[:], card.Block(7))
	})
}
