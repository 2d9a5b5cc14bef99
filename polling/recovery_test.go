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
)

func TestNewDefaultRecoverer(t *testing.T) {
	t.Parallel()

	h := newReader(t).h

	t.Run("WithDefaults", func(t *testing.T) {
		t.Parallel()
		r := NewDefaultRecoverer(h, nil, 0, 0)
		assert.Equal(t, 3, r.maxAttempts)
		assert.Equal(t, 500*time.Millisecond, r.backoff)
		assert.Same(t, h, r.Handle())
	})

	t.Run("WithCustomValues", func(t *testing.T) {
		t.Parallel()
		r := NewDefaultRecoverer(h, nil, 100*time.Millisecond, 5)
		assert.Equal(t, 5, r.maxAttempts)
		assert.Equal(t, 100*time.Millisecond, r.backoff)
	})
}

func TestDefaultRecoverer_ChipResetSuccess(t *testing.T) {
	t.Parallel()

	rd := newReader(t)
	resets := rd.mcu.Resets()
	r := NewDefaultRecoverer(rd.h, nil, time.Millisecond, 3)

	require.NoError(t, r.AttemptRecovery(context.Background()))
	assert.Same(t, rd.h, r.Handle())
	assert.Greater(t, rd.mcu.Resets(), resets)
}

func TestDefaultRecoverer_ChipResetFailsNoReopen(t *testing.T) {
	t.Parallel()

	rd := newReader(t)
	rd.host.fail.Store(true)
	r := NewDefaultRecoverer(rd.h, nil, time.Millisecond, 2)

	err := r.AttemptRecovery(context.Background())
	require.ErrorIs(t, err, errUnplugged)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestDefaultRecoverer_ReopenSuccess(t *testing.T) {
	t.Parallel()

	old := newReader(t)
	old.host.fail.Store(true)
	fresh := newReader(t)

	reopened := false
	r := NewDefaultRecoverer(old.h, func() (*nfc.Handle, error) {
		reopened = true
		return fresh.h, nil
	}, time.Millisecond, 3)

	require.NoError(t, r.AttemptRecovery(context.Background()))
	assert.True(t, reopened)
	assert.Same(t, fresh.h, r.Handle())

	// the old handle was released
	_, err := old.h.Detect()
	require.ErrorIs(t, err, nfc.ErrHandleClosed)
}

func TestDefaultRecoverer_AllAttemptsFail(t *testing.T) {
	t.Parallel()

	rd := newReader(t)
	rd.host.fail.Store(true)
	reopenErr := errors.New("reopen failed")
	r := NewDefaultRecoverer(rd.h, func() (*nfc.Handle, error) {
		return nil, reopenErr
	}, time.Millisecond, 2)

	require.ErrorIs(t, r.AttemptRecovery(context.Background()), reopenErr)
}

func TestDefaultRecoverer_ContextCancellation(t *testing.T) {
	t.Parallel()

	rd := newReader(t)
	rd.host.fail.Store(true)
	r := NewDefaultRecoverer(rd.h, nil, 100*time.Millisecond, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, r.AttemptRecovery(ctx), context.Canceled)
}
