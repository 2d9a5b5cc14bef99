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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAuthenIDHook(t *testing.T) {
	t.Parallel()

	uid := []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}

	t.Run("copies", func(t *testing.T) {
		t.Parallel()
		got, err := runAuthenIDHook(func(id, out []byte) (int, error) {
			id[0] = 0xFF
			return copy(out, id[:4]), nil
		}, uid, time.Second)
		require.NoError(t, err)
		assert.Equal(t, [4]byte{0xFF, 0x11, 0x22, 0x33}, got)
		// the hook works on a private copy
		assert.Equal(t, byte(0x04), uid[0])
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		_, err := runAuthenIDHook(func([]byte, []byte) (int, error) {
			return 0, errors.New("no mapping")
		}, uid, time.Second)
		require.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("hook error keeps one kind", func(t *testing.T) {
		t.Parallel()
		_, err := runAuthenIDHook(func([]byte, []byte) (int, error) {
			return 0, ErrTimeout
		}, uid, time.Second)
		require.ErrorIs(t, err, ErrProtocol)
		assert.NotErrorIs(t, err, ErrTimeout)
		assert.Equal(t, StatusProtocol, Status(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("short", func(t *testing.T) {
		t.Parallel()
		_, err := runAuthenIDHook(func(_, out []byte) (int, error) {
			return 2, nil
		}, uid, time.Second)
		require.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		defer close(release)
		_, err := runAuthenIDHook(func(_, out []byte) (int, error) {
			<-release
			return len(out), nil
		}, uid, 10*time.Millisecond)
		require.ErrorIs(t, err, ErrTimeout)
		assert.True(t, IsRetryable(err))
	})
}
