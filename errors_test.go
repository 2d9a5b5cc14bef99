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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want int
	}{
		{name: "nil", err: nil, want: StatusSuccess},
		{name: "wrong state", err: wrongState("op", StateIdle), want: StatusWorkmodeFault},
		{name: "disabled", err: ErrDisabled, want: StatusWorkmodeFault},
		{name: "buffer too small", err: ErrBufferTooSmall, want: StatusOverflow},
		{name: "parameter", err: fmt.Errorf("x: %w", ErrParameter), want: StatusParam},
		{name: "authentication", err: ErrSectorNotAuthenticated, want: StatusAuthentication},
		{name: "timeout", err: NewTimeoutError("read", "sim"), want: StatusTimeout},
		{name: "no card", err: ErrNoCard, want: StatusTimeout},
		{name: "unsupported", err: ErrUnsupported, want: StatusUnsupported},
		{name: "CRC", err: ErrCRC, want: StatusProtocol},
		{name: "front-end auth", err: newFrontendError("auth", feStatusAuth), want: StatusAuthentication},
		{name: "foreign", err: errors.New("boom"), want: StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestStateError_Unwrap(t *testing.T) {
	t.Parallel()

	err := wrongState("crypto1Read", StateHalt)
	assert.ErrorIs(t, err, ErrWrongState)
	assert.ErrorIs(t, err, ErrParameter)

	var se *StateError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, StateHalt, se.State)
	assert.Contains(t, err.Error(), "crypto1Read")
	assert.Contains(t, err.Error(), "Halt")
}

func TestFrontendError_Kinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   error
		name   string
		status byte
	}{
		{name: "timeout", status: feStatusTimeout, kind: ErrTimeout},
		{name: "auth", status: feStatusAuth, kind: ErrAuthentication},
		{name: "param", status: feStatusParam, kind: ErrParameter},
		{name: "unsupported", status: feStatusUnsupported, kind: ErrUnsupported},
		{name: "crc", status: feStatusCRC, kind: ErrProtocol},
		{name: "unknown", status: 0x55, kind: ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := newFrontendError("mcu", tt.status)
			assert.ErrorIs(t, err, tt.kind)
			assert.Contains(t, err.Error(), frontendStatusMeaning(tt.status))
		})
	}
}

func TestErrorKinds_AreDisjoint(t *testing.T) {
	t.Parallel()

	kinds := []error{ErrParameter, ErrProtocol, ErrTimeout, ErrUnsupported, ErrAuthentication}
	refined := []error{
		ErrWrongState, ErrBufferTooSmall, ErrHandleClosed, ErrDisabled, ErrCardRemoved,
		ErrCRC, ErrNAK, ErrInvalidFrame, ErrCascade, ErrVirtualCard, ErrNoCard,
		ErrSectorNotAuthenticated, ErrNoNDEF, ErrNDEFTooLarge,
	}
	for _, err := range refined {
		n := 0
		for _, k := range kinds {
			if errors.Is(err, k) {
				n++
			}
		}
		assert.Equal(t, 1, n, "%v must wrap exactly one kind", err)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: NewTimeoutError("read", "/dev/ttyS1"), want: true},
		{name: "front-end timeout", err: newFrontendError("mcu", feStatusTimeout), want: true},
		{name: "no card", err: ErrNoCard, want: true},
		{name: "protocol", err: ErrCRC, want: false},
		{name: "auth", err: ErrAuthentication, want: false},
		{name: "wrapped timeout", err: fmt.Errorf("requestA: %w", ErrTimeout), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "permanent transport", err: NewTransportError("open", "spi0", io.ErrClosedPipe, ErrorTypePermanent), want: true},
		{name: "transient transport", err: NewTransportError("write", "spi0", io.ErrShortWrite, ErrorTypeTransient), want: false},
		{name: "closed handle", err: ErrHandleClosed, want: true},
		{name: "eof", err: fmt.Errorf("read: %w", io.EOF), want: true},
		{name: "timeout", err: ErrTimeout, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestNewTransportError_TimeoutUnwrapsToErrTimeout(t *testing.T) {
	t.Parallel()

	err := NewTransportError("read", "uart", io.ErrNoProgress, ErrorTypeTimeout)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, io.ErrNoProgress)
	assert.Equal(t, "read uart: timeout: multiple Read calls return no data or error", err.Error())
}
