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
)

// Error kinds. Every error returned by this package wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	ErrParameter      = errors.New("invalid parameter")
	ErrProtocol       = errors.New("protocol error")
	ErrTimeout        = errors.New("timeout")
	ErrUnsupported    = errors.New("operation not supported")
	ErrAuthentication = errors.New("authentication failed")
)

// Refinements of the error kinds
var (
	// ErrWrongState is returned when an operation is issued in a card state
	// that does not allow it. The state machine is left untouched.
	ErrWrongState     = fmt.Errorf("%w: wrong card state", ErrParameter)
	ErrBufferTooSmall = fmt.Errorf("%w: buffer too small", ErrParameter)
	ErrHandleClosed   = fmt.Errorf("%w: handle is closed", ErrParameter)
	ErrExclusiveTaken = fmt.Errorf("%w: exclusive callback already registered", ErrParameter)
	ErrDuplicateName  = fmt.Errorf("%w: callback name already registered", ErrParameter)
	ErrUnknownName    = fmt.Errorf("%w: callback not registered", ErrParameter)
	ErrDisabled       = fmt.Errorf("%w: disabled by configuration", ErrWrongState)

	ErrCardRemoved    = fmt.Errorf("%w: card removed", ErrProtocol)
	ErrCRC            = fmt.Errorf("%w: CRC mismatch", ErrProtocol)
	ErrNAK            = fmt.Errorf("%w: NAK received", ErrProtocol)
	ErrInvalidFrame   = fmt.Errorf("%w: invalid response frame", ErrProtocol)
	ErrCascade        = fmt.Errorf("%w: inconsistent UID cascade", ErrProtocol)
	ErrVirtualCard    = fmt.Errorf("%w: card failed virtual card check", ErrProtocol)
	ErrTransportClose = fmt.Errorf("%w: transport is closed", ErrProtocol)

	ErrNoCard = fmt.Errorf("%w: no card in field", ErrTimeout)

	ErrSectorNotAuthenticated = fmt.Errorf("%w: sector not authenticated", ErrAuthentication)
)

// Status codes reported by Status. The values match the terminal firmware's
// status table so they can be forwarded to existing consumers unchanged.
const (
	StatusSuccess        = 0
	StatusFailure        = -1
	StatusParam          = -128
	StatusWorkmodeFault  = -129
	StatusProtocol       = -4001
	StatusTimeout        = -4002
	StatusOverflow       = -4003
	StatusAuthentication = -4005
	StatusUnsupported    = -5001
)

// Status converts an error returned by this package to its integer status
// code. A nil error is StatusSuccess.
func Status(err error) int {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrWrongState):
		return StatusWorkmodeFault
	case errors.Is(err, ErrBufferTooSmall):
		return StatusOverflow
	case errors.Is(err, ErrParameter):
		return StatusParam
	case errors.Is(err, ErrAuthentication):
		return StatusAuthentication
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	case errors.Is(err, ErrProtocol):
		return StatusProtocol
	default:
		return StatusFailure
	}
}

// StateError reports an operation attempted in the wrong card state.
type StateError struct {
	Op    string
	State CardState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: wrong card state (%s)", e.Op, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrWrongState
}

func wrongState(op string, s CardState) error {
	return &StateError{Op: op, State: s}
}

// FrontendError wraps a status byte reported by the RF front-end.
type FrontendError struct {
	Kind   error
	Op     string
	Status byte
}

func (e *FrontendError) Error() string {
	return fmt.Sprintf("%s: front-end status 0x%02X (%s)", e.Op, e.Status, frontendStatusMeaning(e.Status))
}

func (e *FrontendError) Unwrap() error {
	return e.Kind
}

// ErrorType represents the category of a transport error
type ErrorType int

const (
	// ErrorTypeTransient indicates a link hiccup the caller may retry
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates the transport is unusable
	ErrorTypePermanent
	// ErrorTypeTimeout indicates no answer arrived in time
	ErrorTypeTimeout
)

// TransportError wraps host or PSAM transport failures with context
type TransportError struct {
	Err  error     // Underlying error
	Op   string    // Operation that failed
	Port string    // Port or device identifier
	Type ErrorType // Error category
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error. Timeouts always unwrap to
// ErrTimeout so that the retry policy sees them.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	if errType == ErrorTypeTimeout && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &TransportError{Op: op, Port: port, Err: err, Type: errType}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTimeout, ErrorTypeTimeout)
}

// IsRetryable reports whether err may succeed when the same request is sent
// again. Only timeouts qualify; protocol and authentication failures never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout)
}

// IsFatal returns true if the error indicates the transport is gone and
// polling should stop entirely.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	switch {
	case errors.Is(err, ErrTransportClose),
		errors.Is(err, ErrHandleClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}
