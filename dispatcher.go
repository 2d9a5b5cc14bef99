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
	"fmt"
	"slices"
	"sync"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// CallbackMode decides how a callback shares card events.
type CallbackMode int

const (
	// CallbackShared callbacks all receive every card event.
	CallbackShared CallbackMode = iota
	// CallbackExclusive can be held by one callback per handle at a time.
	CallbackExclusive
)

func (m CallbackMode) String() string {
	switch m {
	case CallbackShared:
		return "shared"
	case CallbackExclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("CallbackMode(%d)", int(m))
	}
}

// CardCallback receives each activated card. info is only valid for the
// duration of the call; use info.Copy to keep it. The card session is still
// open during the call, so the callback may issue card operations on h.
type CardCallback func(h *Handle, info *CardInfo, userData any) error

type callbackEntry struct {
	cb       CardCallback
	userData any
	name     string
	inflight sync.WaitGroup
	mode     CallbackMode
}

// registry holds the named callbacks of a handle in registration order.
type registry struct {
	entries []*callbackEntry
	mu      syncutil.RWMutex
}

func (r *registry) register(name string, cb CardCallback, mode CallbackMode, userData any) error {
	if name == "" || cb == nil {
		return fmt.Errorf("%w: callback needs a name and a function", ErrParameter)
	}
	if mode != CallbackShared && mode != CallbackExclusive {
		return fmt.Errorf("%w: callback mode %s", ErrParameter, mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.name == name {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		if mode == CallbackExclusive && e.mode == CallbackExclusive {
			return fmt.Errorf("%w: held by %q", ErrExclusiveTaken, e.name)
		}
	}
	r.entries = append(r.entries, &callbackEntry{name: name, cb: cb, mode: mode, userData: userData})
	return nil
}

// unregister removes name and waits for a running invocation of it to
// return. A callback must not unregister itself.
func (r *registry) unregister(name string) error {
	r.mu.Lock()
	i := slices.IndexFunc(r.entries, func(e *callbackEntry) bool { return e.name == name })
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	e := r.entries[i]
	r.entries = slices.Delete(r.entries, i, i+1)
	r.mu.Unlock()

	e.inflight.Wait()
	return nil
}

// clear removes every callback and waits for running invocations.
func (r *registry) clear() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()
	for _, e := range entries {
		e.inflight.Wait()
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// dispatch calls every callback in registration order and returns how many
// ran. Errors and panics are logged and do not stop the fan-out.
func (r *registry) dispatch(h *Handle, info *CardInfo) int {
	r.mu.RLock()
	entries := slices.Clone(r.entries)
	for _, e := range entries {
		e.inflight.Add(1)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		invoke(h, e, info)
	}
	return len(entries)
}

func invoke(h *Handle, e *callbackEntry, info *CardInfo) {
	defer e.inflight.Done()
	defer func() {
		if p := recover(); p != nil {
			Debugf("callback %q panicked: %v", e.name, p)
		}
	}()
	if err := e.cb(h, info, e.userData); err != nil {
		Debugf("callback %q: %v", e.name, err)
	}
}
