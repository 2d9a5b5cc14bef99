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
	"time"
)

// authUID returns the 4 bytes fed into Crypto1 as the card ID.
func (e *engine) authUID() ([4]byte, error) {
	var out [4]byte
	if len(e.uid) < 4 {
		return out, fmt.Errorf("%w: no card UID", ErrProtocol)
	}
	if len(e.uid) == 4 {
		copy(out[:], e.uid)
		return out, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.authenID == nil {
		copy(out[:], e.uid[len(e.uid)-4:])
		return out, nil
	}
	timeout := e.cfg.Ops.ReadTimeout
	if timeout <= 0 {
		timeout = AuthenIDHookTimeout
	}
	return runAuthenIDHook(e.authenID, e.uid, timeout)
}

// runAuthenIDHook calls hook with a private copy of the UID and waits at
// most timeout for it. A late hook writes into a buffer nobody reads.
func runAuthenIDHook(hook AuthenIDFunc, uid []byte, timeout time.Duration) ([4]byte, error) {
	type result struct {
		err error
		n   int
		buf [4]byte
	}
	done := make(chan result, 1)
	id := append([]byte(nil), uid...)
	go func() {
		var r result
		r.n, r.err = hook(id, r.buf[:])
		done <- r
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			return [4]byte{}, fmt.Errorf("%w: authentication ID hook: %v", ErrProtocol, r.err)
		}
		if r.n != len(r.buf) {
			return [4]byte{}, fmt.Errorf("%w: authentication ID hook returned %d bytes", ErrProtocol, r.n)
		}
		return r.buf, nil
	case <-timer.C:
		return [4]byte{}, fmt.Errorf("%w: authentication ID hook did not return within %v", ErrTimeout, timeout)
	}
}
