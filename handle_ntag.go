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
	"github.com/hsanjuan/go-ndef"
)

// NTAGReadVersion returns the GET_VERSION answer of the tag.
func (h *Handle) NTAGReadVersion(task TaskFlag) ([NTAGVersionLen]byte, error) {
	var v [NTAGVersionLen]byte
	_, err := h.runTask(task, func() (int, error) {
		var err error
		v, err = h.engine.NTAGReadVersion()
		return len(v), err
	})
	return v, err
}

// NTAGReadPage reads the four pages starting at page.
func (h *Handle) NTAGReadPage(task TaskFlag, page byte) ([BlockSize]byte, error) {
	var out [BlockSize]byte
	_, err := h.runTask(task, func() (int, error) {
		var err error
		out, err = h.engine.NTAGReadPage(page)
		return len(out), err
	})
	return out, err
}

// NTAGFastReadPage reads pages start through end inclusive.
func (h *Handle) NTAGFastReadPage(task TaskFlag, start, end byte) ([]byte, error) {
	var out []byte
	_, err := h.runTask(task, func() (int, error) {
		var err error
		out, err = h.engine.NTAGFastReadPage(start, end)
		return len(out), err
	})
	return out, err
}

// NTAGWritePage writes one page.
func (h *Handle) NTAGWritePage(task TaskFlag, page byte, data [NTAGPageSize]byte) error {
	_, err := h.runTask(task, func() (int, error) {
		return NTAGPageSize, h.engine.NTAGWritePage(page, data)
	})
	return err
}

// NTAGReadNDEF reads and decodes the NDEF message of the tag.
func (h *Handle) NTAGReadNDEF(task TaskFlag) (*ndef.Message, error) {
	var msg *ndef.Message
	_, err := h.runTask(task, func() (int, error) {
		var err error
		msg, err = h.engine.readNDEF()
		return 0, err
	})
	return msg, err
}

// NTAGWriteNDEF writes msg to the user area of the tag.
func (h *Handle) NTAGWriteNDEF(task TaskFlag, msg *ndef.Message) error {
	_, err := h.runTask(task, func() (int, error) {
		return 0, h.engine.writeNDEF(msg)
	})
	return err
}
