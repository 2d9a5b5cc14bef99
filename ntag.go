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
)

// NTAG21x commands
const (
	ntagGetVersion = 0x60
	ntagRead       = 0x30
	ntagFastRead   = 0x3A
	ntagWrite      = 0xA2
)

const (
	// NTAGPageSize is the size of one NTAG page.
	NTAGPageSize = 4
	// NTAGVersionLen is the size of the GET_VERSION answer.
	NTAGVersionLen = 8
	// NTAGUserStart is the first page of user memory; page 2 holds the
	// lock bytes and page 3 the capability container.
	NTAGUserStart = 0x04

	ntagFirstWritable = 0x02
	// pages per FAST_READ so the answer and CRC fit a 64 byte FIFO
	ntagFastReadChunk = 15
)

// NTAGModel identifies a member of the NTAG21x family.
type NTAGModel int

const (
	NTAGUnknown NTAGModel = iota
	NTAG213
	NTAG215
	NTAG216
)

func (m NTAGModel) String() string {
	switch m {
	case NTAG213:
		return "NTAG213"
	case NTAG215:
		return "NTAG215"
	case NTAG216:
		return "NTAG216"
	default:
		return "unknown NTAG"
	}
}

// LastPage returns the last page of the model, configuration pages
// included. 0 for an unknown model.
func (m NTAGModel) LastPage() byte {
	switch m {
	case NTAG213:
		return 0x2C
	case NTAG215:
		return 0x86
	case NTAG216:
		return 0xE6
	default:
		return 0
	}
}

// UserPages returns the number of user memory pages of the model.
func (m NTAGModel) UserPages() int {
	switch m {
	case NTAG213:
		return 36
	case NTAG215:
		return 126
	case NTAG216:
		return 222
	default:
		return 0
	}
}

// NTAGModelFromVersion decodes the storage size byte of a GET_VERSION
// answer.
func NTAGModelFromVersion(v [NTAGVersionLen]byte) NTAGModel {
	// vendor NXP, product type NTAG
	if v[1] != 0x04 || v[2] != 0x04 {
		return NTAGUnknown
	}
	switch v[6] {
	case 0x0F:
		return NTAG213
	case 0x11:
		return NTAG215
	case 0x13:
		return NTAG216
	default:
		return NTAGUnknown
	}
}

func (e *engine) checkNTAG(op string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if !e.state.in(StateActive, StateAuthenticated, StateReadWrite) || e.proto != ProtocolISO14443A {
		return wrongState(op, e.state)
	}
	return nil
}

func (e *engine) NTAGReadVersion() ([NTAGVersionLen]byte, error) {
	var v [NTAGVersionLen]byte
	if err := e.checkNTAG("ntagReadVersion"); err != nil {
		return v, err
	}
	if e.ntagVersion != nil {
		return *e.ntagVersion, nil
	}
	resp, err := e.transceiveCRC([]byte{ntagGetVersion}, e.readTimeout())
	if err == nil && len(resp) != NTAGVersionLen {
		err = fmt.Errorf("%w: version of %d bytes", ErrInvalidFrame, len(resp))
	}
	if err != nil {
		return v, fmt.Errorf("ntagReadVersion: %w", err)
	}
	copy(v[:], resp)
	e.ntagVersion = &v
	return v, nil
}

// ntagModel returns the model of a card whose version was already read.
func (e *engine) ntagModel() NTAGModel {
	if e.ntagVersion == nil {
		return NTAGUnknown
	}
	return NTAGModelFromVersion(*e.ntagVersion)
}

// NTAGReadPage reads four pages starting at page. Reads past the last page
// roll over to page 0 on the card.
func (e *engine) NTAGReadPage(page byte) ([BlockSize]byte, error) {
	var out [BlockSize]byte
	if err := e.checkNTAG("ntagReadPage"); err != nil {
		return out, err
	}
	if last := e.ntagModel().LastPage(); last != 0 && page > last {
		return out, fmt.Errorf("%w: page 0x%02X past last page 0x%02X", ErrParameter, page, last)
	}
	resp, err := e.transceiveCRC([]byte{ntagRead, page}, e.readTimeout())
	if err == nil && len(resp) != BlockSize {
		err = fmt.Errorf("%w: read of %d bytes", ErrInvalidFrame, len(resp))
	}
	if err != nil {
		return out, fmt.Errorf("ntagReadPage 0x%02X: %w", page, err)
	}
	copy(out[:], resp)
	return out, nil
}

// NTAGFastReadPage reads pages start through end inclusive. The read is
// all or nothing.
func (e *engine) NTAGFastReadPage(start, end byte) ([]byte, error) {
	if err := e.checkNTAG("ntagFastReadPage"); err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("%w: fast read start 0x%02X after end 0x%02X", ErrParameter, start, end)
	}
	if last := e.ntagModel().LastPage(); last != 0 && end > last {
		return nil, fmt.Errorf("%w: page 0x%02X past last page 0x%02X", ErrParameter, end, last)
	}

	out := make([]byte, 0, (int(end)-int(start)+1)*NTAGPageSize)
	timeout := e.readTimeout()
	for from := int(start); from <= int(end); from += ntagFastReadChunk {
		to := min(from+ntagFastReadChunk-1, int(end))
		resp, err := e.transceiveCRC([]byte{ntagFastRead, byte(from), byte(to)}, timeout)
		want := (to - from + 1) * NTAGPageSize
		if err == nil && len(resp) != want {
			err = fmt.Errorf("%w: fast read of %d bytes, expected %d", ErrInvalidFrame, len(resp), want)
		}
		if err != nil {
			return nil, fmt.Errorf("ntagFastReadPage 0x%02X-0x%02X: %w", start, end, err)
		}
		out = append(out, resp...)
	}
	return out, nil
}

// NTAGWritePage writes one page. The model must be known so the page can
// be range checked; pages 0 and 1 hold the UID and are never written.
func (e *engine) NTAGWritePage(page byte, data [NTAGPageSize]byte) error {
	if err := e.checkNTAG("ntagWritePage"); err != nil {
		return err
	}
	if _, err := e.NTAGReadVersion(); err != nil {
		return fmt.Errorf("ntagWritePage: %w", err)
	}
	model := e.ntagModel()
	if model == NTAGUnknown {
		return fmt.Errorf("ntagWritePage: %w: unknown NTAG model", ErrUnsupported)
	}
	if page < ntagFirstWritable || page > model.LastPage() {
		return fmt.Errorf("%w: page 0x%02X outside 0x%02X-0x%02X of %s", ErrParameter,
			page, ntagFirstWritable, model.LastPage(), model)
	}
	tx := make([]byte, 0, 2+NTAGPageSize)
	tx = append(tx, ntagWrite, page)
	tx = append(tx, data[:]...)
	if err := e.transceiveAck(tx, e.readTimeout()); err != nil {
		return fmt.Errorf("ntagWritePage 0x%02X: %w", page, err)
	}
	return nil
}
