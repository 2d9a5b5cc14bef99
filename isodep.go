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
	"time"
)

// ISO14443-4 block coding
const (
	pcbIBlock   = 0x02
	pcbChaining = 0x10
	pcbRACK     = 0xA2
	pcbRNAK     = 0xB2
	pcbSWTX     = 0xF2
	// blocks whose type bits do not depend on block number or CID
	pcbTypeMask = 0xE6
	pcbRMask    = 0xE6
	pcbSMask    = 0xF7

	isodepDefaultFSC = 32
	isodepDefaultFWI = 4
	maxFWI           = 14
	// 256*16/fc
	fwtUnit = 302 * time.Microsecond
)

var fscTable = [...]int{16, 24, 32, 40, 48, 64, 96, 128, 256}

func fscFromFSCI(fsci byte) int {
	if int(fsci) >= len(fscTable) {
		return fscTable[len(fscTable)-1]
	}
	return fscTable[fsci]
}

func fwtFromFWI(fwi byte) time.Duration {
	if fwi > maxFWI {
		fwi = isodepDefaultFWI
	}
	return fwtUnit << fwi
}

// isodepState is the half-duplex block protocol state of an ISO14443-4
// session.
type isodepState struct {
	fwt      time.Duration
	fsc      int
	errs     int
	blockNum byte
	ta       byte
}

func (s *isodepState) toggle() { s.blockNum ^= 1 }

func (e *engine) APDU(send []byte) ([]byte, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.state != StateISO14443P4 {
		return nil, wrongState("apdu", e.state)
	}
	if len(send) == 0 {
		return nil, fmt.Errorf("%w: empty APDU", ErrParameter)
	}

	resp, err := e.isodepExchange(send)
	if err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrProtocol) {
			e.isodep.errs++
			if e.isodep.errs >= MaxISODEPErrors {
				Debugf("apdu: %d consecutive errors, card removed", e.isodep.errs)
				_ = e.AntennaControl(false)
				return nil, fmt.Errorf("apdu: %w: %v", ErrCardRemoved, err)
			}
		}
		return nil, fmt.Errorf("apdu: %w", err)
	}
	e.isodep.errs = 0
	return resp, nil
}

func (e *engine) isodepExchange(send []byte) ([]byte, error) {
	if e.isodep.fsc == 0 {
		e.isodep.fsc = isodepDefaultFSC
	}
	if e.isodep.fwt == 0 {
		e.isodep.fwt = fwtFromFWI(isodepDefaultFWI)
	}
	// PCB and CRC
	maxInf := e.isodep.fsc - 3

	var last []byte
	for off := 0; ; {
		n := min(maxInf, len(send)-off)
		chained := off+n < len(send)
		pcb := byte(pcbIBlock) | e.isodep.blockNum
		if chained {
			pcb |= pcbChaining
		}
		blk := make([]byte, 0, n+1)
		blk = append(blk, pcb)
		blk = append(blk, send[off:off+n]...)

		resp, err := e.isodepBlock(blk, e.isodep.fwt)
		if err != nil {
			return nil, err
		}
		if !chained {
			last = resp
			break
		}
		if resp[0]&pcbRMask != pcbRACK&pcbRMask || resp[0]&0x10 != 0 || resp[0]&1 != e.isodep.blockNum {
			return nil, fmt.Errorf("%w: expected R(ACK) for chained block, got PCB %02X", ErrInvalidFrame, resp[0])
		}
		e.isodep.toggle()
		off += n
	}

	var out []byte
	for {
		pcb := last[0]
		switch {
		case pcb&pcbSMask == pcbSWTX:
			if len(last) < 2 {
				return nil, fmt.Errorf("%w: WTX without WTXM", ErrInvalidFrame)
			}
			wtxm := last[1] & 0x3F
			if wtxm == 0 {
				return nil, fmt.Errorf("%w: WTXM 0", ErrInvalidFrame)
			}
			Debugf("apdu: waiting time extension x%d", wtxm)
			resp, err := e.isodepBlock([]byte{pcbSWTX, wtxm}, e.isodep.fwt*time.Duration(wtxm))
			if err != nil {
				return nil, err
			}
			last = resp
		case pcb&pcbTypeMask == pcbIBlock:
			out = append(out, last[1:]...)
			e.isodep.toggle()
			if pcb&pcbChaining == 0 {
				return out, nil
			}
			resp, err := e.isodepBlock([]byte{pcbRACK | e.isodep.blockNum}, e.isodep.fwt)
			if err != nil {
				return nil, err
			}
			last = resp
		default:
			return nil, fmt.Errorf("%w: unexpected PCB %02X", ErrInvalidFrame, pcb)
		}
	}
}

// isodepBlock exchanges one block. A lost or corrupted answer is recovered
// once with R(NAK): the card either repeats its last block or, if it never
// saw ours, acknowledges and gets the block again.
func (e *engine) isodepBlock(blk []byte, timeout time.Duration) ([]byte, error) {
	resp, err := e.transceiveCRC(blk, timeout)
	if err == nil && len(resp) > 0 {
		return resp, nil
	}
	if err != nil && !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrProtocol) {
		return nil, err
	}
	Debugf("apdu: block error %v, sending R(NAK)", err)

	resp, err = e.transceiveCRC([]byte{pcbRNAK | e.isodep.blockNum}, timeout)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrInvalidFrame)
	}
	if resp[0]&pcbRMask == pcbRACK&pcbRMask && resp[0]&0x10 == 0 && resp[0]&1 == e.isodep.blockNum {
		resp, err = e.transceiveCRC(blk, timeout)
		if err != nil {
			return nil, err
		}
		if len(resp) == 0 {
			return nil, fmt.Errorf("%w: empty block", ErrInvalidFrame)
		}
	}
	return resp, nil
}
