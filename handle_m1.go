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

import "fmt"

// MaxSectors is the number of sectors of a MIFARE Classic 4K.
const MaxSectors = 40

// runTask wraps op in the session handling of task: activation before,
// halt after for TaskAuto and TaskFinish.
func (h *Handle) runTask(task TaskFlag, op func() (int, error)) (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	if task < TaskAuto || task > TaskFinish {
		return 0, fmt.Errorf("%w: task %s", ErrParameter, task)
	}
	if err := h.activate(task); err != nil {
		h.finish(task)
		return 0, err
	}
	n, err := op()
	h.finish(task)
	return n, err
}

// M1ReadBlock authenticates the sector of block with key and reads the
// block into buf. It returns the number of bytes read.
func (h *Handle) M1ReadBlock(task TaskFlag, block byte, key Key, kt KeyType, buf []byte) (int, error) {
	if len(buf) < BlockSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, BlockSize, len(buf))
	}
	return h.runTask(task, func() (int, error) {
		if err := h.engine.Crypto1Authen(block, kt, key); err != nil {
			return 0, err
		}
		data, err := h.engine.Crypto1Read(block)
		if err != nil {
			return 0, err
		}
		return copy(buf, data[:]), nil
	})
}

// M1WriteBlock authenticates the sector of block with key and writes the
// first 16 bytes of buf. Sector trailers and the manufacturer block are
// refused.
func (h *Handle) M1WriteBlock(task TaskFlag, block byte, key Key, kt KeyType, buf []byte) (int, error) {
	if block == 0 || IsTrailerBlock(block) {
		return 0, fmt.Errorf("%w: block %d is not a data block", ErrParameter, block)
	}
	if len(buf) < BlockSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, BlockSize, len(buf))
	}
	var data [BlockSize]byte
	copy(data[:], buf)
	return h.runTask(task, func() (int, error) {
		if err := h.engine.Crypto1Authen(block, kt, key); err != nil {
			return 0, err
		}
		if err := h.engine.Crypto1Write(block, data); err != nil {
			return 0, err
		}
		return BlockSize, nil
	})
}

// checkSectorRange validates count blocks from logicBlock within sector.
func checkSectorRange(sector, logicBlock, count int, write bool) error {
	if sector < 0 || sector >= MaxSectors {
		return fmt.Errorf("%w: sector %d", ErrParameter, sector)
	}
	limit := BlocksInSector(sector)
	if write {
		limit--
	}
	if count < 1 || logicBlock < 0 || logicBlock+count > limit {
		return fmt.Errorf("%w: blocks %d+%d outside sector %d", ErrParameter, logicBlock, count, sector)
	}
	if write && sector == 0 && logicBlock == 0 {
		return fmt.Errorf("%w: manufacturer block is read-only", ErrParameter)
	}
	return nil
}

// M1ReadSector reads count blocks starting at logicBlock of sector with a
// single authentication. On error the bytes read so far are counted.
func (h *Handle) M1ReadSector(
	task TaskFlag, sector, logicBlock, count int, key Key, kt KeyType, buf []byte,
) (int, error) {
	if err := checkSectorRange(sector, logicBlock, count, false); err != nil {
		return 0, err
	}
	if len(buf) < count*BlockSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, count*BlockSize, len(buf))
	}
	first := int(FirstBlockOfSector(sector)) + logicBlock
	return h.runTask(task, func() (int, error) {
		if err := h.engine.Crypto1Authen(byte(first), kt, key); err != nil {
			return 0, err
		}
		n := 0
		for i := range count {
			data, err := h.engine.Crypto1Read(byte(first + i))
			if err != nil {
				return n, err
			}
			n += copy(buf[n:], data[:])
		}
		return n, nil
	})
}

// M1WriteSector writes count blocks from buf starting at logicBlock of
// sector. The trailer cannot be part of the range.
func (h *Handle) M1WriteSector(
	task TaskFlag, sector, logicBlock, count int, key Key, kt KeyType, buf []byte,
) (int, error) {
	if err := checkSectorRange(sector, logicBlock, count, true); err != nil {
		return 0, err
	}
	if len(buf) < count*BlockSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, count*BlockSize, len(buf))
	}
	first := int(FirstBlockOfSector(sector)) + logicBlock
	return h.runTask(task, func() (int, error) {
		if err := h.engine.Crypto1Authen(byte(first), kt, key); err != nil {
			return 0, err
		}
		n := 0
		for i := range count {
			var data [BlockSize]byte
			copy(data[:], buf[i*BlockSize:])
			if err := h.engine.Crypto1Write(byte(first+i), data); err != nil {
				return n, err
			}
			n += BlockSize
		}
		return n, nil
	})
}
