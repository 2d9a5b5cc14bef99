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
	"encoding/binary"
	"fmt"
)

func (e *engine) Crypto1Increment(block byte, value int32) error {
	return e.valueOp("crypto1Increment", mfIncrement, block, value)
}

func (e *engine) Crypto1Decrement(block byte, value int32) error {
	return e.valueOp("crypto1Decrement", mfDecrement, block, value)
}

// Crypto1Restore loads the value of block into the card's transfer buffer.
func (e *engine) Crypto1Restore(block byte) error {
	return e.valueOp("crypto1Restore", mfRestore, block, 0)
}

// valueOp runs the two phase increment, decrement or restore. The result
// sits in the transfer buffer until Crypto1Transfer.
func (e *engine) valueOp(op string, cmd, block byte, value int32) error {
	if !e.fe.valueOps() {
		return fmt.Errorf("%s: %w on %s front-end", op, ErrUnsupported, e.fe.name())
	}
	if value < 0 {
		return fmt.Errorf("%w: %s value %d", ErrParameter, op, value)
	}
	if err := e.checkSector(op, block); err != nil {
		return err
	}
	timeout := e.readTimeout()
	if err := e.transceiveAck([]byte{cmd, block}, timeout); err != nil {
		return e.sessionError(op, block, err)
	}
	var operand [4]byte
	binary.LittleEndian.PutUint32(operand[:], uint32(value))
	if err := e.transceiveNoAnswer(operand[:], timeout); err != nil {
		return e.sessionError(op, block, err)
	}
	e.setState(StateReadWrite)
	return nil
}

// Crypto1Transfer writes the transfer buffer to block.
func (e *engine) Crypto1Transfer(block byte) error {
	if !e.fe.valueOps() {
		return fmt.Errorf("crypto1Transfer: %w on %s front-end", ErrUnsupported, e.fe.name())
	}
	if err := e.checkSector("crypto1Transfer", block); err != nil {
		return err
	}
	if err := e.transceiveAck([]byte{mfTransfer, block}, e.readTimeout()); err != nil {
		return e.sessionError("crypto1Transfer", block, err)
	}
	e.setState(StateReadWrite)
	return nil
}

// EncodeValueBlock builds a MIFARE value block holding v with address
// byte addr.
func EncodeValueBlock(v int32, addr byte) [BlockSize]byte {
	var b [BlockSize]byte
	u := uint32(v)
	binary.LittleEndian.PutUint32(b[0:], u)
	binary.LittleEndian.PutUint32(b[4:], ^u)
	binary.LittleEndian.PutUint32(b[8:], u)
	b[12], b[13], b[14], b[15] = addr, ^addr, addr, ^addr
	return b
}

// DecodeValueBlock parses a value block, checking its redundancy.
func DecodeValueBlock(b [BlockSize]byte) (int32, byte, error) {
	v := binary.LittleEndian.Uint32(b[0:])
	if binary.LittleEndian.Uint32(b[4:]) != ^v || binary.LittleEndian.Uint32(b[8:]) != v {
		return 0, 0, fmt.Errorf("%w: value block redundancy mismatch", ErrProtocol)
	}
	if b[13] != ^b[12] || b[14] != b[12] || b[15] != ^b[12] {
		return 0, 0, fmt.Errorf("%w: value block address mismatch", ErrProtocol)
	}
	return int32(v), b[12], nil
}
