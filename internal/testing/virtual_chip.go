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

package testing

import (
	"errors"

	"github.com/ZaparooProject/go-nfc/internal/chipreg"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

const chipFIFOSize = 64

var errExchangeLength = errors.New("exchange buffers differ in length")

// VirtualChip simulates an MFRC522 compatible reader IC at the register
// level. Exchange takes SPI transfers: an address byte followed by data
// for writes, or a train of read addresses for reads.
type VirtualChip struct {
	Field *Field
	fifo  []byte
	regs  [chipreg.NumRegs]byte
	mu    syncutil.Mutex
	// Version is reported in the version register after a soft reset.
	Version byte
	// StuckInPowerDown keeps the soft power down bit set after a reset.
	StuckInPowerDown bool
}

// NewVirtualChip creates a reader IC with the given cards in its field.
func NewVirtualChip(cards ...*VirtualCard) *VirtualChip {
	c := &VirtualChip{Field: &Field{Cards: cards}, Version: chipreg.VersionV2}
	c.softReset()
	return c
}

// WithField runs fn with the field locked.
func (c *VirtualChip) WithField(fn func(f *Field)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.Field)
}

// Register returns the current value of reg.
func (c *VirtualChip) Register(reg byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[reg&0x3F]
}

// Exchange runs one SPI transfer.
func (c *VirtualChip) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return errExchangeLength
	}
	if len(tx) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, read := chipreg.DecodeAddr(tx[0])
	if !read {
		rx[0] = 0
		for i, v := range tx[1:] {
			rx[i+1] = 0
			c.write(reg, v)
		}
		return nil
	}
	rx[0] = 0
	for i := 1; i < len(tx); i++ {
		rx[i] = c.read(reg)
		reg, _ = chipreg.DecodeAddr(tx[i])
	}
	return nil
}

func (c *VirtualChip) softReset() {
	c.regs = [chipreg.NumRegs]byte{}
	c.fifo = c.fifo[:0]
	c.regs[chipreg.Version] = c.Version
	if c.StuckInPowerDown {
		c.regs[chipreg.Command] = chipreg.CmdPowerDown
	}
	c.Field.setOn(false)
	c.Field.setProtocol(ProtoA)
}

func (c *VirtualChip) read(reg byte) byte {
	switch reg {
	case chipreg.FIFOData:
		if len(c.fifo) == 0 {
			return 0
		}
		b := c.fifo[0]
		c.fifo = c.fifo[1:]
		return b
	case chipreg.FIFOLevel:
		return byte(len(c.fifo))
	default:
		return c.regs[reg]
	}
}

func (c *VirtualChip) write(reg, v byte) {
	switch reg {
	case chipreg.FIFOData:
		if len(c.fifo) < chipFIFOSize {
			c.fifo = append(c.fifo, v)
		} else {
			c.regs[chipreg.Error] |= chipreg.ErrBufferOvfl
		}
	case chipreg.FIFOLevel:
		if v&chipreg.FIFOFlush != 0 {
			c.fifo = c.fifo[:0]
		}
	case chipreg.ComIrq:
		// bit 7 selects set or clear of the marked bits
		if v&0x80 != 0 {
			c.regs[reg] |= v & 0x7F
		} else {
			c.regs[reg] &^= v
		}
	case chipreg.Command:
		c.command(v)
	case chipreg.BitFraming:
		c.regs[reg] = v
		if v&chipreg.StartSend != 0 && c.regs[chipreg.Command]&0x0F == chipreg.CmdTransceive {
			c.transceive()
		}
	case chipreg.Status2:
		if c.regs[reg]&chipreg.MFCrypto1On != 0 && v&chipreg.MFCrypto1On == 0 {
			c.Field.stopCrypto()
		}
		c.regs[reg] = v
	case chipreg.TxControl:
		c.regs[reg] = v
		c.Field.setOn(v&chipreg.TxRFEnable == chipreg.TxRFEnable)
	case chipreg.TxMode:
		c.regs[reg] = v
		if v&chipreg.FramingB == chipreg.FramingB {
			c.Field.setProtocol(ProtoB)
		} else {
			c.Field.setProtocol(ProtoA)
		}
	default:
		c.regs[reg] = v
	}
}

func (c *VirtualChip) command(v byte) {
	switch v & 0x0F {
	case chipreg.CmdSoftReset:
		c.softReset()
	case chipreg.CmdMFAuthent:
		c.regs[chipreg.Command] = v
		c.authenticate()
	default:
		c.regs[chipreg.Command] = v
	}
}

func (c *VirtualChip) transceive() {
	tx := append([]byte(nil), c.fifo...)
	c.fifo = c.fifo[:0]
	c.regs[chipreg.Error] = 0
	c.regs[chipreg.Control] &^= chipreg.RxLastBitsMask
	c.regs[chipreg.Coll] = chipreg.CollPosNotValid

	ans := c.Field.transceive(tx, int(c.regs[chipreg.BitFraming]&0x07))
	c.regs[chipreg.ComIrq] |= chipreg.IrqTx
	if !ans.ok {
		c.regs[chipreg.ComIrq] |= chipreg.IrqTimer
		return
	}
	c.fifo = append(c.fifo, ans.data...)
	c.regs[chipreg.Control] |= byte(ans.bits) & chipreg.RxLastBitsMask
	if ans.collision >= 0 {
		c.regs[chipreg.Error] |= chipreg.ErrColl
		c.regs[chipreg.Coll] = byte(ans.collision+1) & chipreg.CollPosMask
		c.regs[chipreg.ComIrq] |= chipreg.IrqErr
	}
	c.regs[chipreg.ComIrq] |= chipreg.IrqRx | chipreg.IrqIdle
	c.regs[chipreg.Command] = chipreg.CmdIdle
}

func (c *VirtualChip) authenticate() {
	data := append([]byte(nil), c.fifo...)
	c.fifo = c.fifo[:0]
	if len(data) != 12 || !c.Field.authenticate(data[0], data[1], data[2:8], data[8:12]) {
		c.regs[chipreg.ComIrq] |= chipreg.IrqTimer
		return
	}
	c.regs[chipreg.Status2] |= chipreg.MFCrypto1On
	c.regs[chipreg.ComIrq] |= chipreg.IrqIdle
	c.regs[chipreg.Command] = chipreg.CmdIdle
}
