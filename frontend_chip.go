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

	"github.com/ZaparooProject/go-nfc/internal/chipreg"
)

// chipFIFOSize is the FIFO depth of the reader IC.
const chipFIFOSize = 64

// chipFrontend drives an MFRC522 compatible reader IC register by register
// over HostTransport.Exchange.
type chipFrontend struct {
	host  HostTransport
	trace *traceBuffer
	// scratch holds one SPI transfer.
	scratch [chipFIFOSize + 1]byte
	rx      [chipFIFOSize + 1]byte
}

func newChipFrontend(host HostTransport) *chipFrontend {
	return &chipFrontend{
		host:  host,
		trace: newTraceBuffer("chip", 16),
	}
}

func (*chipFrontend) name() string { return "chip" }

func (*chipFrontend) valueOps() bool { return true }

func (c *chipFrontend) readReg(reg byte) (byte, error) {
	tx := c.scratch[:2]
	tx[0], tx[1] = chipreg.ReadAddr(reg), 0
	rx := c.rx[:2]
	if err := c.host.Exchange(tx, rx); err != nil {
		return 0, fmt.Errorf("chip: read reg 0x%02X: %w", reg, err)
	}
	return rx[1], nil
}

// writeRegs writes a list of (register, value) pairs.
func (c *chipFrontend) writeRegs(regVals ...byte) error {
	if len(regVals)%2 != 0 {
		panic("register values not paired")
	}
	for i := 0; i < len(regVals); i += 2 {
		tx := c.scratch[:2]
		tx[0], tx[1] = chipreg.WriteAddr(regVals[i]), regVals[i+1]
		if err := c.host.Exchange(tx, c.rx[:2]); err != nil {
			return fmt.Errorf("chip: write reg 0x%02X: %w", regVals[i], err)
		}
	}
	return nil
}

func (c *chipFrontend) setBits(reg, mask byte) error {
	v, err := c.readReg(reg)
	if err != nil {
		return err
	}
	return c.writeRegs(reg, v|mask)
}

func (c *chipFrontend) clearBits(reg, mask byte) error {
	v, err := c.readReg(reg)
	if err != nil {
		return err
	}
	return c.writeRegs(reg, v&^mask)
}

func (c *chipFrontend) writeFIFO(data []byte) error {
	if len(data) > chipFIFOSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds FIFO", ErrBufferTooSmall, len(data))
	}
	tx := c.scratch[:len(data)+1]
	tx[0] = chipreg.WriteAddr(chipreg.FIFOData)
	copy(tx[1:], data)
	if err := c.host.Exchange(tx, c.rx[:len(tx)]); err != nil {
		return fmt.Errorf("chip: write fifo: %w", err)
	}
	return nil
}

func (c *chipFrontend) readFIFO(n int) ([]byte, error) {
	tx := c.scratch[:n+1]
	addr := chipreg.ReadAddr(chipreg.FIFOData)
	for i := range n {
		tx[i] = addr
	}
	tx[n] = 0
	rx := c.rx[:n+1]
	if err := c.host.Exchange(tx, rx); err != nil {
		return nil, fmt.Errorf("chip: read fifo: %w", err)
	}
	return append([]byte(nil), rx[1:]...), nil
}

func (c *chipFrontend) reset(cfg *Config) error {
	// hard reset pulse, then soft reset
	if err := c.host.GPIO(GPIOReset, false); err != nil {
		return fmt.Errorf("chip: reset line: %w", err)
	}
	c.host.DelayMs(1)
	if err := c.host.GPIO(GPIOReset, true); err != nil {
		return fmt.Errorf("chip: reset line: %w", err)
	}
	c.host.DelayMs(1)
	if err := c.writeRegs(chipreg.Command, chipreg.CmdSoftReset); err != nil {
		return err
	}
	if err := c.waitPowerUp(); err != nil {
		return err
	}

	version, err := c.readReg(chipreg.Version)
	if err != nil {
		return err
	}
	switch version {
	case chipreg.VersionV1, chipreg.VersionV2, chipreg.VersionClone:
		Debugf("chip: version 0x%02X", version)
	default:
		return fmt.Errorf("%w: chip: unexpected version 0x%02X", ErrUnsupported, version)
	}

	gain := cfg.CardGain & 0x07
	return c.writeRegs(
		chipreg.TMode, chipreg.TAuto,
		chipreg.TPrescaler, chipreg.DefaultPrescaler,
		chipreg.TxASK, chipreg.Force100ASK,
		chipreg.Mode, chipreg.ModeCRCPreset6363,
		chipreg.RFCfg, gain<<4,
		chipreg.GsN, cfg.NStrengthOutput<<4|cfg.NStrengthTimer&0x0F,
		chipreg.CWGsP, cfg.PStrengthOutput&0x3F,
		chipreg.ModGsP, cfg.PStrengthTimer&0x3F,
	)
}

func (c *chipFrontend) waitPowerUp() error {
	deadline := time.Now().Add(50 * time.Millisecond)
	for {
		v, err := c.readReg(chipreg.Command)
		if err != nil {
			return err
		}
		if v&chipreg.CmdPowerDown == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return NewTimeoutError("chip: soft reset", "")
		}
		c.host.DelayMs(1)
	}
}

func (c *chipFrontend) field(on bool) error {
	if on {
		return c.setBits(chipreg.TxControl, chipreg.TxRFEnable)
	}
	return c.clearBits(chipreg.TxControl, chipreg.TxRFEnable)
}

func (c *chipFrontend) setProtocol(p Protocol) error {
	switch p {
	case ProtocolISO14443A:
		return c.writeRegs(
			chipreg.TxMode, 0x00,
			chipreg.RxMode, 0x00,
			chipreg.TxASK, chipreg.Force100ASK,
		)
	case ProtocolISO14443B, ProtocolIDCard:
		return c.writeRegs(
			chipreg.TxMode, chipreg.FramingB,
			chipreg.RxMode, chipreg.FramingB,
			chipreg.TxASK, 0x00,
		)
	default:
		return fmt.Errorf("%w: chip: protocol %s", ErrUnsupported, p)
	}
}

func (c *chipFrontend) setBitRate(dsi, dri byte) error {
	tx, err := c.readReg(chipreg.TxMode)
	if err != nil {
		return err
	}
	rx, err := c.readReg(chipreg.RxMode)
	if err != nil {
		return err
	}
	return c.writeRegs(
		chipreg.TxMode, tx&^0x70|(dri&0x03)<<chipreg.TxSpeedShift,
		chipreg.RxMode, rx&^0x70|(dsi&0x03)<<chipreg.TxSpeedShift,
	)
}

// setTimer loads the reader timer so that it fires after timeout.
func (c *chipFrontend) setTimer(timeout time.Duration) error {
	ticks := timeout.Microseconds() / chipreg.TimerTick
	if ticks > 0xFFFF {
		ticks = 0xFFFF
	}
	if ticks < 1 {
		ticks = 1
	}
	return c.writeRegs(
		chipreg.TReloadH, byte(ticks>>8),
		chipreg.TReloadL, byte(ticks),
	)
}

// runCommand starts cmd with data in the FIFO and waits until one of the
// doneIrq bits is set or the timer fires.
func (c *chipFrontend) runCommand(cmd byte, data []byte, bitFraming byte, doneIrq byte,
	timeout time.Duration,
) error {
	if err := c.writeRegs(
		chipreg.Command, chipreg.CmdIdle,
		chipreg.ComIrq, chipreg.IrqClearAll,
		chipreg.FIFOLevel, chipreg.FIFOFlush,
	); err != nil {
		return err
	}
	if err := c.setTimer(timeout); err != nil {
		return err
	}
	if err := c.writeFIFO(data); err != nil {
		return err
	}
	if err := c.writeRegs(
		chipreg.BitFraming, bitFraming,
		chipreg.Command, cmd,
	); err != nil {
		return err
	}
	if cmd == chipreg.CmdTransceive {
		if err := c.setBits(chipreg.BitFraming, chipreg.StartSend); err != nil {
			return err
		}
	}

	// the reader timer bounds the wait; the wall clock guards against a
	// stuck chip
	deadline := time.Now().Add(timeout + 10*time.Millisecond)
	for {
		irq, err := c.readReg(chipreg.ComIrq)
		if err != nil {
			return err
		}
		if irq&doneIrq != 0 {
			break
		}
		if irq&chipreg.IrqTimer != 0 || time.Now().After(deadline) {
			_ = c.writeRegs(chipreg.Command, chipreg.CmdIdle)
			return newFrontendError("chip", feStatusTimeout)
		}
		c.host.DelayUs(100)
	}
	return c.clearBits(chipreg.BitFraming, chipreg.StartSend)
}

func (c *chipFrontend) transceive(x xfer) (rxFrame, error) {
	c.trace.recordTX(x.tx, fmt.Sprintf("bits=%d align=%d", x.txLastBits, x.rxAlign))
	framing := byte(x.rxAlign&0x07)<<4 | byte(x.txLastBits&0x07)
	err := c.runCommand(chipreg.CmdTransceive, x.tx, framing, chipreg.IrqRx|chipreg.IrqIdle, x.timeout)
	if err != nil {
		return rxFrame{}, err
	}

	errReg, err := c.readReg(chipreg.Error)
	if err != nil {
		return rxFrame{}, err
	}
	if status := chipErrorStatus(errReg); status != feStatusOK && status != feStatusCollision {
		return rxFrame{}, c.trace.wrap(newFrontendError("chip: transceive", status))
	}

	n, err := c.readReg(chipreg.FIFOLevel)
	if err != nil {
		return rxFrame{}, err
	}
	ctrl, err := c.readReg(chipreg.Control)
	if err != nil {
		return rxFrame{}, err
	}
	data, err := c.readFIFO(int(n & 0x7F))
	if err != nil {
		return rxFrame{}, err
	}
	c.trace.recordRX(data, "")
	rx := rxFrame{data: data, lastBits: int(ctrl & chipreg.RxLastBitsMask)}

	if errReg&chipreg.ErrColl != 0 {
		coll, err := c.readReg(chipreg.Coll)
		if err != nil {
			return rxFrame{}, err
		}
		if coll&chipreg.CollPosNotValid != 0 {
			return rx, newFrontendError("chip: transceive", feStatusCollision)
		}
		pos := int(coll & chipreg.CollPosMask)
		if pos == 0 {
			pos = 32
		}
		return rx, &collisionError{bit: pos - 1}
	}
	if len(data) == 0 {
		return rxFrame{}, newFrontendError("chip: transceive", feStatusTimeout)
	}
	return rx, nil
}

func chipErrorStatus(errReg byte) byte {
	switch {
	case errReg&chipreg.ErrBufferOvfl != 0:
		return feStatusOverflow
	case errReg&chipreg.ErrColl != 0:
		return feStatusCollision
	case errReg&chipreg.ErrCRC != 0:
		return feStatusCRC
	case errReg&chipreg.ErrParity != 0:
		return feStatusParity
	case errReg&chipreg.ErrProtocol != 0:
		return feStatusProtocol
	default:
		return feStatusOK
	}
}

func (c *chipFrontend) authenticate(kt KeyType, block byte, key Key, uid [4]byte, timeout time.Duration) error {
	buf := make([]byte, 0, 12)
	buf = append(buf, byte(kt), block)
	buf = append(buf, key[:]...)
	buf = append(buf, uid[:]...)
	defer clear(buf)

	c.trace.recordTX(buf[:2], "MFAuthent")
	if err := c.runCommand(chipreg.CmdMFAuthent, buf, 0, chipreg.IrqIdle, timeout); err != nil {
		if IsRetryable(err) {
			return newFrontendError("chip: authenticate", feStatusAuth)
		}
		return err
	}
	status2, err := c.readReg(chipreg.Status2)
	if err != nil {
		return err
	}
	if status2&chipreg.MFCrypto1On == 0 {
		return newFrontendError("chip: authenticate", feStatusAuth)
	}
	return nil
}

func (c *chipFrontend) stopCrypto() error {
	return c.clearBits(chipreg.Status2, chipreg.MFCrypto1On)
}

func (c *chipFrontend) close() error {
	_ = c.field(false)
	if err := c.host.Close(); err != nil {
		return fmt.Errorf("chip: close: %w", err)
	}
	return nil
}
