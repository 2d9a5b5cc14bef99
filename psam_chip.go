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

	"github.com/ZaparooProject/go-nfc/internal/alpar"
)

// ALPAR status bytes that mean the card did not answer
const (
	alparCardAbsent  = 0x40
	alparCardMute    = 0xA2
	alparCardTimeout = 0xC0
)

// alparDriver talks to a contact card interface controller that speaks
// ALPAR over the PSAM channel.
type alparDriver struct {
	tr    PSAMTransport
	trace *traceBuffer
}

func newALPARDriver(tr PSAMTransport) *alparDriver {
	return &alparDriver{tr: tr, trace: newTraceBuffer("psam-alpar", 16)}
}

func (*alparDriver) name() string { return "psam-alpar" }

func (d *alparDriver) call(cmd byte, data []byte, timeout time.Duration) ([]byte, error) {
	req, err := alpar.Encode(cmd, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParameter, err)
	}
	_ = d.tr.Flush()
	d.trace.recordTX(req, "")
	if _, err := d.tr.Send(req); err != nil {
		return nil, fmt.Errorf("psam-alpar: send: %w", err)
	}

	f, err := d.recv(timeout)
	if err != nil {
		return nil, d.trace.wrap(err)
	}
	if f.Cmd != cmd {
		return nil, d.trace.wrap(fmt.Errorf("%w: psam-alpar: answer to 0x%02X, expected 0x%02X",
			ErrInvalidFrame, f.Cmd, cmd))
	}
	if f.Nak {
		return nil, alparError(cmd, f.Status())
	}
	return f.Data, nil
}

func (d *alparDriver) recv(timeout time.Duration) (*alpar.Frame, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, 64)
	tmp := make([]byte, 64)
	for {
		if len(buf) > 0 && buf[0] != alpar.ACK && buf[0] != alpar.NAK {
			// resync on a frame marker
			i := 1
			for i < len(buf) && buf[i] != alpar.ACK && buf[i] != alpar.NAK {
				i++
			}
			buf = buf[i:]
		}
		if n, err := alpar.FrameLength(buf); err == nil && len(buf) >= n {
			d.trace.recordRX(buf[:n], "")
			f, err := alpar.Decode(buf[:n])
			if err != nil {
				return nil, fmt.Errorf("%w: psam-alpar: %w", ErrInvalidFrame, err)
			}
			return f, nil
		} else if err != nil && !errors.Is(err, alpar.ErrIncomplete) {
			buf = buf[1:]
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, NewTimeoutError("recv", "psam-alpar")
		}
		n, err := d.tr.Recv(tmp, remaining)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, NewTimeoutError("recv", "psam-alpar")
			}
			return nil, fmt.Errorf("psam-alpar: recv: %w", err)
		}
		buf = append(buf, tmp[:n]...)
	}
}

func alparError(cmd, status byte) error {
	kind := ErrProtocol
	switch status {
	case alparCardAbsent, alparCardMute, alparCardTimeout:
		kind = ErrTimeout
	}
	return fmt.Errorf("%w: psam-alpar: command 0x%02X status 0x%02X", kind, cmd, status)
}

func (d *alparDriver) powerUp(timeout time.Duration) ([]byte, error) {
	return d.call(alpar.CmdPowerUp5V, nil, timeout)
}

func (d *alparDriver) powerDown() error {
	_, err := d.call(alpar.CmdPowerOff, nil, PSAMAPDUTimeout)
	return err
}

func (d *alparDriver) command(apdu []byte, timeout time.Duration) ([]byte, error) {
	return d.call(alpar.CmdCardCommand, apdu, timeout)
}

func (d *alparDriver) setBaud(ta1 byte) error {
	_, err := d.call(alpar.CmdSetBaud, []byte{ta1}, PSAMAPDUTimeout)
	return err
}

func (*alparDriver) updateFirmware([]byte, bool) error {
	return fmt.Errorf("%w: firmware update on ALPAR controller", ErrUnsupported)
}

// passthrough sends data[0] as the ALPAR command with the rest as payload.
func (d *alparDriver) passthrough(data []byte, timeout time.Duration) ([]byte, error) {
	return d.call(data[0], data[1:], timeout)
}

func (d *alparDriver) close() error {
	if err := d.tr.Close(); err != nil {
		return fmt.Errorf("psam-alpar: close: %w", err)
	}
	return nil
}
