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
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nfc/internal/frame"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// mcuLinkTimeout is added to the card timeout to cover the serial link.
const mcuLinkTimeout = 50 * time.Millisecond

// bytePipe is the subset of a transport the MCU framing needs.
type bytePipe interface {
	read(buf []byte, timeout time.Duration) (int, error)
	write(buf []byte) (int, error)
	flush() error
}

type hostPipe struct{ t HostTransport }

func (p hostPipe) read(buf []byte, timeout time.Duration) (int, error) { return p.t.Read(buf, timeout) }
func (p hostPipe) write(buf []byte) (int, error)                       { return p.t.Write(buf) }
func (p hostPipe) flush() error                                        { return p.t.Flush() }

type psamPipe struct{ t PSAMTransport }

func (p psamPipe) read(buf []byte, timeout time.Duration) (int, error) { return p.t.Recv(buf, timeout) }
func (p psamPipe) write(buf []byte) (int, error)                       { return p.t.Send(buf) }
func (p psamPipe) flush() error                                        { return p.t.Flush() }

// mcuLink runs request/response exchanges with a front-end MCU.
type mcuLink struct {
	pipe  bytePipe
	trace *traceBuffer
	name  string
	mu    syncutil.Mutex
}

func newMCULink(name string, pipe bytePipe) *mcuLink {
	return &mcuLink{pipe: pipe, name: name, trace: newTraceBuffer(name, 16)}
}

// call sends one request and waits for its response. A non-zero status is
// returned as a *FrontendError together with the response.
func (l *mcuLink) call(cmd byte, data []byte, timeout time.Duration) (*frame.Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, err := frame.EncodeRequest(cmd, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParameter, l.name, err)
	}
	_ = l.pipe.flush()
	l.trace.recordTX(req, "")
	if _, err := l.pipe.write(req); err != nil {
		return nil, fmt.Errorf("%s: write: %w", l.name, err)
	}

	resp, err := l.readResponse(timeout + mcuLinkTimeout)
	if err != nil {
		return nil, l.trace.wrap(err)
	}
	if resp.Cmd != cmd {
		return nil, l.trace.wrap(fmt.Errorf("%w: %s: response to 0x%02X, expected 0x%02X",
			ErrInvalidFrame, l.name, resp.Cmd, cmd))
	}
	if resp.Status != feStatusOK {
		return resp, newFrontendError(fmt.Sprintf("%s: command 0x%02X", l.name, cmd), resp.Status)
	}
	return resp, nil
}

func (l *mcuLink) readResponse(timeout time.Duration) (*frame.Response, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, 64)
	tmp := make([]byte, 64)

	for {
		// resync on the start marker
		if i := indexByte(buf, frame.STX); i > 0 {
			buf = buf[i:]
		} else if i < 0 {
			buf = buf[:0]
		}

		if len(buf) >= frame.HeaderLength {
			n, err := frame.FrameLength(buf)
			if err != nil {
				// not a frame start, drop the marker and resync
				buf = buf[1:]
				continue
			}
			if len(buf) >= n {
				l.trace.recordRX(buf[:n], "")
				resp, err := frame.DecodeResponse(buf[:n])
				if err != nil {
					return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFrame, l.name, err)
				}
				return resp, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, NewTimeoutError("read response", l.name)
		}
		n, err := l.pipe.read(tmp, remaining)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, NewTimeoutError("read response", l.name)
			}
			return nil, fmt.Errorf("%s: read: %w", l.name, err)
		}
		buf = append(buf, tmp[:n]...)
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// mcuFrontend drives a companion MCU that performs the RF framing itself
// and moves raw card frames over the serial link.
type mcuFrontend struct {
	host HostTransport
	link *mcuLink
}

func newMCUFrontend(host HostTransport) *mcuFrontend {
	return &mcuFrontend{host: host, link: newMCULink("mcu", hostPipe{host})}
}

func (*mcuFrontend) name() string { return "mcu" }

// The MCU command set has no value block operations.
func (*mcuFrontend) valueOps() bool { return false }

func (m *mcuFrontend) reset(cfg *Config) error {
	// the reset line is optional on serial links
	if err := m.host.GPIO(GPIOReset, false); err == nil {
		m.host.DelayMs(1)
		_ = m.host.GPIO(GPIOReset, true)
		m.host.DelayMs(10)
	}
	if _, err := m.link.call(frame.CmdReset, nil, 100*time.Millisecond); err != nil {
		return err
	}
	resp, err := m.link.call(frame.CmdVersion, nil, 100*time.Millisecond)
	if err != nil {
		return err
	}
	Debugf("mcu: firmware %q", string(resp.Data))

	_, err = m.link.call(frame.CmdConfigure, []byte{
		cfg.CardGain, cfg.NStrengthOutput, cfg.NStrengthTimer,
		cfg.PStrengthOutput, cfg.PStrengthTimer,
	}, 100*time.Millisecond)
	return err
}

func (m *mcuFrontend) field(on bool) error {
	v := byte(0)
	if on {
		v = 1
	}
	_, err := m.link.call(frame.CmdField, []byte{v}, 10*time.Millisecond)
	return err
}

func (m *mcuFrontend) setProtocol(p Protocol) error {
	_, err := m.link.call(frame.CmdProtocol, []byte{byte(p)}, 10*time.Millisecond)
	return err
}

func (m *mcuFrontend) setBitRate(dsi, dri byte) error {
	_, err := m.link.call(frame.CmdBitRate, []byte{dsi & 0x03, dri & 0x03}, 10*time.Millisecond)
	return err
}

func (m *mcuFrontend) transceive(x xfer) (rxFrame, error) {
	ms := x.timeout.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if ms > 0xFFFF {
		ms = 0xFFFF
	}
	req := make([]byte, 3, 3+len(x.tx))
	req[0] = byte(x.txLastBits&frame.TxLastBitsMask) | byte(x.rxAlign&0x07)<<frame.RxAlignShift
	binary.BigEndian.PutUint16(req[1:], uint16(ms))
	req = append(req, x.tx...)

	resp, err := m.link.call(frame.CmdTransceive, req, x.timeout)
	if err != nil {
		var fe *FrontendError
		if errors.As(err, &fe) && fe.Status == feStatusCollision && resp != nil && len(resp.Data) >= 1 {
			return rxFrame{data: resp.Data[1:]}, &collisionError{bit: int(resp.Data[0])}
		}
		return rxFrame{}, err
	}
	if len(resp.Data) < 2 {
		return rxFrame{}, newFrontendError("mcu: transceive", feStatusTimeout)
	}
	return rxFrame{data: resp.Data[1:], lastBits: int(resp.Data[0] & 0x07)}, nil
}

func (m *mcuFrontend) authenticate(kt KeyType, block byte, key Key, uid [4]byte, timeout time.Duration) error {
	req := make([]byte, 0, 12)
	req = append(req, byte(kt), block)
	req = append(req, key[:]...)
	req = append(req, uid[:]...)
	defer clear(req)
	_, err := m.link.call(frame.CmdAuthenticate, req, timeout)
	return err
}

func (m *mcuFrontend) stopCrypto() error {
	_, err := m.link.call(frame.CmdStopCrypto, nil, 10*time.Millisecond)
	return err
}

func (m *mcuFrontend) close() error {
	_ = m.field(false)
	if err := m.host.Close(); err != nil {
		return fmt.Errorf("mcu: close: %w", err)
	}
	return nil
}
