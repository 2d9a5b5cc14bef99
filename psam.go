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
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// ErrPSAMNotPowered is returned for APDUs sent before a successful reset.
var ErrPSAMNotPowered = fmt.Errorf("%w: secure element not powered", ErrWrongState)

// T=0 status words
const (
	sw1MoreData   = 0x61
	sw1WrongLe    = 0x6C
	insGetResp    = 0xC0
	maxT0Rounds   = 8
	minAPDULength = 4
)

// SecureElement is the contact smart card (PSAM) slot next to the RF
// front-end. It is independent of the card state machine and safe for
// concurrent use.
type SecureElement interface {
	// Reset powers the card up and returns its ATR. Without force a card
	// that is already powered keeps its session and the cached ATR is
	// returned.
	Reset(force bool) ([]byte, error)
	// APDU sends a command APDU and returns the response including SW1 SW2.
	// T=0 GET RESPONSE and Le correction are handled transparently.
	APDU(apdu []byte) ([]byte, error)
	// ChangeBaud switches to the fastest rate the ATR offers.
	ChangeBaud() error
	PowerDown() error
	// UpdateFirmware streams the controller firmware image at path.
	UpdateFirmware(path string, reboot bool) error
	// Passthrough sends data to the controller unchanged and returns its
	// answer.
	Passthrough(data []byte) ([]byte, error)
	Close() error
}

// seDriver is the controller specific half of a secure element.
type seDriver interface {
	name() string
	powerUp(timeout time.Duration) ([]byte, error)
	powerDown() error
	command(apdu []byte, timeout time.Duration) ([]byte, error)
	setBaud(ta1 byte) error
	updateFirmware(image []byte, reboot bool) error
	passthrough(data []byte, timeout time.Duration) ([]byte, error)
	close() error
}

type psam struct {
	drv     seDriver
	retry   *RetryConfig
	atr     []byte
	mu      syncutil.Mutex
	powered bool
	closed  bool
}

func newPSAM(t FrontendType, tr PSAMTransport, retry *RetryConfig) (*psam, error) {
	var drv seDriver
	switch t {
	case FrontendChip:
		drv = newALPARDriver(tr)
	case FrontendMCU:
		drv = newMCUSEDriver(tr)
	default:
		return nil, fmt.Errorf("%w: front-end type %s", ErrParameter, t)
	}
	if retry == nil {
		retry = PSAMRetryConfig()
	}
	return &psam{drv: drv, retry: retry}, nil
}

func (p *psam) Reset(force bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrHandleClosed
	}
	if p.powered && !force {
		return append([]byte(nil), p.atr...), nil
	}

	var atr []byte
	err := RetryWithConfig(context.Background(), p.retry, func() error {
		var err error
		atr, err = p.drv.powerUp(PSAMResetTimeout)
		if err != nil {
			return err
		}
		return validateATR(atr)
	})
	if err != nil {
		p.powered = false
		p.atr = nil
		return nil, fmt.Errorf("psam reset: %w", err)
	}
	Debugf("%s: ATR % X", p.drv.name(), atr)
	p.atr = atr
	p.powered = true
	return append([]byte(nil), atr...), nil
}

// validateATR checks the initial character of an ATR.
func validateATR(atr []byte) error {
	if len(atr) < 2 {
		return fmt.Errorf("%w: ATR of %d bytes", ErrInvalidFrame, len(atr))
	}
	// direct or inverse convention
	if atr[0] != 0x3B && atr[0] != 0x3F {
		return fmt.Errorf("%w: ATR TS 0x%02X", ErrInvalidFrame, atr[0])
	}
	return nil
}

func (p *psam) APDU(apdu []byte) ([]byte, error) {
	if len(apdu) < minAPDULength {
		return nil, fmt.Errorf("%w: APDU of %d bytes", ErrParameter, len(apdu))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrHandleClosed
	}
	if !p.powered {
		return nil, ErrPSAMNotPowered
	}

	cmd := apdu
	var out []byte
	for range maxT0Rounds {
		resp, err := p.drv.command(cmd, PSAMAPDUTimeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				p.powered = false
			}
			return nil, fmt.Errorf("psam apdu: %w", err)
		}
		if len(resp) < 2 {
			return nil, fmt.Errorf("psam apdu: %w: response of %d bytes", ErrInvalidFrame, len(resp))
		}
		sw1, sw2 := resp[len(resp)-2], resp[len(resp)-1]
		switch sw1 {
		case sw1MoreData:
			out = append(out, resp[:len(resp)-2]...)
			cmd = []byte{0x00, insGetResp, 0x00, 0x00, sw2}
		case sw1WrongLe:
			cmd = withLe(cmd, sw2)
		default:
			return append(out, resp...), nil
		}
	}
	return nil, fmt.Errorf("psam apdu: %w: more than %d T=0 exchanges", ErrProtocol, maxT0Rounds)
}

// withLe re-issues the short APDU cmd with Le replaced or appended. A
// fifth byte is Le on its own and Lc when data follows; case 4 commands
// carry Le after the Lc data bytes.
func withLe(cmd []byte, le byte) []byte {
	out := append([]byte(nil), cmd...)
	switch n := len(out); {
	case n == minAPDULength+1:
		out[minAPDULength] = le
		return out
	case n > minAPDULength+1:
		if at := minAPDULength + 1 + int(out[minAPDULength]); at == n-1 {
			out[at] = le
			return out
		}
	}
	return append(out, le)
}

func (p *psam) ChangeBaud() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrHandleClosed
	}
	if !p.powered {
		return ErrPSAMNotPowered
	}
	ta1, ok := atrTA1(p.atr)
	if !ok {
		Debugf("%s: ATR has no TA1, keeping default rate", p.drv.name())
		return nil
	}
	if err := p.drv.setBaud(ta1); err != nil {
		return fmt.Errorf("psam change baud: %w", err)
	}
	return nil
}

// atrTA1 returns the TA1 interface byte (Fi/Di) of an ATR.
func atrTA1(atr []byte) (byte, bool) {
	if len(atr) < 3 || atr[1]&0x10 == 0 {
		return 0, false
	}
	return atr[2], true
}

func (p *psam) PowerDown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrHandleClosed
	}
	p.powered = false
	p.atr = nil
	if err := p.drv.powerDown(); err != nil {
		return fmt.Errorf("psam power down: %w", err)
	}
	return nil
}

func (p *psam) UpdateFirmware(path string, reboot bool) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: firmware image: %w", ErrParameter, err)
	}
	if len(image) == 0 {
		return fmt.Errorf("%w: empty firmware image", ErrParameter)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrHandleClosed
	}
	if err := p.drv.updateFirmware(image, reboot); err != nil {
		return fmt.Errorf("psam firmware update: %w", err)
	}
	if reboot {
		p.powered = false
		p.atr = nil
	}
	return nil
}

func (p *psam) Passthrough(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty passthrough", ErrParameter)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrHandleClosed
	}
	resp, err := p.drv.passthrough(data, PSAMAPDUTimeout)
	if err != nil {
		return nil, fmt.Errorf("psam passthrough: %w", err)
	}
	return resp, nil
}

func (p *psam) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.powered {
		_ = p.drv.powerDown()
		p.powered = false
	}
	return p.drv.close()
}
