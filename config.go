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
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolMask selects the air interfaces polled by Detect.
type ProtocolMask uint32

const (
	ProtocolMaskA     ProtocolMask = 0x01
	ProtocolMaskB     ProtocolMask = 0x02
	ProtocolMask15693 ProtocolMask = 0x04

	protocolMaskAll = ProtocolMaskA | ProtocolMaskB | ProtocolMask15693
)

// Has reports whether all bits of p are set in m.
func (m ProtocolMask) Has(p ProtocolMask) bool {
	return m&p == p
}

func (m ProtocolMask) String() string {
	var parts []string
	if m.Has(ProtocolMaskA) {
		parts = append(parts, "A")
	}
	if m.Has(ProtocolMaskB) {
		parts = append(parts, "B")
	}
	if m.Has(ProtocolMask15693) {
		parts = append(parts, "15693")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// WorkMode selects who drives card sessions after a detection.
type WorkMode uint32

const (
	// WorkModeInteractive leaves the detected card activated so callbacks
	// and the application can continue the session.
	WorkModeInteractive WorkMode = 0
	// WorkModeAuto halts the card as soon as the callbacks returned.
	WorkModeAuto WorkMode = 1
)

// PSAMWorkMode restricts which cards the PSAM is consulted for.
type PSAMWorkMode int

const (
	PSAMEncryptOrNormal PSAMWorkMode = iota
	PSAMOnlyEncrypt
	PSAMOnlyNormal
)

// Read timeout bounds accepted by Validate
const (
	MinReadTimeout = time.Millisecond
	MaxReadTimeout = 10 * time.Second

	// MaxVirtualBlocks is the number of trusted block 0 images that can be
	// configured for the virtual card check.
	MaxVirtualBlocks = 16
)

// OpsConfig holds the protocol level tunables of the engine.
type OpsConfig struct {
	// M1Sector0Key is the hex key used to read block 0 for the virtual
	// card check. Empty means DefaultKey.
	M1Sector0Key string `cbor:"m1_sector0_key,omitempty"`
	// KeyA and KeyB are the hex keys used by the automatic sector read.
	KeyA string `cbor:"keya,omitempty"`
	KeyB string `cbor:"keyb,omitempty"`
	// M1VirtualBlock0 lists the trusted block 0 images.
	M1VirtualBlock0 [][16]byte   `cbor:"m1_virtual_blk0,omitempty"`
	CardProtocol    ProtocolMask `cbor:"card_protocol"`
	// ReadTimeout bounds a single card exchange and the authentication ID
	// hook.
	ReadTimeout time.Duration `cbor:"read_timeout"`
	AFIEnable   bool          `cbor:"afi_enable"`
	AFI         byte          `cbor:"afi"`
	// IdentityCardEnable reads the identity card GUID on Type B cards.
	IdentityCardEnable bool `cbor:"identity_card_enable"`
	// BaudTx and BaudRx are the ISO14443-4 DS/DR divisor exponents (0..3).
	BaudTx byte `cbor:"baud_tx"`
	BaudRx byte `cbor:"baud_rx"`
	// ISO14443P4Switch requests the ATS for cards announcing ISO14443-4.
	ISO14443P4Switch   bool `cbor:"i14443p4_switch"`
	CheckM1VirtualCard bool `cbor:"check_m1_virtual_card"`
	// SAK28AsCPU reports dual-interface cards as CPU cards instead of M1.
	SAK28AsCPU bool `cbor:"nfc_sak28"`
	// SectorSwitch enables reading BlockNum of every detected M1 card with
	// KeyType into CardInfo.BlockData.
	SectorSwitch bool    `cbor:"sector_switch"`
	KeyType      KeyType `cbor:"key_type"`
	BlockNum     byte    `cbor:"blk_num"`
}

// Config is the module level configuration of a Handle.
type Config struct {
	Version         string       `cbor:"version,omitempty"`
	Ops             OpsConfig    `cbor:"ops"`
	WorkMode        WorkMode     `cbor:"work_mode"`
	PSAMWorkMode    PSAMWorkMode `cbor:"psam_work_mode"`
	Enable          bool         `cbor:"enable"`
	PSAMEnable      bool         `cbor:"psam_enable"`
	CardGain        byte         `cbor:"card_gain"`
	NStrengthOutput byte         `cbor:"n_strength_output"`
	NStrengthTimer  byte         `cbor:"n_strength_timer"`
	PStrengthOutput byte         `cbor:"p_strength_output"`
	PStrengthTimer  byte         `cbor:"p_strength_timer"`
}

// DefaultConfig returns a configuration that polls Type A and B cards in
// auto mode with a 100ms read timeout.
func DefaultConfig() *Config {
	return &Config{
		Enable:   true,
		WorkMode: WorkModeAuto,
		Ops: OpsConfig{
			CardProtocol:     ProtocolMaskA | ProtocolMaskB,
			ReadTimeout:      100 * time.Millisecond,
			ISO14443P4Switch: true,
			KeyType:          KeyA,
			BlockNum:         4,
		},
		CardGain:        0x04,
		NStrengthOutput: 0x08,
		PStrengthOutput: 0x20,
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.Ops.M1VirtualBlock0 != nil {
		out.Ops.M1VirtualBlock0 = append([][16]byte(nil), c.Ops.M1VirtualBlock0...)
	}
	return &out
}

// Validate checks that the configuration can be applied.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrParameter)
	}
	ops := &c.Ops
	if ops.CardProtocol&protocolMaskAll == 0 {
		return fmt.Errorf("%w: no card protocol enabled", ErrParameter)
	}
	if ops.CardProtocol&^protocolMaskAll != 0 {
		return fmt.Errorf("%w: unknown card protocol bits 0x%X", ErrParameter, uint32(ops.CardProtocol&^protocolMaskAll))
	}
	if ops.ReadTimeout < MinReadTimeout || ops.ReadTimeout > MaxReadTimeout {
		return fmt.Errorf("%w: read timeout %v out of range", ErrParameter, ops.ReadTimeout)
	}
	if ops.BaudTx > 3 || ops.BaudRx > 3 {
		return fmt.Errorf("%w: baud divisor out of range", ErrParameter)
	}
	if len(ops.M1VirtualBlock0) > MaxVirtualBlocks {
		return fmt.Errorf("%w: %d virtual card blocks, at most %d", ErrParameter,
			len(ops.M1VirtualBlock0), MaxVirtualBlocks)
	}
	if ops.SectorSwitch && !ops.KeyType.Valid() {
		return fmt.Errorf("%w: invalid key type %s", ErrParameter, ops.KeyType)
	}
	for _, s := range []string{ops.M1Sector0Key, ops.KeyA, ops.KeyB} {
		if s == "" {
			continue
		}
		if _, err := ParseKey(s); err != nil {
			return err
		}
	}
	if c.PSAMWorkMode < PSAMEncryptOrNormal || c.PSAMWorkMode > PSAMOnlyNormal {
		return fmt.Errorf("%w: psam work mode %d", ErrParameter, c.PSAMWorkMode)
	}
	return nil
}

// sectorKey returns the configured key for the automatic sector read.
func (o *OpsConfig) sectorKey() Key {
	s := o.KeyA
	if o.KeyType == KeyB {
		s = o.KeyB
	}
	if k, err := ParseKey(s); err == nil {
		return k
	}
	return DefaultKey
}

// sector0Key returns the key for the virtual card check.
func (o *OpsConfig) sector0Key() Key {
	if k, err := ParseKey(o.M1Sector0Key); err == nil {
		return k
	}
	return DefaultKey
}

// trustedBlock0 reports whether blk matches one of the configured images.
func (o *OpsConfig) trustedBlock0(blk []byte) bool {
	for i := range o.M1VirtualBlock0 {
		if bytes.Equal(o.M1VirtualBlock0[i][:], blk) {
			return true
		}
	}
	return false
}

var (
	configEncMode cbor.EncMode
	configDecMode cbor.DecMode
)

func init() {
	var err error
	configEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	configDecMode, err = cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// MarshalConfig encodes c with deterministic CBOR.
func MarshalConfig(c *Config) ([]byte, error) {
	data, err := configEncMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// UnmarshalConfig decodes and validates a CBOR encoded configuration.
// Unknown fields are rejected.
func UnmarshalConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := configDecMode.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %w", ErrParameter, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads a configuration written by SaveConfigFile.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return UnmarshalConfig(data)
}

// SaveConfigFile writes c to path.
func SaveConfigFile(path string, c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := MarshalConfig(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
