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

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/polling"
)

var errInvalidConfig = errors.New("invalid reader config")

// ReaderConfig is the YAML file read by -config. Flags given on the
// command line override the matching fields.
type ReaderConfig struct {
	Device       string     `yaml:"device"`
	Frontend     string     `yaml:"frontend"`
	NFCConfig    string     `yaml:"nfc_config"`
	WorkMode     string     `yaml:"work_mode"`
	Listen       string     `yaml:"listen"`
	Log          LogConfig  `yaml:"log"`
	PSAM         PSAMConfig `yaml:"psam"`
	SPI          SPIConfig  `yaml:"spi"`
	Protocols    []string   `yaml:"protocols"`
	Poll         PollConfig `yaml:"poll"`
	BaudRate     int        `yaml:"baud_rate"`
	IdentityCard bool       `yaml:"identity_card"`
}

// SPIConfig names the periph pins wired to the reader IC.
type SPIConfig struct {
	ResetPin    string `yaml:"reset_pin"`
	ModePin     string `yaml:"mode_pin"`
	StandbyPin  string `yaml:"standby_pin"`
	FrequencyHz int64  `yaml:"frequency_hz"`
}

// PSAMConfig locates the secure element link. A device of the form
// /dev/i2c-N[:addr] selects the I2C controller, anything else a serial port.
type PSAMConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
}

// PollConfig overrides the polling session timings.
type PollConfig struct {
	Interval       time.Duration `yaml:"interval"`
	IdleInterval   time.Duration `yaml:"idle_interval"`
	RemovalTimeout time.Duration `yaml:"removal_timeout"`
	WriteRetries   int           `yaml:"write_retries"`
}

// LogConfig selects the log output. Format is auto, text or json.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	Dir    string `yaml:"dir"`
}

func defaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		Frontend:  nfc.FrontendMCU.String(),
		WorkMode:  "auto",
		Protocols: []string{"a", "b"},
		Log:       LogConfig{Format: "auto", Level: "info"},
	}
}

// loadReaderConfig reads path over the defaults. Unknown keys are rejected
// so typos do not silently fall back to defaults.
func loadReaderConfig(path string) (*ReaderConfig, error) {
	cfg := defaultReaderConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read reader config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse reader config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ReaderConfig) validate() error {
	if _, err := c.frontendType(); err != nil {
		return err
	}
	if _, err := c.protocolMask(); err != nil {
		return err
	}
	if _, err := c.workMode(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", errInvalidConfig, c.Log.Format)
	}
	if c.Poll.Interval < 0 || c.Poll.IdleInterval < 0 || c.Poll.RemovalTimeout < 0 {
		return fmt.Errorf("%w: negative poll timing", errInvalidConfig)
	}
	return nil
}

func (c *ReaderConfig) frontendType() (nfc.FrontendType, error) {
	switch strings.ToLower(c.Frontend) {
	case "", "mcu", "uart":
		return nfc.FrontendMCU, nil
	case "chip", "spi":
		return nfc.FrontendChip, nil
	default:
		return 0, fmt.Errorf("%w: frontend %q", errInvalidConfig, c.Frontend)
	}
}

func (c *ReaderConfig) protocolMask() (nfc.ProtocolMask, error) {
	var mask nfc.ProtocolMask
	for _, p := range c.Protocols {
		switch strings.ToLower(p) {
		case "a", "14443a":
			mask |= nfc.ProtocolMaskA
		case "b", "14443b":
			mask |= nfc.ProtocolMaskB
		case "v", "15693", "iso15693":
			mask |= nfc.ProtocolMask15693
		default:
			return 0, fmt.Errorf("%w: protocol %q", errInvalidConfig, p)
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("%w: no protocol enabled", errInvalidConfig)
	}
	return mask, nil
}

func (c *ReaderConfig) workMode() (nfc.WorkMode, error) {
	switch strings.ToLower(c.WorkMode) {
	case "", "auto":
		return nfc.WorkModeAuto, nil
	case "interactive":
		return nfc.WorkModeInteractive, nil
	default:
		return 0, fmt.Errorf("%w: work mode %q", errInvalidConfig, c.WorkMode)
	}
}

// moduleConfig builds the engine configuration. A CBOR file named by
// NFCConfig replaces the defaults; the protocol list and work mode from
// the YAML file are applied on top either way.
func (c *ReaderConfig) moduleConfig() (*nfc.Config, error) {
	cfg := nfc.DefaultConfig()
	if c.NFCConfig != "" {
		loaded, err := nfc.LoadConfigFile(c.NFCConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	mask, err := c.protocolMask()
	if err != nil {
		return nil, err
	}
	mode, err := c.workMode()
	if err != nil {
		return nil, err
	}
	cfg.Ops.CardProtocol = mask
	cfg.WorkMode = mode
	cfg.Ops.IdentityCardEnable = cfg.Ops.IdentityCardEnable || c.IdentityCard
	cfg.PSAMEnable = c.PSAM.Device != ""
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("module config: %w", err)
	}
	return cfg, nil
}

func (c *ReaderConfig) pollingConfig() *polling.Config {
	pc := polling.DefaultConfig()
	if c.Poll.Interval > 0 {
		pc.PollInterval = c.Poll.Interval
	}
	if c.Poll.IdleInterval > 0 {
		pc.IdleInterval = c.Poll.IdleInterval
	}
	if c.Poll.RemovalTimeout > 0 {
		pc.CardRemovalTimeout = c.Poll.RemovalTimeout
	}
	if c.Poll.WriteRetries > 0 {
		pc.WriteRetries = c.Poll.WriteRetries
	}
	return pc
}
