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

// Package uart detects front-end MCUs behind USB serial adapters.
package uart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/detection"
	"github.com/ZaparooProject/go-nfc/transport/uart"
)

const probeTimeout = 2 * time.Second

// knownAdapters are the USB serial bridges reader boards ship with.
var knownAdapters = []string{
	"067B:2303", // Prolific PL2303
	"0403:6001", // FTDI FT232
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
	"1A86:55D4", // QinHeng CH9102
}

type port struct {
	Path   string
	VIDPID string
	Serial string
	USB    bool
}

type detector struct {
	list  func() ([]*enumerator.PortDetails, error)
	probe func(ctx context.Context, path string, mode detection.Mode) bool
}

// New returns the serial port detector.
func New() detection.Detector {
	return &detector{list: enumerator.GetDetailedPortsList, probe: probeDevice}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string { return "uart" }

func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	details, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	var devices []detection.DeviceInfo
	for _, pd := range details {
		if ctx.Err() != nil {
			break
		}
		p := toPort(pd)
		if p.VIDPID != "" && detection.IsBlocked(p.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(p.Path, opts.IgnorePaths) {
			continue
		}
		if dev, ok := d.processPort(ctx, &p, opts.Mode); ok {
			devices = append(devices, dev)
		}
	}
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func toPort(pd *enumerator.PortDetails) port {
	p := port{Path: pd.Name, Serial: pd.SerialNumber, USB: pd.IsUSB}
	if pd.IsUSB && pd.VID != "" && pd.PID != "" {
		p.VIDPID = strings.ToUpper(pd.VID + ":" + pd.PID)
	}
	return p
}

// processPort decides whether p is reported. A failed probe drops the
// port even when its adapter is known, so a busy CH340 does not hide a
// reader enumerated after it.
func (d *detector) processPort(ctx context.Context, p *port, mode detection.Mode) (detection.DeviceInfo, bool) {
	likely := isLikelyReader(p)
	conf := detection.Low
	if likely {
		conf = detection.Medium
	}
	if mode == detection.Passive {
		if !likely {
			return detection.DeviceInfo{}, false
		}
		return newDeviceInfo(p, conf), true
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if !d.probe(probeCtx, p.Path, mode) {
		return detection.DeviceInfo{}, false
	}
	return newDeviceInfo(p, detection.High), true
}

func newDeviceInfo(p *port, conf detection.Confidence) detection.DeviceInfo {
	dev := detection.DeviceInfo{
		Transport:  "uart",
		Path:       p.Path,
		Name:       p.Path,
		Role:       detection.RoleFrontend,
		Confidence: conf,
		Metadata:   make(map[string]string),
	}
	if p.VIDPID != "" {
		dev.Metadata["vidpid"] = p.VIDPID
		dev.Name = fmt.Sprintf("USB serial %s (%s)", p.VIDPID, p.Path)
	}
	if p.Serial != "" {
		dev.Metadata["serial"] = p.Serial
	}
	return dev
}

func isLikelyReader(p *port) bool {
	for _, k := range knownAdapters {
		if strings.EqualFold(p.VIDPID, k) {
			return true
		}
	}
	return false
}

// probeDevice initialises a front-end on path, which resets the MCU and
// waits for its answer. Full mode also runs one detection cycle.
func probeDevice(ctx context.Context, path string, mode detection.Mode) bool {
	t, err := uart.New(path)
	if err != nil {
		return false
	}
	done := make(chan bool, 1)
	go func() {
		h, err := nfc.Init(t, nfc.DefaultConfig(), nfc.FrontendMCU)
		if err != nil {
			_ = t.Close()
			done <- false
			return
		}
		defer func() { _ = h.Close() }()
		if mode == detection.Full {
			_, err = h.Detect()
			done <- err == nil || errors.Is(err, nfc.ErrNoCard)
			return
		}
		done <- true
	}()
	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		_ = t.Close()
		return false
	}
}
