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

// Package spi detects reader ICs on the SPI ports known to periph.
package spi

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/detection"
	"github.com/ZaparooProject/go-nfc/transport/spi"
)

const probeTimeout = 2 * time.Second

type detector struct {
	list  func() ([]string, error)
	probe func(ctx context.Context, name string) bool
}

// New returns the SPI detector.
func New() detection.Detector {
	return &detector{list: listPorts, probe: probePort}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string { return "spi" }

// Detect reports every port in Passive mode and only ports whose reader
// IC initialised otherwise.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	names, err := d.list()
	if err != nil {
		return nil, err
	}
	var devices []detection.DeviceInfo
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if detection.IsPathIgnored(name, opts.IgnorePaths) {
			continue
		}
		dev := detection.DeviceInfo{
			Transport:  "spi",
			Path:       name,
			Name:       fmt.Sprintf("SPI port %s", name),
			Role:       detection.RoleFrontend,
			Confidence: detection.Low,
			Metadata:   map[string]string{},
		}
		if opts.Mode != detection.Passive {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			ok := d.probe(probeCtx, name)
			cancel()
			if !ok {
				continue
			}
			dev.Confidence = detection.High
		}
		devices = append(devices, dev)
	}
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func listPorts() ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: %w", detection.ErrUnsupportedPlatform, err)
	}
	var names []string
	for _, ref := range spireg.All() {
		names = append(names, ref.Name)
	}
	return names, nil
}

// probePort runs a chip reset through the register interface.
func probePort(ctx context.Context, name string) bool {
	t, err := spi.New(name)
	if err != nil {
		return false
	}
	done := make(chan bool, 1)
	go func() {
		h, err := nfc.Init(t, nfc.DefaultConfig(), nfc.FrontendChip)
		if err != nil {
			_ = t.Close()
			done <- false
			return
		}
		_ = h.Close()
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
