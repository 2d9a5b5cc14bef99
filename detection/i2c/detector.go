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

// Package i2c detects the secure element controller on the I2C buses known
// to periph.
package i2c

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-nfc/detection"
	"github.com/ZaparooProject/go-nfc/transport/i2c"
)

type detector struct {
	list  func() ([]string, error)
	probe func(path string) bool
}

// New returns the I2C detector.
func New() detection.Detector {
	return &detector{list: listBuses, probe: probeBus}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string { return "i2c" }

// Detect reports one secure element candidate per bus at the default
// controller address. Probing only proves that something acknowledges the
// address, so confidence stays Medium.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	buses, err := d.list()
	if err != nil {
		return nil, err
	}
	var devices []detection.DeviceInfo
	for _, bus := range buses {
		if ctx.Err() != nil {
			break
		}
		path := fmt.Sprintf("%s:0x%02x", bus, i2c.DefaultAddr)
		if detection.IsPathIgnored(path, opts.IgnorePaths) || detection.IsPathIgnored(bus, opts.IgnorePaths) {
			continue
		}
		conf := detection.Low
		if opts.Mode != detection.Passive {
			if !d.probe(path) {
				continue
			}
			conf = detection.Medium
		}
		devices = append(devices, detection.DeviceInfo{
			Transport:  "i2c",
			Path:       path,
			Name:       fmt.Sprintf("secure element controller on %s", bus),
			Role:       detection.RolePSAM,
			Confidence: conf,
			Metadata:   map[string]string{"addr": fmt.Sprintf("0x%02x", i2c.DefaultAddr)},
		})
	}
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func listBuses() ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: %w", detection.ErrUnsupportedPlatform, err)
	}
	var names []string
	for _, ref := range i2creg.All() {
		names = append(names, ref.Name)
	}
	return names, nil
}

// probeBus drains the controller queue, which needs the address to ACK.
func probeBus(path string) bool {
	t, err := i2c.New(path)
	if err != nil {
		return false
	}
	defer func() { _ = t.Close() }()
	return t.Flush() == nil
}
