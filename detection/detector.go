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

// Package detection finds attached reader front-ends and secure element
// links. Transport specific detectors register themselves from their init
// functions; import them for side effects:
//
//	import _ "github.com/ZaparooProject/go-nfc/detection/uart"
package detection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// Mode sets how invasive detection may be.
type Mode int

const (
	// Passive only looks at device descriptors.
	Passive Mode = iota
	// Safe initialises the front-end once to confirm it answers.
	Safe
	// Full additionally runs a detection cycle.
	Full
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Confidence is how sure a detector is that a device is what it claims.
type Confidence int

const (
	// Low means the bus or port exists.
	Low Confidence = iota
	// Medium means the descriptors match a known adapter or the link answered.
	Medium
	// High means the front-end completed initialisation.
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// Role is what a detected device is used for.
type Role int

const (
	// RoleFrontend is an RF front-end, passed to nfc.Init as the host transport.
	RoleFrontend Role = iota
	// RolePSAM is a secure element link, passed as nfc.WithPSAM.
	RolePSAM
)

func (r Role) String() string {
	if r == RolePSAM {
		return "secure element"
	}
	return "front-end"
}

// DeviceInfo describes one detected device.
type DeviceInfo struct {
	// Metadata holds descriptor details such as "vidpid" and "serial".
	Metadata map[string]string
	// Transport is "uart", "spi" or "i2c".
	Transport string
	// Path is what the matching transport New accepts.
	Path       string
	Name       string
	Role       Role
	Confidence Confidence
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s %s at %s (confidence: %s)", d.Transport, d.Role, d.Path, d.Confidence)
}

// Options controls a detection run.
type Options struct {
	// Blocklist holds USB VID:PID pairs never reported, e.g. "1234:5678".
	Blocklist []string
	// IgnorePaths holds device paths never reported or probed.
	IgnorePaths []string
	// Transports limits the detectors run. Empty runs all of them.
	Transports []string
	CacheTTL   time.Duration
	// Timeout bounds the whole run.
	Timeout     time.Duration
	Mode        Mode
	EnableCache bool
}

// DefaultOptions probes in Safe mode and caches results for 30 seconds.
func DefaultOptions() Options {
	return Options{
		Mode:        Safe,
		Timeout:     5 * time.Second,
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector searches one transport.
type Detector interface {
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	Transport() string
}

var (
	// ErrNoDevicesFound is returned when no detector reported a device.
	ErrNoDevicesFound = errors.New("no reader devices found")
	// ErrDetectionTimeout is returned when the run outlived its timeout.
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrUnsupportedPlatform is returned by detectors that cannot run here.
	ErrUnsupportedPlatform = errors.New("platform not supported")
	errNoDetectors         = errors.New("no detectors available for specified transports")
)

var registry struct {
	detectors []Detector
	mu        syncutil.RWMutex
}

// RegisterDetector adds d to the detectors run by DetectAll.
func RegisterDetector(d Detector) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.detectors = append(registry.detectors, d)
}

func getDetectors(transports []string) []Detector {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	var out []Detector
	for _, d := range registry.detectors {
		if len(transports) == 0 || slices.Contains(transports, d.Transport()) {
			out = append(out, d)
		}
	}
	return out
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs the registered detectors selected by opts in parallel.
// Devices are returned even when some detectors failed.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	return DetectWith(ctx, opts, getDetectors(opts.Transports)...)
}

// DetectWith runs the given detectors in parallel.
func DetectWith(ctx context.Context, opts *Options, detectors ...Detector) ([]DeviceInfo, error) {
	if len(detectors) == 0 {
		return nil, errNoDetectors
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func() { results <- runSingleDetector(ctx, d, opts) }()
	}

	var all []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
				continue
			}
			all = append(all, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}
	switch {
	case len(all) > 0:
		return all, nil
	case len(errs) > 0:
		return nil, errors.Join(errs...)
	default:
		return nil, ErrNoDevicesFound
	}
}

func runSingleDetector(ctx context.Context, d Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		if cached, ok := getCached(d.Transport(), opts.CacheTTL); ok {
			// cached results skipped Detect, so filter them again
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: fmt.Errorf("%s: %w", d.Transport(), err)}
	}
	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(d.Transport(), devices)
		} else {
			clearCacheForTransport(d.Transport())
		}
	}
	return detectionResult{devices: devices}
}

// filterDevices applies IgnorePaths and Blocklist.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	var out []DeviceInfo
	for _, d := range devices {
		if IsPathIgnored(d.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := d.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Best returns the device of role with the highest confidence. Ties go to
// the first one reported.
func Best(devices []DeviceInfo, role Role) (DeviceInfo, bool) {
	var best DeviceInfo
	found := false
	for _, d := range devices {
		if d.Role != role {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best, found = d, true
		}
	}
	return best, found
}

// ClearDetectionCache removes all cached detection results.
func ClearDetectionCache() {
	clearCache()
}

// ClearDetectionCacheForTransport removes cached results for one transport.
func ClearDetectionCacheForTransport(transport string) {
	clearCacheForTransport(transport)
}
