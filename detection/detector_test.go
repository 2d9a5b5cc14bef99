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

//nolint:paralleltest // tests share the detector registry and the cache
package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	delay     time.Duration
	calls     int
}

func (f *fakeDetector) Transport() string { return f.transport }

func (f *fakeDetector) Detect(ctx context.Context, _ *Options) ([]DeviceInfo, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.devices, f.err
}

func withRegistry(t *testing.T, detectors ...Detector) {
	t.Helper()
	registry.mu.Lock()
	saved := registry.detectors
	registry.detectors = detectors
	registry.mu.Unlock()
	ClearDetectionCache()
	t.Cleanup(func() {
		registry.mu.Lock()
		registry.detectors = saved
		registry.mu.Unlock()
		ClearDetectionCache()
	})
}

func TestDeviceInfo_String(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		device   DeviceInfo
	}{
		{
			name:     "uart front-end",
			device:   DeviceInfo{Transport: "uart", Path: "/dev/ttyUSB0", Confidence: High},
			expected: "uart front-end at /dev/ttyUSB0 (confidence: high)",
		},
		{
			name:     "i2c secure element",
			device:   DeviceInfo{Transport: "i2c", Path: "/dev/i2c-1:0x50", Role: RolePSAM, Confidence: Medium},
			expected: "i2c secure element at /dev/i2c-1:0x50 (confidence: medium)",
		},
		{
			name:     "unknown confidence",
			device:   DeviceInfo{Transport: "spi", Path: "SPI0.0", Confidence: Confidence(9)},
			expected: "spi front-end at SPI0.0 (confidence: unknown)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.device.String())
		})
	}
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "passive", Passive.String())
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, Safe, opts.Mode)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.True(t, opts.EnableCache)
	assert.NotNil(t, opts.Blocklist)
}

func TestDetectAll_FilterByTransport(t *testing.T) {
	u := &fakeDetector{transport: "uart", devices: []DeviceInfo{{Transport: "uart", Path: "/dev/ttyUSB0"}}}
	s := &fakeDetector{transport: "spi", devices: []DeviceInfo{{Transport: "spi", Path: "SPI0.0"}}}
	withRegistry(t, u, s)

	devices, err := DetectAll(context.Background(), &Options{Transports: []string{"spi"}})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "SPI0.0", devices[0].Path)
	assert.Zero(t, u.calls)
}

func TestDetectAll_NoDetectors(t *testing.T) {
	withRegistry(t)
	_, err := DetectAll(context.Background(), &Options{})
	require.ErrorIs(t, err, errNoDetectors)
}

func TestDetectAll_Timeout(t *testing.T) {
	withRegistry(t, &fakeDetector{transport: "uart", delay: time.Second})
	_, err := DetectAll(context.Background(), &Options{Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrDetectionTimeout)
}

func TestDetectAll_PartialFailure(t *testing.T) {
	errBus := errors.New("bus error")
	withRegistry(t,
		&fakeDetector{transport: "i2c", err: errBus},
		&fakeDetector{transport: "uart", devices: []DeviceInfo{{Transport: "uart", Path: "COM3"}}},
	)
	devices, err := DetectAll(context.Background(), &Options{})
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	withRegistry(t, &fakeDetector{transport: "i2c", err: errBus}, &fakeDetector{transport: "uart"})
	_, err = DetectAll(context.Background(), &Options{})
	require.ErrorIs(t, err, errBus)

	withRegistry(t, &fakeDetector{transport: "uart", err: ErrNoDevicesFound})
	_, err = DetectAll(context.Background(), &Options{})
	require.ErrorIs(t, err, ErrNoDevicesFound)
}

func TestDetectAll_Cache(t *testing.T) {
	dev := DeviceInfo{Transport: "uart", Path: "/dev/ttyUSB0", Metadata: map[string]string{"vidpid": "1A86:7523"}}
	f := &fakeDetector{transport: "uart", devices: []DeviceInfo{dev}}
	withRegistry(t, f)
	opts := &Options{EnableCache: true, CacheTTL: time.Minute}

	_, err := DetectAll(context.Background(), opts)
	require.NoError(t, err)
	_, err = DetectAll(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)

	// cached results still honour the blocklist
	opts.Blocklist = []string{"1a86:7523"}
	_, err = DetectAll(context.Background(), opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)

	ClearDetectionCacheForTransport("uart")
	opts.Blocklist = nil
	_, err = DetectAll(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestCache_TTLAndCopy(t *testing.T) {
	ClearDetectionCache()
	t.Cleanup(ClearDetectionCache)
	devices := []DeviceInfo{{Path: "/dev/ttyUSB0"}}
	setCached("uart", devices)
	devices[0].Path = "changed"

	got, ok := getCached("uart", time.Minute)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", got[0].Path)

	_, ok = getCached("uart", 0)
	assert.False(t, ok)
	_, ok = getCached("spi", time.Minute)
	assert.False(t, ok)
}

func TestBest(t *testing.T) {
	devices := []DeviceInfo{
		{Path: "a", Confidence: Low},
		{Path: "b", Confidence: High},
		{Path: "c", Confidence: High},
		{Path: "sam", Role: RolePSAM, Confidence: Medium},
	}
	best, ok := Best(devices, RoleFrontend)
	require.True(t, ok)
	assert.Equal(t, "b", best.Path)

	best, ok = Best(devices, RolePSAM)
	require.True(t, ok)
	assert.Equal(t, "sam", best.Path)

	_, ok = Best(nil, RoleFrontend)
	assert.False(t, ok)
}
