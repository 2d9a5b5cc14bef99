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

package uart

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"

	"github.com/ZaparooProject/go-nfc/detection"
)

var testPorts = []*enumerator.PortDetails{
	{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523", SerialNumber: "A1"},
	{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0bda", PID: "8153"},
	{Name: "/dev/ttyS0"},
}

func newTestDetector(probed map[string]bool) *detector {
	return &detector{
		list: func() ([]*enumerator.PortDetails, error) { return testPorts, nil },
		probe: func(_ context.Context, path string, _ detection.Mode) bool {
			return probed[path]
		},
	}
}

func TestDetect_Passive(t *testing.T) {
	t.Parallel()
	d := newTestDetector(nil)
	devices, err := d.Detect(context.Background(), &detection.Options{Mode: detection.Passive})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyUSB0", devices[0].Path)
	assert.Equal(t, detection.Medium, devices[0].Confidence)
	assert.Equal(t, "1A86:7523", devices[0].Metadata["vidpid"])
	assert.Equal(t, "A1", devices[0].Metadata["serial"])
	assert.Equal(t, detection.RoleFrontend, devices[0].Role)
}

func TestDetect_SafeModeProbes(t *testing.T) {
	t.Parallel()
	d := newTestDetector(map[string]bool{"/dev/ttyUSB1": true})
	devices, err := d.Detect(context.Background(), &detection.Options{Mode: detection.Safe})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	// the known adapter failed its probe and is dropped
	assert.Equal(t, "/dev/ttyUSB1", devices[0].Path)
	assert.Equal(t, detection.High, devices[0].Confidence)
}

func TestDetect_FiltersAndErrors(t *testing.T) {
	t.Parallel()
	d := newTestDetector(map[string]bool{"/dev/ttyUSB0": true, "/dev/ttyS0": true})

	devices, err := d.Detect(context.Background(), &detection.Options{
		Mode:        detection.Safe,
		Blocklist:   []string{"1A86:7523"},
		IgnorePaths: []string{"/dev/ttyS0"},
	})
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	assert.Empty(t, devices)

	errEnum := errors.New("no sysfs")
	d.list = func() ([]*enumerator.PortDetails, error) { return nil, errEnum }
	_, err = d.Detect(context.Background(), &detection.Options{})
	require.ErrorIs(t, err, errEnum)
}

func TestProbeDevice_MissingPort(t *testing.T) {
	t.Parallel()
	assert.False(t, probeDevice(context.Background(), "/dev/does-not-exist", detection.Safe))
}
