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

package spi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-nfc/detection"
)

func TestDetect(t *testing.T) {
	t.Parallel()
	d := &detector{
		list:  func() ([]string, error) { return []string{"SPI0.0", "SPI0.1"}, nil },
		probe: func(_ context.Context, name string) bool { return name == "SPI0.1" },
	}

	devices, err := d.Detect(context.Background(), &detection.Options{Mode: detection.Passive})
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Equal(t, detection.Low, devices[0].Confidence)

	devices, err = d.Detect(context.Background(), &detection.Options{Mode: detection.Safe})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "SPI0.1", devices[0].Path)
	assert.Equal(t, detection.High, devices[0].Confidence)

	_, err = d.Detect(context.Background(), &detection.Options{
		Mode:        detection.Safe,
		IgnorePaths: []string{"SPI0.1"},
	})
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}
