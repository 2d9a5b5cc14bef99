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
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSessionLog(t *testing.T) {
	dir := t.TempDir()

	path, err := InitSessionLog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseSessionLog() })

	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^nfc_\d{8}_\d{6}\.log$`), filepath.Base(path))
	assert.Equal(t, path, SessionLogPath())

	_, err = InitSessionLog(dir)
	require.ErrorIs(t, err, ErrWrongState)

	Debugf("written to %s", "file")
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, SessionLogPath())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# go-nfc session log")
	assert.Contains(t, content, "# started ")
	assert.Contains(t, content, `msg="written to file"`)
	assert.Contains(t, content, "# session ended ")
}

func TestInitSessionLog_BadDirectory(t *testing.T) {
	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing", "dir"))
	require.Error(t, err)
	assert.Empty(t, SessionLogPath())
}

func TestCloseSessionLog_NothingOpen(t *testing.T) {
	require.NoError(t, CloseSessionLog())
}

func TestSessionLog_CloseReleasesWriter(t *testing.T) {
	buf := &bufferCloser{Buffer: &bytes.Buffer{}}
	require.NoError(t, session.open(buf, "memory"))
	require.NoError(t, session.close())
	assert.True(t, buf.closed)
	assert.Nil(t, session.handler())
}
