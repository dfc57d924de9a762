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

package radiobridge

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:paralleltest // session log and debug flag are package state
func TestSessionLog(t *testing.T) {
	dir := t.TempDir()

	path, err := InitSessionLog(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`radiobridge_\d{8}_\d{6}\.log$`), path)
	assert.Equal(t, path, GetSessionLogPath())

	Debugf("queue drop count=%d", 3)
	Debugln("pending", "slot", "cleared")
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())

	data, err := os.ReadFile(path) //nolint:gosec // test file in TempDir
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "=== Radio Bridge Debug Session Log ===")
	assert.Contains(t, out, "DEBUG: queue drop count=3")
	assert.Contains(t, out, "DEBUG: pendingslotcleared")
	assert.Contains(t, out, "=== Session ended ===")
}

//nolint:paralleltest // session log is package state
func TestCloseSessionLog_WithoutInit(t *testing.T) {
	require.NoError(t, CloseSessionLog())
}

//nolint:paralleltest // session log is package state
func TestInitSessionLog_BadDir(t *testing.T) {
	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Empty(t, GetSessionLogPath())
}

//nolint:paralleltest // debug flag is package state
func TestSetDebugEnabled(t *testing.T) {
	prev := DebugEnabled()
	t.Cleanup(func() { SetDebugEnabled(prev) })

	SetDebugEnabled(true)
	assert.True(t, DebugEnabled())
	SetDebugEnabled(false)
	assert.False(t, DebugEnabled())
}
