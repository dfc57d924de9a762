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

package testing

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loopback struct {
	bytes.Buffer
}

func readAll(t *testing.T, r io.Reader, want int) ([]byte, int) {
	t.Helper()
	var out []byte
	reads := 0
	buf := make([]byte, 64)
	for len(out) < want {
		n, err := r.Read(buf)
		require.NoError(t, err)
		require.Positive(t, n)
		out = append(out, buf[:n]...)
		reads++
	}
	return out, reads
}

func TestJitteryLine_FragmentsWithoutLoss(t *testing.T) {
	t.Parallel()
	backend := &loopback{}
	line := NewJitteryLine(backend, LineConfig{FragmentReads: true, FragmentMinBytes: 1, Seed: 7})

	data := bytes.Repeat([]byte{0x01, 0xC0, 0xDB, 0x7E}, 40)
	_, err := line.Write(data)
	require.NoError(t, err)

	got, reads := readAll(t, line, len(data))
	assert.Equal(t, data, got)
	assert.GreaterOrEqual(t, reads, 3, "reads should be fragmented")
	assert.Equal(t, len(data), line.Delivered())
}

func TestJitteryLine_PassThroughWithoutFragmentation(t *testing.T) {
	t.Parallel()
	backend := &loopback{}
	line := NewJitteryLine(backend, LineConfig{Seed: 1})

	_, err := line.Write([]byte("abcdef"))
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := line.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(buf[:n]))
}

func TestJitteryLine_CorruptsOneBit(t *testing.T) {
	t.Parallel()
	backend := &loopback{}
	line := NewJitteryLine(backend, LineConfig{FragmentReads: true, CorruptAfterBytes: 10, Seed: 3})

	data := make([]byte, 32)
	_, err := line.Write(data)
	require.NoError(t, err)

	got, _ := readAll(t, line, len(data))
	for i, b := range got {
		if i == 9 {
			assert.NotZero(t, b)
			assert.Equal(t, 1, popcount(b))
			continue
		}
		assert.Zero(t, b, "byte %d", i)
	}
}

func popcount(b byte) int {
	n := 0
	for ; b != 0; b &= b - 1 {
		n++
	}
	return n
}
