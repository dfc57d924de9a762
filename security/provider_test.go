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

package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CCM test vector: AES-128, 13-byte nonce, 8 byte MIC.
var (
	vectorKey = Key{
		0xC0, 0xC1, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0xC7,
		0xC8, 0xC9, 0xCA, 0xCB, 0xCC, 0xCD, 0xCE, 0xCF,
	}
	vectorNonce = []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0x03, 0x02, 0x01, 0x00, 0x06}
	vectorAAD   = []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	vectorPlain = []byte{
		0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10, 0x11, 0x12, 0x13,
		0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E,
	}
	vectorSealed = []byte{
		0x1A, 0x55, 0xA3, 0x6A, 0xBB, 0x6C, 0x61, 0x0D, 0x06, 0x6B, 0x33, 0x75,
		0x64, 0x9C, 0xEF, 0x10, 0xD4, 0x66, 0x4E, 0xCA, 0xD8, 0x54, 0xA8,
		0x0A, 0x89, 0x5C, 0xC1, 0xD8, 0xFF, 0x94, 0x69,
	}
)

func TestAESProvider_KnownAnswer(t *testing.T) {
	t.Parallel()
	p, err := NewAESProvider(vectorKey)
	require.NoError(t, err)

	sealed, err := p.Seal(nil, vectorNonce, vectorPlain, vectorAAD, 8)
	require.NoError(t, err)
	assert.Equal(t, vectorSealed, sealed)

	opened, err := p.Open(nil, vectorNonce, vectorSealed, vectorAAD, 8)
	require.NoError(t, err)
	assert.Equal(t, vectorPlain, opened)
}

// CCM* encryption without a MIC uses the same keystream as CCM, so the
// ciphertext must match the vector without its MIC.
func TestAESProvider_EncryptOnlyMatchesCCMKeystream(t *testing.T) {
	t.Parallel()
	p, err := NewAESProvider(vectorKey)
	require.NoError(t, err)

	ct, err := p.Seal(nil, vectorNonce, vectorPlain, vectorAAD, 0)
	require.NoError(t, err)
	assert.Equal(t, vectorSealed[:len(vectorPlain)], ct)

	pt, err := p.Open(nil, vectorNonce, ct, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, vectorPlain, pt)
}

func TestAESProvider_RejectsTamperedInput(t *testing.T) {
	t.Parallel()
	p, err := NewAESProvider(vectorKey)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(sealed, nonce, aad []byte)
	}{
		{name: "ciphertext bit", mutate: func(s, _, _ []byte) { s[0] ^= 0x01 }},
		{name: "tag bit", mutate: func(s, _, _ []byte) { s[len(s)-1] ^= 0x80 }},
		{name: "nonce", mutate: func(_, n, _ []byte) { n[12] ^= 0x01 }},
		{name: "aad", mutate: func(_, _, a []byte) { a[0] ^= 0x01 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sealed := bytes.Clone(vectorSealed)
			nonce := bytes.Clone(vectorNonce)
			aad := bytes.Clone(vectorAAD)
			tt.mutate(sealed, nonce, aad)

			_, err := p.Open(nil, nonce, sealed, aad, 8)
			require.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func TestAESProvider_MICLengths(t *testing.T) {
	t.Parallel()
	p, err := NewAESProvider(vectorKey)
	require.NoError(t, err)

	for _, micLen := range []int{4, 8, 16} {
		sealed, err := p.Seal(nil, vectorNonce, vectorPlain, vectorAAD, micLen)
		require.NoError(t, err)
		assert.Len(t, sealed, len(vectorPlain)+micLen)

		opened, err := p.Open(nil, vectorNonce, sealed, vectorAAD, micLen)
		require.NoError(t, err)
		assert.Equal(t, vectorPlain, opened)
	}

	_, err = p.Seal(nil, vectorNonce, vectorPlain, vectorAAD, 6)
	require.Error(t, err)
	_, err = p.Seal(nil, vectorNonce[:12], vectorPlain, vectorAAD, 8)
	require.Error(t, err)
}

func TestMakeNonce(t *testing.T) {
	t.Parallel()
	n := MakeNonce(0xA0A1A2A3A4A5A6A7, 0x03020100, LevelENCMIC64)
	assert.Equal(t, vectorNonce, n[:])
}

func TestReplayTable(t *testing.T) {
	t.Parallel()
	r := newReplayTable(2)

	assert.True(t, r.fresh(1, 0))
	r.accept(1, 5)
	assert.False(t, r.fresh(1, 5))
	assert.False(t, r.fresh(1, 4))
	assert.True(t, r.fresh(1, 6))

	r.accept(2, 1)
	assert.Equal(t, 2, r.len())

	// Peer 1 is used again, so peer 2 is the least recently used.
	r.accept(1, 6)
	r.accept(3, 9)
	assert.Equal(t, 2, r.len())
	assert.False(t, r.fresh(1, 6))
	assert.False(t, r.fresh(3, 9))
	assert.True(t, r.fresh(2, 1), "evicted peer starts over")
}
