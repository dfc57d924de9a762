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
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"
)

// Provider is the CCM* primitive. Seal appends ciphertext followed by a
// micLen-byte MIC to dst; Open verifies and appends the plaintext. micLen 0
// is CCM* encryption without authentication.
type Provider interface {
	Seal(dst, nonce, plaintext, aad []byte, micLen int) ([]byte, error)
	Open(dst, nonce, ciphertext, aad []byte, micLen int) ([]byte, error)
}

// AESProvider implements CCM* over AES-128.
type AESProvider struct {
	block cipher.Block
	mic4  cipher.AEAD
	mic8  cipher.AEAD
	mic16 cipher.AEAD
}

// NewAESProvider builds the CCM* modes for all MIC lengths once.
func NewAESProvider(key Key) (*AESProvider, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	p := &AESProvider{block: block}
	for _, m := range []struct {
		dst  *cipher.AEAD
		size int
	}{{&p.mic4, 4}, {&p.mic8, 8}, {&p.mic16, 16}} {
		mode, err := ccm.NewCCM(block, m.size, NonceSize)
		if err != nil {
			return nil, fmt.Errorf("ccm mode with %d byte MIC: %w", m.size, err)
		}
		*m.dst = mode
	}
	return p, nil
}

func (p *AESProvider) mode(micLen int) (cipher.AEAD, error) {
	switch micLen {
	case 4:
		return p.mic4, nil
	case 8:
		return p.mic8, nil
	case 16:
		return p.mic16, nil
	default:
		return nil, fmt.Errorf("unsupported MIC length %d", micLen)
	}
}

// Seal implements Provider.
func (p *AESProvider) Seal(dst, nonce, plaintext, aad []byte, micLen int) ([]byte, error) {
	if len(nonce) != NonceSize {
		return dst, fmt.Errorf("nonce must be %d bytes", NonceSize)
	}
	if micLen == 0 {
		return p.ctr(dst, nonce, plaintext), nil
	}
	mode, err := p.mode(micLen)
	if err != nil {
		return dst, err
	}
	return mode.Seal(dst, nonce, plaintext, aad), nil
}

// Open implements Provider.
func (p *AESProvider) Open(dst, nonce, ciphertext, aad []byte, micLen int) ([]byte, error) {
	if len(nonce) != NonceSize {
		return dst, fmt.Errorf("nonce must be %d bytes", NonceSize)
	}
	if micLen == 0 {
		return p.ctr(dst, nonce, ciphertext), nil
	}
	mode, err := p.mode(micLen)
	if err != nil {
		return dst, err
	}
	out, err := mode.Open(dst, nonce, ciphertext, aad)
	if err != nil {
		return dst, ErrAuthenticationFailed
	}
	return out, nil
}

// ctr applies the CCM* keystream A1, A2, ... to in and appends the result
// to dst. A0 is reserved for the MIC and never used here.
func (p *AESProvider) ctr(dst, nonce, in []byte) []byte {
	var a, s [aes.BlockSize]byte
	a[0] = ctrFlags
	copy(a[1:], nonce)

	start := len(dst)
	dst = append(dst, in...)
	out := dst[start:]
	for i := 0; i < len(out); i += aes.BlockSize {
		ctr := uint16(i/aes.BlockSize + 1)
		a[14] = byte(ctr >> 8)
		a[15] = byte(ctr)
		p.block.Encrypt(s[:], a[:])
		end := min(i+aes.BlockSize, len(out))
		subtle.XORBytes(out[i:end], out[i:end], s[:end-i])
	}
	return dst
}

// ctrFlags is the CCM* counter block flags byte for a 2-byte length field.
const ctrFlags = 15 - NonceSize - 1
