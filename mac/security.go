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

package mac

import (
	"encoding/binary"
	"fmt"
)

// SecurityLevel is the 3-bit security level of the auxiliary security
// header.
type SecurityLevel uint8

const (
	LevelNone      SecurityLevel = 0
	LevelMIC32     SecurityLevel = 1
	LevelMIC64     SecurityLevel = 2
	LevelMIC128    SecurityLevel = 3
	LevelENC       SecurityLevel = 4
	LevelENCMIC32  SecurityLevel = 5
	LevelENCMIC64  SecurityLevel = 6
	LevelENCMIC128 SecurityLevel = 7
)

// MICLen returns the length of the message integrity code for the level.
func (l SecurityLevel) MICLen() int {
	switch l & 0x3 {
	case 1:
		return 4
	case 2:
		return 8
	case 3:
		return 16
	default:
		return 0
	}
}

// Encrypts reports whether the level encrypts the payload.
func (l SecurityLevel) Encrypts() bool {
	return l&0x4 != 0
}

// Valid reports whether l is one of the eight defined levels.
func (l SecurityLevel) Valid() bool {
	return l <= LevelENCMIC128
}

func (l SecurityLevel) String() string {
	names := [...]string{"none", "mic-32", "mic-64", "mic-128", "enc", "enc-mic-32", "enc-mic-64", "enc-mic-128"}
	if int(l) < len(names) {
		return names[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// KeyIDMode selects how the key is identified in the auxiliary header.
type KeyIDMode uint8

const (
	// KeyIDImplicit uses a key known from the addresses, no identifier.
	KeyIDImplicit KeyIDMode = 0
	// KeyIDIndex carries a 1-byte key index.
	KeyIDIndex KeyIDMode = 1
	// KeyIDSource4 carries a 4-byte key source and a key index.
	KeyIDSource4 KeyIDMode = 2
	// KeyIDSource8 carries an 8-byte key source and a key index.
	KeyIDSource8 KeyIDMode = 3
)

// Size returns the length of the key identifier field.
func (m KeyIDMode) Size() int {
	switch m {
	case KeyIDIndex:
		return 1
	case KeyIDSource4:
		return 5
	case KeyIDSource8:
		return 9
	default:
		return 0
	}
}

// MaxFrameCounter is the last usable frame counter value. The value after
// it marks the counter as exhausted.
const MaxFrameCounter uint32 = 0xFFFFFFFE

// AuxSecurityHeader is the auxiliary security header following the MAC
// header of a secured frame.
type AuxSecurityHeader struct {
	KeySource    [8]byte
	FrameCounter uint32
	Level        SecurityLevel
	KeyIDMode    KeyIDMode
	KeyIndex     uint8
}

// Len returns the encoded length.
func (a *AuxSecurityHeader) Len() int {
	return 5 + a.KeyIDMode.Size()
}

func (a *AuxSecurityHeader) sourceLen() int {
	return a.KeyIDMode.Size() - 1
}

// Encode writes the header into dst.
func (a *AuxSecurityHeader) Encode(dst []byte) (int, error) {
	n := a.Len()
	if len(dst) < n {
		return 0, fmt.Errorf("%w: auxiliary header needs %d bytes", ErrTooLarge, n)
	}
	if !a.Level.Valid() || a.KeyIDMode > KeyIDSource8 {
		return 0, fmt.Errorf("%w: invalid security control", ErrMalformed)
	}
	dst[0] = byte(a.Level) | byte(a.KeyIDMode)<<3
	binary.LittleEndian.PutUint32(dst[1:], a.FrameCounter)
	if a.KeyIDMode != KeyIDImplicit {
		src := a.sourceLen()
		copy(dst[5:5+src], a.KeySource[:src])
		dst[5+src] = a.KeyIndex
	}
	return n, nil
}

// ParseAuxSecurityHeader decodes the auxiliary security header at the start
// of b.
func ParseAuxSecurityHeader(b []byte) (AuxSecurityHeader, int, error) {
	var a AuxSecurityHeader
	if len(b) < 5 {
		return a, 0, fmt.Errorf("%w: truncated auxiliary security header", ErrMalformed)
	}
	ctrl := b[0]
	if ctrl&0xE0 != 0 {
		return a, 0, fmt.Errorf("%w: reserved security control bits set", ErrMalformed)
	}
	a.Level = SecurityLevel(ctrl & 0x7)
	a.KeyIDMode = KeyIDMode((ctrl >> 3) & 0x3)
	a.FrameCounter = binary.LittleEndian.Uint32(b[1:])
	n := a.Len()
	if len(b) < n {
		return a, 0, fmt.Errorf("%w: key identifier needs %d bytes", ErrMalformed, n-5)
	}
	if a.KeyIDMode != KeyIDImplicit {
		src := a.sourceLen()
		copy(a.KeySource[:src], b[5:5+src])
		a.KeyIndex = b[5+src]
	}
	return a, n, nil
}
