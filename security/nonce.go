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
	"encoding/binary"

	"github.com/ZaparooProject/go-radiobridge/mac"
)

// NonceSize is the CCM* nonce length.
const NonceSize = 13

// Nonce is the 13-byte CCM* nonce: source extended address, frame counter
// and security level, all big-endian.
type Nonce [NonceSize]byte

// MakeNonce builds the nonce for a frame from src with the given counter.
func MakeNonce(src mac.ExtendedAddress, counter uint32, level Level) Nonce {
	var n Nonce
	binary.BigEndian.PutUint64(n[0:8], uint64(src))
	binary.BigEndian.PutUint32(n[8:12], counter)
	n[12] = byte(level)
	return n
}
