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
	"strconv"
	"strings"
)

// AddrMode is the addressing mode of a MAC address field.
type AddrMode uint8

const (
	AddrNone     AddrMode = 0
	AddrShort    AddrMode = 2
	AddrExtended AddrMode = 3
)

// Size returns the on-air size of an address in this mode.
func (m AddrMode) Size() int {
	switch m {
	case AddrShort:
		return 2
	case AddrExtended:
		return 8
	default:
		return 0
	}
}

// ShortBroadcast is the broadcast short address and PAN ID.
const ShortBroadcast uint16 = 0xFFFF

// ExtendedAddress is an EUI-64. On air it is little-endian; in the CCM*
// nonce it is big-endian.
type ExtendedAddress uint64

// String formats the address as colon separated hex octets, most
// significant first.
func (a ExtendedAddress) String() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(a))
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, ":")
}

// ParseExtendedAddress parses "00:11:22:33:44:55:66:77" or a bare 16 digit
// hex string.
func ParseExtendedAddress(s string) (ExtendedAddress, error) {
	hex := strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(hex) != 16 {
		return 0, fmt.Errorf("invalid extended address %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid extended address %q: %w", s, err)
	}
	return ExtendedAddress(v), nil
}

// Address is a MAC address field.
type Address struct {
	Extended ExtendedAddress
	Short    uint16
	Mode     AddrMode
}

// ShortAddress returns a short address field.
func ShortAddress(a uint16) Address {
	return Address{Mode: AddrShort, Short: a}
}

// ExtAddress returns an extended address field.
func ExtAddress(a ExtendedAddress) Address {
	return Address{Mode: AddrExtended, Extended: a}
}

func (a Address) String() string {
	switch a.Mode {
	case AddrShort:
		return fmt.Sprintf("0x%04X", a.Short)
	case AddrExtended:
		return a.Extended.String()
	default:
		return "none"
	}
}
