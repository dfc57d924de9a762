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

// Package mac models IEEE 802.15.4 MAC frames: the bounded frame buffer,
// the MAC header and the auxiliary security header.
//
// Frames exchanged with radio drivers carry no FCS; the radio appends and
// checks it.
package mac

import (
	"fmt"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
)

const (
	// MaxPSDU is the largest PHY payload, FCS included.
	MaxPSDU = 127
	// FCSSize is the length of the frame check sequence.
	FCSSize = 2
	// MaxFrameSize is the largest MAC frame without FCS.
	MaxFrameSize = MaxPSDU - FCSSize
)

var (
	// ErrMalformed is returned for frames whose fields do not fit their length.
	ErrMalformed = radiobridge.ErrMalformedFrame
	// ErrTooLarge is returned when a frame would exceed MaxFrameSize.
	ErrTooLarge = fmt.Errorf("%w: exceeds %d bytes", radiobridge.ErrFrameTooLarge, MaxFrameSize)
)

// Frame is a MAC frame in a fixed buffer. It never grows past MaxPSDU.
type Frame struct {
	buf [MaxPSDU]byte
	n   int
}

// Bytes returns the frame contents.
func (f *Frame) Bytes() []byte {
	return f.buf[:f.n]
}

// Len returns the frame length.
func (f *Frame) Len() int {
	return f.n
}

// Reset empties the frame.
func (f *Frame) Reset() {
	f.n = 0
}

// Set replaces the frame contents with a copy of b.
func (f *Frame) Set(b []byte) error {
	if len(b) > MaxFrameSize {
		return ErrTooLarge
	}
	f.n = copy(f.buf[:], b)
	return nil
}

// Append adds b to the end of the frame.
func (f *Frame) Append(b ...byte) error {
	if f.n+len(b) > MaxFrameSize {
		return ErrTooLarge
	}
	f.n += copy(f.buf[f.n:], b)
	return nil
}

// Available returns the unused tail of the buffer up to MaxFrameSize for
// in-place writes, to be followed by Grow.
func (f *Frame) Available() []byte {
	return f.buf[f.n:MaxFrameSize]
}

// Grow extends the frame by n bytes already written into Available.
func (f *Frame) Grow(n int) error {
	if n < 0 || f.n+n > MaxFrameSize {
		return ErrTooLarge
	}
	f.n += n
	return nil
}

// Info describes a parsed frame. Payload aliases the parsed buffer.
type Info struct {
	Payload   []byte
	Header    Header
	Aux       AuxSecurityHeader
	HeaderLen int // MAC header length, auxiliary security header excluded
	AuxLen    int // auxiliary security header length, 0 when not secured
}

// Parse decodes the MAC header, and the auxiliary security header when the
// security enabled bit is set.
func Parse(b []byte) (Info, error) {
	var info Info
	if len(b) > MaxFrameSize {
		return info, ErrTooLarge
	}
	h, n, err := ParseHeader(b)
	if err != nil {
		return info, err
	}
	info.Header = h
	info.HeaderLen = n

	if h.SecurityEnabled {
		if h.Version == Version2003 {
			return info, fmt.Errorf("%w: security on 2003 frame", ErrMalformed)
		}
		aux, an, err := ParseAuxSecurityHeader(b[n:])
		if err != nil {
			return info, err
		}
		info.Aux = aux
		info.AuxLen = an
	}
	info.Payload = b[info.HeaderLen+info.AuxLen:]
	return info, nil
}
