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

// FrameType is the 3-bit frame type field.
type FrameType uint8

const (
	FrameBeacon  FrameType = 0
	FrameData    FrameType = 1
	FrameAck     FrameType = 2
	FrameCommand FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameBeacon:
		return "beacon"
	case FrameData:
		return "data"
	case FrameAck:
		return "ack"
	case FrameCommand:
		return "command"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(t))
	}
}

// Frame versions.
const (
	Version2003 uint8 = 0
	Version2006 uint8 = 1
	Version2015 uint8 = 2
)

// Frame control bits.
const (
	fcTypeMask       = 0x0007
	fcSecurity       = 1 << 3
	fcPending        = 1 << 4
	fcAckRequest     = 1 << 5
	fcPANCompression = 1 << 6
	fcDstModeShift   = 10
	fcVersionShift   = 12
	fcSrcModeShift   = 14
)

// SecurityBitOffset and SecurityBitMask locate the security enabled bit in
// an encoded frame.
const (
	SecurityBitOffset = 0
	SecurityBitMask   = byte(fcSecurity)
)

// Header is a decoded 802.15.4 MAC header.
type Header struct {
	Dst              Address
	Src              Address
	DstPAN           uint16
	SrcPAN           uint16
	Type             FrameType
	Version          uint8
	Seq              uint8
	SecurityEnabled  bool
	FramePending     bool
	AckRequest       bool
	PANIDCompression bool
}

// Len returns the encoded length of the header.
func (h *Header) Len() int {
	n := 3 + h.Dst.Mode.Size() + h.Src.Mode.Size()
	if h.Dst.Mode != AddrNone {
		n += 2
	}
	if h.hasSrcPAN() {
		n += 2
	}
	return n
}

func (h *Header) hasSrcPAN() bool {
	if h.Src.Mode == AddrNone {
		return false
	}
	return !(h.PANIDCompression && h.Dst.Mode != AddrNone)
}

func (h *Header) frameControl() uint16 {
	fc := uint16(h.Type) & fcTypeMask
	if h.SecurityEnabled {
		fc |= fcSecurity
	}
	if h.FramePending {
		fc |= fcPending
	}
	if h.AckRequest {
		fc |= fcAckRequest
	}
	if h.PANIDCompression {
		fc |= fcPANCompression
	}
	fc |= uint16(h.Dst.Mode) << fcDstModeShift
	fc |= uint16(h.Version&0x3) << fcVersionShift
	fc |= uint16(h.Src.Mode) << fcSrcModeShift
	return fc
}

// Encode writes the header into dst and returns the number of bytes written.
func (h *Header) Encode(dst []byte) (int, error) {
	if !validMode(h.Dst.Mode) || !validMode(h.Src.Mode) {
		return 0, fmt.Errorf("%w: invalid addressing mode", ErrMalformed)
	}
	n := h.Len()
	if len(dst) < n {
		return 0, fmt.Errorf("%w: header needs %d bytes", ErrTooLarge, n)
	}
	binary.LittleEndian.PutUint16(dst, h.frameControl())
	dst[2] = h.Seq
	off := 3
	if h.Dst.Mode != AddrNone {
		binary.LittleEndian.PutUint16(dst[off:], h.DstPAN)
		off += 2
		off += putAddress(dst[off:], h.Dst)
	}
	if h.hasSrcPAN() {
		binary.LittleEndian.PutUint16(dst[off:], h.SrcPAN)
		off += 2
	}
	off += putAddress(dst[off:], h.Src)
	return off, nil
}

func putAddress(dst []byte, a Address) int {
	switch a.Mode {
	case AddrShort:
		binary.LittleEndian.PutUint16(dst, a.Short)
		return 2
	case AddrExtended:
		binary.LittleEndian.PutUint64(dst, uint64(a.Extended))
		return 8
	default:
		return 0
	}
}

func validMode(m AddrMode) bool {
	return m == AddrNone || m == AddrShort || m == AddrExtended
}

// ParseHeader decodes the MAC header at the start of b and returns it with
// its encoded length.
func ParseHeader(b []byte) (Header, int, error) {
	var h Header
	if len(b) < 3 {
		return h, 0, fmt.Errorf("%w: %d bytes is shorter than a frame control and sequence", ErrMalformed, len(b))
	}
	fc := binary.LittleEndian.Uint16(b)
	h.Type = FrameType(fc & fcTypeMask)
	h.SecurityEnabled = fc&fcSecurity != 0
	h.FramePending = fc&fcPending != 0
	h.AckRequest = fc&fcAckRequest != 0
	h.PANIDCompression = fc&fcPANCompression != 0
	h.Dst.Mode = AddrMode((fc >> fcDstModeShift) & 0x3)
	h.Version = uint8((fc >> fcVersionShift) & 0x3)
	h.Src.Mode = AddrMode((fc >> fcSrcModeShift) & 0x3)
	h.Seq = b[2]

	if !validMode(h.Dst.Mode) || !validMode(h.Src.Mode) {
		return h, 0, fmt.Errorf("%w: reserved addressing mode", ErrMalformed)
	}
	n := h.Len()
	if len(b) < n {
		return h, 0, fmt.Errorf("%w: header needs %d bytes, have %d", ErrMalformed, n, len(b))
	}

	off := 3
	if h.Dst.Mode != AddrNone {
		h.DstPAN = binary.LittleEndian.Uint16(b[off:])
		off += 2
		off += readAddress(b[off:], &h.Dst)
	}
	switch {
	case h.hasSrcPAN():
		h.SrcPAN = binary.LittleEndian.Uint16(b[off:])
		off += 2
	case h.Src.Mode != AddrNone:
		h.SrcPAN = h.DstPAN
	}
	off += readAddress(b[off:], &h.Src)
	return h, off, nil
}

func readAddress(b []byte, a *Address) int {
	switch a.Mode {
	case AddrShort:
		a.Short = binary.LittleEndian.Uint16(b)
		return 2
	case AddrExtended:
		a.Extended = ExtendedAddress(binary.LittleEndian.Uint64(b))
		return 8
	default:
		return 0
	}
}

// AppendFrame encodes h followed by payload into a new frame slice.
func AppendFrame(dst []byte, h *Header, payload []byte) ([]byte, error) {
	n := h.Len()
	if n+len(payload) > MaxFrameSize {
		return dst, ErrTooLarge
	}
	start := len(dst)
	dst = append(dst, make([]byte, n)...)
	if _, err := h.Encode(dst[start:]); err != nil {
		return dst[:start], err
	}
	return append(dst, payload...), nil
}
