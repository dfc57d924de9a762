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

// Package hostlink carries framed messages between the bridge and the host
// over a serial byte stream.
//
// Each message is SLIP framed. Between END delimiters the unescaped bytes
// are type (1) | length (1) | data (length) | CRC-16/KERMIT (2, little
// endian) over type, length and data.
package hostlink

import (
	"encoding/binary"
	"fmt"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
)

// SLIP special bytes.
const (
	END    byte = 0xC0
	ESC    byte = 0xDB
	ESCEND byte = 0xDC
	ESCESC byte = 0xDD
)

const (
	// MaxDataSize is the largest message payload.
	MaxDataSize = 255
	// headerSize is type and length.
	headerSize = 2
	crcSize    = 2
	maxInner   = headerSize + MaxDataSize + crcSize
	// MaxEncodedSize is the worst-case size of one encoded message: every
	// inner byte escaped plus both delimiters.
	MaxEncodedSize = 2*maxInner + 2
)

// MessageType identifies a host link message.
type MessageType uint8

const (
	// TypeRadioReceive carries a received MAC frame to the host.
	TypeRadioReceive MessageType = 0x01
	// TypeRadioSend carries a sequence number and a MAC frame to transmit.
	TypeRadioSend MessageType = 0x02
	// TypeSendStatus answers a RadioSend with a status and the sequence.
	TypeSendStatus MessageType = 0x03
	// TypeStatsRequest asks for a StatsReport.
	TypeStatsRequest MessageType = 0x04
	// TypeStatsReport carries the bridge counters.
	TypeStatsReport MessageType = 0x05
	// TypeReset clears the pending transmit slot.
	TypeReset MessageType = 0x06
)

func (t MessageType) String() string {
	switch t {
	case TypeRadioReceive:
		return "RadioReceive"
	case TypeRadioSend:
		return "RadioSend"
	case TypeSendStatus:
		return "SendStatus"
	case TypeStatsRequest:
		return "StatsRequest"
	case TypeStatsReport:
		return "StatsReport"
	case TypeReset:
		return "Reset"
	default:
		return fmt.Sprintf("MessageType(0x%02X)", uint8(t))
	}
}

// Known reports whether t is a defined message type.
func (t MessageType) Known() bool {
	return t >= TypeRadioReceive && t <= TypeReset
}

// SendStatus is the outcome of a RadioSend.
type SendStatus uint8

const (
	// StatusSent means the radio accepted the frame.
	StatusSent SendStatus = 0x00
	// StatusPending means the radio was busy and the frame is held for
	// the next transmit opportunity.
	StatusPending SendStatus = 0x01
	// StatusRefused means a frame is already pending; retry later.
	StatusRefused SendStatus = 0x02
	// StatusKeyExhausted means the frame counter for the key ran out.
	StatusKeyExhausted SendStatus = 0x03
	// StatusRejected means the frame was malformed or too large.
	StatusRejected SendStatus = 0x04
	// StatusTxFailed means a pending frame's transmission failed.
	StatusTxFailed SendStatus = 0x05
)

func (s SendStatus) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusPending:
		return "pending"
	case StatusRefused:
		return "refused"
	case StatusKeyExhausted:
		return "key-exhausted"
	case StatusRejected:
		return "rejected"
	case StatusTxFailed:
		return "tx-failed"
	default:
		return fmt.Sprintf("status(0x%02X)", uint8(s))
	}
}

// Err maps a status to the matching error, nil for sent and pending.
func (s SendStatus) Err() error {
	switch s {
	case StatusSent, StatusPending:
		return nil
	case StatusRefused:
		return radiobridge.ErrBackpressure
	case StatusKeyExhausted:
		return radiobridge.ErrNonceExhausted
	case StatusRejected:
		return radiobridge.ErrMalformedFrame
	case StatusTxFailed:
		return radiobridge.ErrRadioFault
	default:
		return fmt.Errorf("%w: unknown send status 0x%02X", radiobridge.ErrMalformedFrame, uint8(s))
	}
}

// Message is one host link message. Data returned by a Decoder aliases
// the decoder's buffer and is valid until the next Feed.
type Message struct {
	Data []byte
	Type MessageType
}

// ErrMessageTooLarge is returned when Data exceeds MaxDataSize.
var ErrMessageTooLarge = fmt.Errorf("%w: message data exceeds %d bytes", radiobridge.ErrFrameTooLarge, MaxDataSize)

// Encode writes the framed message into dst, which must hold
// MaxEncodedSize bytes for arbitrary data, and returns the length.
func Encode(dst []byte, m Message) (int, error) {
	if len(m.Data) > MaxDataSize {
		return 0, ErrMessageTooLarge
	}
	w := slipWriter{dst: dst}
	hdr := [headerSize]byte{byte(m.Type), byte(len(m.Data))}
	crc := crc16Update(0, hdr[:])
	crc = crc16Update(crc, m.Data)
	var tail [crcSize]byte
	binary.LittleEndian.PutUint16(tail[:], crc)

	w.raw(END)
	w.write(hdr[:])
	w.write(m.Data)
	w.write(tail[:])
	w.raw(END)
	if w.short {
		return 0, fmt.Errorf("%w: encode buffer of %d bytes too small", radiobridge.ErrInvalidParameter, len(dst))
	}
	return w.n, nil
}

// AppendEncode appends the framed message to dst.
func AppendEncode(dst []byte, m Message) ([]byte, error) {
	var buf [MaxEncodedSize]byte
	n, err := Encode(buf[:], m)
	if err != nil {
		return dst, err
	}
	return append(dst, buf[:n]...), nil
}

type slipWriter struct {
	dst   []byte
	n     int
	short bool
}

func (w *slipWriter) raw(b byte) {
	if w.n >= len(w.dst) {
		w.short = true
		return
	}
	w.dst[w.n] = b
	w.n++
}

func (w *slipWriter) write(p []byte) {
	for _, b := range p {
		switch b {
		case END:
			w.raw(ESC)
			w.raw(ESCEND)
		case ESC:
			w.raw(ESC)
			w.raw(ESCESC)
		default:
			w.raw(b)
		}
	}
}

// crc16Update continues a CRC-16/KERMIT (reflected 0x1021, zero init, no
// final xor) over p.
func crc16Update(crc uint16, p []byte) uint16 {
	for _, b := range p {
		crc ^= uint16(b)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
