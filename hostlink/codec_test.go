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

package hostlink

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
)

func encode(t *testing.T, m Message) []byte {
	t.Helper()
	out, err := AppendEncode(nil, m)
	require.NoError(t, err)
	return out
}

func decodeAll(d *Decoder, stream []byte) (msgs []Message, errs int) {
	for _, b := range stream {
		res, m := d.Feed(b)
		switch res {
		case Complete:
			msgs = append(msgs, Message{Type: m.Type, Data: bytes.Clone(m.Data)})
		case FramingError:
			errs++
		case Incomplete:
		}
	}
	return msgs, errs
}

func TestCRC16Kermit(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint16(0x2189), crc16Update(0, []byte("123456789")))
}

func TestEncode_EscapesDelimiters(t *testing.T) {
	t.Parallel()
	wire := encode(t, Message{Type: TypeRadioReceive, Data: []byte{END, ESC, 0x00}})

	assert.Equal(t, END, wire[0])
	assert.Equal(t, END, wire[len(wire)-1])
	assert.NotContains(t, wire[1:len(wire)-1], END)
	assert.Equal(t, []byte{0x01, 0x03, ESC, ESCEND, ESC, ESCESC, 0x00}, wire[1:8])
}

func TestEncode_BufferTooSmall(t *testing.T) {
	t.Parallel()
	_, err := Encode(make([]byte, 4), Message{Type: TypeReset})
	require.ErrorIs(t, err, radiobridge.ErrInvalidParameter)

	_, err = Encode(make([]byte, MaxEncodedSize), Message{Type: TypeRadioSend, Data: make([]byte, MaxDataSize+1)})
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	allBytes := make([]byte, 256)
	for i := range allBytes {
		allBytes[i] = byte(i)
	}

	tests := []struct {
		name string
		msg  Message
	}{
		{name: "empty reset", msg: Message{Type: TypeReset, Data: []byte{}}},
		{name: "delimiters only", msg: Message{Type: TypeRadioReceive, Data: []byte{END, END, ESC, ESC}}},
		{name: "escape sequence bytes", msg: Message{Type: TypeRadioSend, Data: []byte{ESC, ESCEND, ESC, ESCESC}}},
		{name: "every byte value", msg: Message{Type: TypeRadioReceive, Data: allBytes[:MaxDataSize]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Decoder
			msgs, errs := decodeAll(&d, encode(t, tt.msg))
			assert.Zero(t, errs)
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.msg.Type, msgs[0].Type)
			assert.Equal(t, tt.msg.Data, msgs[0].Data)
		})
	}
}

func TestDecoder_BackToBackAndEmptyFrames(t *testing.T) {
	t.Parallel()
	var stream []byte
	stream = append(stream, END, END, END)
	stream = append(stream, encode(t, Message{Type: TypeRadioSend, Data: []byte("A")})...)
	stream = append(stream, encode(t, Message{Type: TypeRadioSend, Data: []byte("B")})...)
	stream = append(stream, END)

	var d Decoder
	msgs, errs := decodeAll(&d, stream)
	assert.Zero(t, errs)
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", string(msgs[0].Data))
	assert.Equal(t, "B", string(msgs[1].Data))
}

func TestDecoder_ResyncsAfterErrors(t *testing.T) {
	t.Parallel()
	good := encode(t, Message{Type: TypeStatsRequest, Data: []byte{0x42}})

	badCRC := bytes.Clone(good)
	badCRC[len(badCRC)-2] ^= 0xFF

	badLength := encode(t, Message{Type: TypeRadioSend, Data: []byte{1, 2, 3}})
	badLength[2] = 0x09

	tests := []struct {
		name    string
		garbage []byte
	}{
		{name: "line noise before first frame", garbage: []byte{0x13, 0x37, 0x00}},
		{name: "invalid escape", garbage: []byte{END, 0x01, ESC, 0x55, 0x02, 0x03}},
		{name: "crc mismatch", garbage: badCRC},
		{name: "length mismatch", garbage: badLength},
		{name: "escape before end", garbage: []byte{END, 0x01, ESC}},
		{name: "overflow", garbage: append([]byte{END}, bytes.Repeat([]byte{0x11}, maxInner+10)...)},
		{name: "too short", garbage: []byte{END, 0x01, 0x00, END}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Decoder
			stream := append(bytes.Clone(tt.garbage), good...)
			msgs, errs := decodeAll(&d, stream)
			assert.Equal(t, 1, errs)
			assert.Equal(t, uint32(1), d.FramingErrors())
			require.Len(t, msgs, 1, "the frame after the error must decode")
			assert.Equal(t, TypeStatsRequest, msgs[0].Type)
			assert.Equal(t, []byte{0x42}, msgs[0].Data)
		})
	}
}

func TestDecoder_NoAllocations(t *testing.T) {
	wire := encode(t, Message{Type: TypeRadioSend, Data: bytes.Repeat([]byte{END, 0x10}, 50)})
	var d Decoder
	allocs := testing.AllocsPerRun(100, func() {
		for _, b := range wire {
			d.Feed(b)
		}
	})
	assert.Zero(t, allocs)
}

func TestSendStatus_Err(t *testing.T) {
	t.Parallel()
	require.NoError(t, StatusSent.Err())
	require.NoError(t, StatusPending.Err())
	require.ErrorIs(t, StatusRefused.Err(), radiobridge.ErrBackpressure)
	assert.True(t, radiobridge.IsRetryable(StatusRefused.Err()))
	require.ErrorIs(t, StatusKeyExhausted.Err(), radiobridge.ErrNonceExhausted)
	assert.True(t, radiobridge.IsFatal(StatusKeyExhausted.Err()))
	require.ErrorIs(t, StatusRejected.Err(), radiobridge.ErrMalformedFrame)
	require.Error(t, SendStatus(0x7F).Err())
}

func TestStatsReport_Payload(t *testing.T) {
	t.Parallel()
	in := radiobridge.Stats{RxFrames: 7, AuthFailures: 2, FrameCounter: 0x01020304, NonceExhausted: 1}
	wire := encode(t, Message{Type: TypeStatsReport, Data: in.AppendBinary(nil)})

	var d Decoder
	msgs, _ := decodeAll(&d, wire)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Data, radiobridge.StatsSize)
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(msgs[0].Data))

	var out radiobridge.Stats
	require.NoError(t, out.UnmarshalBinary(msgs[0].Data))
	assert.Equal(t, in, out)
}
