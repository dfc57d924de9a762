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
	"encoding/binary"
	"sync/atomic"
)

// Result is the outcome of feeding one byte to a Decoder.
type Result uint8

const (
	// Incomplete means more bytes are needed.
	Incomplete Result = iota
	// Complete means a valid message was decoded.
	Complete
	// FramingError means the current frame was invalid and is being
	// discarded up to the next END.
	FramingError
)

func (r Result) String() string {
	switch r {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case FramingError:
		return "framing-error"
	default:
		return "unknown"
	}
}

// Decoder reassembles messages from a byte stream one byte at a time. It
// allocates nothing after construction. A Decoder is used by one goroutine;
// FramingErrors may be read from any goroutine.
type Decoder struct {
	msg        Message
	buf        [maxInner]byte
	n          int
	errors     atomic.Uint32
	escaped    bool
	discarding bool
}

// Feed consumes one byte. When it returns Complete the message is valid
// until the next call.
func (d *Decoder) Feed(b byte) (Result, *Message) {
	if b == END {
		return d.end()
	}
	if d.discarding {
		return Incomplete, nil
	}

	if d.escaped {
		d.escaped = false
		switch b {
		case ESCEND:
			b = END
		case ESCESC:
			b = ESC
		default:
			return d.fail(true), nil
		}
	} else if b == ESC {
		d.escaped = true
		return Incomplete, nil
	}

	if d.n == len(d.buf) {
		return d.fail(true), nil
	}
	d.buf[d.n] = b
	d.n++
	return Incomplete, nil
}

func (d *Decoder) end() (Result, *Message) {
	if d.discarding {
		d.reset()
		return Incomplete, nil
	}
	if d.escaped {
		d.reset()
		return d.fail(false), nil
	}
	if d.n == 0 {
		return Incomplete, nil
	}

	n := d.n
	d.n = 0
	if n < headerSize+crcSize {
		return d.fail(false), nil
	}
	length := int(d.buf[1])
	if n != headerSize+length+crcSize {
		return d.fail(false), nil
	}
	want := binary.LittleEndian.Uint16(d.buf[n-crcSize:])
	if crc16Update(0, d.buf[:n-crcSize]) != want {
		return d.fail(false), nil
	}
	d.msg = Message{
		Type: MessageType(d.buf[0]),
		Data: d.buf[headerSize : headerSize+length],
	}
	return Complete, &d.msg
}

// fail counts a framing error. With discard set the rest of the frame is
// skipped until the next END.
func (d *Decoder) fail(discard bool) Result {
	d.errors.Add(1)
	d.reset()
	d.discarding = discard
	return FramingError
}

func (d *Decoder) reset() {
	d.n = 0
	d.escaped = false
	d.discarding = false
}

// FramingErrors returns the number of frames discarded.
func (d *Decoder) FramingErrors() uint32 {
	return d.errors.Load()
}
