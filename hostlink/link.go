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
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/internal/syncutil"
	"github.com/ZaparooProject/go-radiobridge/queue"
	"github.com/ZaparooProject/go-radiobridge/scheduler"
)

// Poster is the part of the scheduler the receiver uses.
type Poster interface {
	Post(ev scheduler.Event)
}

// Link is the bridge end of the host link.
//
// RunReceiver plays the UART receive interrupt: it decodes bytes and is the
// only producer of the RX queue. The pipeline task is the only consumer of
// the RX queue and the only caller of Send, which makes it the only
// producer of the TX queue. RunTransmitter is the only consumer of the TX
// queue. Queue entries are a type byte followed by the message data.
type Link struct {
	rw        io.ReadWriter
	rx        *queue.Ring
	tx        *queue.Ring
	post      Poster
	txWake    chan struct{}
	trace     *radiobridge.TraceBuffer
	dec       Decoder
	rxDropped atomic.Uint32
	txDropped atomic.Uint32
	unknown   atomic.Uint32
	writeMu   syncutil.Mutex
	traceMu   syncutil.Mutex
}

// NewLink creates a link over rw feeding rx and draining tx.
func NewLink(rw io.ReadWriter, rx, tx *queue.Ring, post Poster) *Link {
	return &Link{
		rw:     rw,
		rx:     rx,
		tx:     tx,
		post:   post,
		txWake: make(chan struct{}, 1),
		trace:  radiobridge.NewTraceBuffer("host", 16),
	}
}

// Send queues m for the host without blocking. It returns queue.ErrFull
// when the TX queue is full; the message is dropped and counted.
func (l *Link) Send(m Message) error {
	if len(m.Data)+1 > queue.SlotSize {
		return ErrMessageTooLarge
	}
	slot, ok := l.tx.Grant()
	if !ok {
		l.txDropped.Add(1)
		return queue.ErrFull
	}
	buf := slot.Buffer()
	buf[0] = byte(m.Type)
	slot.SetLen(1 + copy(buf[1:], m.Data))
	l.tx.Commit()

	select {
	case l.txWake <- struct{}{}:
	default:
	}
	return nil
}

// RunReceiver reads from the host until ctx is done or the stream fails.
// The reader should return periodically (a read timeout) so cancellation
// is observed.
func (l *Link) RunReceiver(ctx context.Context) error {
	var buf [64]byte
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := l.rw.Read(buf[:])
		for _, b := range buf[:n] {
			l.feed(b)
		}
		if err != nil {
			if errors.Is(err, radiobridge.ErrTransportTimeout) {
				continue
			}
			return fmt.Errorf("%w: host read: %w", radiobridge.ErrTransportClosed, err)
		}
	}
}

func (l *Link) feed(b byte) {
	res, msg := l.dec.Feed(b)
	switch res {
	case Complete:
		l.deliver(msg)
	case FramingError:
		radiobridge.Debugf("hostlink: framing error (%d total)", l.dec.FramingErrors())
		if radiobridge.DebugEnabled() {
			l.traceMu.Lock()
			if err := l.trace.WrapError(radiobridge.ErrFramingError); err != nil {
				if te := radiobridge.GetTrace(err); te != nil {
					radiobridge.Debugln(te.FormatTrace())
				}
			}
			l.traceMu.Unlock()
		}
	case Incomplete:
	}
}

func (l *Link) deliver(m *Message) {
	switch m.Type {
	case TypeRadioSend, TypeStatsRequest, TypeReset:
	default:
		l.unknown.Add(1)
		radiobridge.Debugf("hostlink: ignoring %s from host", m.Type)
		return
	}
	if radiobridge.DebugEnabled() {
		l.traceMu.Lock()
		l.trace.RecordRX(m.Data, m.Type.String())
		l.traceMu.Unlock()
	}

	slot, ok := l.rx.Grant()
	if !ok || len(m.Data)+1 > queue.SlotSize {
		l.rxDropped.Add(1)
		radiobridge.Debugf("hostlink: dropped %s from host", m.Type)
		l.post.Post(scheduler.EventHostRx)
		return
	}
	buf := slot.Buffer()
	buf[0] = byte(m.Type)
	slot.SetLen(1 + copy(buf[1:], m.Data))
	l.rx.Commit()
	l.post.Post(scheduler.EventHostRx)
}

// RunTransmitter writes queued messages to the host until ctx is done or
// the stream is closed. Write errors that are not fatal drop the message.
func (l *Link) RunTransmitter(ctx context.Context) error {
	var enc [MaxEncodedSize]byte
	for {
		for {
			slot, ok := l.tx.Read()
			if !ok {
				break
			}
			b := slot.Bytes()
			n, err := Encode(enc[:], Message{Type: MessageType(b[0]), Data: b[1:]})
			l.tx.Release()
			if err != nil {
				continue
			}
			if err := l.write(enc[:n]); err != nil {
				if radiobridge.IsFatal(err) {
					return err
				}
				l.txDropped.Add(1)
				radiobridge.Debugf("hostlink: write failed: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.txWake:
		}
	}
}

func (l *Link) write(p []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	for len(p) > 0 {
		n, err := l.rw.Write(p)
		if err != nil {
			return radiobridge.NewBridgeError("write", "host", err, writeErrorType(err))
		}
		p = p[n:]
	}
	return nil
}

func writeErrorType(err error) radiobridge.ErrorType {
	if radiobridge.IsFatal(err) {
		return radiobridge.ErrorTypeFatal
	}
	if errors.Is(err, radiobridge.ErrTransportTimeout) {
		return radiobridge.ErrorTypeTimeout
	}
	return radiobridge.ErrorTypeTransient
}

// FramingErrors returns the number of host frames discarded by the decoder
// plus well-formed frames of a type the host must not send.
func (l *Link) FramingErrors() uint32 {
	return l.dec.FramingErrors() + l.unknown.Load()
}

// Fill copies the link counters into s.
func (l *Link) Fill(s *radiobridge.Stats) {
	s.FramingErrors = l.FramingErrors()
	s.HostRxDropped = l.rxDropped.Load()
	s.HostTxDropped = l.txDropped.Load()
}
