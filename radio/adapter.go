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

package radio

import (
	"sync/atomic"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/mac"
	"github.com/ZaparooProject/go-radiobridge/queue"
	"github.com/ZaparooProject/go-radiobridge/scheduler"
)

// Poster is the part of the scheduler the interrupt side uses.
type Poster interface {
	Post(ev scheduler.Event)
}

// Adapter is the driver Handler. It runs in interrupt context and is the
// only producer of the radio receive queue. Its counters have a single
// writer, the driver's interrupt goroutine, and may be read from anywhere.
type Adapter struct {
	rx          *queue.Ring
	post        Poster
	received    atomic.Uint32
	dropped     atomic.Uint32
	crc         atomic.Uint32
	faults      atomic.Uint32
	overflows   atomic.Uint32
	channelBusy atomic.Uint32
	txDone      atomic.Uint32
	txFailed    atomic.Uint32
}

// NewAdapter creates an Adapter that fills rx and posts to post.
func NewAdapter(rx *queue.Ring, post Poster) *Adapter {
	return &Adapter{rx: rx, post: post}
}

// OnReceive copies frame into the next free queue slot. When the queue is
// full the frame is dropped and counted.
func (a *Adapter) OnReceive(frame []byte) {
	if len(frame) > mac.MaxFrameSize {
		a.faults.Add(1)
		a.post.Post(scheduler.EventRadioError)
		return
	}
	slot, ok := a.rx.Grant()
	if !ok {
		n := a.dropped.Add(1)
		radiobridge.Debugf("radio: rx queue full, dropped frame (%d total)", n)
		a.post.Post(scheduler.EventRadioRx)
		return
	}
	slot.SetLen(copy(slot.Buffer(), frame))
	a.rx.Commit()
	a.received.Add(1)
	a.post.Post(scheduler.EventRadioRx)
}

// OnTransmitComplete counts failed transmissions and wakes the pipeline so
// it can send a pending frame.
func (a *Adapter) OnTransmitComplete(ok bool) {
	if ok {
		a.txDone.Add(1)
	} else {
		a.txFailed.Add(1)
	}
	a.post.Post(scheduler.EventTxDone)
}

// OnError counts the error by code.
func (a *Adapter) OnError(code ErrorCode) {
	switch code {
	case ErrorCRC:
		a.crc.Add(1)
	case ErrorOverflow:
		a.overflows.Add(1)
	case ErrorChannelBusy:
		a.channelBusy.Add(1)
	default:
		a.faults.Add(1)
	}
	a.post.Post(scheduler.EventRadioError)
}

// Received returns the number of frames queued.
func (a *Adapter) Received() uint32 {
	return a.received.Load()
}

// Dropped returns the number of frames dropped on a full queue.
func (a *Adapter) Dropped() uint32 {
	return a.dropped.Load()
}

// Fill copies the adapter counters into s.
func (a *Adapter) Fill(s *radiobridge.Stats) {
	s.RxDropped = a.dropped.Load()
	s.CRCErrors = a.crc.Load()
	s.RadioFaults = a.faults.Load()
	s.Overflows = a.overflows.Load()
	s.ChannelBusy = a.channelBusy.Load()
	s.TxFailed = a.txFailed.Load()
}

var _ Handler = (*Adapter)(nil)
