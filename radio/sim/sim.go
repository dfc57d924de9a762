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

// Package sim provides an in-memory 802.15.4 radio. Tests drive it as the
// interrupt source; an Air connects several simulated radios so frames
// sent by one are received by the others.
package sim

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-radiobridge/internal/syncutil"
	"github.com/ZaparooProject/go-radiobridge/mac"
	"github.com/ZaparooProject/go-radiobridge/radio"
)

// Options configures a simulated radio.
type Options struct {
	// AutoComplete finishes every accepted transmission after AirTime on
	// a separate goroutine. Without it the test calls CompleteTransmit.
	AutoComplete bool
	// AirTime is the simulated transmission time with AutoComplete.
	AirTime time.Duration
}

// Driver is a simulated radio implementing radio.Driver.
type Driver struct {
	handler     radio.Handler
	air         *Air
	transmitted [][]byte
	opts        Options
	mu          syncutil.Mutex
	busy        bool
	held        bool
	closed      bool
}

// New creates a simulated radio.
func New(opts Options) *Driver {
	return &Driver{opts: opts}
}

// SetHandler implements radio.Driver.
func (d *Driver) SetHandler(h radio.Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// Transmit implements radio.Driver.
func (d *Driver) Transmit(frame []byte) error {
	if len(frame) > mac.MaxFrameSize {
		return mac.ErrTooLarge
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return radio.ErrClosed
	}
	if d.busy || d.held {
		d.mu.Unlock()
		return radio.ErrBusy
	}
	d.busy = true
	sent := bytes.Clone(frame)
	d.transmitted = append(d.transmitted, sent)
	air := d.air
	auto := d.opts.AutoComplete
	d.mu.Unlock()

	if air != nil {
		air.broadcast(d, sent)
	}
	if auto {
		go func() {
			if d.opts.AirTime > 0 {
				time.Sleep(d.opts.AirTime)
			}
			_ = d.CompleteTransmit(true)
		}()
	}
	return nil
}

// Close implements radio.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) currentHandler() radio.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	return d.handler
}

// Deliver raises a receive interrupt with frame on the calling goroutine.
func (d *Driver) Deliver(frame []byte) {
	if h := d.currentHandler(); h != nil {
		h.OnReceive(frame)
	}
}

// DeliverError raises an error interrupt.
func (d *Driver) DeliverError(code radio.ErrorCode) {
	if h := d.currentHandler(); h != nil {
		h.OnError(code)
	}
}

// CompleteTransmit ends the transmission in progress and raises the
// transmit-complete interrupt. It returns an error if nothing was being
// transmitted.
func (d *Driver) CompleteTransmit(ok bool) error {
	d.mu.Lock()
	if !d.busy {
		d.mu.Unlock()
		return fmt.Errorf("sim: no transmission in progress")
	}
	d.busy = false
	h := d.handler
	closed := d.closed
	d.mu.Unlock()

	if h != nil && !closed {
		if !ok {
			h.OnError(radio.ErrorChannelBusy)
		}
		h.OnTransmitComplete(ok)
	}
	return nil
}

// SetBusy holds the radio busy, as if it were occupied by other traffic.
// Releasing it does not raise a transmit-complete interrupt.
func (d *Driver) SetBusy(busy bool) {
	d.mu.Lock()
	d.held = busy
	d.mu.Unlock()
}

// Busy reports whether a transmission is in progress.
func (d *Driver) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy || d.held
}

// Transmitted returns copies of every frame accepted for transmission.
func (d *Driver) Transmitted() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.transmitted))
	for i, f := range d.transmitted {
		out[i] = bytes.Clone(f)
	}
	return out
}

// Air is a shared channel between simulated radios.
type Air struct {
	radios []*Driver
	mu     syncutil.Mutex
}

// NewAir creates an empty channel.
func NewAir() *Air {
	return &Air{}
}

// Join attaches d to the channel.
func (a *Air) Join(d *Driver) {
	a.mu.Lock()
	a.radios = append(a.radios, d)
	a.mu.Unlock()
	d.mu.Lock()
	d.air = a
	d.mu.Unlock()
}

func (a *Air) broadcast(from *Driver, frame []byte) {
	a.mu.Lock()
	peers := make([]*Driver, 0, len(a.radios))
	for _, r := range a.radios {
		if r != from {
			peers = append(peers, r)
		}
	}
	a.mu.Unlock()
	for _, p := range peers {
		p.Deliver(frame)
	}
}

var _ radio.Driver = (*Driver)(nil)
