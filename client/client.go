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

// Package client talks to a running bridge from the host side of the
// serial link.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/hostlink"
	"github.com/ZaparooProject/go-radiobridge/internal/syncutil"
	"github.com/ZaparooProject/go-radiobridge/mac"
)

// FrameHandler receives frames the bridge forwarded from the radio. The
// frame is a copy owned by the handler.
type FrameHandler func(frame []byte)

// Option configures a Client.
type Option func(*Client)

// WithRetryConfig sets the policy for sends the bridge refuses.
func WithRetryConfig(cfg *radiobridge.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithStatusTimeout sets how long to wait for the bridge to answer.
func WithStatusTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.statusTimeout = d
	}
}

// WithFrameHandler installs the receive callback.
func WithFrameHandler(fn FrameHandler) Option {
	return func(c *Client) {
		c.onFrame = fn
	}
}

// Client is the host end of a bridge link. Send, Stats and Reset may be
// called concurrently; Run must be running for any of them to complete.
type Client struct {
	transport     radiobridge.Transport
	retry         *radiobridge.RetryConfig
	onFrame       FrameHandler
	waiters       map[uint8]chan hostlink.SendStatus
	statsWaiters  []chan radiobridge.Stats
	trace         *radiobridge.TraceBuffer
	statusTimeout time.Duration
	seq           atomic.Uint32
	received      atomic.Uint64
	mu            syncutil.Mutex
	writeMu       syncutil.Mutex
}

// New creates a client over t.
func New(t radiobridge.Transport, opts ...Option) *Client {
	c := &Client{
		transport:     t,
		retry:         radiobridge.DefaultRetryConfig(),
		statusTimeout: radiobridge.StatusTimeout,
		waiters:       make(map[uint8]chan hostlink.SendStatus),
		trace:         radiobridge.NewTraceBuffer(string(t.Type()), 16),
	}
	// Start at a random seq so a restarted client is unlikely to repeat
	// one the bridge still remembers.
	c.seq.Store(rand.Uint32())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads from the bridge until ctx is done or the transport fails.
func (c *Client) Run(ctx context.Context) error {
	var dec hostlink.Decoder
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := c.transport.Read(buf)
		for _, b := range buf[:n] {
			if res, m := dec.Feed(b); res == hostlink.Complete {
				c.dispatch(m)
			}
		}
		if err != nil {
			return fmt.Errorf("%w: %w", radiobridge.ErrTransportRead, err)
		}
	}
	return nil
}

func (c *Client) dispatch(m *hostlink.Message) {
	switch m.Type {
	case hostlink.TypeRadioReceive:
		c.received.Add(1)
		if c.onFrame != nil {
			c.onFrame(bytes.Clone(m.Data))
		}
	case hostlink.TypeSendStatus:
		if len(m.Data) < 2 {
			return
		}
		status, seq := hostlink.SendStatus(m.Data[0]), m.Data[1]
		c.mu.Lock()
		ch, ok := c.waiters[seq]
		if ok {
			delete(c.waiters, seq)
		}
		c.mu.Unlock()
		if ok {
			ch <- status
		} else {
			radiobridge.Debugf("client: unsolicited status %s for frame %d", status, seq)
		}
	case hostlink.TypeStatsReport:
		var s radiobridge.Stats
		if err := s.UnmarshalBinary(m.Data); err != nil {
			radiobridge.Debugf("client: bad stats report: %v", err)
			return
		}
		c.mu.Lock()
		waiters := c.statsWaiters
		c.statsWaiters = nil
		c.mu.Unlock()
		for _, ch := range waiters {
			ch <- s
		}
	default:
		radiobridge.Debugf("client: ignoring %s", m.Type)
	}
}

// Received returns the number of frames received from the bridge.
func (c *Client) Received() uint64 {
	return c.received.Load()
}

// Send transmits an unsecured MAC frame (no FCS) through the bridge. It
// returns once the radio accepted the frame or the bridge is holding it for
// the next transmit opportunity. Refused and unanswered sends are retried
// with backoff under the same seq, so the bridge transmits the frame at
// most once. Key exhaustion is reported as radiobridge.ErrNonceExhausted
// and is fatal.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	if len(frame) > mac.MaxFrameSize {
		return mac.ErrTooLarge
	}
	seq := uint8(c.seq.Add(1))
	err := radiobridge.RetryWithConfig(ctx, c.retry, func() error {
		status, err := c.sendOnce(ctx, seq, frame)
		if err != nil {
			return err
		}
		if serr := status.Err(); serr != nil {
			if errors.Is(serr, radiobridge.ErrNonceExhausted) {
				return radiobridge.NewNonceExhaustedError("send", c.port())
			}
			if errors.Is(serr, radiobridge.ErrBackpressure) {
				return radiobridge.NewBackpressureError("send", c.port())
			}
			return radiobridge.NewBridgeError("send", c.port(), serr, radiobridge.ErrorTypePermanent)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (c *Client) sendOnce(ctx context.Context, seq uint8, frame []byte) (hostlink.SendStatus, error) {
	ch := make(chan hostlink.SendStatus, 1)
	c.mu.Lock()
	c.waiters[seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, seq)
		c.mu.Unlock()
	}()

	data := make([]byte, 0, len(frame)+1)
	data = append(data, seq)
	data = append(data, frame...)
	if err := c.write(hostlink.Message{Type: hostlink.TypeRadioSend, Data: data}); err != nil {
		return 0, err
	}

	timer := time.NewTimer(c.statusTimeout)
	defer timer.Stop()
	select {
	case status := <-ch:
		return status, nil
	case <-timer.C:
		c.writeMu.Lock()
		err := c.trace.WrapError(radiobridge.NewTimeoutError("send", c.port()))
		c.writeMu.Unlock()
		return 0, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stats asks the bridge for its counters.
func (c *Client) Stats(ctx context.Context) (radiobridge.Stats, error) {
	ch := make(chan radiobridge.Stats, 1)
	c.mu.Lock()
	c.statsWaiters = append(c.statsWaiters, ch)
	c.mu.Unlock()

	if err := c.write(hostlink.Message{Type: hostlink.TypeStatsRequest}); err != nil {
		return radiobridge.Stats{}, err
	}

	timer := time.NewTimer(c.statusTimeout)
	defer timer.Stop()
	select {
	case s := <-ch:
		return s, nil
	case <-timer.C:
		return radiobridge.Stats{}, radiobridge.NewTimeoutError("stats", c.port())
	case <-ctx.Done():
		return radiobridge.Stats{}, ctx.Err()
	}
}

// Reset asks the bridge to drop a frame it is holding for the radio.
func (c *Client) Reset() error {
	return c.write(hostlink.Message{Type: hostlink.TypeReset})
}

func (c *Client) write(m hostlink.Message) error {
	var buf [hostlink.MaxEncodedSize]byte
	n, err := hostlink.Encode(buf[:], m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.trace.RecordTX(buf[:n], m.Type.String())
	if _, err := c.transport.Write(buf[:n]); err != nil {
		errType := radiobridge.ErrorTypeTransient
		if radiobridge.IsFatal(err) {
			errType = radiobridge.ErrorTypeFatal
		}
		return radiobridge.NewBridgeError("write", c.port(), fmt.Errorf("%w: %w", radiobridge.ErrTransportWrite, err), errType)
	}
	return nil
}

func (c *Client) port() string {
	return string(c.transport.Type())
}
