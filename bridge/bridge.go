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

// Package bridge wires a radio driver and a host byte stream into a
// running radio-to-host bridge.
package bridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/hostlink"
	"github.com/ZaparooProject/go-radiobridge/internal/syncutil"
	"github.com/ZaparooProject/go-radiobridge/mac"
	"github.com/ZaparooProject/go-radiobridge/pipeline"
	"github.com/ZaparooProject/go-radiobridge/queue"
	"github.com/ZaparooProject/go-radiobridge/radio"
	"github.com/ZaparooProject/go-radiobridge/scheduler"
	"github.com/ZaparooProject/go-radiobridge/security"
)

// ErrRunning is returned by Run when the bridge is already running.
var ErrRunning = errors.New("bridge already running")

// Config holds bridge settings.
type Config struct {
	// Security configures frame security. Nil uses security.DefaultConfig
	// with a zero key, which is only useful in tests.
	Security *security.Config
	// RadioQueue is the capacity of the radio receive queue.
	RadioQueue int
	// HostRxQueue is the capacity of the host receive queue.
	HostRxQueue int
	// HostTxQueue is the capacity of the queue of messages to the host.
	HostTxQueue int
	// Tick retries a pending frame periodically so it goes out once the
	// radio is free even without a transmit-complete event, for example
	// after a driver expired a lost interrupt. Zero disables it.
	Tick time.Duration
	// AllowUnsecured forwards received frames without security.
	AllowUnsecured bool
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() *Config {
	return &Config{
		Security:    security.DefaultConfig(),
		RadioQueue:  8,
		HostRxQueue: 4,
		HostTxQueue: 8,
		Tick:        100 * time.Millisecond,
	}
}

// Bridge connects one radio to one host link.
type Bridge struct {
	driver   radio.Driver
	dispatch *scheduler.Dispatcher
	adapter  *radio.Adapter
	link     *hostlink.Link
	task     *pipeline.Task
	mu       syncutil.Mutex
	running  bool
}

// New builds a bridge. The driver's handler is installed immediately, so
// frames received before Run are queued (and dropped once the queue is
// full).
func New(driver radio.Driver, host io.ReadWriter, cfg *Config) (*Bridge, error) {
	if driver == nil || host == nil {
		return nil, fmt.Errorf("%w: bridge needs a radio and a host stream", radiobridge.ErrInvalidParameter)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.RadioQueue < 1 || cfg.HostRxQueue < 1 || cfg.HostTxQueue < 1 {
		return nil, fmt.Errorf("%w: queue capacities must be at least 1", radiobridge.ErrInvalidParameter)
	}

	transform, err := security.New(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}

	b := &Bridge{
		driver:   driver,
		dispatch: scheduler.New(cfg.Tick),
	}
	radioRx := queue.New(cfg.RadioQueue)
	hostRx := queue.New(cfg.HostRxQueue)
	b.adapter = radio.NewAdapter(radioRx, b.dispatch)
	b.link = hostlink.NewLink(host, hostRx, queue.New(cfg.HostTxQueue), b.dispatch)

	b.task, err = pipeline.New(&pipeline.Config{
		RadioRx:        radioRx,
		HostRx:         hostRx,
		Driver:         driver,
		Host:           b.link,
		Transform:      transform,
		Stats:          b.fillShared,
		AllowUnsecured: cfg.AllowUnsecured,
	})
	if err != nil {
		return nil, err
	}
	b.dispatch.Bind(0, pipeline.Events, b.task)
	driver.SetHandler(b.adapter)
	return b, nil
}

func (b *Bridge) fillShared(s *radiobridge.Stats) {
	b.adapter.Fill(s)
	b.link.Fill(s)
}

// Run runs the host link and the dispatcher until ctx is done or the host
// stream fails. It returns nil on cancellation.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrRunning
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				radiobridge.Debugf("bridge: %s stopped: %v", name, err)
				errs <- err
				cancel()
			}
		}()
	}
	start("host receiver", b.link.RunReceiver)
	start("host transmitter", b.link.RunTransmitter)
	start("dispatcher", b.dispatch.Run)

	wg.Wait()
	close(errs)
	return <-errs
}

// Stats returns a snapshot of all bridge counters.
func (b *Bridge) Stats() radiobridge.Stats {
	return b.task.Stats()
}

// Close closes the radio driver.
func (b *Bridge) Close() error {
	if err := b.driver.Close(); err != nil {
		return fmt.Errorf("close radio: %w", err)
	}
	return nil
}

// appID scopes the machine ID hash to this application.
const appID = "go-radiobridge"

// DefaultExtendedAddress derives a stable, locally administered EUI-64
// from the host's machine ID for radios without a factory address.
func DefaultExtendedAddress() (mac.ExtendedAddress, error) {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return 0, fmt.Errorf("read machine id: %w", err)
	}
	return extendedAddressFromID(id)
}

func extendedAddressFromID(id string) (mac.ExtendedAddress, error) {
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) < 8 {
		return 0, fmt.Errorf("%w: machine id %q", radiobridge.ErrInvalidParameter, id)
	}
	// Unicast, locally administered.
	raw[0] = raw[0]&^0x01 | 0x02
	var v uint64
	for _, b := range raw[:8] {
		v = v<<8 | uint64(b)
	}
	return mac.ExtendedAddress(v), nil
}
