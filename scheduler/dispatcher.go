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

// Package scheduler dispatches events posted from interrupt context to
// run-to-completion tasks on a single goroutine.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"
)

// Event is a set of pending event bits.
type Event uint32

const (
	// EventRadioRx signals frames in the radio receive queue.
	EventRadioRx Event = 1 << iota
	// EventTxDone signals the radio finished a transmission.
	EventTxDone
	// EventRadioError signals the radio reported an error.
	EventRadioError
	// EventHostRx signals messages in the host receive queue.
	EventHostRx
	// EventTick is posted periodically when a tick interval is set.
	EventTick

	// EventAll matches every event.
	EventAll Event = 1<<iota - 1
)

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	names := []string{"radio-rx", "tx-done", "radio-error", "host-rx", "tick"}
	var parts []string
	for i, name := range names {
		if e&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := e &^ EventAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Task is a run-to-completion unit of work. Run receives the pending events
// that matched the task's mask.
type Task interface {
	Run(ev Event)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ev Event)

// Run calls f(ev).
func (f TaskFunc) Run(ev Event) {
	f(ev)
}

type binding struct {
	task     Task
	priority int
	mask     Event
}

// Dispatcher collects posted events and runs bound tasks. Post may be
// called from any goroutine; everything else belongs to the goroutine that
// calls Run or Step.
type Dispatcher struct {
	wake     chan struct{}
	bindings []binding
	tick     time.Duration
	pending  atomic.Uint32
	rounds   atomic.Uint64
}

// New creates a dispatcher. A positive tick posts EventTick at that
// interval while Run is active.
func New(tick time.Duration) *Dispatcher {
	return &Dispatcher{
		wake: make(chan struct{}, 1),
		tick: tick,
	}
}

// Bind registers task for the events in mask. Higher priority tasks run
// first within a dispatch round. Bind must not be called once Run has
// started.
func (d *Dispatcher) Bind(priority int, mask Event, task Task) {
	d.bindings = append(d.bindings, binding{task: task, priority: priority, mask: mask})
	slices.SortStableFunc(d.bindings, func(a, b binding) int {
		return b.priority - a.priority
	})
}

// Post marks ev pending and wakes the dispatcher. It never blocks and does
// not allocate. Events posted again before they are dispatched coalesce.
func (d *Dispatcher) Post(ev Event) {
	d.pending.Or(uint32(ev))
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the events posted but not yet dispatched.
func (d *Dispatcher) Pending() Event {
	return Event(d.pending.Load())
}

// Rounds returns the number of dispatch rounds that ran a task.
func (d *Dispatcher) Rounds() uint64 {
	return d.rounds.Load()
}

// Step takes all pending events and runs each matching task once, in
// priority order. It returns false if nothing was pending.
func (d *Dispatcher) Step() bool {
	ev := Event(d.pending.Swap(0))
	if ev == 0 {
		return false
	}
	for _, b := range d.bindings {
		if m := ev & b.mask; m != 0 {
			b.task.Run(m)
		}
	}
	d.rounds.Add(1)
	return true
}

// Run dispatches until ctx is done and returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if d.tick > 0 {
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		for d.Step() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		case <-tick:
			d.Post(EventTick)
		}
	}
}
