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

// Package queue implements the fixed-capacity single-producer
// single-consumer frame ring that carries frames from interrupt context to
// the pipeline task.
//
// Exactly one goroutine may call the producer methods (Enqueue, Grant,
// Commit) and exactly one the consumer methods (Dequeue, Read, Release).
// The producer owns the tail index and the consumer owns the head index;
// each side only loads the other's index. All slots are allocated by New
// and the ring never allocates afterwards.
package queue

import (
	"fmt"
	"sync/atomic"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
)

// SlotSize is the capacity of one slot: a 127-byte PSDU plus one byte of
// headroom for a message type.
const SlotSize = 128

var (
	// ErrFull is returned by Enqueue when every slot is occupied.
	ErrFull = radiobridge.ErrQueueFull
	// ErrTooLarge is returned by Enqueue for data that does not fit a slot.
	ErrTooLarge = fmt.Errorf("%w: exceeds %d byte slot", radiobridge.ErrFrameTooLarge, SlotSize)
)

// Slot is one fixed-size frame buffer in the ring.
type Slot struct {
	buf [SlotSize]byte
	n   int
}

// Bytes returns the committed contents of the slot.
func (s *Slot) Bytes() []byte {
	return s.buf[:s.n]
}

// Buffer returns the whole slot for a producer to fill after Grant.
func (s *Slot) Buffer() []byte {
	return s.buf[:]
}

// SetLen records how many bytes of Buffer are valid. It must be called
// before Commit.
func (s *Slot) SetLen(n int) {
	if n < 0 || n > SlotSize {
		panic(fmt.Sprintf("queue: slot length %d out of range", n))
	}
	s.n = n
}

// Len returns the number of valid bytes.
func (s *Slot) Len() int {
	return s.n
}

// Ring is a bounded SPSC FIFO of Slots.
//
// head and tail run over [0, 2*capacity) so a full ring (tail-head ==
// capacity) is distinguishable from an empty one without a spare slot.
type Ring struct {
	slots []Slot
	size  uint32
	wrap  uint32

	// head is written only by the consumer.
	head atomic.Uint32
	_    [60]byte
	// tail is written only by the producer.
	tail atomic.Uint32
}

// New allocates a ring with capacity slots. It panics if capacity < 1.
func New(capacity int) *Ring {
	if capacity < 1 || capacity > 1<<16 {
		panic(fmt.Sprintf("queue: invalid capacity %d", capacity))
	}
	return &Ring{
		slots: make([]Slot, capacity),
		size:  uint32(capacity),
		wrap:  uint32(capacity) * 2,
	}
}

func (r *Ring) next(i uint32) uint32 {
	i++
	if i == r.wrap {
		return 0
	}
	return i
}

func (r *Ring) count(head, tail uint32) uint32 {
	if tail >= head {
		return tail - head
	}
	return tail + r.wrap - head
}

func (r *Ring) slot(i uint32) *Slot {
	if i >= r.size {
		i -= r.size
	}
	return &r.slots[i]
}

// Cap returns the fixed capacity of the ring.
func (r *Ring) Cap() int {
	return int(r.size)
}

// Len returns the number of committed, unreleased slots. From either side
// it is a lower bound for what that side can consume and an upper bound for
// what it has to wait on.
func (r *Ring) Len() int {
	return int(r.count(r.head.Load(), r.tail.Load()))
}

// Grant reserves the next free slot for the producer. It returns false when
// the ring is full. The slot becomes visible to the consumer on Commit.
// Granting twice without a Commit returns the same slot.
func (r *Ring) Grant() (*Slot, bool) {
	tail := r.tail.Load()
	if r.count(r.head.Load(), tail) == r.size {
		return nil, false
	}
	return r.slot(tail), true
}

// Commit publishes the slot returned by the last successful Grant.
func (r *Ring) Commit() {
	tail := r.tail.Load()
	if r.count(r.head.Load(), tail) == r.size {
		panic("queue: commit without grant")
	}
	r.tail.Store(r.next(tail))
}

// Enqueue copies data into the next free slot and publishes it.
func (r *Ring) Enqueue(data []byte) error {
	if len(data) > SlotSize {
		return ErrTooLarge
	}
	s, ok := r.Grant()
	if !ok {
		return ErrFull
	}
	s.n = copy(s.buf[:], data)
	r.Commit()
	return nil
}

// Read returns the oldest committed slot without removing it. It returns
// false when the ring is empty. The slot stays valid until Release.
func (r *Ring) Read() (*Slot, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return nil, false
	}
	return r.slot(head), true
}

// Release frees the slot returned by the last successful Read.
func (r *Ring) Release() {
	head := r.head.Load()
	if head == r.tail.Load() {
		panic("queue: release on empty ring")
	}
	r.head.Store(r.next(head))
}

// Dequeue copies the oldest frame into dst and frees its slot. dst should
// be at least SlotSize bytes; longer frames are truncated to len(dst).
func (r *Ring) Dequeue(dst []byte) (int, bool) {
	s, ok := r.Read()
	if !ok {
		return 0, false
	}
	n := copy(dst, s.Bytes())
	r.Release()
	return n, true
}
