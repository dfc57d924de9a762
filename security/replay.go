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

package security

import "github.com/ZaparooProject/go-radiobridge/mac"

// DefaultReplayTableSize is the number of peers whose last frame counter is
// remembered.
const DefaultReplayTableSize = 16

type replayEntry struct {
	addr    mac.ExtendedAddress
	counter uint32
	used    uint64
	valid   bool
}

// replayTable remembers the highest frame counter accepted from each peer.
// It is fixed size; the least recently used peer is evicted when full. A
// peer that was evicted is accepted again from any counter.
type replayTable struct {
	entries []replayEntry
	clock   uint64
}

func newReplayTable(size int) *replayTable {
	if size <= 0 {
		size = DefaultReplayTableSize
	}
	return &replayTable{entries: make([]replayEntry, size)}
}

// fresh reports whether counter is strictly greater than the last counter
// accepted from addr.
func (r *replayTable) fresh(addr mac.ExtendedAddress, counter uint32) bool {
	for i := range r.entries {
		e := &r.entries[i]
		if e.valid && e.addr == addr {
			return counter > e.counter
		}
	}
	return true
}

// accept records counter for addr. It must only be called after the frame
// has been verified.
func (r *replayTable) accept(addr mac.ExtendedAddress, counter uint32) {
	r.clock++
	victim := 0
	for i := range r.entries {
		e := &r.entries[i]
		if e.valid && e.addr == addr {
			e.counter = counter
			e.used = r.clock
			return
		}
		switch {
		case !e.valid:
			if r.entries[victim].valid {
				victim = i
			}
		case r.entries[victim].valid && e.used < r.entries[victim].used:
			victim = i
		}
	}
	r.entries[victim] = replayEntry{addr: addr, counter: counter, used: r.clock, valid: true}
}

func (r *replayTable) len() int {
	n := 0
	for i := range r.entries {
		if r.entries[i].valid {
			n++
		}
	}
	return n
}
