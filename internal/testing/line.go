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

// Package testing provides serial line simulations for host link tests.
package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// LineConfig configures a JitteryLine.
type LineConfig struct {
	// MaxLatency is the upper bound of a random delay before each read.
	MaxLatency time.Duration
	// FragmentMinBytes is the smallest fragment returned by a read.
	FragmentMinBytes int
	// CorruptAfterBytes flips one bit in the byte at this offset of the
	// read stream (counting from 1). Zero disables corruption.
	CorruptAfterBytes int
	// Seed makes fragmentation reproducible. Zero picks a random seed.
	Seed uint64
	// FragmentReads returns random partial reads, as USB-UART adapters do.
	FragmentReads bool
}

// DefaultLineConfig returns a fragmenting line without latency.
func DefaultLineConfig() LineConfig {
	return LineConfig{
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryLine wraps an io.ReadWriter and delivers reads in random
// fragments with optional latency and a single bit error. Writes pass
// through unchanged.
type JitteryLine struct {
	backend   io.ReadWriter
	rng       *rand.Rand
	pending   []byte
	config    LineConfig
	delivered int
	corrupted bool
}

// NewJitteryLine wraps backend.
func NewJitteryLine(backend io.ReadWriter, config LineConfig) *JitteryLine {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test fragmentation, not crypto
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &JitteryLine{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x5EED)), //nolint:gosec // test fragmentation, not crypto
		pending: make([]byte, 0, 512),
	}
}

// Write passes data to the backend.
func (j *JitteryLine) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // pass-through
}

// Read returns a fragment of the backend stream.
func (j *JitteryLine) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.pending) == 0 {
		var tmp [256]byte
		n, err := j.backend.Read(tmp[:])
		if n == 0 {
			return 0, err //nolint:wrapcheck // pass-through
		}
		j.pending = append(j.pending, tmp[:n]...)
	}

	n := min(len(j.pending), len(buf))
	if j.config.FragmentReads && n > j.config.FragmentMinBytes {
		n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
	}
	copy(buf, j.pending[:n])
	j.pending = j.pending[n:]

	if at := j.config.CorruptAfterBytes; at > 0 && !j.corrupted &&
		j.delivered < at && j.delivered+n >= at {
		buf[at-j.delivered-1] ^= 1 << j.rng.IntN(8)
		j.corrupted = true
	}
	j.delivered += n
	return n, nil
}

// Delivered returns the number of bytes returned by Read so far.
func (j *JitteryLine) Delivered() int {
	return j.delivered
}
