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

package sim

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-radiobridge/radio"
)

type handler struct {
	frames   [][]byte
	errors   []radio.ErrorCode
	complete atomic.Int32
	failed   atomic.Int32
}

func (h *handler) OnReceive(frame []byte) {
	h.frames = append(h.frames, append([]byte(nil), frame...))
}

func (h *handler) OnTransmitComplete(ok bool) {
	if ok {
		h.complete.Add(1)
	} else {
		h.failed.Add(1)
	}
}

func (h *handler) OnError(code radio.ErrorCode) {
	h.errors = append(h.errors, code)
}

func TestDriver_TransmitBusyUntilComplete(t *testing.T) {
	t.Parallel()
	d := New(Options{})
	h := &handler{}
	d.SetHandler(h)

	require.NoError(t, d.Transmit([]byte{1}))
	require.ErrorIs(t, d.Transmit([]byte{2}), radio.ErrBusy)
	assert.True(t, d.Busy())

	require.NoError(t, d.CompleteTransmit(true))
	assert.Equal(t, int32(1), h.complete.Load())
	require.NoError(t, d.Transmit([]byte{3}))
	assert.Equal(t, [][]byte{{1}, {3}}, d.Transmitted())

	require.NoError(t, d.CompleteTransmit(false))
	assert.Equal(t, int32(1), h.failed.Load())
	assert.Equal(t, []radio.ErrorCode{radio.ErrorChannelBusy}, h.errors)
	require.Error(t, d.CompleteTransmit(true), "nothing in flight")
}

func TestDriver_TransmitCopiesFrame(t *testing.T) {
	t.Parallel()
	d := New(Options{})
	frame := []byte{0xAA}
	require.NoError(t, d.Transmit(frame))
	frame[0] = 0x00
	assert.Equal(t, [][]byte{{0xAA}}, d.Transmitted())
}

func TestDriver_SetBusy(t *testing.T) {
	t.Parallel()
	d := New(Options{})
	d.SetBusy(true)
	require.ErrorIs(t, d.Transmit([]byte{1}), radio.ErrBusy)
	d.SetBusy(false)
	require.NoError(t, d.Transmit([]byte{1}))
}

func TestDriver_AutoComplete(t *testing.T) {
	t.Parallel()
	d := New(Options{AutoComplete: true, AirTime: time.Millisecond})
	h := &handler{}
	d.SetHandler(h)

	require.NoError(t, d.Transmit([]byte{1}))
	assert.Eventually(t, func() bool { return h.complete.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, d.Busy())
}

func TestDriver_Closed(t *testing.T) {
	t.Parallel()
	d := New(Options{})
	h := &handler{}
	d.SetHandler(h)
	require.NoError(t, d.Close())

	require.ErrorIs(t, d.Transmit([]byte{1}), radio.ErrClosed)
	d.Deliver([]byte{1})
	assert.Empty(t, h.frames)
}

func TestAir_DeliversToPeers(t *testing.T) {
	t.Parallel()
	air := NewAir()
	a, b, c := New(Options{}), New(Options{}), New(Options{})
	ha, hb, hc := &handler{}, &handler{}, &handler{}
	a.SetHandler(ha)
	b.SetHandler(hb)
	c.SetHandler(hc)
	air.Join(a)
	air.Join(b)
	air.Join(c)

	require.NoError(t, a.Transmit([]byte("hello")))
	assert.Empty(t, ha.frames, "sender does not hear itself")
	assert.Equal(t, [][]byte{[]byte("hello")}, hb.frames)
	assert.Equal(t, [][]byte{[]byte("hello")}, hc.frames)
}
