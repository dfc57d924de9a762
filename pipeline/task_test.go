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

package pipeline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/hostlink"
	"github.com/ZaparooProject/go-radiobridge/mac"
	"github.com/ZaparooProject/go-radiobridge/queue"
	"github.com/ZaparooProject/go-radiobridge/radio"
	"github.com/ZaparooProject/go-radiobridge/radio/sim"
	"github.com/ZaparooProject/go-radiobridge/scheduler"
	"github.com/ZaparooProject/go-radiobridge/security"
)

const (
	bridgeAddr mac.ExtendedAddress = 0x00124B0000000001
	deviceAddr mac.ExtendedAddress = 0x00124B00000000D1
	testPAN    uint16              = 0x1A62
)

type hostRecorder struct {
	msgs []hostlink.Message
}

func (h *hostRecorder) Send(m hostlink.Message) error {
	h.msgs = append(h.msgs, hostlink.Message{Type: m.Type, Data: bytes.Clone(m.Data)})
	return nil
}

func (h *hostRecorder) ofType(typ hostlink.MessageType) []hostlink.Message {
	var out []hostlink.Message
	for _, m := range h.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (h *hostRecorder) statuses() [][2]byte {
	var out [][2]byte
	for _, m := range h.ofType(hostlink.TypeSendStatus) {
		out = append(out, [2]byte{m.Data[0], m.Data[1]})
	}
	return out
}

type harness struct {
	task     *Task
	driver   *sim.Driver
	adapter  *radio.Adapter
	hostRx   *queue.Ring
	host     *hostRecorder
	dispatch *scheduler.Dispatcher
	device   *security.Transform
}

func testKey() security.Key {
	var k security.Key
	for i := range k {
		k[i] = byte(0xA0 + i)
	}
	return k
}

func newTransform(t *testing.T, addr mac.ExtendedAddress, mutate func(*security.Config)) *security.Transform {
	t.Helper()
	cfg := security.DefaultConfig()
	cfg.Key = testKey()
	cfg.Address = addr
	if mutate != nil {
		mutate(cfg)
	}
	tr, err := security.New(cfg)
	require.NoError(t, err)
	return tr
}

type harnessOptions struct {
	bridgeSecurity func(*security.Config)
	radioCapacity  int
	allowUnsecured bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.radioCapacity == 0 {
		opts.radioCapacity = 4
	}
	h := &harness{
		driver:   sim.New(sim.Options{}),
		hostRx:   queue.New(4),
		host:     &hostRecorder{},
		dispatch: scheduler.New(0),
		device:   newTransform(t, deviceAddr, nil),
	}
	radioRx := queue.New(opts.radioCapacity)
	h.adapter = radio.NewAdapter(radioRx, h.dispatch)
	h.driver.SetHandler(h.adapter)

	task, err := New(&Config{
		RadioRx:        radioRx,
		HostRx:         h.hostRx,
		Driver:         h.driver,
		Host:           h.host,
		Transform:      newTransform(t, bridgeAddr, opts.bridgeSecurity),
		Stats:          h.adapter.Fill,
		AllowUnsecured: opts.allowUnsecured,
	})
	require.NoError(t, err)
	h.task = task
	h.dispatch.Bind(0, Events, task)
	return h
}

func (h *harness) run() {
	for h.dispatch.Step() {
	}
}

// plainFrame builds an unsecured data frame carrying payload.
func plainFrame(t *testing.T, src mac.ExtendedAddress, payload string) []byte {
	t.Helper()
	hdr := mac.Header{
		Type: mac.FrameData, PANIDCompression: true,
		DstPAN: testPAN, Dst: mac.ShortAddress(0x0000), Src: mac.ExtAddress(src),
	}
	frame, err := mac.AppendFrame(nil, &hdr, []byte(payload))
	require.NoError(t, err)
	return frame
}

// deviceFrame is a frame secured by the remote device.
func (h *harness) deviceFrame(t *testing.T, payload string) []byte {
	t.Helper()
	var f mac.Frame
	_, err := h.device.Secure(&f, plainFrame(t, deviceAddr, payload))
	require.NoError(t, err)
	return bytes.Clone(f.Bytes())
}

func (h *harness) hostSend(t *testing.T, seq uint8, frame []byte) {
	t.Helper()
	data := append([]byte{byte(hostlink.TypeRadioSend), seq}, frame...)
	require.NoError(t, h.hostRx.Enqueue(data))
	h.dispatch.Post(scheduler.EventHostRx)
}

func payloadOf(t *testing.T, frame []byte) string {
	t.Helper()
	info, err := mac.Parse(frame)
	require.NoError(t, err)
	assert.False(t, info.Header.SecurityEnabled)
	return string(info.Payload)
}

func TestTask_DeliversInReceiveOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})

	for _, p := range []string{"A", "B", "C"} {
		h.driver.Deliver(h.deviceFrame(t, p))
	}
	h.run()

	got := h.host.ofType(hostlink.TypeRadioReceive)
	require.Len(t, got, 3)
	for i, want := range []string{"A", "B", "C"} {
		assert.Equal(t, want, payloadOf(t, got[i].Data))
	}
	assert.Equal(t, uint32(3), h.task.Stats().RxFrames)
}

func TestTask_FullRadioQueueDropsExcess(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{radioCapacity: 4})

	for i := range 5 {
		h.driver.Deliver(h.deviceFrame(t, string(rune('0'+i))))
	}
	h.run()

	got := h.host.ofType(hostlink.TypeRadioReceive)
	require.Len(t, got, 4)
	for i := range 4 {
		assert.Equal(t, string(rune('0'+i)), payloadOf(t, got[i].Data))
	}
	s := h.task.Stats()
	assert.Equal(t, uint32(4), s.RxFrames)
	assert.Equal(t, uint32(1), s.RxDropped)
}

func TestTask_TamperedFrameDroppedAndCounted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})

	good1 := h.deviceFrame(t, "before")
	bad := h.deviceFrame(t, "tampered")
	bad[len(bad)-1] ^= 0x01
	good2 := h.deviceFrame(t, "after")

	h.driver.Deliver(good1)
	h.driver.Deliver(bad)
	h.driver.Deliver(good2)
	h.run()

	got := h.host.ofType(hostlink.TypeRadioReceive)
	require.Len(t, got, 2)
	assert.Equal(t, "before", payloadOf(t, got[0].Data))
	assert.Equal(t, "after", payloadOf(t, got[1].Data))
	for _, m := range got {
		assert.NotContains(t, string(m.Data), "tampered")
	}
	assert.Equal(t, uint32(1), h.task.Stats().AuthFailures)
}

func TestTask_UnsecuredFramePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		allow     bool
		wantFwd   int
		wantDrops uint32
	}{
		{name: "dropped by default", allow: false, wantFwd: 0, wantDrops: 1},
		{name: "forwarded when allowed", allow: true, wantFwd: 1, wantDrops: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, harnessOptions{allowUnsecured: tt.allow})
			plain := plainFrame(t, deviceAddr, "clear")
			h.driver.Deliver(plain)
			h.run()

			got := h.host.ofType(hostlink.TypeRadioReceive)
			require.Len(t, got, tt.wantFwd)
			if tt.wantFwd > 0 {
				assert.Equal(t, plain, got[0].Data)
			}
			assert.Equal(t, tt.wantDrops, h.task.Stats().UnsecuredDropped)
		})
	}
}

func TestTask_SendSecuresAndTransmits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})

	h.hostSend(t, 7, plainFrame(t, bridgeAddr, "command"))
	h.run()

	assert.Equal(t, [][2]byte{{byte(hostlink.StatusSent), 7}}, h.host.statuses())
	sent := h.driver.Transmitted()
	require.Len(t, sent, 1)

	var out mac.Frame
	receiver := newTransform(t, deviceAddr, nil)
	require.NoError(t, receiver.Unsecure(&out, sent[0]))
	assert.Equal(t, "command", payloadOf(t, out.Bytes()))
}

// A send while a frame is pending is refused without using a frame
// counter; the pending frame goes out on transmit-complete, then the
// refused frame is accepted on retry.
func TestTask_BackpressureOrdering(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})
	f1 := plainFrame(t, bridgeAddr, "first")
	f2 := plainFrame(t, bridgeAddr, "second")

	h.driver.SetBusy(true)
	h.hostSend(t, 1, f1)
	h.run()
	assert.True(t, h.task.Pending())

	h.hostSend(t, 2, f2)
	h.run()
	assert.Equal(t, [][2]byte{
		{byte(hostlink.StatusPending), 1},
		{byte(hostlink.StatusRefused), 2},
	}, h.host.statuses())
	assert.Equal(t, uint32(1), h.task.Stats().FrameCounter, "refused frame used no counter")

	h.driver.SetBusy(false)
	h.dispatch.Post(scheduler.EventTxDone)
	h.run()
	assert.False(t, h.task.Pending())
	require.NoError(t, h.driver.CompleteTransmit(true))
	h.run()

	h.hostSend(t, 2, f2)
	h.run()

	assert.Equal(t, [][2]byte{
		{byte(hostlink.StatusPending), 1},
		{byte(hostlink.StatusRefused), 2},
		{byte(hostlink.StatusSent), 1},
		{byte(hostlink.StatusSent), 2},
	}, h.host.statuses())

	sent := h.driver.Transmitted()
	require.Len(t, sent, 2)
	var out mac.Frame
	receiver := newTransform(t, deviceAddr, nil)
	for i, want := range []string{"first", "second"} {
		info, err := mac.Parse(sent[i])
		require.NoError(t, err)
		assert.Equal(t, uint32(i), info.Aux.FrameCounter)
		require.NoError(t, receiver.Unsecure(&out, sent[i]))
		assert.Equal(t, want, payloadOf(t, out.Bytes()))
	}

	s := h.task.Stats()
	assert.Equal(t, uint32(2), s.TxFrames)
	assert.Equal(t, uint32(1), s.TxDeferred)
	assert.Equal(t, uint32(1), s.TxRefused)
}

func TestTask_PendingFrameSentOnTransmitComplete(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})

	h.hostSend(t, 1, plainFrame(t, bridgeAddr, "one"))
	h.hostSend(t, 2, plainFrame(t, bridgeAddr, "two"))
	h.run()
	// The first send occupies the radio, so the second is held.
	assert.True(t, h.task.Pending())

	require.NoError(t, h.driver.CompleteTransmit(true))
	h.run()
	assert.False(t, h.task.Pending())
	assert.Len(t, h.driver.Transmitted(), 2)
	assert.Equal(t, [][2]byte{
		{byte(hostlink.StatusSent), 1},
		{byte(hostlink.StatusPending), 2},
		{byte(hostlink.StatusSent), 2},
	}, h.host.statuses())
}

// A host that missed a status reply resends under the same seq; the frame
// must reach the radio once and the stored outcome is replayed.
func TestTask_RepeatedSeqAnsweredFromLastStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})
	frame := plainFrame(t, bridgeAddr, "once")

	h.driver.SetBusy(true)
	h.hostSend(t, 9, frame)
	h.run()
	h.hostSend(t, 9, frame)
	h.run()

	h.driver.SetBusy(false)
	h.dispatch.Post(scheduler.EventTxDone)
	h.run()
	h.hostSend(t, 9, frame)
	h.run()

	assert.Equal(t, [][2]byte{
		{byte(hostlink.StatusPending), 9},
		{byte(hostlink.StatusPending), 9},
		{byte(hostlink.StatusSent), 9},
		{byte(hostlink.StatusSent), 9},
	}, h.host.statuses())
	assert.Len(t, h.driver.Transmitted(), 1)
	s := h.task.Stats()
	assert.Equal(t, uint32(1), s.TxFrames)
	assert.Equal(t, uint32(1), s.FrameCounter)
	assert.Zero(t, s.TxRefused)

	require.NoError(t, h.driver.CompleteTransmit(true))
	require.NoError(t, h.hostRx.Enqueue([]byte{byte(hostlink.TypeReset)}))
	h.dispatch.Post(scheduler.EventHostRx)
	h.run()
	h.hostSend(t, 9, frame)
	h.run()
	assert.Len(t, h.driver.Transmitted(), 2, "reset forgets earlier seqs")
}

func TestTask_RepeatAfterLaterSends(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})

	for seq := uint8(1); seq <= 3; seq++ {
		h.hostSend(t, seq, plainFrame(t, bridgeAddr, "burst"))
		h.run()
		require.NoError(t, h.driver.CompleteTransmit(true))
		h.run()
	}
	h.hostSend(t, 1, plainFrame(t, bridgeAddr, "burst"))
	h.run()

	statuses := h.host.statuses()
	assert.Equal(t, [2]byte{byte(hostlink.StatusSent), 1}, statuses[len(statuses)-1])
	assert.Len(t, h.driver.Transmitted(), 3)
}

func TestTask_KeyExhaustionLatched(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{bridgeSecurity: func(c *security.Config) {
		c.FrameCounter = mac.MaxFrameCounter
	}})

	frame := plainFrame(t, bridgeAddr, "x")
	h.hostSend(t, 1, frame)
	h.run()
	require.NoError(t, h.driver.CompleteTransmit(true))
	h.hostSend(t, 2, frame)
	h.run()
	h.hostSend(t, 3, frame)
	h.run()

	assert.Equal(t, [][2]byte{
		{byte(hostlink.StatusSent), 1},
		{byte(hostlink.StatusKeyExhausted), 2},
		{byte(hostlink.StatusKeyExhausted), 3},
	}, h.host.statuses())
	assert.Len(t, h.driver.Transmitted(), 1)
	assert.Equal(t, uint32(1), h.task.Stats().NonceExhausted)
}

func TestTask_RejectsMalformedSends(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})

	require.NoError(t, h.hostRx.Enqueue([]byte{byte(hostlink.TypeRadioSend)}))
	h.hostSend(t, 4, []byte{0x41})
	h.hostSend(t, 5, plainFrame(t, bridgeAddr, string(make([]byte, 110))))
	h.run()

	assert.Equal(t, [][2]byte{
		{byte(hostlink.StatusRejected), 0},
		{byte(hostlink.StatusRejected), 4},
		{byte(hostlink.StatusRejected), 5},
	}, h.host.statuses())
	assert.Empty(t, h.driver.Transmitted())
	assert.Equal(t, uint32(3), h.task.Stats().TxRejected)
	assert.Equal(t, uint32(0), h.task.Stats().FrameCounter)
}

func TestTask_ResetClearsPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})

	h.driver.SetBusy(true)
	h.hostSend(t, 1, plainFrame(t, bridgeAddr, "stale"))
	h.run()
	require.True(t, h.task.Pending())

	require.NoError(t, h.hostRx.Enqueue([]byte{byte(hostlink.TypeReset)}))
	h.dispatch.Post(scheduler.EventHostRx)
	h.run()
	assert.False(t, h.task.Pending())

	h.driver.SetBusy(false)
	h.dispatch.Post(scheduler.EventTxDone)
	h.run()
	assert.Empty(t, h.driver.Transmitted())
}

func TestTask_StatsReport(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOptions{})

	h.driver.Deliver(h.deviceFrame(t, "a"))
	h.driver.DeliverError(radio.ErrorCRC)
	require.NoError(t, h.hostRx.Enqueue([]byte{byte(hostlink.TypeStatsRequest)}))
	h.dispatch.Post(scheduler.EventHostRx)
	h.run()

	reports := h.host.ofType(hostlink.TypeStatsReport)
	require.Len(t, reports, 1)
	var s radiobridge.Stats
	require.NoError(t, s.UnmarshalBinary(reports[0].Data))
	assert.Equal(t, uint32(1), s.RxFrames)
	assert.Equal(t, uint32(1), s.CRCErrors)
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := New(&Config{})
	require.ErrorIs(t, err, radiobridge.ErrInvalidParameter)
	_, err = New(nil)
	require.ErrorIs(t, err, radiobridge.ErrInvalidParameter)
}
