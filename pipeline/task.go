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

// Package pipeline implements the frame pipeline task: the single consumer
// of the radio and host receive queues and the single owner of the
// security transform and the pending transmit slot.
package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/hostlink"
	"github.com/ZaparooProject/go-radiobridge/mac"
	"github.com/ZaparooProject/go-radiobridge/queue"
	"github.com/ZaparooProject/go-radiobridge/radio"
	"github.com/ZaparooProject/go-radiobridge/scheduler"
	"github.com/ZaparooProject/go-radiobridge/security"
)

// Events the task is bound to.
const Events = scheduler.EventRadioRx | scheduler.EventTxDone | scheduler.EventRadioError |
	scheduler.EventHostRx | scheduler.EventTick

// recentSends is how many accepted sends are remembered for repeats.
const recentSends = 8

type outcome struct {
	seq    uint8
	status hostlink.SendStatus
	valid  bool
}

// HostSender queues a message for the host without blocking.
type HostSender interface {
	Send(m hostlink.Message) error
}

// Config wires a Task.
type Config struct {
	RadioRx   *queue.Ring
	HostRx    *queue.Ring
	Driver    radio.Driver
	Host      HostSender
	Transform *security.Transform
	// Stats fills counters owned by other components into a StatsReport.
	Stats func(*radiobridge.Stats)
	// AllowUnsecured forwards received frames without security to the
	// host. When false they are dropped and counted.
	AllowUnsecured bool
}

// Task moves frames between the radio and the host. Run must only be called
// from the dispatcher goroutine; the counters may be read from anywhere.
type Task struct {
	radioRx   *queue.Ring
	hostRx    *queue.Ring
	driver    radio.Driver
	host      HostSender
	transform *security.Transform
	stats     func(*radiobridge.Stats)

	pending    mac.Frame
	rxOut      mac.Frame
	msg        [queue.SlotSize]byte
	status     [2]byte
	pendingSeq uint8
	hasPending bool
	allowPlain bool

	// Outcomes of the most recent accepted sends. A RadioSend that repeats
	// one of these seqs is answered from here and never transmitted again.
	recent     [recentSends]outcome
	recentNext int

	rxFrames         atomic.Uint32
	authFailures     atomic.Uint32
	unsecuredDropped atomic.Uint32
	txFrames         atomic.Uint32
	txDeferred       atomic.Uint32
	txRefused        atomic.Uint32
	txRejected       atomic.Uint32
	txFailed         atomic.Uint32
	frameCounter     atomic.Uint32
	exhausted        atomic.Bool
}

// New creates a Task.
func New(cfg *Config) (*Task, error) {
	if cfg == nil || cfg.RadioRx == nil || cfg.HostRx == nil || cfg.Driver == nil ||
		cfg.Host == nil || cfg.Transform == nil {
		return nil, fmt.Errorf("%w: pipeline needs queues, driver, host and transform", radiobridge.ErrInvalidParameter)
	}
	t := &Task{
		radioRx:    cfg.RadioRx,
		hostRx:     cfg.HostRx,
		driver:     cfg.Driver,
		host:       cfg.Host,
		transform:  cfg.Transform,
		stats:      cfg.Stats,
		allowPlain: cfg.AllowUnsecured,
	}
	t.publishCounter()
	return t, nil
}

// Run processes everything that is ready: the pending frame first, then
// received radio frames, then host messages.
func (t *Task) Run(_ scheduler.Event) {
	if t.hasPending {
		t.retryPending()
	}
	t.drainRadio()
	t.drainHost()
}

// Pending reports whether a frame is waiting for the radio.
func (t *Task) Pending() bool {
	return t.hasPending
}

func (t *Task) retryPending() {
	err := t.driver.Transmit(t.pending.Bytes())
	switch {
	case err == nil:
		t.hasPending = false
		t.txFrames.Add(1)
		t.settle(hostlink.StatusSent, t.pendingSeq)
	case errors.Is(err, radio.ErrBusy):
	default:
		t.hasPending = false
		t.txFailed.Add(1)
		radiobridge.Debugf("pipeline: pending frame %d failed: %v", t.pendingSeq, err)
		t.settle(hostlink.StatusTxFailed, t.pendingSeq)
	}
}

func (t *Task) drainRadio() {
	for {
		slot, ok := t.radioRx.Read()
		if !ok {
			return
		}
		t.handleRadioFrame(slot.Bytes())
		t.radioRx.Release()
	}
}

func (t *Task) handleRadioFrame(frame []byte) {
	err := t.transform.Unsecure(&t.rxOut, frame)
	switch {
	case err == nil:
		t.forward(t.rxOut.Bytes())
	case errors.Is(err, security.ErrNotSecured):
		if !t.allowPlain {
			t.unsecuredDropped.Add(1)
			return
		}
		t.forward(frame)
	default:
		t.authFailures.Add(1)
	}
}

func (t *Task) forward(frame []byte) {
	if t.host.Send(hostlink.Message{Type: hostlink.TypeRadioReceive, Data: frame}) == nil {
		t.rxFrames.Add(1)
	}
}

func (t *Task) drainHost() {
	for {
		slot, ok := t.hostRx.Read()
		if !ok {
			return
		}
		b := slot.Bytes()
		if len(b) > 0 {
			t.handleHostMessage(hostlink.MessageType(b[0]), b[1:])
		}
		t.hostRx.Release()
	}
}

func (t *Task) handleHostMessage(typ hostlink.MessageType, data []byte) {
	switch typ {
	case hostlink.TypeRadioSend:
		if len(data) == 0 {
			t.txRejected.Add(1)
			t.reply(hostlink.StatusRejected, 0)
			return
		}
		t.send(data[0], data[1:])
	case hostlink.TypeStatsRequest:
		s := t.Stats()
		n := len(s.AppendBinary(t.msg[:0]))
		_ = t.host.Send(hostlink.Message{Type: hostlink.TypeStatsReport, Data: t.msg[:n]})
	case hostlink.TypeReset:
		if t.hasPending {
			radiobridge.Debugf("pipeline: host reset dropped pending frame %d", t.pendingSeq)
			t.hasPending = false
		}
		t.recent = [recentSends]outcome{}
	default:
		radiobridge.Debugf("pipeline: ignoring host message %s", typ)
	}
}

// send secures and transmits one frame from the host. A frame that finds
// the radio busy is kept in the pending slot already secured, so a retry
// never consumes another frame counter. A host that lost the status reply
// resends with the same seq and gets the stored status back.
func (t *Task) send(seq uint8, frame []byte) {
	if o := t.lookup(seq); o != nil {
		radiobridge.Debugf("pipeline: frame %d repeated, answering %s", seq, o.status)
		t.reply(o.status, seq)
		return
	}
	if t.exhausted.Load() {
		t.reply(hostlink.StatusKeyExhausted, seq)
		return
	}
	if t.hasPending {
		t.txRefused.Add(1)
		t.reply(hostlink.StatusRefused, seq)
		return
	}

	_, err := t.transform.Secure(&t.pending, frame)
	t.publishCounter()
	if err != nil {
		if errors.Is(err, security.ErrNonceExhausted) {
			radiobridge.Debugf("pipeline: frame counter exhausted, refusing all sends")
			t.reply(hostlink.StatusKeyExhausted, seq)
			return
		}
		t.txRejected.Add(1)
		radiobridge.Debugf("pipeline: rejecting frame %d: %v", seq, err)
		t.reply(hostlink.StatusRejected, seq)
		return
	}

	err = t.driver.Transmit(t.pending.Bytes())
	switch {
	case err == nil:
		t.txFrames.Add(1)
		t.settle(hostlink.StatusSent, seq)
	case errors.Is(err, radio.ErrBusy):
		t.hasPending = true
		t.pendingSeq = seq
		t.txDeferred.Add(1)
		t.settle(hostlink.StatusPending, seq)
	default:
		t.txFailed.Add(1)
		radiobridge.Debugf("pipeline: transmit of frame %d failed: %v", seq, err)
		t.settle(hostlink.StatusTxFailed, seq)
	}
}

func (t *Task) publishCounter() {
	t.frameCounter.Store(t.transform.Counter())
	if t.transform.Exhausted() {
		t.exhausted.Store(true)
	}
}

func (t *Task) lookup(seq uint8) *outcome {
	for i := range t.recent {
		if t.recent[i].valid && t.recent[i].seq == seq {
			return &t.recent[i]
		}
	}
	return nil
}

// settle records the outcome of an accepted send and reports it.
func (t *Task) settle(status hostlink.SendStatus, seq uint8) {
	if o := t.lookup(seq); o != nil {
		o.status = status
	} else {
		t.recent[t.recentNext] = outcome{seq: seq, status: status, valid: true}
		t.recentNext = (t.recentNext + 1) % recentSends
	}
	t.reply(status, seq)
}

func (t *Task) reply(status hostlink.SendStatus, seq uint8) {
	t.status = [2]byte{byte(status), seq}
	_ = t.host.Send(hostlink.Message{Type: hostlink.TypeSendStatus, Data: t.status[:]})
}

// Fill copies the task counters into s.
func (t *Task) Fill(s *radiobridge.Stats) {
	s.RxFrames = t.rxFrames.Load()
	s.AuthFailures = t.authFailures.Load()
	s.UnsecuredDropped = t.unsecuredDropped.Load()
	s.TxFrames = t.txFrames.Load()
	s.TxDeferred = t.txDeferred.Load()
	s.TxRefused = t.txRefused.Load()
	s.TxRejected = t.txRejected.Load()
	s.TxFailed += t.txFailed.Load()
	s.FrameCounter = t.frameCounter.Load()
	s.NonceExhausted = 0
	if t.exhausted.Load() {
		s.NonceExhausted = 1
	}
}

// Stats returns the full snapshot reported to the host.
func (t *Task) Stats() radiobridge.Stats {
	var s radiobridge.Stats
	if t.stats != nil {
		t.stats(&s)
	}
	t.Fill(&s)
	return s
}
