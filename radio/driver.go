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

// Package radio defines the contract between the bridge and an 802.15.4
// transceiver driver, and the interrupt-side Adapter that turns driver
// callbacks into queued frames and scheduler events.
package radio

import (
	"fmt"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
)

var (
	// ErrBusy is returned by Driver.Transmit while a transmission is in
	// progress. The frame was not accepted.
	ErrBusy = radiobridge.ErrRadioBusy
	// ErrClosed is returned after Close.
	ErrClosed = fmt.Errorf("%w: radio closed", radiobridge.ErrTransportClosed)
)

// Driver is an 802.15.4 transceiver. Frames carry no FCS.
type Driver interface {
	// Transmit starts sending frame and returns nil if the radio accepted
	// it, or ErrBusy. The driver copies frame before returning. Completion
	// is reported through Handler.OnTransmitComplete.
	Transmit(frame []byte) error
	// SetHandler installs the interrupt callbacks. It must be called before
	// the radio is enabled.
	SetHandler(h Handler)
	// Close stops the radio and its interrupt goroutine.
	Close() error
}

// Handler receives driver events in interrupt context. Implementations
// must not block.
type Handler interface {
	// OnReceive is called with a received frame. The slice is only valid
	// during the call.
	OnReceive(frame []byte)
	// OnTransmitComplete reports the end of a transmission.
	OnTransmitComplete(ok bool)
	// OnError reports a receive or transmit error. The affected frame is
	// discarded.
	OnError(code ErrorCode)
}

// ErrorCode classifies radio errors.
type ErrorCode uint8

const (
	// ErrorCRC is a received frame with a bad FCS.
	ErrorCRC ErrorCode = iota + 1
	// ErrorFault is a hardware or protocol fault in the transceiver.
	ErrorFault
	// ErrorOverflow is a receive FIFO overrun.
	ErrorOverflow
	// ErrorChannelBusy is a clear channel assessment failure on transmit.
	ErrorChannelBusy
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCRC:
		return "crc"
	case ErrorFault:
		return "fault"
	case ErrorOverflow:
		return "overflow"
	case ErrorChannelBusy:
		return "channel-busy"
	default:
		return fmt.Sprintf("error(%d)", uint8(c))
	}
}
