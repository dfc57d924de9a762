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

package radiobridge

import (
	"encoding/binary"
	"fmt"
)

// StatsSize is the encoded size of a Stats snapshot on the host link.
const StatsSize = statsFields * 4

const statsFields = 18

// Stats is a point-in-time snapshot of the bridge counters. Every counter
// has exactly one writer on the bridge; readers see each field atomically
// but the snapshot as a whole is not a consistent cut.
type Stats struct {
	// Radio receive path
	RxFrames         uint32 // frames delivered to the host
	RxDropped        uint32 // frames dropped because the radio queue was full
	CRCErrors        uint32
	RadioFaults      uint32
	Overflows        uint32
	AuthFailures     uint32 // secured frames that failed verification
	UnsecuredDropped uint32 // unsecured frames rejected by policy

	// Host link
	FramingErrors uint32 // host frames discarded by the decoder
	HostRxDropped uint32 // host frames dropped because the host queue was full
	HostTxDropped uint32 // messages to the host dropped because the TX queue was full

	// Radio transmit path
	TxFrames    uint32 // frames accepted by the radio
	TxDeferred  uint32 // frames parked in the pending slot while the radio was busy
	TxRefused   uint32 // host sends refused while a frame was pending
	TxRejected  uint32 // host sends rejected as malformed or too large
	TxFailed    uint32 // transmissions the radio reported as failed
	ChannelBusy uint32 // CCA failures

	// Security
	FrameCounter   uint32 // next outgoing frame counter
	NonceExhausted uint32 // 1 once the key's frame counter is exhausted
}

func (s *Stats) fields() [statsFields]*uint32 {
	return [statsFields]*uint32{
		&s.RxFrames, &s.RxDropped, &s.CRCErrors, &s.RadioFaults, &s.Overflows,
		&s.AuthFailures, &s.UnsecuredDropped, &s.FramingErrors, &s.HostRxDropped,
		&s.HostTxDropped, &s.TxFrames, &s.TxDeferred, &s.TxRefused, &s.TxRejected, &s.TxFailed,
		&s.ChannelBusy, &s.FrameCounter, &s.NonceExhausted,
	}
}

// AppendBinary appends the little-endian wire form of s to dst.
func (s *Stats) AppendBinary(dst []byte) []byte {
	for _, f := range s.fields() {
		dst = binary.LittleEndian.AppendUint32(dst, *f)
	}
	return dst
}

// UnmarshalBinary decodes a snapshot produced by AppendBinary. Trailing
// bytes are ignored so newer bridges can append counters.
func (s *Stats) UnmarshalBinary(data []byte) error {
	if len(data) < StatsSize {
		return fmt.Errorf("%w: stats report is %d bytes, need %d", ErrMalformedFrame, len(data), StatsSize)
	}
	for i, f := range s.fields() {
		*f = binary.LittleEndian.Uint32(data[i*4:])
	}
	return nil
}

// RadioErrors returns the total of all radio-reported receive errors.
func (s *Stats) RadioErrors() uint32 {
	return s.CRCErrors + s.RadioFaults + s.Overflows
}

// String formats the snapshot for operator output.
func (s *Stats) String() string {
	return fmt.Sprintf(
		"rx=%d rx_dropped=%d auth_fail=%d unsecured_dropped=%d radio_err=%d framing=%d "+
			"tx=%d tx_deferred=%d tx_refused=%d tx_rejected=%d tx_failed=%d cca_fail=%d counter=%d exhausted=%t",
		s.RxFrames, s.RxDropped, s.AuthFailures, s.UnsecuredDropped, s.RadioErrors(), s.FramingErrors,
		s.TxFrames, s.TxDeferred, s.TxRefused, s.TxRejected, s.TxFailed, s.ChannelBusy, s.FrameCounter, s.NonceExhausted != 0,
	)
}
