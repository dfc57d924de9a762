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

import "time"

// Host send retry constants. A send is refused only while the bridge
// holds one frame for a busy radio; an 802.15.4 frame takes at most ~4ms
// on air at 250 kbit/s plus CSMA backoff, so retries start short.
const (
	// SendRetries is the number of attempts for a refused send.
	SendRetries = 8
	// SendInitialBackoff is the delay before the first retry.
	SendInitialBackoff = 5 * time.Millisecond
	// SendMaxBackoff caps the delay between retries.
	SendMaxBackoff = 100 * time.Millisecond
	// SendBackoffMultiplier is the exponential backoff multiplier.
	SendBackoffMultiplier = 2.0
	// SendJitter is the random jitter factor (0.0-1.0).
	SendJitter = 0.1
	// SendRetryTimeout bounds all attempts of one send.
	SendRetryTimeout = 2 * time.Second
)

// Host link timing.
const (
	// StatusTimeout is how long the host waits for a SendStatus reply.
	StatusTimeout = 500 * time.Millisecond
	// SerialReadTimeout is the serial port read timeout used by the
	// receive loops so they can observe context cancellation.
	SerialReadTimeout = 50 * time.Millisecond
	// DefaultBaudRate is the host link baud rate.
	DefaultBaudRate = 115200
)
