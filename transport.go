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
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-radiobridge/internal/syncutil"
)

// Transport is the host side of the serial link to a bridge. Reads return
// (0, nil) when the read timeout expires so receive loops can observe
// context cancellation.
type Transport interface {
	io.ReadWriteCloser

	// SetTimeout sets the read timeout for the transport
	SetTimeout(timeout time.Duration) error

	// IsConnected returns true if the transport is open
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents a UART/USB serial link.
	TransportUART TransportType = "uart"
	// TransportMock represents an in-memory link for testing.
	TransportMock TransportType = "mock"
)

// MockTransport is one end of an in-memory serial line. Writes never block;
// reads block until data arrives, the read timeout expires or the line is
// closed.
type MockTransport struct {
	peer     *MockTransport
	ready    chan struct{}
	writeErr error
	in       bytes.Buffer
	timeout  time.Duration
	writes   int
	mu       syncutil.Mutex
	closed   bool
}

// NewMockTransportPair returns two connected ends of an in-memory line.
// Bytes written to one end are read from the other.
func NewMockTransportPair() (a, b *MockTransport) {
	a = &MockTransport{ready: make(chan struct{}, 1), timeout: SerialReadTimeout}
	b = &MockTransport{ready: make(chan struct{}, 1), timeout: SerialReadTimeout}
	a.peer, b.peer = b, a
	return a, b
}

// Read implements io.Reader.
func (m *MockTransport) Read(buf []byte) (int, error) {
	timer := time.NewTimer(m.readTimeout())
	defer timer.Stop()

	for {
		m.mu.Lock()
		if m.in.Len() > 0 {
			n, err := m.in.Read(buf)
			m.mu.Unlock()
			return n, err //nolint:wrapcheck // bytes.Buffer only returns io.EOF when empty
		}
		closed := m.closed
		m.mu.Unlock()
		if closed || m.peer.isClosed() {
			return 0, io.EOF
		}

		select {
		case <-m.ready:
		case <-timer.C:
			return 0, nil
		}
	}
}

// Write implements io.Writer. The data is queued for the peer.
func (m *MockTransport) Write(data []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrTransportClosed
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}
	m.writes++
	m.mu.Unlock()

	if !m.peer.deliver(data) {
		return 0, fmt.Errorf("%w: peer closed", ErrTransportClosed)
	}
	return len(data), nil
}

func (m *MockTransport) deliver(data []byte) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	_, _ = m.in.Write(data)
	m.mu.Unlock()
	m.wake()
	return true
}

func (m *MockTransport) wake() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *MockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockTransport) readTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout
}

// Close closes this end. Pending and future reads on both ends return io.EOF
// once their buffered data is consumed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
	m.peer.wake()
	return nil
}

// SetTimeout sets the read timeout.
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidParameter)
	}
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// IsConnected returns true until either end is closed.
func (m *MockTransport) IsConnected() bool {
	return !m.isClosed() && !m.peer.isClosed()
}

// Type returns TransportMock.
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// SetWriteError makes subsequent writes fail with err. Pass nil to clear.
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// WriteCount returns the number of successful writes.
func (m *MockTransport) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Ensure MockTransport implements Transport
var _ Transport = (*MockTransport)(nil)
