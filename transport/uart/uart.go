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

// Package uart carries the host link over a serial port.
package uart

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"go.bug.st/serial"
)

// Option configures a Transport.
type Option func(*serial.Mode)

// WithBaudRate overrides radiobridge.DefaultBaudRate.
func WithBaudRate(baud int) Option {
	return func(m *serial.Mode) {
		m.BaudRate = baud
	}
}

// Transport implements radiobridge.Transport over a serial port. Reads and
// writes may run concurrently; each direction is serialized on its own.
type Transport struct {
	port     serial.Port
	portName string
	readMu   sync.Mutex
	writeMu  sync.Mutex
	closed   atomic.Bool
}

// readTimeout returns the platform read timeout. Windows USB serial
// drivers need longer to deliver a partial buffer.
func readTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return 2 * radiobridge.SerialReadTimeout
	}
	return radiobridge.SerialReadTimeout
}

// New opens portName at 8N1.
func New(portName string, opts ...Option) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: radiobridge.DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	for _, opt := range opts {
		opt(mode)
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}
	t, err := newWithPort(port, portName)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

func newWithPort(port serial.Port, portName string) (*Transport, error) {
	if err := port.SetReadTimeout(readTimeout()); err != nil {
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	// Whatever the bridge sent before we opened is a partial frame at best.
	if err := port.ResetInputBuffer(); err != nil {
		radiobridge.Debugf("uart %s: reset input buffer: %v", portName, err)
	}
	return &Transport{port: port, portName: portName}, nil
}

// Read reads what the port has, returning (0, nil) when the read timeout
// expires with nothing available.
func (t *Transport) Read(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, radiobridge.ErrTransportClosed
	}
	t.readMu.Lock()
	defer t.readMu.Unlock()

	n, err := t.port.Read(p)
	if err == nil {
		return n, nil
	}
	if isInterruptedSystemCall(err) {
		return n, nil
	}
	return n, t.ioError("read", radiobridge.ErrTransportRead, err)
}

// Write writes all of p and waits for it to leave the port.
func (t *Transport) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, radiobridge.ErrTransportClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	written := 0
	for written < len(p) {
		n, err := t.port.Write(p[written:])
		written += n
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return written, t.ioError("write", radiobridge.ErrTransportWrite, err)
		}
		if n == 0 {
			return written, radiobridge.NewBridgeError("write", t.portName, radiobridge.ErrTransportWrite,
				radiobridge.ErrorTypeTransient)
		}
	}
	return written, t.drainWithRetry()
}

func (t *Transport) ioError(op string, kind, err error) error {
	errType := radiobridge.ErrorTypeTransient
	if t.closed.Load() || radiobridge.IsFatal(err) {
		errType = radiobridge.ErrorTypeFatal
	}
	return radiobridge.NewBridgeError(op, t.portName, fmt.Errorf("%w: %w", kind, err), errType)
}

// SetTimeout sets the read timeout for the transport
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
	return nil
}

// Close closes the port. It is safe to call more than once.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	return !t.closed.Load()
}

// Type returns the transport type
func (*Transport) Type() radiobridge.TransportType {
	return radiobridge.TransportUART
}

// PortName returns the device path the transport was opened on.
func (t *Transport) PortName() string {
	return t.portName
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry() error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}
		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt))
			continue
		}
		return fmt.Errorf("UART drain failed: %w", err)
	}
	return fmt.Errorf("UART drain failed after %d retries", maxRetries)
}

var _ radiobridge.Transport = (*Transport)(nil)
