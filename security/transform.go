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

// Package security applies and removes IEEE 802.15.4 frame security
// (CCM* with a per-frame nonce built from the sender address and frame
// counter).
//
// A Transform is owned by exactly one goroutine, the pipeline task. It is
// not safe for concurrent use.
package security

import (
	"bytes"
	"errors"
	"fmt"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/mac"
)

// KeySize is the AES-128 key length.
const KeySize = 16

// Key is an AES-128 key.
type Key [KeySize]byte

// Level is the 802.15.4 security level.
type Level = mac.SecurityLevel

// Security levels.
const (
	LevelNone      = mac.LevelNone
	LevelMIC32     = mac.LevelMIC32
	LevelMIC64     = mac.LevelMIC64
	LevelMIC128    = mac.LevelMIC128
	LevelENC       = mac.LevelENC
	LevelENCMIC32  = mac.LevelENCMIC32
	LevelENCMIC64  = mac.LevelENCMIC64
	LevelENCMIC128 = mac.LevelENCMIC128
)

// exhaustedCounter marks a frame counter that can no longer be used.
const exhaustedCounter uint32 = 0xFFFFFFFF

var (
	// ErrAuthenticationFailed is the only error Unsecure reports for a
	// secured frame that cannot be accepted.
	ErrAuthenticationFailed = radiobridge.ErrAuthenticationFailed
	// ErrNonceExhausted is returned by Secure once the frame counter has
	// reached its limit. It is permanent for the key.
	ErrNonceExhausted = radiobridge.ErrNonceExhausted
	// ErrNotSecured is returned by Unsecure for frames without the
	// security enabled bit.
	ErrNotSecured = errors.New("frame not secured")
	// ErrAlreadySecured is returned by Secure for frames that already carry
	// the security enabled bit.
	ErrAlreadySecured = fmt.Errorf("%w: frame already secured", radiobridge.ErrMalformedFrame)
)

// Neighbor maps a short address to the extended address used in nonces
// from that sender.
type Neighbor struct {
	PAN      uint16
	Short    uint16
	Extended mac.ExtendedAddress
}

// Config configures a Transform.
type Config struct {
	// Provider overrides the CCM* implementation. Nil uses AESProvider.
	Provider Provider
	// Neighbors resolves short source addresses of secured frames.
	Neighbors []Neighbor
	// KeySource is sent with KeyIDSource4 and KeyIDSource8.
	KeySource [8]byte
	// Key is the network key.
	Key Key
	// Address is this bridge's extended address, the source of outgoing
	// nonces.
	Address mac.ExtendedAddress
	// ReplayTableSize is the number of peers tracked for replay protection.
	ReplayTableSize int
	// FrameCounter is the first outgoing frame counter.
	FrameCounter uint32
	// Level is applied to outgoing frames. LevelNone sends frames as given.
	Level Level
	// MinLevel is the lowest level accepted on incoming secured frames.
	MinLevel Level
	// KeyIDMode and KeyIndex identify the key in the auxiliary header.
	KeyIDMode mac.KeyIDMode
	KeyIndex  uint8
}

// DefaultConfig returns ENC-MIC-32 with a one-byte key index of 1, the
// common network key setup. Key and Address must still be set.
func DefaultConfig() *Config {
	return &Config{
		Level:           LevelENCMIC32,
		MinLevel:        LevelENCMIC32,
		KeyIDMode:       mac.KeyIDIndex,
		KeyIndex:        1,
		ReplayTableSize: DefaultReplayTableSize,
	}
}

// Transform secures outgoing and verifies incoming frames with one key.
type Transform struct {
	provider  Provider
	replay    *replayTable
	neighbors []Neighbor
	scratch   [mac.MaxPSDU]byte
	keySource [8]byte
	address   mac.ExtendedAddress
	counter   uint32
	level     Level
	minLevel  Level
	keyIDMode mac.KeyIDMode
	keyIndex  uint8
}

// New creates a Transform from cfg.
func New(cfg *Config) (*Transform, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Level.Valid() || !cfg.MinLevel.Valid() {
		return nil, fmt.Errorf("%w: security level", radiobridge.ErrInvalidParameter)
	}
	if cfg.KeyIDMode > mac.KeyIDSource8 {
		return nil, fmt.Errorf("%w: key identifier mode %d", radiobridge.ErrInvalidParameter, cfg.KeyIDMode)
	}
	provider := cfg.Provider
	if provider == nil {
		p, err := NewAESProvider(cfg.Key)
		if err != nil {
			return nil, err
		}
		provider = p
	}
	return &Transform{
		provider:  provider,
		replay:    newReplayTable(cfg.ReplayTableSize),
		neighbors: append([]Neighbor(nil), cfg.Neighbors...),
		keySource: cfg.KeySource,
		address:   cfg.Address,
		counter:   cfg.FrameCounter,
		level:     cfg.Level,
		minLevel:  cfg.MinLevel,
		keyIDMode: cfg.KeyIDMode,
		keyIndex:  cfg.KeyIndex,
	}, nil
}

// Counter returns the frame counter the next secured frame will use.
func (t *Transform) Counter() uint32 {
	return t.counter
}

// Exhausted reports whether the frame counter has run out. Once true it
// stays true for the lifetime of the Transform.
func (t *Transform) Exhausted() bool {
	return t.counter == exhaustedCounter
}

// Level returns the level applied to outgoing frames.
func (t *Transform) Level() Level {
	return t.level
}

// Secure writes the secured form of the unsecured frame plain into dst and
// returns the frame counter it used. The counter is consumed only when the
// frame was secured. With LevelNone the frame is copied unchanged and no
// counter is used.
func (t *Transform) Secure(dst *mac.Frame, plain []byte) (uint32, error) {
	h, hlen, err := mac.ParseHeader(plain)
	if err != nil {
		return 0, err
	}
	if h.SecurityEnabled {
		return 0, ErrAlreadySecured
	}
	if t.level == LevelNone {
		return 0, dst.Set(plain)
	}
	if t.Exhausted() {
		return 0, ErrNonceExhausted
	}

	payload := plain[hlen:]
	aux := mac.AuxSecurityHeader{
		Level:        t.level,
		KeyIDMode:    t.keyIDMode,
		KeyIndex:     t.keyIndex,
		KeySource:    t.keySource,
		FrameCounter: t.counter,
	}
	h.SecurityEnabled = true
	if h.Version == mac.Version2003 {
		h.Version = mac.Version2006
	}
	micLen := t.level.MICLen()
	if h.Len()+aux.Len()+len(payload)+micLen > mac.MaxFrameSize {
		return 0, mac.ErrTooLarge
	}

	dst.Reset()
	buf := dst.Available()
	n, err := h.Encode(buf)
	if err != nil {
		return 0, err
	}
	an, err := aux.Encode(buf[n:])
	if err != nil {
		return 0, err
	}
	n += an

	nonce := MakeNonce(t.address, t.counter, t.level)
	var out []byte
	if t.level.Encrypts() {
		out, err = t.provider.Seal(buf[n:n], nonce[:], payload, buf[:n], micLen)
	} else {
		// Authentication only: the payload travels in clear and is covered
		// by the MIC together with the headers.
		copy(buf[n:], payload)
		n += len(payload)
		out, err = t.provider.Seal(buf[n:n], nonce[:], nil, buf[:n], micLen)
	}
	if err != nil {
		dst.Reset()
		return 0, fmt.Errorf("seal frame: %w", err)
	}
	if err := dst.Grow(n + len(out)); err != nil {
		dst.Reset()
		return 0, err
	}

	used := t.counter
	t.counter++
	return used, nil
}

// Unsecure verifies the secured frame and writes the unsecured frame into
// dst: the MAC header with the security enabled bit cleared, followed by
// the plaintext payload. Any failure on a secured frame returns
// ErrAuthenticationFailed and leaves dst untouched.
func (t *Transform) Unsecure(dst *mac.Frame, secured []byte) error {
	info, err := mac.Parse(secured)
	if err != nil {
		if h, _, herr := mac.ParseHeader(secured); herr == nil && !h.SecurityEnabled {
			return err
		}
		return authFailed("parse", err)
	}
	if !info.Header.SecurityEnabled {
		return ErrNotSecured
	}

	aux := &info.Aux
	switch {
	case aux.Level == LevelNone:
		return authFailed("level none with security enabled", nil)
	case aux.Level < t.minLevel:
		return authFailed("level below policy", nil)
	case aux.KeyIDMode != t.keyIDMode:
		return authFailed("unknown key", nil)
	case aux.KeyIDMode != mac.KeyIDImplicit && aux.KeyIndex != t.keyIndex:
		return authFailed("unknown key index", nil)
	case !t.knownKeySource(aux):
		return authFailed("unknown key source", nil)
	case aux.FrameCounter == exhaustedCounter:
		return authFailed("exhausted frame counter", nil)
	}

	src, ok := t.resolveSource(&info.Header)
	if !ok {
		return authFailed("unknown source", nil)
	}
	if !t.replay.fresh(src, aux.FrameCounter) {
		return authFailed("replayed frame counter", nil)
	}

	micLen := aux.Level.MICLen()
	if len(info.Payload) < micLen {
		return authFailed("payload shorter than MIC", nil)
	}
	hdr := secured[:info.HeaderLen+info.AuxLen]
	body := info.Payload[:len(info.Payload)-micLen]
	nonce := MakeNonce(src, aux.FrameCounter, aux.Level)

	// The plaintext is staged in scratch so dst only changes on success.
	out := t.scratch[:info.HeaderLen]
	copy(out, secured[:info.HeaderLen])
	out[mac.SecurityBitOffset] &^= mac.SecurityBitMask
	if aux.Level.Encrypts() {
		out, err = t.provider.Open(out, nonce[:], info.Payload, hdr, micLen)
	} else {
		covered := secured[:len(secured)-micLen]
		_, err = t.provider.Open(t.scratch[len(out):len(out)], nonce[:], info.Payload[len(body):], covered, micLen)
		out = append(out, body...)
	}
	if err != nil {
		return authFailed("verify", err)
	}

	if err := dst.Set(out); err != nil {
		return authFailed("output", err)
	}
	t.replay.accept(src, aux.FrameCounter)
	return nil
}

// knownKeySource compares the key source carried by KeyIDSource4 and
// KeyIDSource8 frames with the configured one.
func (t *Transform) knownKeySource(a *mac.AuxSecurityHeader) bool {
	n := a.KeyIDMode.Size() - 1
	return n <= 0 || bytes.Equal(a.KeySource[:n], t.keySource[:n])
}

func (t *Transform) resolveSource(h *mac.Header) (mac.ExtendedAddress, bool) {
	switch h.Src.Mode {
	case mac.AddrExtended:
		return h.Src.Extended, true
	case mac.AddrShort:
		for _, n := range t.neighbors {
			if n.Short == h.Src.Short && n.PAN == h.SrcPAN {
				return n.Extended, true
			}
		}
	}
	return 0, false
}

func authFailed(reason string, cause error) error {
	if cause != nil {
		radiobridge.Debugf("security: rejecting frame: %s: %v", reason, cause)
	} else {
		radiobridge.Debugf("security: rejecting frame: %s", reason)
	}
	return ErrAuthenticationFailed
}
