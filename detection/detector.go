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

// Package detection finds bridges attached to the host.
package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/internal/syncutil"
)

// Mode controls how invasive detection is.
type Mode int

const (
	// Passive only inspects USB descriptors.
	Passive Mode = iota
	// Probe opens candidate ports and asks for a stats report.
	Probe
)

// Confidence rates how sure a detector is that a device is a bridge.
type Confidence int

const (
	// Low means the port is a serial port and nothing more is known.
	Low Confidence = iota
	// Medium means the USB identity matches a known bridge board.
	Medium
	// High means the device answered a stats request.
	High
)

// DeviceInfo describes a detected bridge.
type DeviceInfo struct {
	// Metadata holds descriptor strings, such as "vidpid" and "serial".
	Metadata map[string]string
	// Transport is the transport type, e.g. "uart".
	Transport string
	// Path is the device path to open, e.g. "/dev/ttyACM0".
	Path string
	// Name is a human-readable product name.
	Name       string
	Confidence Confidence
}

// String returns a human-readable description of the device.
func (d DeviceInfo) String() string {
	confidence := "unknown"
	switch d.Confidence {
	case Low:
		confidence = "low"
	case Medium:
		confidence = "medium"
	case High:
		confidence = "high"
	}
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, confidence)
}

// Options configures detection.
type Options struct {
	// Known lists VID:PID pairs of bridge boards. Empty uses KnownBridges.
	Known []string
	// Blocklist lists VID:PID pairs never to open.
	Blocklist []string
	// IgnorePaths lists device paths to skip.
	IgnorePaths []string
	// Transports restricts which detectors run. Empty runs all.
	Transports []string
	CacheTTL   time.Duration
	// Timeout bounds a single probe.
	Timeout     time.Duration
	Mode        Mode
	EnableCache bool
}

// DefaultOptions probes known boards and caches results briefly.
func DefaultOptions() Options {
	return Options{
		Mode:        Probe,
		Timeout:     2 * time.Second,
		Known:       KnownBridges(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector finds devices on one kind of transport.
type Detector interface {
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	Transport() string
}

var (
	// ErrNoDevicesFound indicates no bridge was detected.
	ErrNoDevicesFound = radiobridge.ErrNoDevicesFound
	// ErrDetectionTimeout indicates detection timed out.
	ErrDetectionTimeout = errors.New("detection timeout")
)

var (
	registry   []Detector
	registryMu syncutil.Mutex
)

// RegisterDetector adds a detector. Transport packages call it from init.
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

func getDetectors(transports []string) []Detector {
	registryMu.Lock()
	defer registryMu.Unlock()
	if len(transports) == 0 {
		return append([]Detector(nil), registry...)
	}

	var filtered []Detector
	for _, d := range registry {
		for _, t := range transports {
			if d.Transport() == t {
				filtered = append(filtered, d)
				break
			}
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every selected detector in parallel and merges what they
// find. Devices are returned even if some detectors failed.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, errors.New("no detectors available for specified transports")
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func() {
			results <- runSingleDetector(ctx, d, opts)
		}()
	}

	var devices []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
			} else {
				devices = append(devices, res.devices...)
			}
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(devices) > 0 {
		return devices, nil
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, ErrNoDevicesFound
}

func runSingleDetector(ctx context.Context, d Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		// Cached results skipped Detect, so the filters are applied again.
		if cached, found := getCached(d.Transport(), opts.CacheTTL); found {
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: err}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(d.Transport(), devices)
		} else {
			clearCacheForTransport(d.Transport())
		}
	}
	return detectionResult{devices: devices}
}

func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}

	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := device.Metadata["vidpid"]; ok && MatchVIDPID(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// ClearDetectionCache drops every cached result.
func ClearDetectionCache() {
	clearCache()
}
