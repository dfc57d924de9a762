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

// Package uart detects bridges on USB serial ports. Importing it registers
// the detector.
package uart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/client"
	"github.com/ZaparooProject/go-radiobridge/detection"
	"github.com/ZaparooProject/go-radiobridge/transport/uart"
)

type detector struct{}

// New returns the serial port detector.
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string {
	return string(radiobridge.TransportUART)
}

type serialPort struct {
	Path    string
	VIDPID  string
	Product string
	Serial  string
	IsUSB   bool
}

var (
	listPortsFn   = listPorts
	probeDeviceFn = probeDevice
)

func listPorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		ports = append(ports, serialPort{
			Path:    d.Name,
			IsUSB:   d.IsUSB,
			VIDPID:  detection.FormatVIDPID(d.VID, d.PID),
			Product: d.Product,
			Serial:  d.SerialNumber,
		})
	}
	return ports, nil
}

func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPortsFn()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			break
		}
		if device, ok := d.processPort(ctx, &ports[i], opts); ok {
			devices = append(devices, device)
		}
	}
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// processPort rates one port. Passive mode keeps only known boards; probe
// mode keeps only ports that answer.
func (*detector) processPort(ctx context.Context, port *serialPort, opts *detection.Options) (detection.DeviceInfo, bool) {
	if !port.IsUSB {
		return detection.DeviceInfo{}, false
	}
	if port.VIDPID != "" && detection.MatchVIDPID(port.VIDPID, opts.Blocklist) {
		return detection.DeviceInfo{}, false
	}
	if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}

	known := opts.Known
	if len(known) == 0 {
		known = detection.KnownBridges()
	}
	confidence := detection.Low
	if detection.MatchVIDPID(port.VIDPID, known) {
		confidence = detection.Medium
	}

	switch opts.Mode {
	case detection.Passive:
		if confidence < detection.Medium {
			return detection.DeviceInfo{}, false
		}
	case detection.Probe:
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		ok := probeDeviceFn(probeCtx, port.Path)
		cancel()
		if !ok {
			return detection.DeviceInfo{}, false
		}
		confidence = detection.High
	}

	return newDeviceInfo(port, confidence), true
}

func newDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	name := port.Product
	if name == "" {
		name = port.Path[strings.LastIndexAny(port.Path, `/\`)+1:]
	}
	device := detection.DeviceInfo{
		Transport:  string(radiobridge.TransportUART),
		Path:       port.Path,
		Name:       name,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Serial != "" {
		device.Metadata["serial"] = port.Serial
	}
	return device
}

// probeDevice opens path and asks for a stats report. Only a bridge
// answers with a well-formed one.
func probeDevice(ctx context.Context, path string) bool {
	t, err := uart.New(path)
	if err != nil {
		radiobridge.Debugf("detect: open %s: %v", path, err)
		return false
	}
	defer func() { _ = t.Close() }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := client.New(t, client.WithStatusTimeout(radiobridge.StatusTimeout))
	go func() { _ = c.Run(runCtx) }()

	_, err = c.Stats(ctx)
	if err != nil {
		radiobridge.Debugf("detect: probe %s: %v", path, err)
	}
	return err == nil
}
