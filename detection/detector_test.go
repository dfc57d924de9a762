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

package detection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	calls     atomic.Int32
}

func (f *fakeDetector) Detect(_ context.Context, _ *Options) ([]DeviceInfo, error) {
	f.calls.Add(1)
	return f.devices, f.err
}

func (f *fakeDetector) Transport() string {
	return f.transport
}

func withRegistry(t *testing.T, detectors ...Detector) {
	t.Helper()
	registryMu.Lock()
	saved := registry
	registry = detectors
	registryMu.Unlock()
	clearCache()
	t.Cleanup(func() {
		registryMu.Lock()
		registry = saved
		registryMu.Unlock()
		clearCache()
	})
}

func TestDeviceInfo_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		expected string
		device   DeviceInfo
	}{
		{
			name:     "medium",
			device:   DeviceInfo{Transport: "uart", Path: "/dev/ttyACM0", Confidence: Medium},
			expected: "uart device at /dev/ttyACM0 (confidence: medium)",
		},
		{
			name:     "high",
			device:   DeviceInfo{Transport: "uart", Path: "COM4", Confidence: High},
			expected: "uart device at COM4 (confidence: high)",
		},
		{
			name:     "unknown",
			device:   DeviceInfo{Transport: "uart", Path: "/dev/ttyUSB1", Confidence: Confidence(9)},
			expected: "uart device at /dev/ttyUSB1 (confidence: unknown)",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, tc.device.String())
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	assert.Equal(t, Probe, opts.Mode)
	assert.True(t, opts.EnableCache)
	assert.Equal(t, KnownBridges(), opts.Known)
}

func TestMatchVIDPID(t *testing.T) {
	t.Parallel()
	assert.True(t, MatchVIDPID("0d28:0204", KnownBridges()))
	assert.True(t, MatchVIDPID(" 1915:520F ", KnownBridges()))
	assert.False(t, MatchVIDPID("1A86:7523", KnownBridges()))
	assert.False(t, MatchVIDPID("", nil))
}

func TestFormatVIDPID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0D28:0204", FormatVIDPID("0d28", "0204"))
	assert.Empty(t, FormatVIDPID("", "0204"))
	assert.Empty(t, FormatVIDPID("0d28", "xyz"))
}

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		path   string
		ignore []string
		want   bool
	}{
		{name: "exact", path: "/dev/ttyACM0", ignore: []string{"/dev/ttyACM0"}, want: true},
		{name: "case", path: "COM3", ignore: []string{"com3"}, want: true},
		{name: "unclean", path: "/dev/ttyACM0", ignore: []string{"/dev/../dev/ttyACM0"}, want: true},
		{name: "other", path: "/dev/ttyACM1", ignore: []string{"/dev/ttyACM0"}},
		{name: "empty entry", path: "/dev/ttyACM1", ignore: []string{""}},
		{name: "empty path", path: "", ignore: []string{""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsPathIgnored(tc.path, tc.ignore))
		})
	}
}

//nolint:paralleltest // replaces the detector registry
func TestDetectAll_MergesAndCaches(t *testing.T) {
	uart := &fakeDetector{transport: "uart", devices: []DeviceInfo{
		{Transport: "uart", Path: "/dev/ttyACM0", Metadata: map[string]string{"vidpid": "0D28:0204"}},
		{Transport: "uart", Path: "/dev/ttyACM1"},
	}}
	broken := &fakeDetector{transport: "usb", err: errors.New("permission denied")}
	withRegistry(t, uart, broken)

	opts := DefaultOptions()
	devices, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	opts.IgnorePaths = []string{"/dev/ttyACM1"}
	devices, err = DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyACM0", devices[0].Path)
	assert.Equal(t, int32(1), uart.calls.Load(), "second run served from cache")

	opts.Blocklist = []string{"0d28:0204"}
	_, err = DetectAll(context.Background(), &opts)
	require.ErrorContains(t, err, "permission denied")
}

//nolint:paralleltest // replaces the detector registry
func TestDetectAll_NothingFound(t *testing.T) {
	empty := &fakeDetector{transport: "uart", err: ErrNoDevicesFound}
	withRegistry(t, empty)

	opts := DefaultOptions()
	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)

	opts.Transports = []string{"spi"}
	_, err = DetectAll(context.Background(), &opts)
	require.Error(t, err)
}

//nolint:paralleltest // replaces the detector registry
func TestDetectAll_EmptyResultClearsCache(t *testing.T) {
	d := &fakeDetector{transport: "uart", devices: []DeviceInfo{{Path: "/dev/ttyACM0"}}}
	withRegistry(t, d)

	setCached("uart", d.devices)
	opts := DefaultOptions()
	opts.CacheTTL = time.Nanosecond
	time.Sleep(time.Millisecond)

	d.devices = nil
	d.err = ErrNoDevicesFound
	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)

	_, found := getCached("uart", time.Hour)
	assert.False(t, found)
}
