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
	"path/filepath"
	"strings"
)

// KnownBridges returns the VID:PID pairs of boards that run the bridge
// firmware.
func KnownBridges() []string {
	return []string{
		"0D28:0204", // micro:bit (DAPLink CDC)
		"1915:520F", // nRF52840 USB dongle
		"1915:521F", // nRF52840 USB dongle, open bootloader
		"1366:1015", // SEGGER J-Link CDC on nRF52 DK
		"10C4:EA60", // CP210x bridge on CC2530/CC2652 boards
	}
}

// MatchVIDPID reports whether vidpid is in list. Comparison ignores case.
func MatchVIDPID(vidpid string, list []string) bool {
	vidpid = strings.TrimSpace(vidpid)
	for _, entry := range list {
		if strings.EqualFold(vidpid, strings.TrimSpace(entry)) {
			return true
		}
	}
	return false
}

// FormatVIDPID joins USB vendor and product IDs as "VVVV:PPPP". It returns
// "" if either is missing.
func FormatVIDPID(vid, pid string) string {
	vid, pid = strings.TrimSpace(vid), strings.TrimSpace(pid)
	if !isHex(vid) || !isHex(pid) {
		return ""
	}
	return strings.ToUpper(vid) + ":" + strings.ToUpper(pid)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// IsPathIgnored reports whether devicePath is in ignorePaths. Paths are
// cleaned and compared case-insensitively so "COM3" matches "com3".
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	normalized := normalizedPath(devicePath)
	for _, ignore := range ignorePaths {
		if ignore != "" && normalizedPath(ignore) == normalized {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
