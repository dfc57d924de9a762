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
	"time"

	"github.com/ZaparooProject/go-radiobridge/internal/syncutil"
)

type cacheEntry struct {
	stored  time.Time
	devices []DeviceInfo
}

var (
	cacheEntries = make(map[string]cacheEntry)
	cacheMu      syncutil.RWMutex
)

// getCached returns a copy of the devices cached for transport if they are
// younger than ttl.
func getCached(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	cacheMu.RLock()
	defer cacheMu.RUnlock()

	entry, ok := cacheEntries[transport]
	if !ok || time.Since(entry.stored) > ttl {
		return nil, false
	}
	return append([]DeviceInfo(nil), entry.devices...), true
}

func setCached(transport string, devices []DeviceInfo) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cacheEntries[transport] = cacheEntry{
		devices: append([]DeviceInfo(nil), devices...),
		stored:  time.Now(),
	}
}

func clearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	clear(cacheEntries)
}

func clearCacheForTransport(transport string) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	delete(cacheEntries, transport)
}
