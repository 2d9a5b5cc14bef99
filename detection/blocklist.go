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

// DefaultBlocklist lists USB adapters known to misbehave when probed.
func DefaultBlocklist() []string {
	return []string{}
}

// IsBlocked reports whether vidpid is on blocklist, ignoring case.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.TrimSpace(vidpid)
	for _, b := range blocklist {
		if strings.EqualFold(vidpid, strings.TrimSpace(b)) {
			return true
		}
	}
	return false
}

// ParseVIDPID normalises descriptors such as "VID:1A86 PID:7523",
// "vendor=1a86 product=7523" or "1a86:7523" to "1A86:7523". It returns ""
// when no pair is found.
func ParseVIDPID(descriptor string) string {
	d := strings.ToUpper(descriptor)
	vid := hexAfter(d, "VID:", "VENDOR=", "VID=")
	pid := hexAfter(d, "PID:", "PRODUCT=", "PID=")
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}
	if a, b, ok := strings.Cut(d, ":"); ok && isHex(a) && isHex(b) {
		return d
	}
	return ""
}

// hexAfter returns the hex run following the first key found in s.
func hexAfter(s string, keys ...string) string {
	for _, k := range keys {
		if idx := strings.Index(s, k); idx >= 0 {
			return extractHex(s[idx+len(k):])
		}
	}
	return ""
}

func extractHex(s string) string {
	s = strings.TrimLeft(s, " ")
	end := strings.IndexFunc(s, func(r rune) bool { return !isHexRune(r) })
	if end < 0 {
		return s
	}
	return s[:end]
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

func isHex(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !isHexRune(r) }) < 0
}

// IsPathIgnored reports whether devicePath matches one of ignorePaths after
// cleaning. The comparison ignores case so COM ports match on Windows.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	dev := normalizedPath(devicePath)
	for _, p := range ignorePaths {
		if p != "" && (p == devicePath || normalizedPath(p) == dev) {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
