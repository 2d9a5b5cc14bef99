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

package nfc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeyType selects which sector key a MIFARE Classic authentication uses.
// The values are the Crypto1 authentication command codes.
type KeyType byte

const (
	KeyA KeyType = 0x60
	KeyB KeyType = 0x61
)

func (k KeyType) String() string {
	switch k {
	case KeyA:
		return "KeyA"
	case KeyB:
		return "KeyB"
	default:
		return fmt.Sprintf("KeyType(0x%02X)", byte(k))
	}
}

// Valid reports whether k is KeyA or KeyB.
func (k KeyType) Valid() bool {
	return k == KeyA || k == KeyB
}

// KeyLen is the length of a MIFARE Classic sector key.
const KeyLen = 6

// Key is a MIFARE Classic sector key.
type Key [KeyLen]byte

// DefaultKey is the transport key shipped on blank cards.
var DefaultKey = Key{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ParseKey decodes a 12 digit hex key. Spaces and colons are ignored.
func ParseKey(s string) (Key, error) {
	var k Key
	clean := strings.NewReplacer(" ", "", ":", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return k, fmt.Errorf("%w: key %q: %w", ErrParameter, s, err)
	}
	if len(b) != KeyLen {
		return k, fmt.Errorf("%w: key %q must be %d bytes", ErrParameter, s, KeyLen)
	}
	copy(k[:], b)
	return k, nil
}

// String returns the key as uppercase hex
func (k Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// DiversifyKey derives a per-card sector key from a site master secret with
// HKDF-SHA256, using the card UID as salt and the sector number as info.
// Cards personalised with the same derivation can then be authenticated
// without storing per-card keys.
func DiversifyKey(master, uid []byte, sector byte) (Key, error) {
	var k Key
	if len(master) == 0 {
		return k, fmt.Errorf("%w: empty master secret", ErrParameter)
	}
	if len(uid) == 0 || len(uid) > MaxUIDLen {
		return k, fmt.Errorf("%w: uid length %d", ErrParameter, len(uid))
	}
	r := hkdf.New(sha256.New, master, uid, []byte{'m', '1', sector})
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return k, fmt.Errorf("derive sector key: %w", err)
	}
	return k, nil
}
