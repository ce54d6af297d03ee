// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package hashutil wraps the hash primitives spec.md §1 treats as an
// out-of-scope external collaborator: SHA-256 for fetch/commit integrity
// verification, BLAKE3 for the cache-address hash.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// SHA256File returns the lowercase hex SHA-256 digest of the file at path.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySHA256File reports whether the file at path hashes to want (a
// lowercase hex digest). An empty want always verifies, matching the
// "sha256?" optional-verification semantics in spec.md §6.
func VerifySHA256File(path, want string) (bool, error) {
	if want == "" {
		return true, nil
	}
	got, err := SHA256File(path)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// CacheAddressDigest computes the 32-byte BLAKE3 digest over parts, joined
// with "|" in the order given. spec.md §4.3 specifies this is computed over
// the canonical key plus the canonical keys of every resolved weak
// dependency, in that order, after weak resolution has completed.
func CacheAddressDigest(parts ...string) [32]byte {
	h := blake3.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte("|"))
		}
		h.Write([]byte(p))
	}
	var out [32]byte
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out
}

// HexDigest returns the full 64-hex-character form of a 32-byte digest.
func HexDigest(d [32]byte) string {
	return hex.EncodeToString(d[:])
}

// PrefixHex returns the first n bytes of d as hex, used to build the cache
// directory segment (spec.md §4.3 uses the first 8 bytes, 16 hex chars).
func PrefixHex(d [32]byte, n int) string {
	if n > len(d) {
		n = len(d)
	}
	return hex.EncodeToString(d[:n])
}
