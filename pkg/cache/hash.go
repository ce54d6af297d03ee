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

package cache

import "github.com/kraklabs/envy/internal/hashutil"

// AddressHash computes the cache-address hash of spec.md §4.3: BLAKE3 over
// the canonical key plus the canonical keys of every resolved weak
// dependency, in that order, separated by "|". Weak resolution must have
// already run before this is called, so the hash is deterministic across
// runs that observe the same candidate set.
//
// CanonicalIdentityHash returns the full 64-hex-char digest; HashPrefix
// returns the first 16 hex chars (8 bytes) used as the cache directory
// segment.
func AddressHash(canonicalKey string, resolvedWeakKeys []string) (canonicalIdentityHash, hashPrefix string) {
	parts := make([]string, 0, 1+len(resolvedWeakKeys))
	parts = append(parts, canonicalKey)
	parts = append(parts, resolvedWeakKeys...)

	digest := hashutil.CacheAddressDigest(parts...)
	return hashutil.HexDigest(digest), hashutil.PrefixHex(digest, 8)
}
