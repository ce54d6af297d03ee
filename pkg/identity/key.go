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

package identity

import "strings"

// Key is a canonical key: an identity plus, when options are present, its
// serialized option table appended literally ("identity{k=v,...}"). It is
// both the engine's package-deduplication key and the input to the cache
// address hash.
type Key struct {
	id  ID
	ser string // serialized options, "{}" when empty
	str string // full canonical string, memoized
}

// Canonicalize builds the canonical key for id with the given serialized
// options string (as produced by SerializeOptions). Two descriptors with
// the same identity and options produce byte-identical keys regardless of
// the insertion order of the original option table, because ser is already
// canonical by construction.
func Canonicalize(id ID, ser string) Key {
	if ser == "" {
		ser = "{}"
	}
	str := id.String()
	if ser != "{}" {
		str += ser
	}
	return Key{id: id, ser: ser, str: str}
}

// String returns the canonical key string.
func (k Key) String() string { return k.str }

// ID returns the parsed identity this key was built from.
func (k Key) ID() ID { return k.id }

// Options returns the canonical serialized option string ("{}" if none).
func (k Key) Options() string { return k.ser }

// Matches implements the fuzzy rule of spec.md §4.1: query matches this key
// iff it equals one of the five forms: the full canonical key, the
// identity alone, the name alone, "namespace.name", or "name@revision". No
// other forms match; this is for CLI convenience and weak-dependency
// resolution, never for canonical identification.
func (k Key) Matches(query string) bool {
	if query == k.str || query == k.id.String() {
		return true
	}
	if query == k.id.Name {
		return true
	}
	if query == k.id.Namespace+"."+k.id.Name {
		return true
	}
	if query == k.id.Name+"@"+k.id.Revision {
		return true
	}
	return false
}

// ParseQuery normalizes a query string by trimming surrounding whitespace.
// It does not check the query's shape and never returns an error, since any
// string is a legal (if unlikely to match) query.
func ParseQuery(query string) string {
	return strings.TrimSpace(query)
}
