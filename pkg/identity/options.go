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

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrUnsupportedOptionType is returned when an options table contains a
// function or other value that cannot be serialized canonically.
var ErrUnsupportedOptionType = errors.New("unsupported option type")

// Options is a recipe option table. Leaves may be nil, bool, int64, float64,
// string, []Options-compatible slices (serialized positionally when keys are
// contiguous 1..n integers), or nested Options maps. Functions anywhere in
// the tree are rejected by SerializeOptions.
type Options map[string]any

// SerializeOptions produces the canonical, deterministic Lua-table-literal
// form described in spec.md §3: keys sorted lexicographically, strings
// quoted and backslash-escaped, arrays serialized positionally, booleans as
// true/false, integers in decimal, floats in full-precision general form,
// tables recursively. An empty or nil table serializes to "{}".
//
// This is a total function over the supported leaf types; anything else
// (in particular func values) returns ErrUnsupportedOptionType.
func SerializeOptions(opts Options) (string, error) {
	if len(opts) == 0 {
		return "{}", nil
	}
	return serializeTable(opts)
}

func serializeTable(t map[string]any) (string, error) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if isContiguousArray(t) {
		parts := make([]string, len(keys))
		for i := 1; i <= len(keys); i++ {
			v, err := serializeValue(t[strconv.Itoa(i)])
			if err != nil {
				return "", err
			}
			parts[i-1] = v
		}
		return "{" + strings.Join(parts, ",") + "}", nil
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := serializeValue(t[k])
		if err != nil {
			return "", err
		}
		parts = append(parts, k+"="+v)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

// isContiguousArray reports whether t's keys are exactly the decimal
// strings "1".."n" for some n >= 1, i.e. it should serialize positionally.
func isContiguousArray(t map[string]any) bool {
	n := len(t)
	for i := 1; i <= n; i++ {
		if _, ok := t[strconv.Itoa(i)]; !ok {
			return false
		}
	}
	return true
}

func serializeValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "nil", nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case string:
		return quoteString(val), nil
	case Options:
		return serializeTable(val)
	case map[string]any:
		return serializeTable(val)
	case []any:
		asTable := make(map[string]any, len(val))
		for i, elem := range val {
			asTable[strconv.Itoa(i+1)] = elem
		}
		return serializeTable(asTable)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedOptionType, v)
	}
}

func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
