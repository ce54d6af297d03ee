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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id, err := Parse("foo.hello@v1")
	require.NoError(t, err)
	assert.Equal(t, "foo", id.Namespace)
	assert.Equal(t, "hello", id.Name)
	assert.Equal(t, "v1", id.Revision)
	assert.Equal(t, "foo.hello@v1", id.String())
}

func TestParse_MalformedCases(t *testing.T) {
	cases := []string{
		"",
		"nodot@v1",
		"foo.missingat",
		".name@v1",
		"foo.@v1",
		"foo.name@",
	}
	for _, c := range cases {
		_, err := Parse(c)
		require.Error(t, err, c)
		assert.True(t, errors.Is(err, ErrMalformed), c)
	}
}

func TestParse_RevisionMayContainAt(t *testing.T) {
	// Only the first '@' delimits name from revision; later '@'s belong to
	// the revision segment (e.g. a pinned email-shaped git ref).
	id, err := Parse("foo.bar@sha256@deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "sha256@deadbeef", id.Revision)
}

func TestIsLocal(t *testing.T) {
	assert.True(t, MustParse("local.brew@r0").IsLocal())
	assert.False(t, MustParse("foo.brew@r0").IsLocal())
}

func TestCanonicalize_EmptyOptions(t *testing.T) {
	id := MustParse("foo.hello@v1")
	k := Canonicalize(id, "{}")
	assert.Equal(t, "foo.hello@v1", k.String())
}

func TestCanonicalize_WithOptions(t *testing.T) {
	id := MustParse("foo.hello@v1")
	k := Canonicalize(id, `{arch="x86_64",version="1.0"}`)
	assert.Equal(t, `foo.hello@v1{arch="x86_64",version="1.0"}`, k.String())
}

func TestMatches(t *testing.T) {
	k := Canonicalize(MustParse("vendor.python@r5"), "{}")

	matching := []string{
		"vendor.python@r5",
		"python",
		"vendor.python",
		"python@r5",
	}
	for _, q := range matching {
		assert.True(t, k.Matches(q), q)
	}

	nonMatching := []string{
		"vendor",
		"r5",
		"vendor.python@r4",
		"other.python@r5",
		"",
	}
	for _, q := range nonMatching {
		assert.False(t, k.Matches(q), q)
	}
}

func TestMatches_WithOptionsSuffix(t *testing.T) {
	k := Canonicalize(MustParse("vendor.python@r5"), `{arch="x86_64"}`)
	assert.True(t, k.Matches(`vendor.python@r5{arch="x86_64"}`))
	assert.True(t, k.Matches("python"))
	// "identity alone" matches even when the key carries options.
	assert.True(t, k.Matches("vendor.python@r5"))
	assert.False(t, k.Matches(`other.python@r5{arch="x86_64"}`))
}
