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

package recipe

import (
	"testing"

	"github.com/kraklabs/envy/pkg/identity"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RemoteSource(t *testing.T) {
	pool := NewPool()
	d, err := Parse(pool, RawRecipe{
		Spec:   "foo.hello@v1",
		Source: &RawSource{URL: "https://example.com/hello.tar.gz", SHA256: "abc"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, d.Source.Kind)
	assert.Equal(t, "abc", d.Source.SHA256)
	assert.Equal(t, phase.Default, d.NeededBy)
}

func TestParse_LocalSourceRelativeToDeclaringFile(t *testing.T) {
	pool := NewPool()
	d, err := Parse(pool, RawRecipe{
		Spec:              "foo.hello@v1",
		Source:            &RawSource{URL: "./vendor/hello"},
		DeclaringFilePath: "/recipes/foo/hello.go",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, d.Source.Kind)
	assert.Equal(t, "/recipes/foo/vendor/hello", d.Source.Path)
}

func TestParse_GitSource(t *testing.T) {
	pool := NewPool()
	d, err := Parse(pool, RawRecipe{
		Spec:   "foo.hello@v1",
		Source: &RawSource{URL: "git+ssh://git@example.com/hello.git", Ref: "main"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceGit, d.Source.Kind)
	assert.Equal(t, "main", d.Source.GitRef)
}

func TestParse_MissingSourceAndWeak(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, RawRecipe{Spec: "foo.hello@v1"}, nil)
	require.Error(t, err)
}

func TestParse_SourceAndWeakMutuallyExclusive(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, RawRecipe{
		Spec:   "foo.hello@v1",
		Source: &RawSource{URL: "https://example.com/x"},
		Weak:   &RawRecipe{Spec: "vendor.hello@r1", Source: &RawSource{URL: "./x"}},
	}, nil)
	require.Error(t, err)
}

func TestParse_ProductOnlyWeakRef(t *testing.T) {
	pool := NewPool()
	d, err := Parse(pool, RawRecipe{Spec: "x.python@any", Product: "python_path"}, nil)
	require.NoError(t, err)
	assert.True(t, d.IsProductOnly())
}

func TestParse_WeakWithFallback(t *testing.T) {
	pool := NewPool()
	d, err := Parse(pool, RawRecipe{
		Spec: "consumer.python@any",
		Weak: &RawRecipe{Spec: "vendor.python@r4", Source: &RawSource{URL: "./python.go"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceWeakRef, d.Source.Kind)
	require.NotNil(t, d.Weak)
	assert.Equal(t, "vendor.python@r4", d.Weak.Identity.String())
}

func TestParse_NestedWeakFallbackRejected(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, RawRecipe{
		Spec: "consumer.python@any",
		Weak: &RawRecipe{
			Spec: "vendor.python@r4",
			Weak: &RawRecipe{Spec: "vendor2.python@r9", Source: &RawSource{URL: "./x"}},
		},
	}, nil)
	require.Error(t, err)
}

func TestParse_NonLocalCannotDependOnLocal(t *testing.T) {
	pool := NewPool()
	parent, err := Parse(pool, RawRecipe{
		Spec:   "foo.hello@v1",
		Source: &RawSource{URL: "https://example.com/x"},
	}, nil)
	require.NoError(t, err)

	_, err = Parse(pool, RawRecipe{
		Spec:   "local.brew@r0",
		Source: &RawSource{URL: "https://example.com/brew"},
	}, parent)
	require.Error(t, err)
}

func TestParse_LocalMayDependOnLocal(t *testing.T) {
	pool := NewPool()
	parent, err := Parse(pool, RawRecipe{
		Spec:   "local.top@r0",
		Source: &RawSource{URL: "https://example.com/x"},
	}, nil)
	require.NoError(t, err)

	_, err = Parse(pool, RawRecipe{
		Spec:   "local.brew@r0",
		Source: &RawSource{URL: "https://example.com/brew"},
	}, parent)
	require.NoError(t, err)
}

func TestParse_CustomFetchFunctionWithSourceDependencies(t *testing.T) {
	pool := NewPool()
	called := false
	d, err := Parse(pool, RawRecipe{
		Spec: "foo.hello@v1",
		Source: &RawSource{
			Custom:       true,
			Dependencies: []RawRecipe{{Spec: "foo.curl@v1", Source: &RawSource{URL: "https://example.com/curl"}}},
			Fetch:        func() { called = true },
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceFetchFunction, d.Source.Kind)
	require.Len(t, d.SourceDependencies, 1)
	assert.Equal(t, "foo.curl@v1", d.SourceDependencies[0].Identity.String())
	_ = called
}

func TestParse_NeededBy(t *testing.T) {
	pool := NewPool()
	d, err := Parse(pool, RawRecipe{
		Spec:     "foo.hello@v1",
		Source:   &RawSource{URL: "https://example.com/x"},
		NeededBy: "install",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, phase.Install, d.NeededBy)
}

func TestParse_InvalidNeededBy(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, RawRecipe{
		Spec:     "foo.hello@v1",
		Source:   &RawSource{URL: "https://example.com/x"},
		NeededBy: "bogus",
	}, nil)
	require.Error(t, err)
}

func TestParse_KeyStability(t *testing.T) {
	pool := NewPool()
	a, err := Parse(pool, RawRecipe{
		Spec:    "foo.hello@v1",
		Source:  &RawSource{URL: "https://example.com/x"},
		Options: identity.Options{"version": "1.0", "arch": "x86_64"},
	}, nil)
	require.NoError(t, err)

	b, err := Parse(pool, RawRecipe{
		Spec:    "foo.hello@v1",
		Source:  &RawSource{URL: "https://example.com/x"},
		Options: identity.Options{"arch": "x86_64", "version": "1.0"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Key().String(), b.Key().String())
}
