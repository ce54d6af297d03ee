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

package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/envy/pkg/cache"
	"github.com/kraklabs/envy/pkg/engine"
	"github.com/kraklabs/envy/pkg/identity"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/recipe"
	"github.com/kraklabs/envy/pkg/script/envyscript"
)

func TestUniqueBasename(t *testing.T) {
	seen := make(map[string]int)
	assert.Equal(t, "a.tar.gz", uniqueBasename(seen, "a.tar.gz"))
	assert.Equal(t, "a-2.tar.gz", uniqueBasename(seen, "a.tar.gz"))
	assert.Equal(t, "a-3.tar.gz", uniqueBasename(seen, "a.tar.gz"))
	assert.Equal(t, "b", uniqueBasename(seen, "b"))
}

func TestGitCloneDirName(t *testing.T) {
	assert.Equal(t, "repo", gitCloneDirName("https://example.test/org/repo.git"))
	assert.Equal(t, "repo", gitCloneDirName("https://example.test/org/repo"))
	assert.Equal(t, "repo", gitCloneDirName("git@example.test:org/repo.git"))
	assert.Equal(t, "repo", gitCloneDirName("https://example.test/"))
}

// noopRunner runs every phase instantly with no side effects, enough to
// drive a package through the worker loop to Completion for these tests.
type noopRunner struct{}

func (noopRunner) Run(pkg *engine.Package, next phase.Phase) error { return nil }

func descFor(t *testing.T, idStr string) *recipe.Descriptor {
	t.Helper()
	return &recipe.Descriptor{
		Identity: identity.MustParse(idStr),
		Source:   recipe.Remote("https://example.test/pkg.tar.gz", ""),
	}
}

func TestPhaseHost_Package_DependencyNotReadyBeforeNeededBy(t *testing.T) {
	r := engine.NewRegistry(recipe.NewPool(), cache.New(t.TempDir()))
	r.SetRunner(noopRunner{})

	childDesc := descFor(t, "foo.child@v1")
	_, err := r.RunFull([]*recipe.Descriptor{childDesc})
	require.NoError(t, err)
	child, ok := r.FindExact(childDesc.Key().String())
	require.True(t, ok)
	child.PkgPath = "/cache/child"

	parentDesc := descFor(t, "foo.parent@v1")
	parent, _ := r.EnsurePkg(parentDesc)
	parent.AddDependency("foo.child", &engine.DependencyEdge{Pkg: child, NeededBy: phase.Build})

	host := NewPhaseHost(parent, r, nil, nil, nil, nil, phase.Fetch, nil)
	_, err = host.Package("foo.child")
	assert.ErrorIs(t, err, envyscript.ErrDependencyNotReady)
}

func TestPhaseHost_Package_ReturnsPkgPathOncePhaseReached(t *testing.T) {
	r := engine.NewRegistry(recipe.NewPool(), cache.New(t.TempDir()))
	r.SetRunner(noopRunner{})

	childDesc := descFor(t, "foo.child@v1")
	_, err := r.RunFull([]*recipe.Descriptor{childDesc})
	require.NoError(t, err)
	child, ok := r.FindExact(childDesc.Key().String())
	require.True(t, ok)
	child.PkgPath = "/cache/child"

	parentDesc := descFor(t, "foo.parent@v1")
	parent, _ := r.EnsurePkg(parentDesc)
	parent.AddDependency("foo.child", &engine.DependencyEdge{Pkg: child, NeededBy: phase.Build})

	host := NewPhaseHost(parent, r, nil, nil, nil, nil, phase.Install, nil)
	path, err := host.Package("foo.child")
	require.NoError(t, err)
	assert.Equal(t, "/cache/child", path)
}

func TestPhaseHost_Product_UnknownNameErrors(t *testing.T) {
	r := engine.NewRegistry(recipe.NewPool(), cache.New(t.TempDir()))
	parentDesc := descFor(t, "foo.parent@v1")
	parent, _ := r.EnsurePkg(parentDesc)

	host := NewPhaseHost(parent, r, nil, nil, nil, nil, phase.Build, nil)
	_, err := host.Product("missing")
	assert.Error(t, err)
}

func TestPhaseHost_Product_ReturnsPublishedValueOncePhaseReached(t *testing.T) {
	r := engine.NewRegistry(recipe.NewPool(), cache.New(t.TempDir()))
	r.SetRunner(noopRunner{})

	providerDesc := descFor(t, "foo.provider@v1")
	_, err := r.RunFull([]*recipe.Descriptor{providerDesc})
	require.NoError(t, err)
	provider, ok := r.FindExact(providerDesc.Key().String())
	require.True(t, ok)
	provider.SetProduct("libfoo", "/cache/provider/lib/libfoo.so")

	parentDesc := descFor(t, "foo.consumer@v1")
	parent, _ := r.EnsurePkg(parentDesc)
	parent.AddProductDependency("libfoo", &engine.ProductDependencyEdge{Name: "libfoo", NeededBy: phase.Build, Provider: provider})

	host := NewPhaseHost(parent, r, nil, nil, nil, nil, phase.Install, nil)
	v, err := host.Product("libfoo")
	require.NoError(t, err)
	assert.Equal(t, "/cache/provider/lib/libfoo.so", v)
}
