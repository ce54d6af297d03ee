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

package engine

import (
	"sync"

	"github.com/kraklabs/envy/pkg/cache"
	"github.com/kraklabs/envy/pkg/identity"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/recipe"
)

// PackageType distinguishes cache-managed packages (produce an asset/
// under the content-addressed cache) from user-managed ones (run their
// install verb against the project tree and never touch the cache), per
// spec.md §3's package-type invariants.
type PackageType int

const (
	TypeUnknown PackageType = iota
	TypeCacheManaged
	TypeUserManaged
)

func (t PackageType) String() string {
	switch t {
	case TypeCacheManaged:
		return "cache_managed"
	case TypeUserManaged:
		return "user_managed"
	default:
		return "unknown"
	}
}

// DependencyEdge records a resolved strong dependency: the providing
// package and the phase the parent must hold off until that dependency
// reaches.
type DependencyEdge struct {
	Pkg      *Package
	NeededBy phase.Phase
}

// ProductDependencyEdge records a product-name dependency: which package
// provides it, by which phase, and an optional identity constraint the
// provider must match.
type ProductDependencyEdge struct {
	Name               string
	NeededBy           phase.Phase
	Provider           *Package
	ConstraintIdentity string
}

// WeakReference is an unresolved (at spec_fetch time) weak dependency
// awaiting the registry's post-barrier resolution pass (spec.md §4.5).
type WeakReference struct {
	Query    string
	Fallback *recipe.Descriptor
	NeededBy phase.Phase
}

// Package is the mutable runtime state wrapping one interned recipe
// descriptor, one per unique canonical key (spec.md §3).
type Package struct {
	Key     identity.Key
	Cfg     *recipe.Descriptor
	ExecCtx *ExecutionContext

	// ScriptMu guards Script, the scripting state belonging to this
	// package (spec.md §5's lua_mutex). Cross-package script access, such
	// as a custom fetch_function invoked from a dependency's worker, must
	// take the providing package's ScriptMu rather than its own.
	ScriptMu sync.Mutex
	Script   any

	lockMu sync.Mutex
	Lock   *cache.EntryLock

	Type                  PackageType
	CanonicalIdentityHash string
	PkgPath               string
	ResultHash            string

	DeclaredDependencies []string
	OwnedDependencyCfgs  []*recipe.Descriptor

	graphMu                    sync.RWMutex
	Dependencies               map[string]*DependencyEdge
	ProductDependencies        map[string]*ProductDependencyEdge
	WeakReferences             []*WeakReference
	Products                   map[string]string
	ResolvedWeakDependencyKeys []string

	TUISection any
}

// SetLock installs the scoped cache entry lock acquired at a check-phase
// miss. It is cleared by TakeLock when the install phase moves it out of
// the package so only that phase can close it.
func (p *Package) SetLock(l *cache.EntryLock) {
	p.lockMu.Lock()
	defer p.lockMu.Unlock()
	p.Lock = l
}

// TakeLock removes and returns the current lock, per spec.md §4.7's
// install phase: "move the scoped_entry_lock out of the package so it can
// be released only by this phase on success".
func (p *Package) TakeLock() *cache.EntryLock {
	p.lockMu.Lock()
	defer p.lockMu.Unlock()
	l := p.Lock
	p.Lock = nil
	return l
}

// AddDependency wires a resolved strong dependency edge, keyed by the
// identity string as declared (not the canonical key), matching spec.md
// §3's declared_dependencies/dependencies pairing.
func (p *Package) AddDependency(declaredIdentity string, edge *DependencyEdge) {
	p.graphMu.Lock()
	defer p.graphMu.Unlock()
	p.Dependencies[declaredIdentity] = edge
	p.DeclaredDependencies = append(p.DeclaredDependencies, declaredIdentity)
}

// AddProductDependency wires a product-name dependency.
func (p *Package) AddProductDependency(name string, edge *ProductDependencyEdge) {
	p.graphMu.Lock()
	defer p.graphMu.Unlock()
	p.ProductDependencies[name] = edge
}

// AddWeakReference records an unresolved weak reference for the
// registry's post-barrier resolution pass.
func (p *Package) AddWeakReference(w *WeakReference) {
	p.graphMu.Lock()
	defer p.graphMu.Unlock()
	p.WeakReferences = append(p.WeakReferences, w)
}

// SetProduct records a published product value.
func (p *Package) SetProduct(name, value string) {
	p.graphMu.Lock()
	defer p.graphMu.Unlock()
	p.Products[name] = value
}

// Product returns a published product value.
func (p *Package) Product(name string) (string, bool) {
	p.graphMu.RLock()
	defer p.graphMu.RUnlock()
	v, ok := p.Products[name]
	return v, ok
}

// DependencyEdges returns a snapshot of the strong dependency edges.
func (p *Package) DependencyEdges() map[string]*DependencyEdge {
	p.graphMu.RLock()
	defer p.graphMu.RUnlock()
	out := make(map[string]*DependencyEdge, len(p.Dependencies))
	for k, v := range p.Dependencies {
		out[k] = v
	}
	return out
}

// ProductDependencyEdges returns a snapshot of the product dependency
// edges.
func (p *Package) ProductDependencyEdges() map[string]*ProductDependencyEdge {
	p.graphMu.RLock()
	defer p.graphMu.RUnlock()
	out := make(map[string]*ProductDependencyEdge, len(p.ProductDependencies))
	for k, v := range p.ProductDependencies {
		out[k] = v
	}
	return out
}

// WeakReferenceSnapshot returns a copy of the weak references recorded so
// far.
func (p *Package) WeakReferenceSnapshot() []*WeakReference {
	p.graphMu.RLock()
	defer p.graphMu.RUnlock()
	out := make([]*WeakReference, len(p.WeakReferences))
	copy(out, p.WeakReferences)
	return out
}

// AddResolvedWeakKey records a canonical key chosen for a weak reference;
// the set participates in the cache-address hash (spec.md §4.3).
func (p *Package) AddResolvedWeakKey(key string) {
	p.graphMu.Lock()
	defer p.graphMu.Unlock()
	p.ResolvedWeakDependencyKeys = append(p.ResolvedWeakDependencyKeys, key)
}

// ResolvedWeakKeys returns a snapshot of the resolved weak dependency
// keys, in the order they were adopted.
func (p *Package) ResolvedWeakKeys() []string {
	p.graphMu.RLock()
	defer p.graphMu.RUnlock()
	out := make([]string, len(p.ResolvedWeakDependencyKeys))
	copy(out, p.ResolvedWeakDependencyKeys)
	return out
}
