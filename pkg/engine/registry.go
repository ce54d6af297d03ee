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
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/envy/pkg/cache"
	"github.com/kraklabs/envy/pkg/errs"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/recipe"
)

// PhaseRunner executes one phase of one package. It is implemented by
// pkg/phases and injected so the engine never imports the concrete phase
// implementations (which themselves need to spawn children back through
// the registry).
type PhaseRunner interface {
	Run(pkg *Package, next phase.Phase) error
}

// Result is the published outcome of a completed package, per
// run_full's return value in spec.md §4.5.
type Result struct {
	ResultHash string
	PkgPath    string
}

// Registry is the engine registry of spec.md §4.5: the packages, aliases
// and execution contexts indices, all guarded by a single mutex that
// never wraps blocking I/O.
type Registry struct {
	mu       sync.Mutex
	packages map[string]*Package
	aliases  map[string]string

	pool  *recipe.Pool
	cache *cache.Cache

	runnerMu sync.RWMutex
	runner   PhaseRunner

	resMu             sync.Mutex
	resCond           *sync.Cond
	specFetchInFlight int64
	weakResolved      bool
}

// NewRegistry builds an empty registry. SetRunner must be called before
// any worker runs a phase; it is separate from the constructor because
// the phase runner typically needs the registry itself to spawn children.
func NewRegistry(pool *recipe.Pool, c *cache.Cache) *Registry {
	r := &Registry{
		packages: make(map[string]*Package),
		aliases:  make(map[string]string),
		pool:     pool,
		cache:    c,
	}
	r.resCond = sync.NewCond(&r.resMu)
	return r
}

// SetRunner installs the phase implementation dispatcher.
func (r *Registry) SetRunner(runner PhaseRunner) {
	r.runnerMu.Lock()
	defer r.runnerMu.Unlock()
	r.runner = runner
}

func (r *Registry) getRunner() PhaseRunner {
	r.runnerMu.RLock()
	defer r.runnerMu.RUnlock()
	return r.runner
}

// Cache returns the registry's content-addressed cache.
func (r *Registry) Cache() *cache.Cache { return r.cache }

// Pool returns the registry's descriptor pool.
func (r *Registry) Pool() *recipe.Pool { return r.pool }

// EnsurePkg returns the existing package for cfg's canonical key, or
// creates and registers a new one. created reports which happened.
func (r *Registry) EnsurePkg(cfg *recipe.Descriptor) (pkg *Package, created bool) {
	key := cfg.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.packages[key.String()]; ok {
		return p, false
	}
	p := &Package{
		Key:                 key,
		Cfg:                 cfg,
		Type:                TypeUnknown,
		Dependencies:        make(map[string]*DependencyEdge),
		ProductDependencies: make(map[string]*ProductDependencyEdge),
		Products:            make(map[string]string),
	}
	p.ExecCtx = NewExecutionContext(nil)
	r.packages[key.String()] = p
	return p, true
}

// RegisterAlias associates alias with key, enforcing that an alias names
// exactly one canonical key for the life of the registry.
func (r *Registry) RegisterAlias(alias, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.aliases[alias]; ok && existing != key {
		return fmt.Errorf("engine: alias %q already registered to %q, cannot rebind to %q", alias, existing, key)
	}
	r.aliases[alias] = key
	return nil
}

// FindExact returns the package registered under the exact canonical key
// string, if any.
func (r *Registry) FindExact(key string) (*Package, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packages[key]
	return p, ok
}

// FindMatches returns every package whose canonical key fuzzy-matches
// query (spec.md §4.1), or whose alias equals query exactly.
func (r *Registry) FindMatches(query string) []*Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[*Package]bool)
	var out []*Package
	for _, p := range r.packages {
		if p.Key.Matches(query) && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if key, ok := r.aliases[query]; ok {
		if p, ok := r.packages[key]; ok && !seen[p] {
			out = append(out, p)
		}
	}
	return out
}

// snapshot returns every currently registered package.
func (r *Registry) snapshot() []*Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Package, 0, len(r.packages))
	for _, p := range r.packages {
		out = append(out, p)
	}
	return out
}

func (r *Registry) incrementSpecFetch() {
	r.resMu.Lock()
	r.specFetchInFlight++
	r.resMu.Unlock()
}

func (r *Registry) decrementSpecFetch() {
	r.resMu.Lock()
	r.specFetchInFlight--
	if r.specFetchInFlight <= 0 {
		r.resCond.Broadcast()
	}
	r.resMu.Unlock()
}

// WaitForResolutionPhase blocks until the count of in-flight spec-fetch
// operations reaches zero, per spec.md §4.4: this lets the engine learn
// the full dependency graph before resolving weak references or running
// later phases.
func (r *Registry) WaitForResolutionPhase() {
	r.resMu.Lock()
	defer r.resMu.Unlock()
	for r.specFetchInFlight > 0 {
		r.resCond.Wait()
	}
}

// markWeakResolutionDone records that RunFull has finished its
// ResolveWeakReferences pass and wakes every worker blocked in
// waitForWeakResolution.
func (r *Registry) markWeakResolutionDone() {
	r.resMu.Lock()
	r.weakResolved = true
	r.resCond.Broadcast()
	r.resMu.Unlock()
}

// waitForWeakResolution blocks until RunFull has resolved weak references
// for the packages spawned during the graph-discovery barrier. Per
// spec.md §4.3, a package's cache address hash folds in
// resolved_weak_dependency_keys, so no worker may enter its check phase
// until that resolution pass has completed — otherwise the hash can be
// computed racing the main goroutine's append to
// ResolvedWeakDependencyKeys, producing a non-deterministic cache key.
func (r *Registry) waitForWeakResolution() {
	r.resMu.Lock()
	defer r.resMu.Unlock()
	for !r.weakResolved {
		r.resCond.Wait()
	}
}

// spawn creates (if needed) the package for cfg, checks it against the
// ancestor chain for a cycle, starts its worker, and raises its target
// phase to at least target. ancestorChain is the chain up to and
// including the spawning package's own identity.
func (r *Registry) spawn(ancestorChain []string, cfg *recipe.Descriptor, target phase.Phase) (*Package, error) {
	childIdentity := cfg.Identity.String()
	for _, anc := range ancestorChain {
		if anc == childIdentity {
			return nil, errs.DependencyCycleErr(append(append([]string{}, ancestorChain...), childIdentity))
		}
	}

	pkg, created := r.EnsurePkg(cfg)
	if created {
		pkg.ExecCtx.AncestorChain = ancestorChain
		r.incrementSpecFetch()
		r.startWorker(pkg)
	}
	pkg.ExecCtx.SetTargetPhase(target)
	return pkg, nil
}

// SpawnChild spawns (or reuses) a package on behalf of parent, extending
// parent's ancestor chain with parent's own identity. Used by the
// spec_fetch phase implementation to wire DEPENDENCIES.
func (r *Registry) SpawnChild(parent *Package, cfg *recipe.Descriptor, target phase.Phase) (*Package, error) {
	chain := append(append([]string{}, parent.ExecCtx.AncestorChain...), parent.Cfg.Identity.String())
	return r.spawn(chain, cfg, target)
}

// SpawnRoot spawns (or reuses) a top-level package with an empty ancestor
// chain, targeting Completion, per run_full in spec.md §4.5.
func (r *Registry) SpawnRoot(cfg *recipe.Descriptor) (*Package, error) {
	return r.spawn(nil, cfg, phase.Completion)
}

// ResolveWeakReferences implements the weak-reference resolution
// algorithm of spec.md §4.5, run once after WaitForResolutionPhase
// returns: for every package's recorded weak references, resolve against
// the now-complete set of known packages, spawning fallbacks as needed.
func (r *Registry) ResolveWeakReferences() error {
	for _, pkg := range r.snapshot() {
		for _, wref := range pkg.WeakReferenceSnapshot() {
			if err := r.resolveOne(pkg, wref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) resolveOne(pkg *Package, wref *WeakReference) error {
	matches := r.FindMatches(wref.Query)
	switch {
	case len(matches) == 1:
		pkg.AddResolvedWeakKey(matches[0].Key.String())
		return nil
	case len(matches) > 1:
		keys := make([]string, len(matches))
		for i, m := range matches {
			keys[i] = m.Key.String()
		}
		return &errs.Error{Kind: errs.AmbiguousWeakReference, Identity: pkg.Key.String(), Message: wref.Query, Matches: keys}
	case wref.Fallback != nil:
		chain := append(append([]string{}, pkg.ExecCtx.AncestorChain...), pkg.Cfg.Identity.String())
		fb, err := r.spawn(chain, wref.Fallback, phase.Completion)
		if err != nil {
			return err
		}
		pkg.AddResolvedWeakKey(fb.Key.String())
		return nil
	default:
		return &errs.Error{Kind: errs.UnresolvedWeakReference, Identity: pkg.Key.String(), Message: wref.Query}
	}
}

// RunFull is the top-level entry point of spec.md §4.5: spawn each root
// at target completion, wait for the full graph to be known, resolve weak
// references, wait for every package to finish, surface the first
// failure, otherwise return a result map keyed by canonical key.
func (r *Registry) RunFull(roots []*recipe.Descriptor) (map[string]Result, error) {
	if r.getRunner() == nil {
		return nil, fmt.Errorf("engine: RunFull called before SetRunner")
	}

	for _, cfg := range roots {
		if _, err := r.SpawnRoot(cfg); err != nil {
			return nil, err
		}
	}

	r.WaitForResolutionPhase()
	if err := r.ResolveWeakReferences(); err != nil {
		// Unblock any worker already parked in waitForWeakResolution before
		// returning, so a failed resolution pass never leaves a package's
		// worker goroutine stuck forever.
		r.markWeakResolutionDone()
		return nil, err
	}
	// Weak-reference resolution may have spawned fallback packages, whose
	// own spec_fetch phases run asynchronously; wait for the graph to
	// settle again before waiting out completions.
	r.WaitForResolutionPhase()
	r.markWeakResolutionDone()

	// Every package's worker is already running in its own goroutine
	// (started by spawn); this fan-out only parallelizes collecting their
	// completion/failure, a fixed-size set known up front from the
	// snapshot, which is exactly the shape errgroup.Group is for.
	all := r.snapshot()
	var g errgroup.Group
	for _, p := range all {
		p := p
		g.Go(func() error {
			if err := p.ExecCtx.WaitUntilCompletionOrFailed(); err != nil {
				return fmt.Errorf("package %s: %w", p.Key.String(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Result, len(all))
	for _, p := range all {
		out[p.Key.String()] = Result{ResultHash: p.ResultHash, PkgPath: p.PkgPath}
	}
	return out, nil
}
