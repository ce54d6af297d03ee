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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kraklabs/envy/pkg/cache"
	"github.com/kraklabs/envy/pkg/errs"
	"github.com/kraklabs/envy/pkg/identity"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/recipe"
)

// TestMain verifies that this package's one-goroutine-per-package worker
// model never leaks a worker past RunFull/WaitUntilCompletionOrFailed
// returning, across every test in the package.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func desc(idStr string, src recipe.Source) *recipe.Descriptor {
	return &recipe.Descriptor{Identity: identity.MustParse(idStr), Source: src}
}

// recordingRunner runs every phase instantly, recording the order phases
// complete in across all packages so tests can assert gating.
type recordingRunner struct {
	mu      sync.Mutex
	order   []string
	fail    map[string]phase.Phase // identity -> phase to fail at
	onPhase func(pkg *Package, next phase.Phase)
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{fail: make(map[string]phase.Phase)}
}

func (r *recordingRunner) Run(pkg *Package, next phase.Phase) error {
	if r.onPhase != nil {
		r.onPhase(pkg, next)
	}
	r.mu.Lock()
	r.order = append(r.order, fmt.Sprintf("%s:%s", pkg.Cfg.Identity.String(), next))
	failAt, shouldFail := r.fail[pkg.Cfg.Identity.String()]
	r.mu.Unlock()
	if shouldFail && failAt == next {
		return fmt.Errorf("injected failure at %s", next)
	}
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	c := cache.New(t.TempDir())
	return NewRegistry(recipe.NewPool(), c)
}

func TestRunFull_SingleRootRunsAllSevenPhases(t *testing.T) {
	r := newTestRegistry(t)
	runner := newRecordingRunner()
	r.SetRunner(runner)

	root := desc("foo.hello@v1", recipe.Remote("https://example.test/hello.tar.gz", ""))
	results, err := r.RunFull([]*recipe.Descriptor{root})
	require.NoError(t, err)

	key := root.Key().String()
	require.Contains(t, results, key)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.order, 7, "all seven phases should have run exactly once")
	assert.Equal(t, fmt.Sprintf("%s:%s", root.Identity.String(), phase.SpecFetch), runner.order[0])
	assert.Equal(t, fmt.Sprintf("%s:%s", root.Identity.String(), phase.Completion), runner.order[6])
}

func TestRunFull_DependencyGatesParentPhase(t *testing.T) {
	r := newTestRegistry(t)
	runner := newRecordingRunner()

	childDesc := desc("foo.child@v1", recipe.Remote("https://example.test/child.tar.gz", ""))
	parentDesc := desc("foo.parent@v1", recipe.Remote("https://example.test/parent.tar.gz", ""))

	// When the parent's spec_fetch phase runs, wire the child as a
	// needed_by=build dependency and spawn it, mimicking pkg/phases.
	runner.onPhase = func(pkg *Package, next phase.Phase) {
		if pkg.Cfg.Identity.String() == parentDesc.Identity.String() && next == phase.SpecFetch {
			child, err := r.SpawnChild(pkg, childDesc, phase.Completion)
			if err != nil {
				panic(err)
			}
			pkg.AddDependency(childDesc.Identity.String(), &DependencyEdge{Pkg: child, NeededBy: phase.Build})
		}
	}
	r.SetRunner(runner)

	_, err := r.RunFull([]*recipe.Descriptor{parentDesc})
	require.NoError(t, err)

	runner.mu.Lock()
	defer runner.mu.Unlock()

	childCompletionIdx := -1
	parentBuildIdx := -1
	for i, entry := range runner.order {
		if entry == fmt.Sprintf("%s:%s", childDesc.Identity.String(), phase.Completion) {
			childCompletionIdx = i
		}
		if entry == fmt.Sprintf("%s:%s", parentDesc.Identity.String(), phase.Build) {
			parentBuildIdx = i
		}
	}
	require.GreaterOrEqual(t, childCompletionIdx, 0)
	require.GreaterOrEqual(t, parentBuildIdx, 0)
	assert.Less(t, childCompletionIdx, parentBuildIdx, "child must reach completion before parent's build phase runs")
}

func TestRunFull_DependencyFailurePropagatesToParent(t *testing.T) {
	r := newTestRegistry(t)
	runner := newRecordingRunner()

	childDesc := desc("foo.child@v1", recipe.Remote("https://example.test/child.tar.gz", ""))
	parentDesc := desc("foo.parent@v1", recipe.Remote("https://example.test/parent.tar.gz", ""))
	runner.fail[childDesc.Identity.String()] = phase.Fetch

	runner.onPhase = func(pkg *Package, next phase.Phase) {
		if pkg.Cfg.Identity.String() == parentDesc.Identity.String() && next == phase.SpecFetch {
			child, err := r.SpawnChild(pkg, childDesc, phase.Completion)
			if err != nil {
				panic(err)
			}
			pkg.AddDependency(childDesc.Identity.String(), &DependencyEdge{Pkg: child, NeededBy: phase.Build})
		}
	}
	r.SetRunner(runner)

	_, err := r.RunFull([]*recipe.Descriptor{parentDesc})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "injected failure")
}

func TestSpawnChild_SelfCycleIsDependencyCycle(t *testing.T) {
	r := newTestRegistry(t)
	runner := newRecordingRunner()

	selfDesc := desc("foo.self@v1", recipe.Remote("https://example.test/self.tar.gz", ""))

	runner.onPhase = func(pkg *Package, next phase.Phase) {
		if next == phase.SpecFetch {
			_, err := r.SpawnChild(pkg, selfDesc, phase.Completion)
			if err != nil {
				pkg.ExecCtx.setFailed(err)
			}
		}
	}
	r.SetRunner(runner)

	_, err := r.RunFull([]*recipe.Descriptor{selfDesc})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.DependencyCycle, e.Kind)
}

func TestResolveWeakReferences_SingleMatchAdopted(t *testing.T) {
	r := newTestRegistry(t)
	runner := newRecordingRunner()

	providerDesc := desc("vendor.python@r5", recipe.Remote("https://example.test/python.tar.gz", ""))
	consumerDesc := desc("foo.consumer@v1", recipe.Remote("https://example.test/consumer.tar.gz", ""))

	runner.onPhase = func(pkg *Package, next phase.Phase) {
		if next != phase.SpecFetch {
			return
		}
		switch pkg.Cfg.Identity.String() {
		case providerDesc.Identity.String():
			// independent root, nothing to wire
		case consumerDesc.Identity.String():
			pkg.AddWeakReference(&WeakReference{Query: "vendor.python", NeededBy: phase.Build})
		}
	}
	r.SetRunner(runner)

	_, err := r.RunFull([]*recipe.Descriptor{providerDesc, consumerDesc})
	require.NoError(t, err)

	consumer, ok := r.FindExact(consumerDesc.Key().String())
	require.True(t, ok)
	assert.Equal(t, []string{providerDesc.Key().String()}, consumer.ResolvedWeakKeys())
}

// TestRunFull_CheckNeverRunsBeforeWeakResolution guards against the race
// where a package's worker enters its check phase (which computes the
// cache address hash from ResolvedWeakKeys) before RunFull's
// ResolveWeakReferences pass has appended to it: the consumer's check
// phase must always observe its weak reference already resolved.
func TestRunFull_CheckNeverRunsBeforeWeakResolution(t *testing.T) {
	r := newTestRegistry(t)
	runner := newRecordingRunner()

	providerDesc := desc("vendor.python@r5", recipe.Remote("https://example.test/python.tar.gz", ""))
	consumerDesc := desc("foo.consumer@v1", recipe.Remote("https://example.test/consumer.tar.gz", ""))

	var sawResolvedAtCheck []string
	runner.onPhase = func(pkg *Package, next phase.Phase) {
		switch next {
		case phase.SpecFetch:
			if pkg.Cfg.Identity.String() == consumerDesc.Identity.String() {
				pkg.AddWeakReference(&WeakReference{Query: "vendor.python", NeededBy: phase.Build})
			}
		case phase.Check:
			if pkg.Cfg.Identity.String() == consumerDesc.Identity.String() {
				sawResolvedAtCheck = pkg.ResolvedWeakKeys()
			}
		}
	}
	r.SetRunner(runner)

	_, err := r.RunFull([]*recipe.Descriptor{providerDesc, consumerDesc})
	require.NoError(t, err)

	require.Len(t, sawResolvedAtCheck, 1, "consumer's check phase must observe its weak reference already resolved")
	assert.Equal(t, providerDesc.Key().String(), sawResolvedAtCheck[0])
}

func TestResolveWeakReferences_ZeroMatchesNoFallbackIsUnresolved(t *testing.T) {
	r := newTestRegistry(t)
	runner := newRecordingRunner()

	consumerDesc := desc("foo.consumer@v1", recipe.Remote("https://example.test/consumer.tar.gz", ""))
	runner.onPhase = func(pkg *Package, next phase.Phase) {
		if next == phase.SpecFetch && pkg.Cfg.Identity.String() == consumerDesc.Identity.String() {
			pkg.AddWeakReference(&WeakReference{Query: "vendor.nonexistent", NeededBy: phase.Build})
		}
	}
	r.SetRunner(runner)

	_, err := r.RunFull([]*recipe.Descriptor{consumerDesc})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.UnresolvedWeakReference, e.Kind)
}

func TestSetTargetPhase_LowerTargetIsNoOp(t *testing.T) {
	ctx := NewExecutionContext(nil)
	ctx.SetTargetPhase(phase.Build)
	ctx.SetTargetPhase(phase.Fetch) // lower, must be ignored
	assert.Equal(t, phase.Build, ctx.TargetPhase())
}

func TestWaitUntilCompletionOrFailed_ReturnsErrorOnFailure(t *testing.T) {
	ctx := NewExecutionContext(nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		ctx.setFailed(fmt.Errorf("boom"))
	}()
	err := ctx.WaitUntilCompletionOrFailed()
	assert.EqualError(t, err, "boom")
}

func TestRegisterAlias_ConflictingRebindRejected(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.RegisterAlias("py", "vendor.python@r5"))
	require.NoError(t, r.RegisterAlias("py", "vendor.python@r5")) // idempotent, same key
	err := r.RegisterAlias("py", "vendor.python@r6")
	assert.Error(t, err)
}
