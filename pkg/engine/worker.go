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

	"github.com/kraklabs/envy/pkg/phase"
)

// startWorker launches pkg's worker goroutine exactly once, guarded by
// the execution context's started flag (spec.md §3's "started, CAS-guarded").
func (r *Registry) startWorker(pkg *Package) {
	if !pkg.ExecCtx.started.CompareAndSwap(false, true) {
		return
	}
	go r.runWorker(pkg)
}

// runWorker is the per-package worker loop of spec.md §4.4.
func (r *Registry) runWorker(pkg *Package) {
	ctx := pkg.ExecCtx
	runner := r.getRunner()

	for {
		next := ctx.waitForTargetAbove(ctx.CurrentPhase())

		// The cache address hash computed during check folds in
		// resolved_weak_dependency_keys (spec.md §4.3), so no worker may
		// enter check until RunFull's ResolveWeakReferences pass has
		// finished appending to it.
		if next == phase.Check {
			r.waitForWeakResolution()
		}

		if err := r.waitOnDependencies(pkg, next); err != nil {
			ctx.setFailed(err)
			return
		}

		err := runner.Run(pkg, next)
		if next == phase.SpecFetch {
			r.decrementSpecFetch()
		}
		if err != nil {
			ctx.setFailed(err)
			return
		}

		ctx.advance(next)
		if next == phase.Completion {
			return
		}
	}
}

// waitOnDependencies blocks until every dependency gating phase `next`
// has reached completion, per spec.md §4.4: "for (dep, info) in
// r.dependencies: if next >= info.needed_by: wait_until(...)".
func (r *Registry) waitOnDependencies(pkg *Package, next phase.Phase) error {
	for identity, edge := range pkg.DependencyEdges() {
		if !phase.GatesBefore(edge.NeededBy, next) {
			continue
		}
		if err := edge.Pkg.ExecCtx.WaitUntilCompletionOrFailed(); err != nil {
			return fmt.Errorf("dependency %s (%s) failed: %w", identity, edge.Pkg.Key.String(), err)
		}
	}
	for name, edge := range pkg.ProductDependencyEdges() {
		if edge.Provider == nil || !phase.GatesBefore(edge.NeededBy, next) {
			continue
		}
		if err := edge.Provider.ExecCtx.WaitUntilCompletionOrFailed(); err != nil {
			return fmt.Errorf("product dependency %s (%s) failed: %w", name, edge.Provider.Key.String(), err)
		}
	}
	return nil
}
