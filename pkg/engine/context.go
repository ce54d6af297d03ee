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

// Package engine implements the phase state machine (spec.md §4.4) and the
// engine registry (spec.md §4.5): one goroutine per unique package, gated
// by dependency completion, driven by a target-phase that outer callers
// monotonically raise.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/kraklabs/envy/pkg/phase"
)

// notStarted is the sentinel current_phase value before a worker has run
// its first phase (spec_fetch). Phase zero is spec_fetch itself, so -1
// distinguishes "about to run phase 0" from "phase 0 already ran".
const notStarted phase.Phase = -1

// ExecutionContext is the per-package execution state of spec.md §3: a
// monotonically advancing current_phase, a monotonically advancing
// target_phase an outer caller can raise, and the failure/ancestor-chain
// bookkeeping the worker loop and cycle detector need.
type ExecutionContext struct {
	mu   sync.Mutex
	cond *sync.Cond

	targetPhase  phase.Phase
	currentPhase phase.Phase

	started atomic.Bool
	failed  atomic.Bool
	err     error

	// AncestorChain is the list of identity strings from the root to this
	// package's parent, captured at worker start for cycle detection
	// (spec.md §4.4).
	AncestorChain []string
}

// NewExecutionContext builds a context with the given ancestor chain and
// current_phase before spec_fetch has run.
func NewExecutionContext(ancestorChain []string) *ExecutionContext {
	ctx := &ExecutionContext{
		targetPhase:   notStarted,
		currentPhase:  notStarted,
		AncestorChain: ancestorChain,
	}
	ctx.cond = sync.NewCond(&ctx.mu)
	return ctx
}

// CurrentPhase returns the last phase this worker has fully completed
// (notStarted before spec_fetch has run).
func (c *ExecutionContext) CurrentPhase() phase.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPhase
}

// TargetPhase returns the highest phase an outer caller has requested.
func (c *ExecutionContext) TargetPhase() phase.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetPhase
}

// SetTargetPhase installs target if it is strictly greater than the
// current target (a CAS loop under the context's own mutex), and wakes
// the worker. A call with a lower or equal target is a no-op, matching
// spec.md §4.4's "a call with a lower target is a no-op".
func (c *ExecutionContext) SetTargetPhase(target phase.Phase) {
	c.mu.Lock()
	if target > c.targetPhase {
		c.targetPhase = target
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// advance records that phase `next` has just completed and wakes every
// waiter: the worker's own loop (watching target_phase), and any other
// package's worker blocked on this one as a dependency.
func (c *ExecutionContext) advance(next phase.Phase) {
	c.mu.Lock()
	c.currentPhase = next
	c.cond.Broadcast()
	c.mu.Unlock()
}

// waitForTargetAbove blocks until target_phase > current, per the top of
// the worker loop in spec.md §4.4, and returns the phase to run next.
func (c *ExecutionContext) waitForTargetAbove(current phase.Phase) phase.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.targetPhase <= current {
		c.cond.Wait()
	}
	return current + 1
}

// setFailed records the worker's terminal error and wakes every waiter.
func (c *ExecutionContext) setFailed(err error) {
	c.mu.Lock()
	c.err = err
	c.failed.Store(true)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Failed reports whether this package's worker has failed.
func (c *ExecutionContext) Failed() bool { return c.failed.Load() }

// Err returns the stored failure, if any.
func (c *ExecutionContext) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// WaitUntilCompletionOrFailed blocks until current_phase reaches
// Completion or the worker fails, and returns the failure (if any). This
// is the dependency-gating wait of spec.md §4.4's worker loop:
// "wait_until(dep.exec_ctx.current_phase == completion || dep failed)".
func (c *ExecutionContext) WaitUntilCompletionOrFailed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.currentPhase != phase.Completion && !c.failed.Load() {
		c.cond.Wait()
	}
	return c.err
}
