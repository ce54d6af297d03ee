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

import "sync"

// Pool is a process-wide interning store for recipe descriptors. Emplace
// returns a pointer stable for the process lifetime. Descriptors are
// immutable after construction; interning here only guarantees a stable
// address for back-references (Descriptor.Parent, Descriptor.Weak), not
// structural deduplication — two structurally equal recipes parsed twice
// are allowed to produce two distinct *Descriptor values. Deduplication of
// runtime packages by canonical key is the engine registry's job
// (pkg/engine), not the pool's.
type Pool struct {
	mu    sync.Mutex
	descs []*Descriptor
}

// NewPool constructs an empty descriptor pool.
func NewPool() *Pool {
	return &Pool{}
}

// Emplace stores d in the pool and returns a pool-owned pointer to it. The
// returned pointer is valid for the lifetime of the pool (normally the
// lifetime of one Run, see spec.md §9 Design Notes).
func (p *Pool) Emplace(d Descriptor) *Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	owned := new(Descriptor)
	*owned = d
	p.descs = append(p.descs, owned)
	return owned
}

// All returns every descriptor interned so far, in emplacement order. The
// returned slice is a snapshot; later Emplace calls do not affect it.
func (p *Pool) All() []*Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Descriptor, len(p.descs))
	copy(out, p.descs)
	return out
}

// Len reports how many descriptors have been emplaced.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.descs)
}
