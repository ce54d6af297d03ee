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

// Package recipe implements the immutable recipe descriptor and its
// process-wide interning pool (spec.md §3, §4.2).
package recipe

import (
	"fmt"

	"github.com/kraklabs/envy/pkg/identity"
	"github.com/kraklabs/envy/pkg/phase"
)

// Descriptor is an immutable, parsed recipe description. Descriptors are
// never mutated after Pool.Emplace returns them; every field is set once at
// construction.
type Descriptor struct {
	Identity          identity.ID
	Source            Source
	SerializedOptions string // canonical form, "{}" when no options
	NeededBy          phase.Phase
	Parent            *Descriptor // weak back-link; nil for roots
	Weak              *Descriptor // fallback descriptor, set only when Source.Kind == SourceWeakRef

	// SourceDependencies are recipes required to run a custom
	// SourceFetchFunction fetch.
	SourceDependencies []*Descriptor

	// SourceFetchFunc is the custom fetch function itself, set only when
	// Source.Kind == SourceFetchFunction. Untyped here to avoid an import
	// cycle with pkg/script, which defines the concrete phase-context type
	// it accepts; pkg/phases type-asserts it back.
	SourceFetchFunc any

	// Product is set when this descriptor is a product-only dependency
	// (declares no source of its own, just names a product to consume).
	Product string

	DeclaringFilePath string
	BundleIdentity    string // set when loaded from a bundle
}

// Key returns the canonical key for this descriptor (identity + serialized
// options). This is the value used for package deduplication in the engine
// registry and, together with resolved weak keys, for the cache address
// hash.
func (d *Descriptor) Key() identity.Key {
	return identity.Canonicalize(d.Identity, d.SerializedOptions)
}

// IsProductOnly reports whether this descriptor exists only to name a
// product dependency, carrying no source and no weak fallback of its own.
func (d *Descriptor) IsProductOnly() bool {
	return d.Product != "" && d.Source.Kind == SourceWeakRef && d.Weak == nil
}

// Validate checks the parsing rules of spec.md §4.2 that are local to a
// single descriptor (cross-descriptor rules like the local.* dependency
// restriction are enforced by the caller, which has the parent's identity
// to hand).
func (d *Descriptor) Validate() error {
	if d.Source.Kind == SourceWeakRef && d.Weak != nil && d.Weak.Source.Kind == SourceWeakRef {
		return fmt.Errorf("recipe %s: nested weak fallbacks are not permitted", d.Identity)
	}
	return nil
}
