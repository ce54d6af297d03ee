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
	"fmt"
	"path/filepath"

	"github.com/kraklabs/envy/internal/transport"
	"github.com/kraklabs/envy/pkg/identity"
	"github.com/kraklabs/envy/pkg/phase"
)

// RawSource is the language-neutral wire form of a recipe's `source` field
// (spec.md §6): either a plain URL/path string, or a table declaring a
// custom fetch function with its own source dependencies.
type RawSource struct {
	// URL, when Custom is false, is the URL or local path string. It is
	// classified via internal/transport to decide remote/git/local.
	URL    string
	SHA256 string
	Ref    string

	// Custom marks `source = {dependencies = [...], fetch = function}`.
	Custom       bool
	Dependencies []RawRecipe
	// Fetch is untyped here to avoid an import cycle with pkg/script,
	// which defines the concrete phase-context type the function accepts.
	// Phase implementations (pkg/phases) type-assert it back.
	Fetch any
}

// RawRecipe is the language-neutral wire form of a recipe table (spec.md
// §6): the fields a recipe/dependency declaration may set, independent of
// the scripting language used to express it.
type RawRecipe struct {
	Spec     string // identity string; required unless a product-only weak ref
	Source   *RawSource
	Options  identity.Options
	NeededBy string // one of the six spellings, or "" for default
	Product  string
	Weak     *RawRecipe // mutually exclusive with Source

	DeclaringFilePath string
}

// Parse converts a RawRecipe into an interned *Descriptor, applying every
// rule in spec.md §4.2: source is mandatory unless the descriptor is a
// product-only weak reference; exactly one of source/weak is allowed;
// needed_by must be one of the six spellings; options must not contain
// functions; product, when present, must be non-empty; nested weak
// fallbacks are rejected; a non-local.* parent may not declare a local.*
// dependency.
func Parse(pool *Pool, raw RawRecipe, parent *Descriptor) (*Descriptor, error) {
	if raw.Source != nil && raw.Weak != nil {
		return nil, fmt.Errorf("recipe %s: source and weak are mutually exclusive", raw.Spec)
	}

	productOnly := raw.Source == nil && raw.Weak == nil
	if productOnly && raw.Product == "" {
		return nil, fmt.Errorf("recipe %s: source is mandatory unless this is a product-only weak reference", raw.Spec)
	}

	id, err := identity.Parse(raw.Spec)
	if err != nil {
		return nil, err
	}

	if parent != nil && !parent.Identity.IsLocal() && id.IsLocal() {
		return nil, fmt.Errorf("recipe %s: non-local recipe %s may not declare a local.* dependency", parent.Identity, id)
	}

	neededBy, err := phase.ParseNeededBy(raw.NeededBy)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", raw.Spec, err)
	}

	ser, err := identity.SerializeOptions(raw.Options)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", raw.Spec, err)
	}

	desc := Descriptor{
		Identity:          id,
		SerializedOptions: ser,
		NeededBy:          neededBy,
		Parent:            parent,
		Product:           raw.Product,
		DeclaringFilePath: raw.DeclaringFilePath,
	}

	var sourceDeps []*Descriptor
	switch {
	case raw.Source != nil:
		src, deps, err := resolveSource(pool, *raw.Source, raw.DeclaringFilePath, &desc)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", raw.Spec, err)
		}
		desc.Source = src
		sourceDeps = deps

	case raw.Weak != nil:
		desc.Source = WeakRef()
		fallback, err := Parse(pool, *raw.Weak, parent)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: weak fallback: %w", raw.Spec, err)
		}
		if fallback.Source.Kind == SourceWeakRef {
			return nil, fmt.Errorf("recipe %s: nested weak fallbacks are not permitted", raw.Spec)
		}
		desc.Weak = fallback

	default: // productOnly
		desc.Source = WeakRef()
	}

	desc.SourceDependencies = sourceDeps

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return pool.Emplace(desc), nil
}

// resolveSource classifies raw's URL (when not a custom fetch function)
// into remote/git/local and resolves local paths relative to the
// declaring file's directory, per spec.md §6.
func resolveSource(pool *Pool, raw RawSource, declaringFilePath string, desc *Descriptor) (Source, []*Descriptor, error) {
	if raw.Custom {
		deps := make([]*Descriptor, 0, len(raw.Dependencies))
		for _, d := range raw.Dependencies {
			pd, err := Parse(pool, d, desc.Parent)
			if err != nil {
				return Source{}, nil, err
			}
			deps = append(deps, pd)
		}
		desc.SourceFetchFunc = raw.Fetch
		return FetchFunction(), deps, nil
	}

	switch transport.Classify(raw.URL) {
	case transport.KindGit:
		return Git(raw.URL, raw.Ref), nil, nil
	case transport.KindRemote:
		return Remote(raw.URL, raw.SHA256), nil, nil
	default:
		path := raw.URL
		if !filepath.IsAbs(path) && declaringFilePath != "" {
			path = filepath.Join(filepath.Dir(declaringFilePath), path)
		}
		return Local(path), nil, nil
	}
}
