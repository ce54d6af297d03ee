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

// SourceKind tags which variant of the source union a Source value holds.
// spec.md §3 and §9 call for a tagged sum type here, matched on in phase
// code, rather than an open interface hierarchy.
type SourceKind int

const (
	// SourceRemote fetches a single artifact by URL, optionally verified
	// against a SHA-256 digest.
	SourceRemote SourceKind = iota
	// SourceLocal resolves to a path already on disk, either absolute or
	// relative to the declaring recipe file's directory.
	SourceLocal
	// SourceGit clones a repository at a given ref.
	SourceGit
	// SourceFetchFunction hands fetching to the recipe's own FETCH-phase
	// script function, which receives a fetch-phase context and must call
	// Fetch/CommitFetch itself.
	SourceFetchFunction
	// SourceBundle resolves the recipe's script path via a previously
	// registered bundle (pkg/bundle), rather than a direct transport.
	SourceBundle
	// SourceWeakRef marks this descriptor as a reference-only dependency
	// with no source of its own; its provider is resolved against the live
	// graph at weak-resolution time (see pkg/engine).
	SourceWeakRef
)

func (k SourceKind) String() string {
	switch k {
	case SourceRemote:
		return "remote"
	case SourceLocal:
		return "local"
	case SourceGit:
		return "git"
	case SourceFetchFunction:
		return "fetch_function"
	case SourceBundle:
		return "bundle"
	case SourceWeakRef:
		return "weak_ref"
	default:
		return "unknown"
	}
}

// Source is the tagged union of recipe source kinds from spec.md §3. Only
// the fields relevant to Kind are meaningful; callers must switch on Kind
// before reading them.
type Source struct {
	Kind SourceKind

	// SourceRemote
	URL    string
	SHA256 string // optional

	// SourceLocal
	Path string

	// SourceGit
	GitURL string
	GitRef string

	// SourceFetchFunction: dependencies required to run the custom fetch
	// function are carried on the Descriptor's SourceDependencies, not
	// here, per spec.md §3.

	// SourceBundle
	BundleIdentity        string
	UnderlyingFetchSource *Source
}

// Remote constructs a SourceRemote value.
func Remote(url, sha256 string) Source {
	return Source{Kind: SourceRemote, URL: url, SHA256: sha256}
}

// Local constructs a SourceLocal value.
func Local(path string) Source {
	return Source{Kind: SourceLocal, Path: path}
}

// Git constructs a SourceGit value.
func Git(url, ref string) Source {
	return Source{Kind: SourceGit, GitURL: url, GitRef: ref}
}

// FetchFunction constructs a SourceFetchFunction value.
func FetchFunction() Source {
	return Source{Kind: SourceFetchFunction}
}

// Bundle constructs a SourceBundle value.
func Bundle(bundleIdentity string, underlying *Source) Source {
	return Source{Kind: SourceBundle, BundleIdentity: bundleIdentity, UnderlyingFetchSource: underlying}
}

// WeakRef constructs a SourceWeakRef value.
func WeakRef() Source {
	return Source{Kind: SourceWeakRef}
}
