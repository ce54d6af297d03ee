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

// Package cache implements the content-addressed cache: per-entry directory
// layout, process-wide and cross-process locking, completion markers, and
// crash-safe promotion (spec.md §3, §4.3).
package cache

import "path/filepath"

const (
	fetchCompleteMarker   = "envy-fetch-complete"
	installCompleteMarker = "envy-install-complete"
	lockFileName          = ".lock"
	assetDirName          = "asset"
	entryDirName           = "entry"
)

// Layout resolves the on-disk paths for one cache entry, given the
// identity/platform/arch/hash-prefix tuple spec.md §3 addresses entries by.
//
//	<cache_root>/<identity>/<platform>-<arch>/<hash_prefix>/
//	    entry/{fetch,stage,tmp,install}/
//	    asset
//	    envy-fetch-complete
//	    envy-install-complete
//	    .lock
type Layout struct {
	Root string
}

// NewLayout constructs a Layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// EntryRoot returns the top-level directory for one addressed entry.
func (l Layout) EntryRoot(identity, platform, arch, hashPrefix string) string {
	return filepath.Join(l.Root, identity, platform+"-"+arch, hashPrefix)
}

// Entry resolves every path under one entry's root.
type Entry struct {
	Root string
}

// EntryAt returns the Entry rooted at the given identity/platform/arch/hash
// tuple.
func (l Layout) EntryAt(identity, platform, arch, hashPrefix string) Entry {
	return Entry{Root: l.EntryRoot(identity, platform, arch, hashPrefix)}
}

func (e Entry) entryDir() string        { return filepath.Join(e.Root, entryDirName) }
func (e Entry) FetchDir() string        { return filepath.Join(e.entryDir(), "fetch") }
func (e Entry) StageDir() string        { return filepath.Join(e.entryDir(), "stage") }
func (e Entry) TmpDir() string          { return filepath.Join(e.entryDir(), "tmp") }
func (e Entry) InstallDir() string      { return filepath.Join(e.entryDir(), "install") }
func (e Entry) AssetDir() string        { return filepath.Join(e.Root, assetDirName) }
func (e Entry) LockFile() string        { return filepath.Join(e.Root, lockFileName) }
func (e Entry) FetchCompleteFile() string {
	return filepath.Join(e.Root, fetchCompleteMarker)
}
func (e Entry) InstallCompleteFile() string {
	return filepath.Join(e.Root, installCompleteMarker)
}

// EntryTreeRoot returns the entry/ directory itself, the subtree removed
// wholesale on crash recovery or abort.
func (e Entry) EntryTreeRoot() string { return e.entryDir() }
