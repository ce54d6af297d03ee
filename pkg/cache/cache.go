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

package cache

import (
	"fmt"
	"os"
	"sync"
)

// Cache owns the process-wide locking state for every entry this process
// touches. The in-process mutex named by entry path prevents two threads
// in the same process from racing for the same OS file lock; order is
// always in-process first, then file lock, released in reverse (spec.md
// §4.3).
type Cache struct {
	layout Layout

	mu       sync.Mutex
	inflight map[string]*sync.Mutex // entry root -> in-process mutex
}

// New constructs a Cache rooted at root.
func New(root string) *Cache {
	return &Cache{
		layout:   NewLayout(root),
		inflight: make(map[string]*sync.Mutex),
	}
}

// Layout exposes the cache's path layout for callers that need to compute
// paths without acquiring a lock (e.g. read-only status reporting).
func (c *Cache) Layout() Layout { return c.layout }

func (c *Cache) namedMutex(entryRoot string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.inflight[entryRoot]
	if !ok {
		m = new(sync.Mutex)
		c.inflight[entryRoot] = m
	}
	return m
}

// Result is returned by EnsureAsset/EnsureSpec: on a cache hit, PkgPath is
// set and Lock is nil; on a miss, Lock is non-nil and the caller owns the
// lifetime of the staging directories until it closes the lock.
type Result struct {
	PkgPath string
	Lock    *EntryLock
}

// EnsureAsset implements spec.md §4.3's ensure_asset: acquire (or detect
// completion of) the cache entry addressed by
// (identity, platform, arch, hashPrefix).
func (c *Cache) EnsureAsset(identity, platform, arch, hashPrefix string) (Result, error) {
	entry := c.layout.EntryAt(identity, platform, arch, hashPrefix)
	return c.ensure(entry)
}

// EnsureSpec implements spec.md §4.3's ensure_spec: acquire (or detect
// completion of) the cache entry for a bundle's spec archive, addressed
// solely by identity (bundle entries do not vary by platform/arch/hash
// prefix — every consumer of a bundle shares the one extracted tree).
func (c *Cache) EnsureSpec(identity string) (Result, error) {
	entry := c.layout.EntryAt(identity, "any", "any", "spec")
	return c.ensure(entry)
}

func (c *Cache) ensure(entry Entry) (Result, error) {
	mu := c.namedMutex(entry.Root)
	mu.Lock()

	if err := os.MkdirAll(entry.Root, 0o755); err != nil {
		mu.Unlock()
		return Result{}, fmt.Errorf("cache: %w", err)
	}

	fl, err := acquireFileLock(entry.LockFile())
	if err != nil {
		mu.Unlock()
		return Result{}, fmt.Errorf("cache: acquire file lock: %w", err)
	}

	if fileExists(entry.InstallCompleteFile()) {
		_ = fl.Unlock()
		mu.Unlock()
		if !fileExists(entry.AssetDir()) {
			// CacheCorruption: marker present but asset missing. Recovery
			// is to remove the entry and retry once, per spec.md §7.
			return c.recoverCorruptEntry(entry)
		}
		return Result{PkgPath: entry.AssetDir()}, nil
	}

	if fileExists(entry.EntryTreeRoot()) {
		// entry/ exists but no completion marker: a crashed prior attempt.
		// Remove it and proceed as a fresh miss.
		if err := os.RemoveAll(entry.EntryTreeRoot()); err != nil {
			_ = fl.Unlock()
			mu.Unlock()
			return Result{}, fmt.Errorf("cache: crash recovery: %w", err)
		}
	}

	for _, dir := range []string{entry.FetchDir(), entry.StageDir(), entry.TmpDir(), entry.InstallDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = fl.Unlock()
			mu.Unlock()
			return Result{}, fmt.Errorf("cache: %w", err)
		}
	}

	lock := &EntryLock{
		entry:    entry,
		fileLock: fl,
		procMu:   mu,
	}
	return Result{Lock: lock}, nil
}

func (c *Cache) recoverCorruptEntry(entry Entry) (Result, error) {
	mu := c.namedMutex(entry.Root)
	mu.Lock()

	fl, err := acquireFileLock(entry.LockFile())
	if err != nil {
		mu.Unlock()
		return Result{}, fmt.Errorf("cache: corruption recovery: %w", err)
	}

	err = os.RemoveAll(entry.Root)
	_ = fl.Unlock()
	mu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("cache: corruption recovery: %w", err)
	}
	return c.ensure(entry)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
