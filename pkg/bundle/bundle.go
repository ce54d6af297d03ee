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

// Package bundle implements spec.md §4.8: a named archive containing a
// manifest (BUNDLE identity + SPECS table) that lets many recipe
// identities share one fetched, extracted, validated tree.
package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kraklabs/envy/internal/extract"
	"github.com/kraklabs/envy/internal/transport"
	"github.com/kraklabs/envy/pkg/cache"
	"github.com/kraklabs/envy/pkg/errs"
	"github.com/kraklabs/envy/pkg/recipe"
	"github.com/kraklabs/envy/pkg/script"
)

// manifestFileName is the conventional manifest file a bundle archive
// must contain at its root.
const manifestFileName = "envy-bundle.go"

// entry is one bundle's loaded, validated state.
type entry struct {
	root  string
	specs map[string]string
}

// Manager fetches, extracts, and validates bundles on first reference,
// then serves resolve_spec_path lookups against the cached result.
type Manager struct {
	cache     *cache.Cache
	fetcher   transport.Fetcher
	extractor extract.Extractor
	scripts   script.Engine

	mu      sync.Mutex
	loading map[string]chan struct{}
	loaded  map[string]*entry
	errs    map[string]error
}

// NewManager constructs a Manager. scripts is used to validate each
// bundled spec file's self-declared IDENTITY against its SPECS key.
func NewManager(c *cache.Cache, fetcher transport.Fetcher, extractor extract.Extractor, scripts script.Engine) *Manager {
	return &Manager{
		cache:     c,
		fetcher:   fetcher,
		extractor: extractor,
		scripts:   scripts,
		loading:   make(map[string]chan struct{}),
		loaded:    make(map[string]*entry),
		errs:      make(map[string]error),
	}
}

// ResolveSpecPath implements spec.md §4.8's resolve_spec_path: fetch and
// validate bundleIdentity's archive on first reference (archiveSource
// describes how), then return the on-disk path to specIdentity's spec
// file within it.
func (m *Manager) ResolveSpecPath(bundleIdentity, specIdentity string, archiveSource *recipe.Source) (string, error) {
	e, err := m.ensureLoaded(bundleIdentity, archiveSource)
	if err != nil {
		return "", err
	}
	rel, ok := e.specs[specIdentity]
	if !ok {
		return "", fmt.Errorf("bundle %s: no spec registered for identity %q", bundleIdentity, specIdentity)
	}
	return filepath.Join(e.root, rel), nil
}

func (m *Manager) ensureLoaded(bundleIdentity string, archiveSource *recipe.Source) (*entry, error) {
	m.mu.Lock()
	if e, ok := m.loaded[bundleIdentity]; ok {
		m.mu.Unlock()
		return e, nil
	}
	if err, ok := m.errs[bundleIdentity]; ok {
		m.mu.Unlock()
		return nil, err
	}
	if ch, ok := m.loading[bundleIdentity]; ok {
		m.mu.Unlock()
		<-ch
		return m.ensureLoaded(bundleIdentity, archiveSource)
	}
	ch := make(chan struct{})
	m.loading[bundleIdentity] = ch
	m.mu.Unlock()

	e, err := m.load(bundleIdentity, archiveSource)

	m.mu.Lock()
	delete(m.loading, bundleIdentity)
	if err != nil {
		m.errs[bundleIdentity] = err
	} else {
		m.loaded[bundleIdentity] = e
	}
	m.mu.Unlock()
	close(ch)

	return e, err
}

func (m *Manager) load(bundleIdentity string, archiveSource *recipe.Source) (*entry, error) {
	if archiveSource == nil {
		return nil, fmt.Errorf("bundle %s: no archive source declared", bundleIdentity)
	}

	res, err := m.cache.EnsureSpec(bundleIdentity)
	if err != nil {
		return nil, err
	}
	root := res.PkgPath
	if res.Lock != nil {
		if err := m.fetchAndExtract(*archiveSource, res.Lock.TmpDir(), res.Lock.InstallDir()); err != nil {
			_ = res.Lock.Close()
			return nil, err
		}
		res.Lock.MarkInstallComplete()
		if err := res.Lock.Close(); err != nil {
			return nil, err
		}
		res, err = m.cache.EnsureSpec(bundleIdentity)
		if err != nil {
			return nil, err
		}
		root = res.PkgPath
	}

	manifestPath := filepath.Join(root, manifestFileName)
	bundleName, specs, err := loadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if bundleName != bundleIdentity {
		return nil, &errs.Error{
			Kind:    errs.MalformedRecipe,
			Message: fmt.Sprintf("bundle manifest declares BUNDLE %q, expected %q", bundleName, bundleIdentity),
		}
	}

	if err := m.validateSpecs(root, specs); err != nil {
		return nil, err
	}

	return &entry{root: root, specs: specs}, nil
}

func (m *Manager) fetchAndExtract(src recipe.Source, tmpDir, destDir string) error {
	ctx := context.Background()
	var archivePath string
	var err error

	switch src.Kind {
	case recipe.SourceRemote:
		archivePath, err = m.fetcher.FetchFile(ctx, src.URL, tmpDir, "")
	case recipe.SourceLocal:
		archivePath, err = m.fetcher.CopyLocal(ctx, src.Path, tmpDir)
	case recipe.SourceGit:
		if err := m.fetcher.Clone(ctx, src.GitURL, src.GitRef, destDir); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("bundle: unsupported archive source kind %s", src.Kind)
	}
	if err != nil {
		return err
	}
	_, err = m.extractor.Extract(archivePath, destDir, 0)
	return err
}

// validateSpecs spawns one validation pass per declared spec in parallel,
// loading (but never executing the phases of) each spec file and
// confirming its self-declared IDENTITY matches the manifest key, per
// spec.md §4.8.
func (m *Manager) validateSpecs(root string, specs map[string]string) error {
	type result struct {
		identity string
		err      error
	}
	out := make(chan result, len(specs))
	for wantIdentity, rel := range specs {
		wantIdentity, rel := wantIdentity, rel
		go func() {
			rec, err := m.scripts.Load(filepath.Join(root, rel))
			if err != nil {
				out <- result{wantIdentity, fmt.Errorf("bundle spec %s (%s): %w", wantIdentity, rel, err)}
				return
			}
			if rec.Identity != wantIdentity {
				out <- result{wantIdentity, fmt.Errorf("bundle spec at %s declares IDENTITY %q, manifest key is %q", rel, rec.Identity, wantIdentity)}
				return
			}
			out <- result{wantIdentity, nil}
		}()
	}

	var firstErr error
	for range specs {
		if r := <-out; r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return firstErr
}

var bundleVarRE = regexp.MustCompile(`(?m)^package\s+(\w+)`)

// loadManifest evaluates a bundle manifest as Go source (the same
// embedded-interpreter approach pkg/script uses for recipe scripts) and
// extracts its two mandatory globals.
func loadManifest(path string) (string, map[string]string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	m := bundleVarRE.FindSubmatch(src)
	if m == nil {
		return "", nil, fmt.Errorf("bundle manifest %s: missing package clause", path)
	}
	pkgName := string(m[1])

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", nil, err
	}
	if _, err := i.Eval(string(src)); err != nil {
		return "", nil, fmt.Errorf("bundle manifest %s: %w", path, err)
	}

	bv, err := i.Eval(pkgName + ".BUNDLE")
	if err != nil {
		return "", nil, fmt.Errorf("bundle manifest %s: missing mandatory BUNDLE: %w", path, err)
	}
	bundleIdentity, ok := bv.Interface().(string)
	if !ok || bundleIdentity == "" {
		return "", nil, fmt.Errorf("bundle manifest %s: BUNDLE must be a non-empty string", path)
	}

	sv, err := i.Eval(pkgName + ".SPECS")
	if err != nil {
		return "", nil, fmt.Errorf("bundle manifest %s: missing mandatory SPECS: %w", path, err)
	}
	specs, ok := sv.Interface().(map[string]string)
	if !ok {
		return "", nil, fmt.Errorf("bundle manifest %s: SPECS must be map[string]string", path)
	}
	for identity, rel := range specs {
		if err := validateSpecPath(rel); err != nil {
			return "", nil, fmt.Errorf("bundle manifest %s: SPECS[%q]: %w", path, identity, err)
		}
	}

	return bundleIdentity, specs, nil
}

// validateSpecPath enforces spec.md §4.8's rule that a SPECS value must be
// a non-empty, non-absolute relative path with no ".." component, so a
// manifest entry can never resolve outside the bundle root it was
// extracted into.
func validateSpecPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("path must not be empty")
	}
	if filepath.IsAbs(rel) {
		return fmt.Errorf("path %q must not be absolute", rel)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return fmt.Errorf("path %q must not contain \"..\" components", rel)
		}
	}
	return nil
}
