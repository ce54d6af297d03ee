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

package script

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/envy/internal/extract"
	"github.com/kraklabs/envy/internal/hashutil"
	"github.com/kraklabs/envy/internal/shellexec"
	"github.com/kraklabs/envy/internal/transport"
	"github.com/kraklabs/envy/pkg/engine"
	"github.com/kraklabs/envy/pkg/errs"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/script/envyscript"
)

// PhaseHost implements envyscript.Host against one package's live state:
// its cache entry lock for directories, internal/transport for fetches,
// internal/extract for archives, internal/shellexec for run, and the
// engine registry for Package/Product dependency lookups. One PhaseHost
// is constructed per dispatched phase call by pkg/phases.
type PhaseHost struct {
	Pkg       *engine.Package
	Registry  *engine.Registry
	Fetcher   transport.Fetcher
	Extractor extract.Extractor
	Shell     shellexec.Runner
	ScriptEng Engine
	Log       *slog.Logger

	// CurrentPhase is the phase this host's FETCH/STAGE/BUILD/INSTALL/CHECK
	// invocation belongs to, used to enforce the DependencyNotReady rule
	// on Package/Product lookups (spec.md §4.6).
	CurrentPhase phase.Phase
}

// NewPhaseHost builds a PhaseHost. log defaults to slog.Default() if nil.
func NewPhaseHost(pkg *engine.Package, reg *engine.Registry, fetcher transport.Fetcher, ex extract.Extractor, sh shellexec.Runner, se Engine, current phase.Phase, log *slog.Logger) *PhaseHost {
	if log == nil {
		log = slog.Default()
	}
	return &PhaseHost{
		Pkg:          pkg,
		Registry:     reg,
		Fetcher:      fetcher,
		Extractor:    ex,
		Shell:        sh,
		ScriptEng:    se,
		CurrentPhase: current,
		Log:          log.With("identity", pkg.Key.String(), "phase", current.String()),
	}
}

func (h *PhaseHost) lock() *engine.Package { return h.Pkg }

func (h *PhaseHost) FetchDir() string {
	if h.Pkg.Lock == nil {
		return ""
	}
	return h.Pkg.Lock.FetchDir()
}

func (h *PhaseHost) StageDir() string {
	if h.Pkg.Lock == nil {
		return ""
	}
	return h.Pkg.Lock.StageDir()
}

func (h *PhaseHost) TmpDir() string {
	if h.Pkg.Lock == nil {
		return ""
	}
	return h.Pkg.Lock.TmpDir()
}

func (h *PhaseHost) InstallDir() string {
	if h.Pkg.Lock == nil {
		return ""
	}
	return h.Pkg.Lock.InstallDir()
}

func (h *PhaseHost) WorkDir() string {
	if h.Pkg.Lock == nil {
		return ""
	}
	return h.Pkg.Lock.WorkDir()
}

// Fetch downloads every item into destDir, classifying each source string
// via internal/transport.Classify and dispatching to the matching
// Fetcher method. Collisions in the derived basename are disambiguated by
// appending "-2", "-3", ... before the extension, so two items that would
// otherwise overwrite each other both survive.
func (h *PhaseHost) Fetch(items []envyscript.FetchItem, destDir string) ([]string, error) {
	if destDir == "" {
		destDir = h.FetchDir()
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	seen := make(map[string]int, len(items))
	out := make([]string, 0, len(items))
	ctx := context.Background()

	for _, item := range items {
		kind := transport.Classify(item.Source)
		var path string
		var err error

		switch kind {
		case transport.KindGit:
			base := uniqueBasename(seen, gitCloneDirName(item.Source))
			dest := filepath.Join(destDir, base)
			if err = h.Fetcher.Clone(ctx, item.Source, item.Ref, dest); err != nil {
				return out, errs.Wrap(err, h.Pkg.Key.String(), phase.Fetch.String(), "", nil)
			}
			path = dest
		case transport.KindLocal:
			path, err = h.Fetcher.CopyLocal(ctx, item.Source, destDir)
			if err != nil {
				return out, errs.Wrap(err, h.Pkg.Key.String(), phase.Fetch.String(), "", nil)
			}
		default:
			base := uniqueBasename(seen, filepath.Base(item.Source))
			path, err = h.Fetcher.FetchFile(ctx, item.Source, destDir, base)
			if err != nil {
				return out, errs.Wrap(err, h.Pkg.Key.String(), phase.Fetch.String(), "", nil)
			}
		}

		if item.SHA256 != "" && kind != transport.KindGit {
			ok, err := hashutil.VerifySHA256File(path, item.SHA256)
			if err != nil {
				return out, err
			}
			if !ok {
				return out, &errs.Error{
					Kind:     errs.HashMismatch,
					Message:  fmt.Sprintf("sha256 mismatch for %s", path),
					Identity: h.Pkg.Key.String(),
					Phase:    phase.Fetch.String(),
				}
			}
		}
		out = append(out, filepath.Base(path))
	}
	return out, nil
}

// CommitFetch verifies every item's SHA-256 (when given) against the path
// already present in the fetch phase's tmp directory, then moves all of
// them into fetch/ together. Verification runs for every item before any
// move happens, so a later mismatch never leaves fetch/ partially
// populated (spec.md §4.6).
func (h *PhaseHost) CommitFetch(items []envyscript.FetchItem) error {
	tmp := h.TmpDir()
	dest := h.FetchDir()
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	srcPaths := make([]string, 0, len(items))
	for _, item := range items {
		base := filepath.Base(item.Source)
		src := filepath.Join(tmp, base)
		if item.SHA256 != "" {
			ok, err := hashutil.VerifySHA256File(src, item.SHA256)
			if err != nil {
				return err
			}
			if !ok {
				return &errs.Error{
					Kind:     errs.HashMismatch,
					Message:  fmt.Sprintf("sha256 mismatch for %s", src),
					Identity: h.Pkg.Key.String(),
					Phase:    phase.Fetch.String(),
				}
			}
		}
		srcPaths = append(srcPaths, src)
	}

	for _, src := range srcPaths {
		dst := filepath.Join(dest, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("script: commit fetch %s: %w", src, err)
		}
	}
	if h.Pkg.Lock != nil {
		return h.Pkg.Lock.MarkFetchComplete()
	}
	return nil
}

func (h *PhaseHost) VerifyHash(path, sha256 string) bool {
	ok, err := hashutil.VerifySHA256File(path, sha256)
	return err == nil && ok
}

func (h *PhaseHost) Extract(archive, dest string, opts envyscript.ExtractOptions) (int, error) {
	if dest == "" {
		dest = h.StageDir()
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, err
	}
	return h.Extractor.Extract(archive, dest, opts.Strip)
}

func (h *PhaseHost) ExtractAll(srcDir, destDir string, opts envyscript.ExtractOptions) (int, error) {
	if srcDir == "" {
		srcDir = h.FetchDir()
	}
	if destDir == "" {
		destDir = h.StageDir()
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := h.Extractor.Extract(filepath.Join(srcDir, e.Name()), destDir, opts.Strip)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (h *PhaseHost) Run(script string, opts envyscript.RunOptions) (envyscript.RunResult, error) {
	res, err := h.Shell.Run(context.Background(), script, shellexec.Options{
		Cwd:         opts.Cwd,
		Env:         opts.Env,
		Shell:       shellexec.Shell(opts.Shell),
		Capture:     opts.Capture,
		Check:       opts.Check,
		Quiet:       opts.Quiet,
		Interactive: opts.Interactive,
	})
	out := envyscript.RunResult{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	if err != nil {
		return out, &errs.Error{
			Kind:     errs.ShellFailure,
			Message:  err.Error(),
			Identity: h.Pkg.Key.String(),
			Phase:    h.CurrentPhase.String(),
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}
	return out, nil
}

// Package returns the pkg_path of a declared strong or weak source
// dependency named by identity (matched the same way the engine matches
// a weak reference query: exact canonical key, identity, name,
// namespace.name, or name@revision). It refuses with DependencyNotReady
// when the dependency has not yet reached the needed_by phase declared
// for it.
func (h *PhaseHost) Package(identityQuery string) (string, error) {
	edge, ok := h.Pkg.DependencyEdges()[identityQuery]
	if !ok {
		// Declared identity strings are keyed by the identity string as
		// written in the recipe; fall back to a registry-wide fuzzy match
		// for convenience when the script passes a different spelling.
		matches := h.Registry.FindMatches(identityQuery)
		if len(matches) != 1 {
			return "", fmt.Errorf("script: %s: no unique dependency matches %q", h.Pkg.Key, identityQuery)
		}
		dep := matches[0]
		if dep.ExecCtx.CurrentPhase() < phase.Completion {
			return "", envyscript.ErrDependencyNotReady
		}
		return dep.PkgPath, nil
	}

	if !phase.GatesBefore(edge.NeededBy, h.CurrentPhase) {
		return "", envyscript.ErrDependencyNotReady
	}
	if err := edge.Pkg.ExecCtx.WaitUntilCompletionOrFailed(); err != nil {
		return "", err
	}
	return edge.Pkg.PkgPath, nil
}

// Product returns the resolved value of a declared product dependency.
func (h *PhaseHost) Product(name string) (string, error) {
	edge, ok := h.Pkg.ProductDependencyEdges()[name]
	if !ok {
		return "", fmt.Errorf("script: %s: no product dependency named %q declared", h.Pkg.Key, name)
	}
	if !phase.GatesBefore(edge.NeededBy, h.CurrentPhase) {
		return "", envyscript.ErrDependencyNotReady
	}
	if err := edge.Provider.ExecCtx.WaitUntilCompletionOrFailed(); err != nil {
		return "", err
	}
	v, ok := edge.Provider.Product(name)
	if !ok {
		return "", fmt.Errorf("script: %s: dependency %s never published product %q", h.Pkg.Key, edge.Provider.Key, name)
	}
	return v, nil
}

// LoadEnvSpec loads and evaluates a module file from a declared
// dependency's own source tree, used by recipes that pull in shared
// script helpers from another package's pkg_path. Best-effort: it returns
// the recipe's DEPENDENCIES/PRODUCTS tables flattened into a map, since
// the scripted phase contract has no richer module-import concept than
// that (spec.md §4.6).
func (h *PhaseHost) LoadEnvSpec(identityQuery, modulePath string) (map[string]any, error) {
	pkgPath, err := h.Package(identityQuery)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(pkgPath, modulePath)
	rec, err := h.ScriptEng.Load(full)
	if err != nil {
		return nil, fmt.Errorf("script: load env spec %s: %w", full, err)
	}
	return map[string]any{
		"identity":     rec.Identity,
		"dependencies": rec.Dependencies,
		"products":     rec.Products,
	}, nil
}

func (h *PhaseHost) Trace(msg string) { h.Log.Debug(msg, "level", "trace") }
func (h *PhaseHost) Debug(msg string) { h.Log.Debug(msg) }
func (h *PhaseHost) Info(msg string)  { h.Log.Info(msg) }
func (h *PhaseHost) Warn(msg string)  { h.Log.Warn(msg) }
func (h *PhaseHost) Error(msg string) { h.Log.Error(msg) }
func (h *PhaseHost) Stdout(msg string) {
	fmt.Println(msg)
}

// uniqueBasename returns base, or base disambiguated with a "-N" suffix
// before its extension if base has already been claimed in seen.
func uniqueBasename(seen map[string]int, base string) string {
	n := seen[base]
	seen[base] = n + 1
	if n == 0 {
		return base
	}
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	if filepath.Ext(stem) == ".tar" {
		ext = ".tar" + ext
		stem = stem[:len(stem)-len(".tar")]
	}
	return fmt.Sprintf("%s-%d%s", stem, n+1, ext)
}

// gitCloneDirName derives a directory name for a git clone destination
// from its URL, stripping a trailing ".git" suffix. A URL with no path
// after its host ("https://example.test/") falls back to "repo".
func gitCloneDirName(url string) string {
	base := filepath.Base(url)
	if i := strings.Index(url, "://"); i >= 0 && !strings.Contains(strings.TrimRight(url[i+3:], "/"), "/") {
		base = ""
	}
	if len(base) > 4 && base[len(base)-4:] == ".git" {
		base = base[:len(base)-4]
	}
	if base == "" || base == "." || base == "/" {
		base = "repo"
	}
	return base
}
