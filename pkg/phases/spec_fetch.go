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

package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraklabs/envy/pkg/engine"
	"github.com/kraklabs/envy/pkg/errs"
	"github.com/kraklabs/envy/pkg/identity"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/recipe"
	"github.com/kraklabs/envy/pkg/script/envyscript"
)

// specFetch implements spec.md §4.7 phase 0: resolve the recipe source to
// an on-disk script file, load it, validate its self-declared IDENTITY,
// then parse DEPENDENCIES into child descriptors and spawn them.
func (r *Runner) specFetch(pkg *engine.Package) error {
	log := r.log(pkg, phase.SpecFetch)

	scriptPath, err := r.resolveSpecPath(pkg.Cfg)
	if err != nil {
		return errs.Wrap(err, pkg.Key.String(), phase.SpecFetch.String(), pkg.Cfg.DeclaringFilePath, ancestry(pkg))
	}

	rec, err := r.Scripts.Load(scriptPath)
	if err != nil {
		return errs.Wrap(err, pkg.Key.String(), phase.SpecFetch.String(), scriptPath, ancestry(pkg))
	}
	if rec.Identity != pkg.Cfg.Identity.String() {
		return &errs.Error{
			Kind:     errs.IdentityMismatch,
			Identity: pkg.Key.String(),
			Phase:    phase.SpecFetch.String(),
			Message:  fmt.Sprintf("script declares IDENTITY %q, descriptor expects %q", rec.Identity, pkg.Cfg.Identity.String()),
		}
	}

	pkg.ScriptMu.Lock()
	pkg.Script = rec
	pkg.ScriptMu.Unlock()

	if rec.Products != nil {
		for name, value := range rec.Products {
			pkg.SetProduct(name, value)
		}
	}

	log.Debug("loaded recipe script", "path", scriptPath, "dependencies", len(rec.Dependencies))

	for _, dep := range rec.Dependencies {
		if err := r.wireDependency(pkg, dep, scriptPath); err != nil {
			return err
		}
	}

	return nil
}

// ancestry returns the identity chain to include in error provenance.
func ancestry(pkg *engine.Package) []string {
	return append(append([]string{}, pkg.ExecCtx.AncestorChain...), pkg.Cfg.Identity.String())
}

// wireDependency converts one DEPENDENCIES entry into a child descriptor
// (or a weak reference / product dependency edge) and, for strong source
// dependencies, spawns the child worker.
func (r *Runner) wireDependency(pkg *engine.Package, dep envyscript.Dep, declaringFile string) error {
	neededBy, err := phase.ParseNeededBy(dep.NeededBy)
	if err != nil {
		return errs.Wrap(err, pkg.Key.String(), phase.SpecFetch.String(), declaringFile, ancestry(pkg))
	}

	switch {
	case dep.Product != "" && dep.Identity == "" && !dep.Weak:
		// Product dependency with no provider constraint: resolved lazily
		// by Phase.Product's fuzzy FindMatches at call time, so there is
		// nothing to wire eagerly here beyond recording the declaration.
		return nil

	case dep.Product != "" && dep.Identity != "":
		matches := r.Registry.FindMatches(dep.Identity)
		var provider *engine.Package
		if len(matches) == 1 {
			provider = matches[0]
		}
		pkg.AddProductDependency(dep.Product, &engine.ProductDependencyEdge{
			Name:               dep.Product,
			NeededBy:           neededBy,
			Provider:           provider,
			ConstraintIdentity: dep.Identity,
		})
		return nil

	case dep.Weak:
		raw, err := depToRawRecipe(dep, declaringFile)
		if err != nil {
			return err
		}
		var fallback *recipe.Descriptor
		if dep.Fallback != nil {
			fbRaw, err := depToRawRecipe(*dep.Fallback, declaringFile)
			if err != nil {
				return err
			}
			fbRaw.Spec = dep.Fallback.Identity
			fallback, err = recipe.Parse(r.Registry.Pool(), fbRaw, pkg.Cfg)
			if err != nil {
				return err
			}
		}
		query := dep.Identity
		if query == "" {
			query = raw.Spec
		}
		pkg.AddWeakReference(&engine.WeakReference{Query: query, Fallback: fallback, NeededBy: neededBy})
		return nil

	default:
		raw, err := depToRawRecipe(dep, declaringFile)
		if err != nil {
			return err
		}
		child, err := recipe.Parse(r.Registry.Pool(), raw, pkg.Cfg)
		if err != nil {
			return errs.Wrap(err, pkg.Key.String(), phase.SpecFetch.String(), declaringFile, ancestry(pkg))
		}
		childPkg, err := r.Registry.SpawnChild(pkg, child, phase.SpecFetch)
		if err != nil {
			return err
		}
		pkg.AddDependency(dep.Identity, &engine.DependencyEdge{Pkg: childPkg, NeededBy: neededBy})
		return nil
	}
}

// depToRawRecipe converts an envyscript.Dep into the language-neutral
// RawRecipe the existing recipe parser accepts.
func depToRawRecipe(dep envyscript.Dep, declaringFile string) (recipe.RawRecipe, error) {
	raw := recipe.RawRecipe{
		Spec:              dep.Identity,
		Options:           identity.Options(dep.Options),
		NeededBy:          dep.NeededBy,
		Product:           dep.Product,
		DeclaringFilePath: declaringFile,
	}

	if dep.Kind == "fetch_function" || dep.FetchFunc != nil {
		subDeps := make([]recipe.RawRecipe, 0, len(dep.SourceDeps))
		for _, sd := range dep.SourceDeps {
			sub, err := depToRawRecipe(sd, declaringFile)
			if err != nil {
				return recipe.RawRecipe{}, err
			}
			subDeps = append(subDeps, sub)
		}
		raw.Source = &recipe.RawSource{Custom: true, Dependencies: subDeps, Fetch: dep.FetchFunc}
		return raw, nil
	}

	if dep.Source != "" {
		raw.Source = &recipe.RawSource{URL: dep.Source, SHA256: dep.SHA256, Ref: dep.Ref}
	}
	return raw, nil
}

// resolveSpecPath resolves desc's source to a concrete recipe script file
// on disk, per spec.md §6's source-kind table and §4.3's spec-cache reuse
// for bundle entries.
func (r *Runner) resolveSpecPath(desc *recipe.Descriptor) (string, error) {
	switch desc.Source.Kind {
	case recipe.SourceLocal:
		return scriptFileIn(desc.Source.Path)

	case recipe.SourceRemote:
		dir, err := os.MkdirTemp(r.ScratchRoot, "envy-spec-")
		if err != nil {
			return "", err
		}
		path, err := r.Fetcher.FetchFile(context.Background(), desc.Source.URL, dir, "")
		if err != nil {
			return "", err
		}
		if desc.Source.SHA256 != "" {
			ok := verifySHA(path, desc.Source.SHA256)
			if !ok {
				return "", &errs.Error{Kind: errs.HashMismatch, Message: fmt.Sprintf("sha256 mismatch for %s", path)}
			}
		}
		return path, nil

	case recipe.SourceGit:
		res, err := r.Registry.Cache().EnsureSpec(desc.Identity.String())
		if err != nil {
			return "", err
		}
		if res.Lock != nil {
			if err := r.Fetcher.Clone(context.Background(), desc.Source.GitURL, desc.Source.GitRef, res.Lock.InstallDir()); err != nil {
				_ = res.Lock.Close()
				return "", err
			}
			res.Lock.MarkInstallComplete()
			if err := res.Lock.Close(); err != nil {
				return "", err
			}
			res, err = r.Registry.Cache().EnsureSpec(desc.Identity.String())
			if err != nil {
				return "", err
			}
		}
		return scriptFileIn(res.PkgPath)

	case recipe.SourceBundle:
		return r.Bundles.ResolveSpecPath(desc.Source.BundleIdentity, desc.Identity.String(), desc.Source.UnderlyingFetchSource)

	case recipe.SourceFetchFunction:
		return r.runCustomSpecFetch(desc)

	default:
		return "", fmt.Errorf("phases: cannot resolve spec source of kind %s", desc.Source.Kind)
	}
}

// scriptFileIn returns path itself if it names a file, or
// path/envy-recipe.go if path is a directory.
func scriptFileIn(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return filepath.Join(path, recipeFileName), nil
	}
	return path, nil
}

// runCustomSpecFetch runs a source.fetch custom function to retrieve the
// recipe script itself, delivering it via the same fetch/commit_fetch
// contract operations a FETCH-phase function uses, into a scratch tmp
// directory (spec.md §6).
func (r *Runner) runCustomSpecFetch(desc *recipe.Descriptor) (string, error) {
	fn, ok := desc.SourceFetchFunc.(func(*envyscript.Phase) error)
	if !ok {
		return "", fmt.Errorf("phases: custom source fetch function has unsupported signature")
	}

	dir, err := os.MkdirTemp(r.ScratchRoot, "envy-spec-fetch-")
	if err != nil {
		return "", err
	}
	host := &scratchHost{runner: r, dir: dir}
	p := envyscript.NewPhase(host)
	defer p.Close()

	if err := fn(p); err != nil {
		return "", err
	}
	return scriptFileIn(dir)
}
