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
	"fmt"
	"log/slog"

	"github.com/kraklabs/envy/pkg/cache"
	"github.com/kraklabs/envy/pkg/engine"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/script/envyscript"
)

// check implements spec.md §4.7 phase 1, the key phase-transition
// decision point: a recipe with a CHECK verb is USER_MANAGED, otherwise
// it is cache-managed and addressed by the content-addressed cache.
func (r *Runner) check(pkg *engine.Package) error {
	rec, err := r.recipeOf(pkg)
	if err != nil {
		return err
	}
	log := r.log(pkg, phase.Check)

	if rec.Check != nil {
		return r.checkUserManaged(pkg, rec.Check, log)
	}
	return r.checkCacheManaged(pkg, log)
}

func (r *Runner) checkUserManaged(pkg *engine.Package, verb any, log *slog.Logger) error {
	pkg.Type = engine.TypeUserManaged

	passed, err := r.runCheckVerb(pkg, verb)
	if err != nil {
		return err
	}
	if passed {
		pkg.ResultHash = "user-managed"
		log.Debug("check verb passed, no installation needed")
		return nil
	}

	hashEntry, hashPrefix := r.addressHash(pkg)
	pkg.CanonicalIdentityHash = hashEntry
	result, err := r.Registry.Cache().EnsureAsset(pkg.Key.ID().String(), r.Platform, r.Arch, hashPrefix)
	if err != nil {
		return err
	}
	if result.Lock == nil {
		// Another process already completed install-complete for this
		// hash, which for a user-managed recipe means nothing: fall
		// through as if check had passed.
		pkg.ResultHash = "user-managed"
		return nil
	}
	result.Lock.MarkUserManaged()

	passed, err = r.runCheckVerb(pkg, verb)
	if err != nil {
		_ = result.Lock.Close()
		return err
	}
	if passed {
		pkg.ResultHash = "user-managed"
		return result.Lock.Close()
	}

	pkg.SetLock(result.Lock)
	return nil
}

func (r *Runner) checkCacheManaged(pkg *engine.Package, log *slog.Logger) error {
	pkg.Type = engine.TypeCacheManaged

	hashEntry, hashPrefix := r.addressHash(pkg)
	pkg.CanonicalIdentityHash = hashEntry

	result, err := r.Registry.Cache().EnsureAsset(pkg.Key.ID().String(), r.Platform, r.Arch, hashPrefix)
	if err != nil {
		return err
	}
	if result.Lock == nil {
		pkg.PkgPath = result.PkgPath
		log.Debug("cache hit", "pkg_path", result.PkgPath)
		if r.Telemetry != nil {
			r.Telemetry.CacheHit(pkg.Key.String(), hashEntry, result.PkgPath)
		}
		return nil
	}

	if r.Telemetry != nil {
		r.Telemetry.CacheMiss(pkg.Key.String(), hashEntry)
	}
	pkg.SetLock(result.Lock)
	return nil
}

func (r *Runner) addressHash(pkg *engine.Package) (canonicalIdentityHash, hashPrefix string) {
	return cache.AddressHash(pkg.Key.String(), pkg.ResolvedWeakKeys())
}

// runCheckVerb dispatches CHECK: a string runs as a shell script whose
// exit code 0 means "pass"; a function returns the boolean directly.
func (r *Runner) runCheckVerb(pkg *engine.Package, verb any) (bool, error) {
	switch v := verb.(type) {
	case string:
		p := r.newPhase(pkg, phase.Check)
		defer p.Close()
		res, err := p.Run(v, envyscript.RunOptions{Check: false})
		if err != nil {
			return false, err
		}
		return res.ExitCode == 0, nil
	case func(*envyscript.Phase) (bool, error):
		p := r.newPhase(pkg, phase.Check)
		defer p.Close()
		return v(p)
	default:
		return false, fmt.Errorf("phases: %s: CHECK has unsupported type %T", pkg.Key, verb)
	}
}
