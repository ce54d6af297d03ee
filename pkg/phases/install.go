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
	"os"

	"github.com/kraklabs/envy/pkg/cache"
	"github.com/kraklabs/envy/pkg/engine"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/script/envyscript"
)

// install implements spec.md §4.7 phase 5. It takes the scoped entry lock
// out of the package (so only this call may close it), runs INSTALL, and
// then closes the lock under exactly the destruction policy that matches
// the outcome: install-complete on success for a cache-managed package
// (promoting install/ to asset/), the user-managed policy already fixed
// at check time for a user-managed one (checkUserManaged calls
// MarkUserManaged before handing the lock off), or the default abort
// policy on any error.
func (r *Runner) install(pkg *engine.Package) error {
	if pkg.Lock == nil {
		// Cache hit: check already set pkg.PkgPath and there is nothing
		// left to install.
		return nil
	}

	rec, err := r.recipeOf(pkg)
	if err != nil {
		return err
	}

	lock := pkg.TakeLock()
	userManaged := pkg.Type == engine.TypeUserManaged
	cwd := lock.InstallDir()
	if userManaged {
		cwd = r.ProjectRoot
	}

	if rec.Install == nil {
		// Only reachable for a cache-managed recipe: validate() requires an
		// install verb whenever a recipe declares CHECK.
		installed, err := resolveNilInstall(lock)
		if err != nil {
			_ = lock.Close()
			return err
		}
		if installed {
			lock.MarkInstallComplete()
		}
		if err := lock.Close(); err != nil {
			return err
		}
		if installed {
			pkg.PkgPath = lock.AssetDir()
		}
		return nil
	}

	if err := r.runInstallVerb(pkg, rec.Install, cwd); err != nil {
		_ = lock.Close()
		return err
	}

	if userManaged {
		return lock.Close()
	}

	lock.MarkInstallComplete()
	if err := lock.Close(); err != nil {
		return err
	}
	pkg.PkgPath = lock.AssetDir()
	return nil
}

// resolveNilInstall implements spec.md §4.7's nil-INSTALL rule: promote
// whichever of install/ or stage/ already holds the build's output, or
// leave the entry unmarked if neither does (the default abort destruction
// policy then discards the empty entry on Close).
func resolveNilInstall(lock *cache.EntryLock) (bool, error) {
	if dirHasEntries(lock.InstallDir()) {
		return true, nil
	}
	if dirHasEntries(lock.StageDir()) {
		if err := os.Rename(lock.StageDir(), lock.InstallDir()); err != nil {
			return false, fmt.Errorf("phases: promote stage to install: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func (r *Runner) runInstallVerb(pkg *engine.Package, verb any, cwd string) error {
	switch v := verb.(type) {
	case nil:
		return nil

	case string:
		p := r.newPhase(pkg, phase.Install)
		defer p.Close()
		_, err := p.Run(v, envyscript.RunOptions{Cwd: cwd})
		return err

	case func(*envyscript.Phase) (string, error):
		p := r.newPhase(pkg, phase.Install)
		defer p.Close()
		script, err := v(p)
		if err != nil {
			return err
		}
		if script == "" {
			return nil
		}
		_, err = p.Run(script, envyscript.RunOptions{Cwd: cwd})
		return err

	default:
		return fmt.Errorf("phases: %s: INSTALL has unsupported type %T", pkg.Key, verb)
	}
}
