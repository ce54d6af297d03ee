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
	"github.com/kraklabs/envy/pkg/engine"
	"github.com/kraklabs/envy/pkg/phase"
)

// completion implements spec.md §4.7 phase 6, the terminal phase every
// worker reaches exactly once. It fixes result_hash, the value other
// packages' dependency resolution and the outer reporting layer read once
// a package is done: the canonical identity hash for a cache-managed
// package, or the fixed "user-managed" marker otherwise.
func (r *Runner) completion(pkg *engine.Package) error {
	if pkg.Type == engine.TypeUserManaged {
		pkg.ResultHash = "user-managed"
	} else if pkg.ResultHash == "" {
		pkg.ResultHash = pkg.CanonicalIdentityHash
	}

	pkg.TUISection = newDoneSection(pkg)
	r.log(pkg, phase.Completion).Info("package complete", "result_hash", pkg.ResultHash, "pkg_path", pkg.PkgPath)
	return nil
}

// doneSection is the terminal TUI state a reporting layer renders once a
// package reaches completion.
type doneSection struct {
	Identity   string
	Type       string
	ResultHash string
	PkgPath    string
}

func newDoneSection(pkg *engine.Package) *doneSection {
	return &doneSection{
		Identity:   pkg.Key.String(),
		Type:       pkg.Type.String(),
		ResultHash: pkg.ResultHash,
		PkgPath:    pkg.PkgPath,
	}
}
