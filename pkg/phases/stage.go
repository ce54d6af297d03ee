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

	"github.com/kraklabs/envy/pkg/engine"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/script/envyscript"
)

// stage implements spec.md §4.7 phase 3. Its output lands in stage/ when a
// later verb still needs to run as a function against it (BUILD or
// INSTALL being a function means there is more work to do on the staged
// tree before it becomes the asset), or directly in install/ when STAGE
// is the last verb with real work to do.
func (r *Runner) stage(pkg *engine.Package) error {
	if pkg.Lock == nil {
		return nil
	}

	rec, err := r.recipeOf(pkg)
	if err != nil {
		return err
	}

	destDir := pkg.Lock.InstallDir()
	if isFunc(rec.Build) || isFunc(rec.Install) {
		destDir = pkg.Lock.StageDir()
	}

	switch v := rec.Stage.(type) {
	case nil:
		p := r.newPhase(pkg, phase.Stage)
		defer p.Close()
		_, err := p.ExtractAll(p.FetchDir(), destDir, envyscript.ExtractOptions{})
		return err

	case string:
		p := r.newPhase(pkg, phase.Stage)
		defer p.Close()
		_, err := p.Run(v, envyscript.RunOptions{Cwd: destDir})
		return err

	case envyscript.ExtractOptions:
		p := r.newPhase(pkg, phase.Stage)
		defer p.Close()
		_, err := p.ExtractAll(p.FetchDir(), destDir, v)
		return err

	case func(*envyscript.Phase) error:
		p := r.newPhase(pkg, phase.Stage)
		defer p.Close()
		return v(p)

	default:
		return fmt.Errorf("phases: %s: STAGE has unsupported type %T", pkg.Key, rec.Stage)
	}
}

// isFunc reports whether v holds one of the phase-function verb types.
// A later function verb means the preceding verb's output must land in
// stage/ rather than install/, since the function still needs to operate
// on it before the tree is final.
func isFunc(v any) bool {
	if v == nil {
		return false
	}
	switch v.(type) {
	case func(*envyscript.Phase) error,
		func(*envyscript.Phase) (string, error),
		func(*envyscript.Phase) (bool, error):
		return true
	default:
		return false
	}
}
