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

// build implements spec.md §4.7 phase 4. Its working tree is wherever
// stage left it: stage/ when INSTALL still has a function of its own to
// run afterward, install/ otherwise (the same destination rule stage.go
// applies).
func (r *Runner) build(pkg *engine.Package) error {
	if pkg.Lock == nil {
		return nil
	}

	rec, err := r.recipeOf(pkg)
	if err != nil {
		return err
	}

	if rec.Build == nil {
		return nil
	}

	buildDir := pkg.Lock.InstallDir()
	if isFunc(rec.Install) {
		buildDir = pkg.Lock.StageDir()
	}

	switch v := rec.Build.(type) {
	case string:
		p := r.newPhase(pkg, phase.Build)
		defer p.Close()
		_, err := p.Run(v, envyscript.RunOptions{Cwd: buildDir})
		return err

	case func(*envyscript.Phase) (string, error):
		p := r.newPhase(pkg, phase.Build)
		defer p.Close()
		script, err := v(p)
		if err != nil {
			return err
		}
		if script == "" {
			return nil
		}
		_, err = p.Run(script, envyscript.RunOptions{Cwd: pkg.Lock.StageDir()})
		return err

	default:
		return fmt.Errorf("phases: %s: BUILD has unsupported type %T", pkg.Key, rec.Build)
	}
}
