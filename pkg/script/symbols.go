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
	"reflect"

	"github.com/traefik/yaegi/interp"

	"github.com/kraklabs/envy/pkg/script/envyscript"
)

// envyscriptPath is the import path recipe scripts use to pull in the
// scripted phase contract: `import "github.com/kraklabs/envy/pkg/script/envyscript"`.
const envyscriptPath = "github.com/kraklabs/envy/pkg/script/envyscript/envyscript"

// Symbols is the yaegi export table for envyscript, built the same way
// the teacher's yaegi_executor.go registers stdlib.Symbols: a
// map[string]map[string]reflect.Value keyed by import path then
// identifier. This is how a compiled Go package becomes importable by
// interpreted recipe scripts.
var Symbols = interp.Exports{
	envyscriptPath: {
		"Dep":            reflect.ValueOf((*envyscript.Dep)(nil)),
		"FetchItem":      reflect.ValueOf((*envyscript.FetchItem)(nil)),
		"RunOptions":     reflect.ValueOf((*envyscript.RunOptions)(nil)),
		"RunResult":      reflect.ValueOf((*envyscript.RunResult)(nil)),
		"ExtractOptions": reflect.ValueOf((*envyscript.ExtractOptions)(nil)),
		"Phase":          reflect.ValueOf((*envyscript.Phase)(nil)),
		"Host":           reflect.ValueOf((*envyscript.Host)(nil)),

		"Extend":   reflect.ValueOf(envyscript.Extend),
		"Template": reflect.ValueOf(envyscript.Template),

		"ErrOutOfPhaseContext":  reflect.ValueOf(&envyscript.ErrOutOfPhaseContext).Elem(),
		"ErrDependencyNotReady": reflect.ValueOf(&envyscript.ErrDependencyNotReady).Elem(),
	},
}
