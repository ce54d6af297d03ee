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

// Package script loads and evaluates recipe scripts — ordinary Go source
// files naming the globals of spec.md §6 — via an embedded yaegi
// interpreter, and implements the scripted phase contract of spec.md §4.6
// (envyscript.Host) against the rest of this repo.
package script

import (
	"fmt"
	"os"
	"reflect"
	"regexp"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kraklabs/envy/pkg/script/envyscript"
)

// Recipe is the parsed result of evaluating one recipe script: the
// spec-level globals of spec.md §6, with each sum-typed phase verb stored
// as `any` for pkg/phases to dispatch on (nil, string, a declarative
// slice, or a func(*envyscript.Phase) ...).
type Recipe struct {
	Identity     string
	Dependencies []envyscript.Dep
	Products     map[string]string

	Check   any // nil | string | func(*envyscript.Phase) (bool, error)
	Fetch   any // nil | string | []envyscript.FetchItem | func(*envyscript.Phase) error
	Stage   any // nil | string | envyscript.ExtractOptions | func(*envyscript.Phase) error
	Build   any // nil | string | func(*envyscript.Phase) (string, error)
	Install any // nil | string | func(*envyscript.Phase) (string, error)

	SourcePath string
}

// Engine loads a recipe script from disk. Its concrete implementation is
// swappable so the phase-contract semantics never depend on which
// scripting language is embedded (spec.md §4.6).
type Engine interface {
	Load(path string) (*Recipe, error)
}

// YaegiEngine evaluates recipe scripts as Go source via
// github.com/traefik/yaegi, grounded on the teacher pack's own use of
// yaegi for sandboxed Go interpretation (theRebelliousNerd-codenerd's
// internal/autopoiesis/yaegi_executor.go): a fresh interpreter per script,
// stdlib symbols plus this package's envyscript symbols registered before
// Eval.
type YaegiEngine struct{}

// NewYaegiEngine constructs a YaegiEngine.
func NewYaegiEngine() *YaegiEngine { return &YaegiEngine{} }

var packageClauseRE = regexp.MustCompile(`(?m)^package\s+(\w+)`)

func (e *YaegiEngine) Load(path string) (*Recipe, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", path, err)
	}

	m := packageClauseRE.FindSubmatch(src)
	if m == nil {
		return nil, fmt.Errorf("script: %s: missing package clause", path)
	}
	pkgName := string(m[1])

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("script: load stdlib symbols: %w", err)
	}
	if err := i.Use(Symbols); err != nil {
		return nil, fmt.Errorf("script: load envyscript symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("script: eval %s: %w", path, err)
	}

	rec := &Recipe{SourcePath: path}

	idVal, err := i.Eval(pkgName + ".IDENTITY")
	if err != nil {
		return nil, fmt.Errorf("script: %s: mandatory IDENTITY not found: %w", path, err)
	}
	id, ok := idVal.Interface().(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("script: %s: IDENTITY must be a non-empty string", path)
	}
	rec.Identity = id

	if v, ok := evalOptional(i, pkgName+".DEPENDENCIES"); ok {
		deps, ok := v.Interface().([]envyscript.Dep)
		if !ok {
			return nil, fmt.Errorf("script: %s: DEPENDENCIES must be []envyscript.Dep", path)
		}
		rec.Dependencies = deps
	}

	if v, ok := evalOptional(i, pkgName+".PRODUCTS"); ok {
		products, ok := v.Interface().(map[string]string)
		if !ok {
			return nil, fmt.Errorf("script: %s: PRODUCTS must be map[string]string", path)
		}
		rec.Products = products
	}

	rec.Check, err = evalVerb(i, pkgName+".CHECK")
	if err != nil {
		return nil, err
	}
	rec.Fetch, err = evalVerb(i, pkgName+".FETCH")
	if err != nil {
		return nil, err
	}
	rec.Stage, err = evalVerb(i, pkgName+".STAGE")
	if err != nil {
		return nil, err
	}
	rec.Build, err = evalVerb(i, pkgName+".BUILD")
	if err != nil {
		return nil, err
	}
	rec.Install, err = evalVerb(i, pkgName+".INSTALL")
	if err != nil {
		return nil, err
	}

	if err := rec.validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// evalOptional evaluates expr and reports whether it resolved to something
// other than a zero Value (an undeclared global evaluates with an error,
// which this treats as "absent" rather than fatal).
func evalOptional(i *interp.Interpreter, expr string) (reflect.Value, bool) {
	v, err := i.Eval(expr)
	if err != nil {
		return reflect.Value{}, false
	}
	return v, true
}

func evalVerb(i *interp.Interpreter, expr string) (any, error) {
	v, err := i.Eval(expr)
	if err != nil {
		// Undeclared verb: nil, matching spec.md §4.7's nil dispatch arms.
		return nil, nil //nolint:nilerr
	}
	return v.Interface(), nil
}

// validate enforces the parse-time rules of spec.md §4.7/§3 that are
// local to one recipe's verbs: a cache-managed recipe needs either a
// fetch verb or both check and install; a user-managed recipe (one that
// declares CHECK) may not also declare fetch/stage/build.
func (r *Recipe) validate() error {
	hasCheck := r.Check != nil
	hasFetch := r.Fetch != nil
	hasStage := r.Stage != nil
	hasBuild := r.Build != nil
	hasInstall := r.Install != nil

	if hasCheck && (hasFetch || hasStage || hasBuild) {
		return fmt.Errorf("script: %s: user-managed recipe (declares CHECK) must not declare fetch/stage/build", r.SourcePath)
	}
	if !hasFetch && !(hasCheck && hasInstall) {
		return fmt.Errorf("script: %s: must declare a fetch verb, or both check and install verbs", r.SourcePath)
	}
	return nil
}
