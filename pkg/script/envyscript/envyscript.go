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

// Package envyscript is the surface a recipe script imports: the scripted
// phase contract of spec.md §4.6. Recipe scripts are ordinary Go source
// files evaluated by the embedded yaegi interpreter (see pkg/script); they
// import this package exactly as compiled Go code would, and every
// operation here is a plain method on the *Phase handle a phase function
// receives as its argument.
package envyscript

import "fmt"

// Dep is one entry of a recipe's DEPENDENCIES table (spec.md §6). It
// mirrors the manifest/recipe-script field table of spec.md §6 rather
// than the narrower identity-string lookups Phase.Package/Phase.Product
// take at phase-call time: a DEPENDENCIES entry must carry enough of its
// own source to let spec_fetch construct a full descriptor for the child
// package.
type Dep struct {
	Identity string

	// Source fields; Source is empty for a product-only or
	// weak-reference-without-source dependency. Kind, when non-empty,
	// overrides the scheme-based classification of Source ("remote",
	// "local", "git", "fetch_function", "bundle").
	Source string
	SHA256 string
	Ref    string // git ref
	Kind   string

	// FetchFunc and SourceDeps are set when Kind == "fetch_function": a
	// custom source.fetch running in the parent's script state, plus the
	// dependencies it needs before it can run (spec.md §6).
	FetchFunc  any
	SourceDeps []Dep

	NeededBy string // one of check, import, fetch, stage, build (default), install
	Product  string // set when this entry names a product dependency instead of a source
	Weak     bool
	Fallback *Dep // fallback recipe when Weak is true
	Options  map[string]any
}

// FetchItem is one entry of a declarative FETCH/STAGE table or the array
// form accepted by Fetch (spec.md §4.6).
type FetchItem struct {
	Source string
	SHA256 string
	Ref    string
}

// RunOptions mirrors the opts table accepted by Run.
type RunOptions struct {
	Cwd         string
	Env         map[string]string
	Shell       string
	Capture     bool
	Check       bool
	Quiet       bool
	Interactive bool
}

// RunResult mirrors Run's {exit_code, stdout?, stderr?} return value.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExtractOptions mirrors the opts table accepted by Extract/ExtractAll.
type ExtractOptions struct {
	Strip int
}

// ErrOutOfPhaseContext is raised when a contract operation that requires a
// live phase is invoked outside of one (e.g. at script global scope),
// per spec.md §4.6.
var ErrOutOfPhaseContext = fmt.Errorf("envyscript: operation called outside of a live phase context")

// ErrDependencyNotReady is raised by Package/Product when the current
// phase has not yet passed the dependency's declared needed_by.
var ErrDependencyNotReady = fmt.Errorf("envyscript: dependency not ready")

// Extend appends every element of each source list to target and returns
// the result. Pure convenience (spec.md §4.6). Kept non-generic (plain
// []string) rather than type-parameterized: the embedded interpreter
// resolves this package's exports via reflection, and reflect.ValueOf
// cannot represent an uninstantiated generic function.
func Extend(target []string, sources ...[]string) []string {
	for _, s := range sources {
		target = append(target, s...)
	}
	return target
}

// Template performs simple `{name}`-style substitution into format using
// values. Pure convenience (spec.md §4.6).
func Template(format string, values map[string]string) string {
	out := make([]byte, 0, len(format))
	i := 0
	for i < len(format) {
		if format[i] == '{' {
			end := i + 1
			for end < len(format) && format[end] != '}' {
				end++
			}
			if end < len(format) {
				key := format[i+1 : end]
				if v, ok := values[key]; ok {
					out = append(out, v...)
					i = end + 1
					continue
				}
			}
		}
		out = append(out, format[i])
		i++
	}
	return string(out)
}
