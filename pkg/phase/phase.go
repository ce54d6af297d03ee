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

// Package phase defines the seven ordered phases a package's worker
// traverses, and the needed_by phase names a dependency declaration can
// name (spec.md §4.4, §6).
package phase

import "fmt"

// Phase is one of the seven ordered steps of the phase engine. The seven
// values are ordered; comparisons (<, >=, ...) between them follow
// execution order. Import (below) is a sentinel outside that order;
// GatesBefore maps it onto Fetch.
type Phase int

const (
	SpecFetch Phase = iota
	Check
	Fetch
	Stage
	Build
	Install
	Completion
)

// Import is the intermediate needed_by label between Check and Fetch
// described in spec.md §4.4: it is not itself a phase a worker executes,
// only a gating point a dependency's needed_by may name.
const Import Phase = Check + 1000 // sentinel, see ParseNeededBy and GatesBefore

var names = [...]string{
	SpecFetch:  "spec_fetch",
	Check:      "check",
	Fetch:      "fetch",
	Stage:      "stage",
	Build:      "build",
	Install:    "install",
	Completion: "completion",
}

// String renders the phase using the exact spellings spec.md §6 mandates
// for logs and error messages.
func (p Phase) String() string {
	if p == Import {
		return "import"
	}
	if int(p) < 0 || int(p) >= len(names) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return names[p]
}

// neededByNames are the exact phase name spellings spec.md §6 allows for a
// dependency's needed_by field: check, import, fetch, stage, build
// (default), install.
var neededByNames = map[string]Phase{
	"check":   Check,
	"import":  Import,
	"fetch":   Fetch,
	"stage":   Stage,
	"build":   Build,
	"install": Install,
}

// Default is the default needed_by phase for a dependency declaration that
// does not specify one: ordinary link/compile-time deps are required
// before the build phase runs.
const Default = Build

// ParseNeededBy parses one of the six needed_by spellings. An empty string
// yields Default.
func ParseNeededBy(s string) (Phase, error) {
	if s == "" {
		return Default, nil
	}
	p, ok := neededByNames[s]
	if !ok {
		return 0, fmt.Errorf("invalid needed_by phase %q: must be one of check, import, fetch, stage, build, install", s)
	}
	return p, nil
}

// GatesBefore reports whether a dependency with needed_by np must have
// reached Completion before the parent begins phase `next`. Per spec.md
// §4.4: "A dependency declared with needed_by = P must be at completion
// before the parent begins phase P." Import gates the parent's own Fetch
// phase (it sits strictly between Check and Fetch), so a dependency with
// needed_by = import must complete before the parent's Fetch, same as
// needed_by = fetch would — but semantically it reads as "ready before my
// own resolution phase advances past check", which in this ordered model
// is identical to gating Fetch.
func GatesBefore(np, next Phase) bool {
	gate := np
	if gate == Import {
		gate = Fetch
	}
	return next >= gate
}
