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

// Package phases implements the seven ordered phase bodies of spec.md
// §4.7 as the concrete engine.PhaseRunner, dispatching on each recipe's
// parsed CHECK/FETCH/STAGE/BUILD/INSTALL verbs.
package phases

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/kraklabs/envy/internal/extract"
	"github.com/kraklabs/envy/internal/shellexec"
	"github.com/kraklabs/envy/internal/telemetry"
	"github.com/kraklabs/envy/internal/transport"
	"github.com/kraklabs/envy/pkg/bundle"
	"github.com/kraklabs/envy/pkg/engine"
	"github.com/kraklabs/envy/pkg/phase"
	"github.com/kraklabs/envy/pkg/script"
	"github.com/kraklabs/envy/pkg/script/envyscript"
)

// recipeFileName is the conventional recipe script name looked up inside
// a directory source (a git checkout or a bundle's extracted spec tree).
const recipeFileName = "envy-recipe.go"

// Runner is the concrete engine.PhaseRunner: it owns every out-of-scope
// collaborator a phase body needs (transport, extraction, shell, the
// script engine, the content-addressed cache) and dispatches spec.md
// §4.7's seven phases against one package at a time.
type Runner struct {
	Registry  *engine.Registry
	Scripts   script.Engine
	Fetcher   transport.Fetcher
	Extractor extract.Extractor
	Shell     shellexec.Runner
	Bundles   *bundle.Manager

	Platform    string
	Arch        string
	ProjectRoot string
	ScratchRoot string

	Log *slog.Logger

	// Telemetry is optional; when set, every phase dispatch is bracketed
	// with phase_start/phase_complete events and duration metrics.
	Telemetry *telemetry.Recorder
}

// NewRunner builds a Runner with production collaborators, defaulting
// Platform/Arch to runtime.GOOS/runtime.GOARCH.
func NewRunner(reg *engine.Registry, scripts script.Engine, projectRoot, scratchRoot string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		Registry:    reg,
		Scripts:     scripts,
		Fetcher:     transport.NewDefaultFetcher(),
		Extractor:   extract.NewDefaultExtractor(),
		Shell:       shellexec.NewDefaultRunner(),
		Bundles:     bundle.NewManager(reg.Cache(), transport.NewDefaultFetcher(), extract.NewDefaultExtractor(), scripts),
		Platform:    runtime.GOOS,
		Arch:        runtime.GOARCH,
		ProjectRoot: projectRoot,
		ScratchRoot: scratchRoot,
		Log:         log,
	}
}

// Run implements engine.PhaseRunner, dispatching to the phase body for
// next.
func (r *Runner) Run(pkg *engine.Package, next phase.Phase) error {
	if r.Telemetry != nil {
		done := r.Telemetry.PhaseStart(pkg.Key.String(), next.String())
		defer done()
	}
	switch next {
	case phase.SpecFetch:
		return r.specFetch(pkg)
	case phase.Check:
		return r.check(pkg)
	case phase.Fetch:
		return r.fetch(pkg)
	case phase.Stage:
		return r.stage(pkg)
	case phase.Build:
		return r.build(pkg)
	case phase.Install:
		return r.install(pkg)
	case phase.Completion:
		return r.completion(pkg)
	default:
		return fmt.Errorf("phases: unknown phase %s", next)
	}
}

func (r *Runner) recipeOf(pkg *engine.Package) (*script.Recipe, error) {
	pkg.ScriptMu.Lock()
	defer pkg.ScriptMu.Unlock()
	rec, ok := pkg.Script.(*script.Recipe)
	if !ok || rec == nil {
		return nil, fmt.Errorf("phases: %s: recipe script not loaded", pkg.Key)
	}
	return rec, nil
}

// newPhase builds the *envyscript.Phase handle and its backing host for
// one phase call, closing the handle is the caller's responsibility.
func (r *Runner) newPhase(pkg *engine.Package, current phase.Phase) *envyscript.Phase {
	host := script.NewPhaseHost(pkg, r.Registry, r.Fetcher, r.Extractor, r.Shell, r.Scripts, current, r.Log)
	return envyscript.NewPhase(host)
}

func (r *Runner) log(pkg *engine.Package, p phase.Phase) *slog.Logger {
	return r.Log.With("identity", pkg.Key.String(), "phase", p.String())
}
