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

package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/envy/internal/config"
	"github.com/kraklabs/envy/internal/telemetry"
	"github.com/kraklabs/envy/internal/ui"
	"github.com/kraklabs/envy/pkg/cache"
	"github.com/kraklabs/envy/pkg/engine"
	"github.com/kraklabs/envy/pkg/phases"
	"github.com/kraklabs/envy/pkg/recipe"
	"github.com/kraklabs/envy/pkg/script"
)

// runRun implements the `envy run` subcommand: build one Registry shared
// across every root named on the command line, so identical dependencies
// named by more than one root are resolved and built once (spec.md §4.5's
// RunFull already dedups by canonical key; passing every root into one
// RunFull call is what lets that dedup actually trigger).
func runRun(args []string, globals globalFlags) error {
	if len(args) == 0 {
		return fmt.Errorf("run: at least one recipe path is required")
	}

	env, err := newEnvironment(globals)
	if err != nil {
		return err
	}
	defer os.RemoveAll(env.scratchRoot)

	roots := make([]*recipe.Descriptor, 0, len(args))
	for _, path := range args {
		desc, err := loadRootDescriptor(env, path)
		if err != nil {
			return fmt.Errorf("run: %s: %w", path, err)
		}
		roots = append(roots, desc)
	}

	bar := ui.NewBar(int64(len(roots)), "building", globals.Quiet)
	results, err := env.registry.RunFull(roots)
	bar.Finish()
	if err != nil {
		return err
	}

	for key, res := range results {
		ui.Successf("%s  result_hash=%s  pkg_path=%s", key, res.ResultHash, res.PkgPath)
	}
	return nil
}

// environment bundles every long-lived collaborator one `run` invocation
// needs, so both runRun and runWatch build it the same way.
type environment struct {
	registry    *engine.Registry
	runner      *phases.Runner
	telemetry   *telemetry.Recorder
	scratchRoot string
	metricsSrv  *http.Server
}

func newEnvironment(globals globalFlags) (*environment, error) {
	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()

	cacheRoot := cfg.CacheRoot
	if cacheRoot == "" {
		cacheRoot, err = config.DefaultCacheRoot()
		if err != nil {
			return nil, err
		}
	}

	scratchRoot, err := os.MkdirTemp("", "envy-run-")
	if err != nil {
		return nil, err
	}

	log := newLogger(globals, cfg)

	reg := engine.NewRegistry(recipe.NewPool(), cache.New(cacheRoot))
	scripts := script.NewYaegiEngine()

	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	rec := telemetry.NewRecorder(log, prometheus.DefaultRegisterer)
	runner := phases.NewRunner(reg, scripts, wd, scratchRoot, log)
	runner.Telemetry = rec
	if cfg.Platform != "" {
		runner.Platform = cfg.Platform
	}
	if cfg.Arch != "" {
		runner.Arch = cfg.Arch
	}
	reg.SetRunner(runner)

	env := &environment{
		registry:    reg,
		runner:      runner,
		telemetry:   rec,
		scratchRoot: scratchRoot,
	}

	metricsAddr := globals.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}
	if metricsAddr != "" {
		env.metricsSrv = startMetricsServer(metricsAddr, log)
	}

	return env, nil
}

func newLogger(globals globalFlags, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case globals.Quiet:
		level = slog.LevelError
	case globals.Verbose >= 2:
		level = slog.LevelDebug
	case globals.Verbose >= 1:
		level = slog.LevelInfo
	case cfg.LogLevel != "":
		if err := (&level).UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			level = slog.LevelInfo
		}
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

func startMetricsServer(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return srv
}

// loadRootDescriptor pre-loads path's script to learn its self-declared
// IDENTITY (spec.md §6), then constructs the local-source descriptor
// spec_fetch will reload through the normal resolveSpecPath path. Roots
// are always a local file or directory; remote/git/bundle roots have no
// meaning without a parent recipe naming them.
func loadRootDescriptor(env *environment, path string) (*recipe.Descriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	scriptPath := abs
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		scriptPath = filepath.Join(abs, "envy-recipe.go")
	}

	rec, err := env.runner.Scripts.Load(scriptPath)
	if err != nil {
		return nil, err
	}

	raw := recipe.RawRecipe{
		Spec:              rec.Identity,
		Source:            &recipe.RawSource{URL: abs},
		DeclaringFilePath: scriptPath,
	}
	return recipe.Parse(env.registry.Pool(), raw, nil)
}
