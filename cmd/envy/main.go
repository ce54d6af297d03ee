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

// Package main implements the envy CLI: a thin flag/subcommand shell over
// the engine, cache and script packages. Argument parsing and the local
// recipe-file conventions below are out of scope of the core spec; every
// other behavior is delegated straight to pkg/engine, pkg/cache and
// pkg/phases.
//
// Usage:
//
//	envy run <recipe-path> [recipe-path...]   Resolve and build one or more recipes
//	envy watch <recipe-path>                  Re-run on every recipe script change
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/envy/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// globalFlags holds the flags that apply to every subcommand, following
// the teacher's GlobalFlags convention of one flat struct built once in
// main and threaded down to each run* function.
type globalFlags struct {
	NoColor     bool
	Verbose     int
	Quiet       bool
	ConfigPath  string
	MetricsAddr string
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .envy/config.yaml (default: discovered by walking up from cwd)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress progress output")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics at this address (e.g. 127.0.0.1:9090)")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `envy - content-addressed dependency resolution and build engine

Usage:
  envy <command> [options] [args...]

Commands:
  run <recipe...>     Resolve and build the given recipe script(s) or directories
  watch <recipe>      Re-run "run" whenever the recipe script (or its directory) changes
  version             Show version and exit

Global Options:
  --no-color          Disable color output (respects NO_COLOR env var)
  -v, --verbose       Increase verbosity (-v for info, -vv for debug)
  -q, --quiet         Suppress progress output
  -c, --config        Path to .envy/config.yaml
  --metrics-addr      Serve Prometheus metrics at this address
  -V, --version       Show version and exit

Examples:
  envy run ./envy-recipe.go
  envy run local.app@r0/envy-recipe.go other.lib@r3/envy-recipe.go
  envy watch ./envy-recipe.go

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("envy version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}

	globals := globalFlags{
		NoColor:     *noColor,
		Verbose:     *verbose,
		Quiet:       *quiet,
		ConfigPath:  *configPath,
		MetricsAddr: *metricsAddr,
	}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	var err error
	switch command {
	case "run":
		err = runRun(cmdArgs, globals)
	case "watch":
		err = runWatch(cmdArgs, globals)
	case "version":
		fmt.Printf("envy version %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		ui.Failf("error: %v", err)
		os.Exit(1)
	}
}
