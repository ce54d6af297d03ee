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

package envyscript

import "sync/atomic"

// Host performs the contract operations of spec.md §4.6 against one
// package's live state (dependency graph, cache lock, transport,
// extraction, shell). Phase is a thin, validating wrapper around a Host;
// pkg/script implements Host against pkg/engine, pkg/cache,
// internal/transport, internal/extract and internal/shellexec, which lets
// this package stay free of any dependency on the engine itself — exactly
// the "specified only at its interface" framing spec.md gives the
// scripted phase contract.
type Host interface {
	FetchDir() string
	StageDir() string
	TmpDir() string
	InstallDir() string
	WorkDir() string

	Fetch(items []FetchItem, destDir string) ([]string, error)
	CommitFetch(items []FetchItem) error
	VerifyHash(path, sha256 string) bool
	Extract(archive, dest string, opts ExtractOptions) (int, error)
	ExtractAll(srcDir, destDir string, opts ExtractOptions) (int, error)
	Run(script string, opts RunOptions) (RunResult, error)
	Package(identity string) (string, error)
	Product(name string) (string, error)
	LoadEnvSpec(identity, modulePath string) (map[string]any, error)

	Trace(msg string)
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Stdout(msg string)
}

// Phase is the handle a FETCH/STAGE/BUILD/INSTALL/CHECK function receives.
// It validates phase-context liveness (spec.md §4.6's OutOfPhaseContext
// rule) before delegating to its Host.
type Phase struct {
	host   Host
	active atomic.Bool
}

// NewPhase builds a Phase bound to host, initially live. pkg/script calls
// Close when the phase function returns, so that a script holding onto
// the handle past its call (e.g. in a package-level variable) observes
// ErrOutOfPhaseContext on any later use.
func NewPhase(host Host) *Phase {
	p := &Phase{host: host}
	p.active.Store(true)
	return p
}

// Close marks the phase handle dead. Idempotent.
func (p *Phase) Close() { p.active.Store(false) }

func (p *Phase) require() error {
	if !p.active.Load() {
		return ErrOutOfPhaseContext
	}
	return nil
}

// Fetch downloads one or more items into destDir, or into the phase's
// fetch directory when destDir is empty. Returns the chosen basenames.
func (p *Phase) Fetch(items []FetchItem, destDir string) ([]string, error) {
	if err := p.require(); err != nil {
		return nil, err
	}
	if destDir == "" {
		destDir = p.host.FetchDir()
	}
	return p.host.Fetch(items, destDir)
}

// CommitFetch atomically moves named files from tmp/ into fetch/ after
// verifying each SHA-256, if given.
func (p *Phase) CommitFetch(items []FetchItem) error {
	if err := p.require(); err != nil {
		return err
	}
	return p.host.CommitFetch(items)
}

// VerifyHash reports whether path's SHA-256 digest matches sha256.
func (p *Phase) VerifyHash(path, sha256 string) bool {
	return p.host.VerifyHash(path, sha256)
}

// Extract extracts one archive into dest.
func (p *Phase) Extract(archive, dest string, opts ExtractOptions) (int, error) {
	if err := p.require(); err != nil {
		return 0, err
	}
	return p.host.Extract(archive, dest, opts)
}

// ExtractAll extracts every archive found in srcDir into destDir.
func (p *Phase) ExtractAll(srcDir, destDir string, opts ExtractOptions) (int, error) {
	if err := p.require(); err != nil {
		return 0, err
	}
	return p.host.ExtractAll(srcDir, destDir, opts)
}

// Run executes script in a shell.
func (p *Phase) Run(script string, opts RunOptions) (RunResult, error) {
	if err := p.require(); err != nil {
		return RunResult{}, err
	}
	if opts.Cwd == "" {
		opts.Cwd = p.host.WorkDir()
	}
	return p.host.Run(script, opts)
}

// Package returns the pkg_path of a declared dependency.
func (p *Phase) Package(identity string) (string, error) {
	if err := p.require(); err != nil {
		return "", err
	}
	return p.host.Package(identity)
}

// Product returns the resolved product value of a declared product
// dependency.
func (p *Phase) Product(name string) (string, error) {
	if err := p.require(); err != nil {
		return "", err
	}
	return p.host.Product(name)
}

// LoadEnvSpec loads a module from a declared dependency's own source tree.
func (p *Phase) LoadEnvSpec(identity, modulePath string) (map[string]any, error) {
	if err := p.require(); err != nil {
		return nil, err
	}
	return p.host.LoadEnvSpec(identity, modulePath)
}

func (p *Phase) Trace(msg string)  { p.host.Trace(msg) }
func (p *Phase) Debug(msg string)  { p.host.Debug(msg) }
func (p *Phase) Info(msg string)   { p.host.Info(msg) }
func (p *Phase) Warn(msg string)   { p.host.Warn(msg) }
func (p *Phase) ErrorLog(msg string) { p.host.Error(msg) }
func (p *Phase) Stdout(msg string) { p.host.Stdout(msg) }

// FetchDir, StageDir, TmpDir, InstallDir, WorkDir expose the phase's
// working directories to script code that wants to construct paths
// directly instead of passing "" to Fetch/Run.
func (p *Phase) FetchDir() string   { return p.host.FetchDir() }
func (p *Phase) StageDir() string   { return p.host.StageDir() }
func (p *Phase) TmpDir() string     { return p.host.TmpDir() }
func (p *Phase) InstallDir() string { return p.host.InstallDir() }
func (p *Phase) WorkDir() string    { return p.host.WorkDir() }
