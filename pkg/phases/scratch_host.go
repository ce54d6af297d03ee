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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraklabs/envy/internal/hashutil"
	"github.com/kraklabs/envy/internal/shellexec"
	"github.com/kraklabs/envy/internal/transport"
	"github.com/kraklabs/envy/pkg/script/envyscript"
)

// scratchHost is a minimal envyscript.Host backed by a single scratch
// directory rather than a cache entry lock, used for the one contract
// operation that runs before a package has an identity in the registry:
// a custom source.fetch retrieving the recipe script itself (spec.md
// §6).
type scratchHost struct {
	runner *Runner
	dir    string
}

func (h *scratchHost) FetchDir() string   { return h.dir }
func (h *scratchHost) StageDir() string   { return h.dir }
func (h *scratchHost) TmpDir() string     { return h.dir }
func (h *scratchHost) InstallDir() string { return h.dir }
func (h *scratchHost) WorkDir() string    { return h.dir }

func (h *scratchHost) Fetch(items []envyscript.FetchItem, destDir string) ([]string, error) {
	if destDir == "" {
		destDir = h.dir
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var path string
		var err error
		switch transport.Classify(item.Source) {
		case transport.KindGit:
			path = filepath.Join(destDir, filepath.Base(item.Source))
			err = h.runner.Fetcher.Clone(context.Background(), item.Source, item.Ref, path)
		case transport.KindLocal:
			path, err = h.runner.Fetcher.CopyLocal(context.Background(), item.Source, destDir)
		default:
			path, err = h.runner.Fetcher.FetchFile(context.Background(), item.Source, destDir, "")
		}
		if err != nil {
			return out, err
		}
		out = append(out, filepath.Base(path))
	}
	return out, nil
}

func (h *scratchHost) CommitFetch(items []envyscript.FetchItem) error { return nil }

func (h *scratchHost) VerifyHash(path, sha256 string) bool {
	return verifySHA(path, sha256)
}

func (h *scratchHost) Extract(archive, dest string, opts envyscript.ExtractOptions) (int, error) {
	if dest == "" {
		dest = h.dir
	}
	return h.runner.Extractor.Extract(archive, dest, opts.Strip)
}

func (h *scratchHost) ExtractAll(srcDir, destDir string, opts envyscript.ExtractOptions) (int, error) {
	if srcDir == "" {
		srcDir = h.dir
	}
	if destDir == "" {
		destDir = h.dir
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := h.runner.Extractor.Extract(filepath.Join(srcDir, e.Name()), destDir, opts.Strip)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (h *scratchHost) Run(script string, opts envyscript.RunOptions) (envyscript.RunResult, error) {
	cwd := opts.Cwd
	if cwd == "" {
		cwd = h.dir
	}
	res, err := h.runner.Shell.Run(context.Background(), script, shellexec.Options{
		Cwd: cwd, Env: opts.Env, Shell: shellexec.Shell(opts.Shell),
		Capture: opts.Capture, Check: opts.Check, Quiet: opts.Quiet, Interactive: opts.Interactive,
	})
	return envyscript.RunResult{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}, err
}

func (h *scratchHost) Package(identity string) (string, error) {
	return "", fmt.Errorf("phases: Package is unavailable before a recipe script is loaded")
}

func (h *scratchHost) Product(name string) (string, error) {
	return "", fmt.Errorf("phases: Product is unavailable before a recipe script is loaded")
}

func (h *scratchHost) LoadEnvSpec(identity, modulePath string) (map[string]any, error) {
	return nil, fmt.Errorf("phases: LoadEnvSpec is unavailable before a recipe script is loaded")
}

func (h *scratchHost) Trace(msg string)  { h.runner.Log.Debug(msg, "level", "trace") }
func (h *scratchHost) Debug(msg string)  { h.runner.Log.Debug(msg) }
func (h *scratchHost) Info(msg string)   { h.runner.Log.Info(msg) }
func (h *scratchHost) Warn(msg string)   { h.runner.Log.Warn(msg) }
func (h *scratchHost) Error(msg string)  { h.runner.Log.Error(msg) }
func (h *scratchHost) Stdout(msg string) { fmt.Println(msg) }

func verifySHA(path, want string) bool {
	ok, err := hashutil.VerifySHA256File(path, want)
	return err == nil && ok
}
