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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kraklabs/envy/internal/ui"
)

var watchSkipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, "bin": true,
}

const watchDebounce = 500 * time.Millisecond

// runWatch implements `envy watch <recipe>`: run once immediately, then
// re-run on every change to the recipe's directory tree, debounced the
// same way the teacher's MCP reindex watcher is.
func runWatch(args []string, globals globalFlags) error {
	if len(args) != 1 {
		return fmt.Errorf("watch: exactly one recipe path is required")
	}
	path := args[0]

	watchRoot, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if info, err := os.Stat(watchRoot); err == nil && !info.IsDir() {
		watchRoot = filepath.Dir(watchRoot)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, watchRoot); err != nil {
		return err
	}

	runOnce := func() {
		ui.Header(fmt.Sprintf("running %s", path))
		if err := runRun(args, globals); err != nil {
			ui.Failf("error: %v", err)
		}
	}
	runOnce()

	var debounceTimer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(watchDebounce)
			timerCh = debounceTimer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ui.Warnf("watch: %v", err)

		case <-timerCh:
			timerCh = nil
			runOnce()
		}
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if watchSkipDirs[base] || (strings.HasPrefix(base, ".") && base != ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil && !os.IsPermission(err) {
			return err
		}
		return nil
	})
}
