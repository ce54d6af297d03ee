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

// Package ui is the out-of-scope TUI/progress/color adapter cmd/envy wires
// the tui_section handle of spec.md §3 through: status coloring via
// github.com/fatih/color and fetch/build progress bars via
// github.com/schollz/progressbar/v3, following the teacher's cmd/cie
// status-reporting conventions.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

var (
	Success = color.New(color.FgGreen, color.Bold)
	Warn    = color.New(color.FgYellow)
	Fail    = color.New(color.FgRed, color.Bold)
	Dim     = color.New(color.Faint)
	Bold    = color.New(color.Bold)
)

// InitColors enables or disables color output globally, honoring an
// explicit --no-color flag, the NO_COLOR convention, and TTY detection.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Successf prints a green status line to stdout.
func Successf(format string, args ...any) {
	_, _ = Success.Println(fmt.Sprintf(format, args...))
}

// Infof prints a plain status line to stdout.
func Infof(format string, args ...any) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// Warnf prints a yellow warning line to stderr.
func Warnf(format string, args ...any) {
	_, _ = Warn.Fprintln(os.Stderr, fmt.Sprintf(format, args...))
}

// Failf prints a red failure line to stderr.
func Failf(format string, args ...any) {
	_, _ = Fail.Fprintln(os.Stderr, fmt.Sprintf(format, args...))
}

// Header prints a bold section header.
func Header(title string) {
	_, _ = Bold.Println(title)
}

// Label renders a dim field label, e.g. for "Identity: foo" status lines.
func Label(s string) string {
	return Dim.Sprint(s)
}

// Bar wraps a progressbar.ProgressBar scoped to one phase's worth of
// fetch/extract/build progress, silenced entirely when quiet is set.
type Bar struct {
	bar   *progressbar.ProgressBar
	quiet bool
}

// NewBar builds a Bar with the given total and description. total <= 0
// renders as an indeterminate spinner.
func NewBar(total int64, description string, quiet bool) *Bar {
	if quiet {
		return &Bar{quiet: true}
	}
	opts := []progressbar.Option{
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	}
	var b *progressbar.ProgressBar
	if total > 0 {
		b = progressbar.NewOptions64(total, opts...)
	} else {
		b = progressbar.NewOptions64(-1, opts...)
	}
	return &Bar{bar: b}
}

// Set64 advances the bar to an absolute value.
func (b *Bar) Set64(v int64) {
	if b.quiet || b.bar == nil {
		return
	}
	_ = b.bar.Set64(v)
}

// Finish completes and clears the bar.
func (b *Bar) Finish() {
	if b.quiet || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}
