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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtend(t *testing.T) {
	base := []string{"a", "b"}
	got := Extend(base, []string{"c"}, []string{"d", "e"})
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
}

func TestExtend_NoSources(t *testing.T) {
	got := Extend([]string{"a"})
	assert.Equal(t, []string{"a"}, got)
}

func TestTemplate(t *testing.T) {
	out := Template("{name}-{version}.tar.gz", map[string]string{"name": "foo", "version": "1.2"})
	assert.Equal(t, "foo-1.2.tar.gz", out)
}

func TestTemplate_UnknownKeyLeftLiteral(t *testing.T) {
	out := Template("{name}-{missing}", map[string]string{"name": "foo"})
	assert.Equal(t, "foo-{missing}", out)
}

func TestTemplate_UnterminatedBraceLeftLiteral(t *testing.T) {
	out := Template("{name", map[string]string{"name": "foo"})
	assert.Equal(t, "{name", out)
}

// stubHost implements Host with field-recorded calls, enough to exercise
// Phase's require()-gating behavior without any real engine collaborator.
type stubHost struct {
	fetchDir string
}

func (s *stubHost) FetchDir() string   { return s.fetchDir }
func (s *stubHost) StageDir() string   { return "" }
func (s *stubHost) TmpDir() string     { return "" }
func (s *stubHost) InstallDir() string { return "" }
func (s *stubHost) WorkDir() string    { return "" }

func (s *stubHost) Fetch(items []FetchItem, destDir string) ([]string, error) { return nil, nil }
func (s *stubHost) CommitFetch(items []FetchItem) error                       { return nil }
func (s *stubHost) VerifyHash(path, sha256 string) bool                       { return true }
func (s *stubHost) Extract(archive, dest string, opts ExtractOptions) (int, error) {
	return 0, nil
}
func (s *stubHost) ExtractAll(srcDir, destDir string, opts ExtractOptions) (int, error) {
	return 0, nil
}
func (s *stubHost) Run(script string, opts RunOptions) (RunResult, error) { return RunResult{}, nil }
func (s *stubHost) Package(identity string) (string, error)               { return "/pkg/" + identity, nil }
func (s *stubHost) Product(name string) (string, error)                  { return "value-" + name, nil }
func (s *stubHost) LoadEnvSpec(identity, modulePath string) (map[string]any, error) {
	return nil, nil
}
func (s *stubHost) Trace(msg string)  {}
func (s *stubHost) Debug(msg string)  {}
func (s *stubHost) Info(msg string)   {}
func (s *stubHost) Warn(msg string)   {}
func (s *stubHost) Error(msg string)  {}
func (s *stubHost) Stdout(msg string) {}

func TestPhase_DelegatesWhileLive(t *testing.T) {
	p := NewPhase(&stubHost{fetchDir: "/fetch"})
	assert.Equal(t, "/fetch", p.FetchDir())
	path, err := p.Package("foo.bar@v1")
	assert.NoError(t, err)
	assert.Equal(t, "/pkg/foo.bar@v1", path)
}

func TestPhase_ClosedReturnsErrOutOfPhaseContext(t *testing.T) {
	p := NewPhase(&stubHost{})
	p.Close()

	_, err := p.Package("foo.bar@v1")
	assert.ErrorIs(t, err, ErrOutOfPhaseContext)

	_, err = p.Fetch(nil, "")
	assert.ErrorIs(t, err, ErrOutOfPhaseContext)

	err = p.CommitFetch(nil)
	assert.ErrorIs(t, err, ErrOutOfPhaseContext)

	_, err = p.Extract("a.tar", "", ExtractOptions{})
	assert.ErrorIs(t, err, ErrOutOfPhaseContext)
}

func TestPhase_CloseIsIdempotent(t *testing.T) {
	p := NewPhase(&stubHost{})
	p.Close()
	p.Close()
	_, err := p.Product("x")
	assert.ErrorIs(t, err, ErrOutOfPhaseContext)
}
