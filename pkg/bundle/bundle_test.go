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

package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifestSrc = `package manifest

var BUNDLE = "acme.toolchain-bundle@r1"

var SPECS = map[string]string{
	"acme.gcc@r1": "gcc/envy-recipe.go",
	"acme.binutils@r1": "binutils/envy-recipe.go",
}
`

func writeManifest(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, manifestFileName)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, manifestSrc)

	bundleIdentity, specs, err := loadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "acme.toolchain-bundle@r1", bundleIdentity)
	assert.Equal(t, map[string]string{
		"acme.gcc@r1":      "gcc/envy-recipe.go",
		"acme.binutils@r1": "binutils/envy-recipe.go",
	}, specs)
}

func TestLoadManifest_MissingBundleIsError(t *testing.T) {
	path := writeManifest(t, `package manifest

var SPECS = map[string]string{}
`)
	_, _, err := loadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifest_MissingSpecsIsError(t *testing.T) {
	path := writeManifest(t, `package manifest

var BUNDLE = "acme.toolchain-bundle@r1"
`)
	_, _, err := loadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifest_WrongSpecsTypeIsError(t *testing.T) {
	path := writeManifest(t, `package manifest

var BUNDLE = "acme.toolchain-bundle@r1"
var SPECS = "not a map"
`)
	_, _, err := loadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifest_PathTraversalInSpecsIsError(t *testing.T) {
	path := writeManifest(t, `package manifest

var BUNDLE = "acme.toolchain-bundle@r1"
var SPECS = map[string]string{
	"evil@r1": "../../../etc/passwd",
}
`)
	_, _, err := loadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifest_AbsoluteSpecPathIsError(t *testing.T) {
	path := writeManifest(t, `package manifest

var BUNDLE = "acme.toolchain-bundle@r1"
var SPECS = map[string]string{
	"evil@r1": "/etc/passwd",
}
`)
	_, _, err := loadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifest_EmptySpecPathIsError(t *testing.T) {
	path := writeManifest(t, `package manifest

var BUNDLE = "acme.toolchain-bundle@r1"
var SPECS = map[string]string{
	"evil@r1": "",
}
`)
	_, _, err := loadManifest(path)
	assert.Error(t, err)
}

func TestValidateSpecPath(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"gcc/envy-recipe.go", false},
		{"envy-recipe.go", false},
		{"", true},
		{"/etc/passwd", true},
		{"../escape/envy-recipe.go", true},
		{"gcc/../../escape/envy-recipe.go", true},
	}
	for _, tc := range cases {
		err := validateSpecPath(tc.path)
		if tc.wantErr {
			assert.Error(t, err, tc.path)
		} else {
			assert.NoError(t, err, tc.path)
		}
	}
}
