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

package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipe_Validate(t *testing.T) {
	cases := []struct {
		name    string
		rec     Recipe
		wantErr bool
	}{
		{"fetch and install is cache-managed", Recipe{Fetch: "curl", Install: "make install"}, false},
		{"fetch alone with nil install resolves at install time", Recipe{Fetch: "curl"}, false},
		{"check and install is user-managed", Recipe{Check: "which foo", Install: "echo ok"}, false},
		{"check alone with install satisfies contract", Recipe{Check: "which foo", Install: "echo"}, false},
		{"check with fetch is invalid", Recipe{Check: "which foo", Fetch: "curl"}, true},
		{"check with stage is invalid", Recipe{Check: "which foo", Stage: "tar"}, true},
		{"check with build is invalid", Recipe{Check: "which foo", Build: "make"}, true},
		{"check without install is invalid", Recipe{Check: "which foo"}, true},
		{"install alone with no check or fetch is invalid", Recipe{Install: "make install"}, true},
		{"nothing declared is invalid", Recipe{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rec.validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func writeRecipeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "envy-recipe.go")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

const validRecipeSrc = `package myrecipe

import "github.com/kraklabs/envy/pkg/script/envyscript"

const IDENTITY = "foo.bar@v1"

var FETCH = "curl -fsSL -o out.tar.gz https://example.test/foo.tar.gz"

func INSTALL(p *envyscript.Phase) (string, error) {
	return p.InstallDir(), nil
}
`

func TestYaegiEngine_Load_ValidRecipe(t *testing.T) {
	path := writeRecipeScript(t, validRecipeSrc)
	eng := NewYaegiEngine()

	rec, err := eng.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "foo.bar@v1", rec.Identity)
	assert.Equal(t, "curl -fsSL -o out.tar.gz https://example.test/foo.tar.gz", rec.Fetch)
	assert.NotNil(t, rec.Install)
	assert.Equal(t, path, rec.SourcePath)
}

const missingIdentitySrc = `package myrecipe

var FETCH = "curl"
var INSTALL = "make install"
`

func TestYaegiEngine_Load_MissingIdentityFails(t *testing.T) {
	path := writeRecipeScript(t, missingIdentitySrc)
	_, err := NewYaegiEngine().Load(path)
	assert.Error(t, err)
}

const missingPackageClauseSrc = `const IDENTITY = "foo.bar@v1"`

func TestYaegiEngine_Load_MissingPackageClauseFails(t *testing.T) {
	path := writeRecipeScript(t, missingPackageClauseSrc)
	_, err := NewYaegiEngine().Load(path)
	assert.Error(t, err)
}

const invalidContractSrc = `package myrecipe

const IDENTITY = "foo.bar@v1"

var CHECK = "which foo"
var FETCH = "curl"
var INSTALL = "make install"
`

func TestYaegiEngine_Load_InvalidContractRejectedAtValidate(t *testing.T) {
	path := writeRecipeScript(t, invalidContractSrc)
	_, err := NewYaegiEngine().Load(path)
	assert.Error(t, err)
}
