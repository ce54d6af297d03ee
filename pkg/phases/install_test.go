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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/envy/pkg/script/envyscript"
)

func TestDirHasEntries(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, dirHasEntries(dir))
	assert.False(t, dirHasEntries(filepath.Join(dir, "does-not-exist")))

	file := filepath.Join(dir, "file.txt")
	require := os.WriteFile(file, []byte("x"), 0o644)
	if require != nil {
		t.Fatal(require)
	}
	assert.True(t, dirHasEntries(dir))
}

func TestIsFunc(t *testing.T) {
	assert.False(t, isFunc(nil))
	assert.False(t, isFunc("a shell script"))
	assert.True(t, isFunc(func(*envyscript.Phase) error { return nil }))
	assert.True(t, isFunc(func(*envyscript.Phase) (string, error) { return "", nil }))
	assert.True(t, isFunc(func(*envyscript.Phase) (bool, error) { return false, nil }))
}
