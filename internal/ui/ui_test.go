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

package ui

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestInitColors_NoColorFlagDisables(t *testing.T) {
	defer func() { color.NoColor = false }()
	InitColors(true)
	assert.True(t, color.NoColor)
}

func TestInitColors_NoColorEnvDisables(t *testing.T) {
	defer func() { color.NoColor = false }()
	t.Setenv("NO_COLOR", "1")
	InitColors(false)
	assert.True(t, color.NoColor)
}

func TestBar_QuietNeverPanics(t *testing.T) {
	b := NewBar(10, "working", true)
	b.Set64(5)
	b.Finish()
}

func TestBar_IndeterminateWhenTotalIsZero(t *testing.T) {
	b := NewBar(0, "working", false)
	assert.NotNil(t, b.bar)
	b.Set64(1)
	b.Finish()
}
