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

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseStartCompleteOrdering(t *testing.T) {
	rec := NewRecorder(nil, prometheus.NewRegistry())
	events := rec.Subscribe()

	done := rec.PhaseStart("foo.bar@r0", "fetch")
	done()

	first := <-events
	second := <-events

	assert.Equal(t, PhaseStart, first.Kind)
	assert.Equal(t, PhaseComplete, second.Kind)
	assert.Equal(t, "foo.bar@r0", first.Recipe)
	assert.Equal(t, "fetch", first.Phase)
	assert.Equal(t, first.RunID, second.RunID)
	assert.True(t, second.Duration >= 0)
}

func TestCacheHitMissEvents(t *testing.T) {
	rec := NewRecorder(nil, prometheus.NewRegistry())
	events := rec.Subscribe()

	rec.CacheMiss("foo.bar@r0", "abc123")
	rec.CacheHit("baz.qux@r1", "def456", "/cache/asset")

	miss := <-events
	hit := <-events

	assert.Equal(t, CacheMiss, miss.Kind)
	assert.Equal(t, "abc123", miss.CacheKey)
	assert.Equal(t, CacheHit, hit.Kind)
	assert.Equal(t, "/cache/asset", hit.AssetPath)
}

func TestRunIDStableAcrossEvents(t *testing.T) {
	rec := NewRecorder(nil, prometheus.NewRegistry())
	require.NotEmpty(t, rec.RunID())

	events := rec.Subscribe()
	rec.ThreadStart("foo.bar@r0", "fetch")
	rec.ThreadComplete("foo.bar@r0", "completion")

	e1 := <-events
	e2 := <-events
	assert.Equal(t, rec.RunID(), e1.RunID)
	assert.Equal(t, rec.RunID(), e2.RunID)
}

func TestSubscribeDoesNotBlockEmissionWhenFull(t *testing.T) {
	rec := NewRecorder(nil, prometheus.NewRegistry())
	_ = rec.Subscribe() // never drained

	for i := 0; i < 300; i++ {
		rec.CacheMiss("foo.bar@r0", "k")
	}
	// No deadlock: emit() drops events to a full subscriber rather than blocking.
}
