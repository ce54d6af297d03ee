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

// Package telemetry supplements log/slog with a structured event channel
// (grounded on the original implementation's trace.cpp/trace.h variant-of-
// events log) and exports github.com/prometheus/client_golang counters and
// histograms derived from the same events. Tests that need to assert
// ordering (e.g. that a phase_start always precedes its phase_complete)
// subscribe to the channel directly rather than scraping log output.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// EventKind tags one of the structured event variants, mirroring the
// trace_event_t sum type of the original implementation.
type EventKind string

const (
	PhaseStart       EventKind = "phase_start"
	PhaseComplete    EventKind = "phase_complete"
	PhaseBlocked     EventKind = "phase_blocked"
	ThreadStart      EventKind = "thread_start"
	ThreadComplete   EventKind = "thread_complete"
	RecipeRegistered EventKind = "recipe_registered"
	CacheHit         EventKind = "cache_hit"
	CacheMiss        EventKind = "cache_miss"
	LockAcquired     EventKind = "lock_acquired"
	LockReleased     EventKind = "lock_released"
)

// Event is one structured trace record. Fields irrelevant to Kind are left
// zero; this is the tagged-union-as-struct shape spec.md §9 favors over an
// open interface hierarchy, the same choice pkg/script made for Dep and
// pkg/recipe made for Source.
type Event struct {
	Kind      EventKind
	RunID     string
	Recipe    string
	Phase     string
	Waiting   string
	CacheKey  string
	AssetPath string
	Duration  time.Duration
	At        time.Time
}

// Recorder is the sink every component threads in via constructor (never a
// package global, per the teacher's one-logger-per-component convention).
// It fans events out to a structured event channel, a slog logger, and a
// set of Prometheus collectors.
type Recorder struct {
	runID  string
	log    *slog.Logger
	mu     sync.Mutex
	subs   []chan Event
	cache  *cacheMetrics
	phases *phaseMetrics
}

// NewRecorder builds a Recorder with a fresh run ID for log/event
// correlation across one run_full invocation, and registers its
// Prometheus collectors against reg (pass prometheus.DefaultRegisterer
// for the process-wide default registry).
func NewRecorder(log *slog.Logger, reg prometheus.Registerer) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		runID:  uuid.NewString(),
		log:    log,
		cache:  newCacheMetrics(),
		phases: newPhaseMetrics(),
	}
	if reg != nil {
		reg.MustRegister(r.cache.hits, r.cache.misses, r.phases.duration, r.phases.inFlight)
	}
	return r
}

// RunID returns this recorder's run correlation ID.
func (r *Recorder) RunID() string { return r.runID }

// Subscribe returns a channel that receives every event emitted after the
// call, for tests asserting event ordering. The channel is buffered; a
// slow subscriber drops events rather than blocking emission.
func (r *Recorder) Subscribe() <-chan Event {
	ch := make(chan Event, 256)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *Recorder) emit(e Event) {
	e.RunID = r.runID
	e.At = time.Now()
	r.mu.Lock()
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
	r.mu.Unlock()
}

// PhaseStart records a worker entering a phase and returns a func to call
// on completion, which records phase_complete with the elapsed duration
// and the phase-duration histogram observation.
func (r *Recorder) PhaseStart(recipe, phase string) func() {
	r.emit(Event{Kind: PhaseStart, Recipe: recipe, Phase: phase})
	r.phases.inFlight.WithLabelValues(phase).Inc()
	r.log.Debug("phase start", "recipe", recipe, "phase", phase)
	start := time.Now()
	return func() {
		d := time.Since(start)
		r.phases.inFlight.WithLabelValues(phase).Dec()
		r.phases.duration.WithLabelValues(phase).Observe(d.Seconds())
		r.emit(Event{Kind: PhaseComplete, Recipe: recipe, Phase: phase, Duration: d})
		r.log.Debug("phase complete", "recipe", recipe, "phase", phase, "duration_ms", d.Milliseconds())
	}
}

// PhaseBlocked records a worker parked waiting on a dependency.
func (r *Recorder) PhaseBlocked(recipe, phase, waiting string) {
	r.emit(Event{Kind: PhaseBlocked, Recipe: recipe, Phase: phase, Waiting: waiting})
	r.log.Debug("phase blocked", "recipe", recipe, "phase", phase, "waiting_for", waiting)
}

// ThreadStart/ThreadComplete bracket one package worker's lifetime.
func (r *Recorder) ThreadStart(recipe, targetPhase string) {
	r.emit(Event{Kind: ThreadStart, Recipe: recipe, Phase: targetPhase})
}

func (r *Recorder) ThreadComplete(recipe, finalPhase string) {
	r.emit(Event{Kind: ThreadComplete, Recipe: recipe, Phase: finalPhase})
}

// RecipeRegistered records a package's first interning into the registry.
func (r *Recorder) RecipeRegistered(recipe, key string) {
	r.emit(Event{Kind: RecipeRegistered, Recipe: recipe, CacheKey: key})
}

// CacheHit/CacheMiss record the check phase's cache lookup outcome and
// increment the corresponding Prometheus counter.
func (r *Recorder) CacheHit(recipe, cacheKey, assetPath string) {
	r.cache.hits.Inc()
	r.emit(Event{Kind: CacheHit, Recipe: recipe, CacheKey: cacheKey, AssetPath: assetPath})
	r.log.Info("cache hit", "recipe", recipe, "cache_key", cacheKey, "asset_path", assetPath)
}

func (r *Recorder) CacheMiss(recipe, cacheKey string) {
	r.cache.misses.Inc()
	r.emit(Event{Kind: CacheMiss, Recipe: recipe, CacheKey: cacheKey})
	r.log.Info("cache miss", "recipe", recipe, "cache_key", cacheKey)
}

// LockAcquired/LockReleased bracket an EntryLock's hold against one cache
// entry, for diagnosing contention on a shared .lock file.
func (r *Recorder) LockAcquired(recipe, lockPath string, waited time.Duration) {
	r.emit(Event{Kind: LockAcquired, Recipe: recipe, AssetPath: lockPath, Duration: waited})
}

func (r *Recorder) LockReleased(recipe, lockPath string, held time.Duration) {
	r.emit(Event{Kind: LockReleased, Recipe: recipe, AssetPath: lockPath, Duration: held})
}

type cacheMetrics struct {
	hits   prometheus.Counter
	misses prometheus.Counter
}

func newCacheMetrics() *cacheMetrics {
	return &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "envy",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of check-phase cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "envy",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of check-phase cache misses.",
		}),
	}
}

type phaseMetrics struct {
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

func newPhaseMetrics() *phaseMetrics {
	return &phaseMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "envy",
			Subsystem: "phase",
			Name:      "duration_seconds",
			Help:      "Per-phase wall-clock duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "envy",
			Subsystem: "phase",
			Name:      "in_flight",
			Help:      "Number of workers currently executing a given phase.",
		}, []string{"phase"}),
	}
}
