// Copyright 2026 the bagstream authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package correlate maintains time-windowed indices of recent tracking events
// and detects multi-bag patterns that per-bag validation cannot see: bulk
// misrouting, systemic delay and mass exceptions.
//
// Windowing is computed against event occurred_at timestamps, not arrival
// time, so replaying a historical range reproduces the same groups.
package correlate

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/kit"
)

type Config struct {
	// Window is the correlation window. Index entries older than 2×Window are
	// trimmed lazily on each call.
	Window time.Duration
	// Bucket is the coarse time bucket used by pattern detection.
	Bucket time.Duration
	// MinEventsForPattern gates same-location groups and all pattern rules.
	MinEventsForPattern int
	// ConfidenceThreshold discards any group scored below it.
	ConfidenceThreshold float64
	// Confidence multipliers per pattern rule. Hand-tuned starting points;
	// validate against historical data before trusting them.
	MisrouteMultiplier  float64
	DelayMultiplier     float64
	ExceptionMultiplier float64
	// ActiveRetention is the multiple of Window after which an active group
	// with no new contributing events is pruned.
	ActiveRetention int
}

func DefaultConfig() Config {
	return Config{
		Window:              30 * time.Minute,
		Bucket:              15 * time.Minute,
		MinEventsForPattern: 5,
		ConfidenceThreshold: 0.7,
		MisrouteMultiplier:  2.0,
		DelayMultiplier:     2.5,
		ExceptionMultiplier: 2.0,
		ActiveRetention:     3,
	}
}

// entry is the slim projection of an event kept in the windowed indices.
type entry struct {
	entityID      string
	kind          bagstream.EventKind
	location      string
	routeID       string
	exceptionCode string
	occurredAt    time.Time
	timeGap       bool
}

// timeBucket groups entries by coarse occurred_at bucket, ordered in a btree
// so trimming walks only expired buckets.
type timeBucket struct {
	start   time.Time
	entries []entry
}

func bucketLess(a, b *timeBucket) bool {
	return a.start.Before(b.start)
}

// Engine holds the three windowed indices plus the active pattern registry.
// Each index carries its own lock so concurrent partition workers contend
// per index, not on the engine as a whole.
type Engine struct {
	config Config

	routeMu    sync.Mutex
	routeIndex map[string][]entry

	locationMu    sync.Mutex
	locationIndex map[string][]entry

	bucketMu    sync.Mutex
	bucketIndex *btree.BTreeG[*timeBucket]

	activeMu sync.Mutex
	active   map[string]*activeGroup
}

type activeGroup struct {
	group     bagstream.CorrelatedGroup
	lastTouch time.Time
}

func NewEngine(config Config) *Engine {
	return &Engine{
		config:        config,
		routeIndex:    make(map[string][]entry),
		locationIndex: make(map[string][]entry),
		bucketIndex:   btree.NewG(16, bucketLess),
		active:        make(map[string]*activeGroup),
	}
}

// Correlate indexes the event and returns any groups whose thresholds it
// crossed, mutating the indices as a side effect. The validation result
// supplies the time-gap flag used by systemic-delay detection; it may be nil.
func (e *Engine) Correlate(event *bagstream.Event, vr *bagstream.ValidationResult) []bagstream.CorrelatedGroup {
	ent := entry{
		entityID:   event.EntityID,
		kind:       event.Kind,
		location:   event.Location,
		routeID:    event.RouteID,
		occurredAt: event.OccurredAt,
	}
	if event.Kind == bagstream.Exception {
		ent.exceptionCode = event.ExceptionCode()
	}
	if vr != nil {
		ent.timeGap = vr.HasAnomaly(bagstream.AnomalyTimeGap)
	}

	now := event.OccurredAt
	var found []detected

	if d, ok := e.indexRoute(ent, now); ok {
		found = append(found, d)
	}
	if d, ok := e.indexLocation(ent, now); ok {
		found = append(found, d)
	}
	found = append(found, e.indexBucket(ent, now)...)

	var kept []bagstream.CorrelatedGroup
	for _, d := range found {
		if d.group.Confidence < e.config.ConfidenceThreshold {
			continue
		}
		kept = append(kept, e.remember(d, now))
	}
	return kept
}

// detected pairs a candidate group with the subject (route id, location,
// exception code) it was keyed on, so the active registry can merge repeat
// detections of the same situation.
type detected struct {
	group   bagstream.CorrelatedGroup
	subject string
}

func (e *Engine) indexRoute(ent entry, now time.Time) (detected, bool) {
	if len(ent.routeID) == 0 {
		return detected{}, false
	}
	e.routeMu.Lock()
	defer e.routeMu.Unlock()

	e.routeIndex[ent.routeID] = trim(append(e.routeIndex[ent.routeID], ent), now, 2*e.config.Window)
	recent := inWindow(e.routeIndex[ent.routeID], now, e.config.Window)
	if len(recent) < 2 {
		return detected{}, false
	}
	g := newBasicGroup(bagstream.BasisSameRoute, recent)
	g.Confidence = kit.Clamp01(0.45 * float64(len(uniqueEntities(recent))))
	return detected{group: g, subject: ent.routeID}, true
}

func (e *Engine) indexLocation(ent entry, now time.Time) (detected, bool) {
	e.locationMu.Lock()
	defer e.locationMu.Unlock()

	e.locationIndex[ent.location] = trim(append(e.locationIndex[ent.location], ent), now, 2*e.config.Window)
	recent := inWindow(e.locationIndex[ent.location], now, e.config.Window)
	if len(recent) < e.config.MinEventsForPattern {
		return detected{}, false
	}
	g := newBasicGroup(bagstream.BasisSameLocation, recent)
	g.Confidence = kit.Clamp01(0.75 * float64(len(recent)) / float64(e.config.MinEventsForPattern))
	return detected{group: g, subject: ent.location}, true
}

func (e *Engine) indexBucket(ent entry, now time.Time) []detected {
	e.bucketMu.Lock()
	start := ent.occurredAt.Truncate(e.config.Bucket)
	probe := &timeBucket{start: start}
	bucket, ok := e.bucketIndex.Get(probe)
	if !ok {
		bucket = probe
		e.bucketIndex.ReplaceOrInsert(bucket)
	}
	bucket.entries = append(bucket.entries, ent)
	e.trimBuckets(now)
	// Snapshot under the lock; detection runs on the copy.
	snapshot := make([]entry, len(bucket.entries))
	copy(snapshot, bucket.entries)
	e.bucketMu.Unlock()

	return e.detectPatterns(snapshot, start)
}

// trimBuckets drops whole buckets older than 2×Window. Caller holds bucketMu.
func (e *Engine) trimBuckets(now time.Time) {
	cutoff := now.Add(-2 * e.config.Window)
	var expired []*timeBucket
	e.bucketIndex.Ascend(func(b *timeBucket) bool {
		if b.start.Add(e.config.Bucket).Before(cutoff) {
			expired = append(expired, b)
			return true
		}
		return false
	})
	for _, b := range expired {
		e.bucketIndex.Delete(b)
	}
}

// remember merges the detection into the active registry: a group with the
// same basis, pattern and subject only grows its membership while its window
// is open.
func (e *Engine) remember(d detected, now time.Time) bagstream.CorrelatedGroup {
	g := d.group

	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	e.pruneActiveLocked(now)

	key := string(g.Basis) + "|" + string(g.Pattern) + "|" + d.subject
	if existing, ok := e.active[key]; ok {
		merged := &existing.group
		for _, m := range g.Members {
			if !merged.HasMember(m) {
				merged.Members = append(merged.Members, m)
			}
		}
		if g.WindowEnd.After(merged.WindowEnd) {
			merged.WindowEnd = g.WindowEnd
		}
		if g.WindowStart.Before(merged.WindowStart) {
			merged.WindowStart = g.WindowStart
		}
		merged.Confidence = g.Confidence
		existing.lastTouch = now
		return *merged
	}

	g.ID = uuid.NewString()
	g.DetectedAt = now
	e.active[key] = &activeGroup{group: g, lastTouch: now}
	return g
}

func (e *Engine) pruneActiveLocked(now time.Time) {
	retention := time.Duration(e.config.ActiveRetention) * e.config.Window
	for key, ag := range e.active {
		if now.Sub(ag.lastTouch) > retention {
			delete(e.active, key)
		}
	}
}

// ActivePatterns returns a copy of the currently active groups, highest
// priority first is not guaranteed; callers sort as needed.
func (e *Engine) ActivePatterns() []bagstream.CorrelatedGroup {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	out := make([]bagstream.CorrelatedGroup, 0, len(e.active))
	for _, ag := range e.active {
		out = append(out, ag.group)
	}
	return out
}

// CorrelatedEntities returns the active groups entityID participates in.
func (e *Engine) CorrelatedEntities(entityID string) []bagstream.CorrelatedGroup {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	var out []bagstream.CorrelatedGroup
	for _, ag := range e.active {
		if ag.group.HasMember(entityID) {
			out = append(out, ag.group)
		}
	}
	return out
}

// StartJanitor prunes the active registry on a timer until rs halts, keeping
// operator queries from walking long-expired groups between events.
func (e *Engine) StartJanitor(rs kit.RunStatus, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.activeMu.Lock()
				e.pruneActiveLocked(time.Now())
				e.activeMu.Unlock()
			case <-rs.Done():
				return
			}
		}
	}()
}

func trim(entries []entry, now time.Time, maxAge time.Duration) []entry {
	cutoff := now.Add(-maxAge)
	kept := entries[:0]
	for _, ent := range entries {
		if !ent.occurredAt.Before(cutoff) {
			kept = append(kept, ent)
		}
	}
	return kept
}

func inWindow(entries []entry, now time.Time, window time.Duration) []entry {
	cutoff := now.Add(-window)
	out := make([]entry, 0, len(entries))
	for _, ent := range entries {
		if !ent.occurredAt.Before(cutoff) {
			out = append(out, ent)
		}
	}
	return out
}

func uniqueEntities(entries []entry) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, ent := range entries {
		if _, ok := seen[ent.entityID]; !ok {
			seen[ent.entityID] = struct{}{}
			out = append(out, ent.entityID)
		}
	}
	return out
}

func timeBounds(entries []entry) (start, end time.Time) {
	for i, ent := range entries {
		if i == 0 || ent.occurredAt.Before(start) {
			start = ent.occurredAt
		}
		if i == 0 || ent.occurredAt.After(end) {
			end = ent.occurredAt
		}
	}
	return
}

func newBasicGroup(basis bagstream.CorrelationBasis, entries []entry) bagstream.CorrelatedGroup {
	start, end := timeBounds(entries)
	return bagstream.CorrelatedGroup{
		Basis:       basis,
		Members:     uniqueEntities(entries),
		WindowStart: start,
		WindowEnd:   end,
		Priority:    bagstream.PriorityMedium,
	}
}
