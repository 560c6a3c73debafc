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

package correlate

import (
	"fmt"
	"testing"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
)

var windowStart = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func misrouteAt(i int, location string, at time.Time) *bagstream.Event {
	return &bagstream.Event{
		ID:         fmt.Sprintf("ev-%s-%d", location, i),
		EntityID:   fmt.Sprintf("BAG%03d", i),
		Kind:       bagstream.Exception,
		Location:   location,
		OccurredAt: at,
		Payload:    bagstream.Payload{ExceptionCode: "misroute"},
	}
}

func findPattern(groups []bagstream.CorrelatedGroup, pattern bagstream.PatternKind) (bagstream.CorrelatedGroup, bool) {
	for _, g := range groups {
		if g.Pattern == pattern {
			return g, true
		}
	}
	return bagstream.CorrelatedGroup{}, false
}

func TestBulkMisrouteDetection(t *testing.T) {
	e := NewEngine(DefaultConfig())

	var groups []bagstream.CorrelatedGroup
	for i := 0; i < 5; i++ {
		groups = e.Correlate(misrouteAt(i, "T2-sorter", windowStart.Add(time.Duration(i)*time.Minute)), nil)
		if i < 4 && len(groups) != 0 {
			t.Fatalf("no pattern should fire at %d events, got %d groups", i+1, len(groups))
		}
	}

	g, ok := findPattern(groups, bagstream.BulkMisroute)
	if !ok {
		t.Fatalf("expected bulk_misroute at 5 events, got %v", groups)
	}
	if !g.RequiresBatchAction {
		t.Error("bulk misroute must require a batch action")
	}
	if g.Priority != bagstream.PriorityHigh {
		t.Errorf("expected high priority, got %s", g.Priority)
	}
	if len(g.Members) != 5 {
		t.Errorf("expected 5 members, got %d", len(g.Members))
	}
	if len(g.RecommendedActions) == 0 {
		t.Error("expected recommended actions")
	}

	// Five misroute exceptions are also a mass exception on the same code.
	mass, ok := findPattern(groups, bagstream.MassException)
	if !ok {
		t.Fatalf("expected mass_exception alongside, got %v", groups)
	}
	if mass.Priority != bagstream.PriorityCritical {
		t.Errorf("expected critical priority, got %s", mass.Priority)
	}
}

func TestSystemicDelayDetection(t *testing.T) {
	e := NewEngine(DefaultConfig())
	delayed := &bagstream.ValidationResult{}
	delayed.AddAnomaly(bagstream.AnomalyTimeGap)

	var groups []bagstream.CorrelatedGroup
	for i := 0; i < 5; i++ {
		event := &bagstream.Event{
			ID:         fmt.Sprintf("ld-%d", i),
			EntityID:   fmt.Sprintf("BAG%03d", i),
			Kind:       bagstream.Load,
			Location:   "T1-gate-12",
			OccurredAt: windowStart.Add(time.Duration(i) * time.Minute),
		}
		groups = e.Correlate(event, delayed)
	}

	g, ok := findPattern(groups, bagstream.SystemicDelay)
	if !ok {
		t.Fatalf("expected systemic_delay at 5 delayed scans, got %v", groups)
	}
	if g.RequiresBatchAction {
		t.Error("systemic delay alerts, it does not batch-act")
	}
	if g.Priority != bagstream.PriorityHigh {
		t.Errorf("expected high priority, got %s", g.Priority)
	}
}

func TestSameRouteCorrelation(t *testing.T) {
	e := NewEngine(DefaultConfig())

	first := &bagstream.Event{
		ID: "r1", EntityID: "BAG001", Kind: bagstream.Load,
		Location: "T1-gate-1", RouteID: "LHR-JFK", OccurredAt: windowStart,
	}
	second := &bagstream.Event{
		ID: "r2", EntityID: "BAG002", Kind: bagstream.Load,
		Location: "T1-gate-2", RouteID: "LHR-JFK", OccurredAt: windowStart.Add(5 * time.Minute),
	}

	if groups := e.Correlate(first, nil); len(groups) != 0 {
		t.Fatalf("one bag is not a group, got %v", groups)
	}
	groups := e.Correlate(second, nil)
	if len(groups) != 1 || groups[0].Basis != bagstream.BasisSameRoute {
		t.Fatalf("expected one same_route group, got %v", groups)
	}
	if len(groups[0].Members) != 2 {
		t.Errorf("expected both bags in the group, got %v", groups[0].Members)
	}
}

func TestRouteWindowExpires(t *testing.T) {
	e := NewEngine(DefaultConfig())

	first := &bagstream.Event{
		ID: "r1", EntityID: "BAG001", Kind: bagstream.Load,
		Location: "T1-gate-1", RouteID: "LHR-JFK", OccurredAt: windowStart,
	}
	late := &bagstream.Event{
		ID: "r2", EntityID: "BAG002", Kind: bagstream.Load,
		Location: "T1-gate-2", RouteID: "LHR-JFK", OccurredAt: windowStart.Add(45 * time.Minute),
	}

	e.Correlate(first, nil)
	if groups := e.Correlate(late, nil); len(groups) != 0 {
		t.Errorf("events 45m apart are outside the 30m window, got %v", groups)
	}
}

func TestActiveGroupMergesRepeatDetections(t *testing.T) {
	e := NewEngine(DefaultConfig())

	var groups []bagstream.CorrelatedGroup
	for i := 0; i < 5; i++ {
		groups = e.Correlate(misrouteAt(i, "T2-sorter", windowStart.Add(time.Duration(i)*time.Minute)), nil)
	}
	first, ok := findPattern(groups, bagstream.BulkMisroute)
	if !ok {
		t.Fatal("expected bulk_misroute")
	}

	groups = e.Correlate(misrouteAt(5, "T2-sorter", windowStart.Add(6*time.Minute)), nil)
	merged, ok := findPattern(groups, bagstream.BulkMisroute)
	if !ok {
		t.Fatal("expected bulk_misroute to re-fire")
	}
	if merged.ID != first.ID {
		t.Errorf("repeat detection of the same situation must keep the group id, got %s then %s", first.ID, merged.ID)
	}
	if len(merged.Members) != 6 {
		t.Errorf("expected membership to grow to 6, got %d", len(merged.Members))
	}

	matches := e.CorrelatedEntities("BAG005")
	if len(matches) == 0 {
		t.Error("the new member should be queryable by entity")
	}
}

func TestStaleActiveGroupsPruned(t *testing.T) {
	e := NewEngine(DefaultConfig())

	for i := 0; i < 5; i++ {
		e.Correlate(misrouteAt(i, "T2-sorter", windowStart.Add(time.Duration(i)*time.Minute)), nil)
	}
	if len(e.ActivePatterns()) == 0 {
		t.Fatal("expected active groups after detection")
	}

	// A fresh detection hours later prunes everything idle past retention.
	later := windowStart.Add(4 * time.Hour)
	for i := 0; i < 5; i++ {
		e.Correlate(misrouteAt(100+i, "T3-sorter", later.Add(time.Duration(i)*time.Minute)), nil)
	}
	for _, g := range e.ActivePatterns() {
		if g.WindowStart.Before(later.Add(-time.Hour)) {
			t.Errorf("stale group from the morning survived pruning: %+v", g)
		}
	}
}

func TestReplayReproducesGroups(t *testing.T) {
	run := func() bagstream.CorrelatedGroup {
		e := NewEngine(DefaultConfig())
		var groups []bagstream.CorrelatedGroup
		for i := 0; i < 5; i++ {
			groups = e.Correlate(misrouteAt(i, "T2-sorter", windowStart.Add(time.Duration(i)*time.Minute)), nil)
		}
		g, ok := findPattern(groups, bagstream.BulkMisroute)
		if !ok {
			t.Fatal("expected bulk_misroute")
		}
		return g
	}

	first, second := run(), run()
	if first.Confidence != second.Confidence ||
		!first.WindowStart.Equal(second.WindowStart) ||
		!first.WindowEnd.Equal(second.WindowEnd) ||
		len(first.Members) != len(second.Members) {
		t.Errorf("windowing on occurred_at must make replays deterministic: %+v vs %+v", first, second)
	}
}
