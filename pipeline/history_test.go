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

package pipeline

import (
	"fmt"
	"testing"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
)

var t0 = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func trackingEvent(entity string, kind bagstream.EventKind, at time.Time) *bagstream.Event {
	return &bagstream.Event{
		ID:         fmt.Sprintf("%s-%s-%d", entity, kind, at.Unix()),
		EntityID:   entity,
		Kind:       kind,
		Location:   "T1",
		OccurredAt: at,
	}
}

func TestHistoryOrderedByOccurrence(t *testing.T) {
	hs := newHistoryStore(50)

	// Arrival order is scrambled; storage order must not be.
	hs.Append(trackingEvent("BAG001", bagstream.Sortation, t0.Add(30*time.Minute)))
	hs.Append(trackingEvent("BAG001", bagstream.CheckIn, t0))
	hs.Append(trackingEvent("BAG001", bagstream.Load, t0.Add(time.Hour)))

	events := hs.Events("BAG001")
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []bagstream.EventKind{bagstream.CheckIn, bagstream.Sortation, bagstream.Load}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Errorf("position %d: expected %s, got %s", i, kind, events[i].Kind)
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	hs := newHistoryStore(3)
	for i := 0; i < 10; i++ {
		hs.Append(trackingEvent("BAG001", bagstream.Manual, t0.Add(time.Duration(i)*time.Minute)))
	}

	events := hs.Events("BAG001")
	if len(events) != 3 {
		t.Fatalf("expected the history capped at 3, got %d", len(events))
	}
	if !events[0].OccurredAt.Equal(t0.Add(7 * time.Minute)) {
		t.Errorf("expected the oldest surviving event at +7m, got %v", events[0].OccurredAt)
	}
}

func TestHistoryIsolatesEntities(t *testing.T) {
	hs := newHistoryStore(50)
	hs.Append(trackingEvent("BAG001", bagstream.CheckIn, t0))
	hs.Append(trackingEvent("BAG002", bagstream.CheckIn, t0))

	if len(hs.Events("BAG001")) != 1 || len(hs.Events("BAG002")) != 1 {
		t.Error("entities must not share history")
	}
	if hs.Events("BAG003") != nil {
		t.Error("unknown entity has no history")
	}
	if hs.Len() != 2 {
		t.Errorf("expected 2 tracked entities, got %d", hs.Len())
	}
}
