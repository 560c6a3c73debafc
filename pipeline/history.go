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
	"sort"

	"github.com/google/btree"

	bagstream "github.com/jbandu/bag-sub000"
)

type entityHistory struct {
	entityID string
	events   []bagstream.Event
}

func historyLess(a, b *entityHistory) bool {
	return a.entityID < b.entityID
}

// historyStore holds the recent journey of every entity on one partition,
// bounded per entity and ordered by occurrence time. One partition is owned
// by one worker goroutine, so the store is unsynchronized.
type historyStore struct {
	tree  *btree.BTreeG[*entityHistory]
	depth int
}

func newHistoryStore(depth int) *historyStore {
	return &historyStore{
		tree:  btree.NewG(64, historyLess),
		depth: depth,
	}
}

// Events returns the entity's journey, oldest first. The returned slice is
// the store's backing array; callers must not mutate it.
func (hs *historyStore) Events(entityID string) []bagstream.Event {
	if h, ok := hs.tree.Get(&entityHistory{entityID: entityID}); ok {
		return h.events
	}
	return nil
}

// Append records the event in its entity's journey, keeping occurrence order
// and evicting the oldest entries past the depth bound. Out-of-order arrival
// (replays, clock skew between scanners) lands at the right position.
func (hs *historyStore) Append(event *bagstream.Event) {
	h, ok := hs.tree.Get(&entityHistory{entityID: event.EntityID})
	if !ok {
		h = &entityHistory{entityID: event.EntityID}
		hs.tree.ReplaceOrInsert(h)
	}
	i := sort.Search(len(h.events), func(i int) bool {
		return h.events[i].OccurredAt.After(event.OccurredAt)
	})
	h.events = append(h.events, bagstream.Event{})
	copy(h.events[i+1:], h.events[i:])
	h.events[i] = *event
	if len(h.events) > hs.depth {
		h.events = h.events[len(h.events)-hs.depth:]
	}
}

func (hs *historyStore) Len() int {
	return hs.tree.Len()
}
