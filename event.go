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

package bagstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// EventKind is the enumerated category of a tracking event. The set is fixed;
// unknown kinds are rejected at ingestion.
type EventKind string

const (
	CheckIn   EventKind = "check_in"
	Sortation EventKind = "sortation"
	Load      EventKind = "load"
	Offload   EventKind = "offload"
	Arrival   EventKind = "arrival"
	Claim     EventKind = "claim"
	Exception EventKind = "exception"
	Manual    EventKind = "manual"
)

var allKinds = map[EventKind]struct{}{
	CheckIn: {}, Sortation: {}, Load: {}, Offload: {},
	Arrival: {}, Claim: {}, Exception: {}, Manual: {},
}

// KnownKind reports whether k is part of the tracking ontology.
func KnownKind(k EventKind) bool {
	_, ok := allKinds[k]
	return ok
}

// Payload carries kind-specific scan detail. The named fields cover the kinds
// the pipeline interprets; anything else rides along in Extra for forward
// compatibility.
type Payload struct {
	// FlightNumber is set on load/offload scans.
	FlightNumber string `json:"flight_number,omitempty"`
	// Carousel is set on arrival/claim scans.
	Carousel string `json:"carousel,omitempty"`
	// ExceptionCode categorizes exception events (e.g. "misroute", "damage").
	ExceptionCode string `json:"exception_code,omitempty"`
	// Agent identifies the operator for manual scans.
	Agent string `json:"agent,omitempty"`
	Extra map[string]string `json:"extra,omitempty"`
}

// Event is one immutable tracking fact for a bag. Events are created by the
// ingestion publisher and never mutated afterwards.
type Event struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	Kind       EventKind `json:"event_kind"`
	Location   string    `json:"location"`
	OccurredAt time.Time `json:"occurred_at"`
	RouteID    string    `json:"route_id,omitempty"`
	Payload    Payload   `json:"payload"`
}

var (
	ErrMissingEntity   = errors.New("event has no entity id")
	ErrMissingLocation = errors.New("event has no location")
	ErrMissingTime     = errors.New("event has no occurred_at timestamp")
)

// Check verifies the inbound event shape. Malformed events are rejected before
// they ever reach the log.
func (e *Event) Check() error {
	if len(e.EntityID) == 0 {
		return ErrMissingEntity
	}
	if len(e.Location) == 0 {
		return ErrMissingLocation
	}
	if e.OccurredAt.IsZero() {
		return ErrMissingTime
	}
	if !KnownKind(e.Kind) {
		return fmt.Errorf("unknown event kind: %q", e.Kind)
	}
	return nil
}

// Fingerprint derives the deduplication fingerprint for the event:
// xxhash64 over entity id, location and occurred_at truncated to bucket.
// Two scans of the same bag at the same place within one bucket collide by
// construction, which is exactly what suppression wants.
func (e *Event) Fingerprint(bucket time.Duration) uint64 {
	d := xxhash.New()
	d.WriteString(e.EntityID)
	d.Write([]byte{0})
	d.WriteString(e.Location)
	d.Write([]byte{0})
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(e.OccurredAt.Truncate(bucket).Unix()))
	d.Write(ts[:])
	return d.Sum64()
}

// ExceptionCode returns the exception subtype for exception events, falling
// back to "unspecified" so grouping always has a key.
func (e *Event) ExceptionCode() string {
	if len(e.Payload.ExceptionCode) != 0 {
		return e.Payload.ExceptionCode
	}
	return "unspecified"
}
