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
	"errors"
	"testing"
	"time"
)

func validEvent() Event {
	return Event{
		ID:         "ev-1",
		EntityID:   "BAG001",
		Kind:       CheckIn,
		Location:   "T1-counter",
		OccurredAt: time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestEventCheck(t *testing.T) {
	e := validEvent()
	if err := e.Check(); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}

	e = validEvent()
	e.EntityID = ""
	if err := e.Check(); !errors.Is(err, ErrMissingEntity) {
		t.Errorf("expected ErrMissingEntity, got %v", err)
	}

	e = validEvent()
	e.Location = ""
	if err := e.Check(); !errors.Is(err, ErrMissingLocation) {
		t.Errorf("expected ErrMissingLocation, got %v", err)
	}

	e = validEvent()
	e.OccurredAt = time.Time{}
	if err := e.Check(); !errors.Is(err, ErrMissingTime) {
		t.Errorf("expected ErrMissingTime, got %v", err)
	}

	e = validEvent()
	e.Kind = EventKind("teleport")
	if err := e.Check(); err == nil {
		t.Error("unknown kinds must be rejected at ingestion")
	}
}

func TestEventJsonRoundTrip(t *testing.T) {
	e := validEvent()
	e.Kind = Exception
	e.Payload = Payload{ExceptionCode: "misroute", Extra: map[string]string{"belt": "7"}}

	raw, err := EncodeJson(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeJson[Event](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != e.ID || decoded.Kind != e.Kind || !decoded.OccurredAt.Equal(e.OccurredAt) {
		t.Errorf("round trip mangled the event: %+v", decoded)
	}
	if decoded.Payload.ExceptionCode != "misroute" || decoded.Payload.Extra["belt"] != "7" {
		t.Errorf("round trip mangled the payload: %+v", decoded.Payload)
	}
}

func TestExceptionCodeFallback(t *testing.T) {
	e := validEvent()
	e.Kind = Exception
	if code := e.ExceptionCode(); code != "unspecified" {
		t.Errorf("expected the unspecified fallback, got %q", code)
	}
	e.Payload.ExceptionCode = "damage"
	if code := e.ExceptionCode(); code != "damage" {
		t.Errorf("expected damage, got %q", code)
	}
}
