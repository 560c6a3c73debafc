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

package eventlog

import (
	"context"
	"testing"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
)

func TestMemoryFingerprintIndexSuppresses(t *testing.T) {
	index := NewMemoryFingerprintIndex()
	ctx := context.Background()

	fresh, err := index.Remember(ctx, 42, 5*time.Minute)
	if err != nil || !fresh {
		t.Fatalf("first sighting should be fresh, got fresh=%v err=%v", fresh, err)
	}
	fresh, _ = index.Remember(ctx, 42, 5*time.Minute)
	if fresh {
		t.Error("second sighting inside the window must be suppressed")
	}
	fresh, _ = index.Remember(ctx, 43, 5*time.Minute)
	if !fresh {
		t.Error("distinct fingerprints must not collide")
	}
}

func TestMemoryFingerprintIndexExpires(t *testing.T) {
	index := NewMemoryFingerprintIndex()
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	index.clock = func() time.Time { return now }
	ctx := context.Background()

	index.Remember(ctx, 42, 5*time.Minute)

	now = now.Add(4 * time.Minute)
	if fresh, _ := index.Remember(ctx, 42, 5*time.Minute); fresh {
		t.Error("4 minutes in, the fingerprint is still suppressed")
	}

	now = now.Add(2 * time.Minute)
	if fresh, _ := index.Remember(ctx, 42, 5*time.Minute); !fresh {
		t.Error("after the TTL the fingerprint is forgotten")
	}
}

func TestForgetReleasesFingerprint(t *testing.T) {
	index := NewMemoryFingerprintIndex()
	ctx := context.Background()

	index.Remember(ctx, 42, 5*time.Minute)
	if err := index.Forget(ctx, 42); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if fresh, _ := index.Remember(ctx, 42, 5*time.Minute); !fresh {
		t.Error("a forgotten fingerprint must be fresh again")
	}
}

func TestFingerprintBucketing(t *testing.T) {
	at := time.Date(2026, time.March, 14, 9, 0, 10, 0, time.UTC)
	base := bagstream.Event{
		EntityID:   "BAG001",
		Kind:       bagstream.Sortation,
		Location:   "T1-sorter",
		OccurredAt: at,
	}

	sameBucket := base
	sameBucket.OccurredAt = at.Add(20 * time.Second)
	if base.Fingerprint(time.Minute) != sameBucket.Fingerprint(time.Minute) {
		t.Error("scans within one bucket must share a fingerprint")
	}

	nextBucket := base
	nextBucket.OccurredAt = at.Add(90 * time.Second)
	if base.Fingerprint(time.Minute) == nextBucket.Fingerprint(time.Minute) {
		t.Error("scans in different buckets must not share a fingerprint")
	}

	elsewhere := base
	elsewhere.Location = "T2-sorter"
	if base.Fingerprint(time.Minute) == elsewhere.Fingerprint(time.Minute) {
		t.Error("location is part of the fingerprint")
	}

	otherBag := base
	otherBag.EntityID = "BAG002"
	if base.Fingerprint(time.Minute) == otherBag.Fingerprint(time.Minute) {
		t.Error("entity is part of the fingerprint")
	}
}
