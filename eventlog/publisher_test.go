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
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	bagstream "github.com/jbandu/bag-sub000"
)

func checkInScan(entityID string) *bagstream.Event {
	return &bagstream.Event{
		EntityID:   entityID,
		Kind:       bagstream.CheckIn,
		Location:   "T1-checkin",
		OccurredAt: time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC),
	}
}

// unreachableConfig points at a port nothing listens on, so every produce
// fails once the delivery timeout elapses.
func unreachableConfig() Config {
	return Config{
		Topic:   "bag-tracking",
		Cluster: SimpleCluster{"127.0.0.1:1"},
	}
}

func TestFailedAppendDoesNotSuppressRetry(t *testing.T) {
	index := NewMemoryFingerprintIndex()
	publisher, err := NewPublisher(unreachableConfig(), DefaultPublisherConfig(), index,
		kgo.RecordDeliveryTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()
	ctx := context.Background()

	result, err := publisher.Publish(ctx, checkInScan("BAG800"))
	if err == nil {
		t.Fatal("append against an unreachable broker must fail")
	}
	if result.Duplicate {
		t.Error("a failed append is not a duplicate")
	}

	// The caller retries the same scan. The first attempt never landed, so
	// it must not come back as a suppressed duplicate with a nil error.
	result, err = publisher.Publish(ctx, checkInScan("BAG800"))
	if err == nil {
		t.Fatal("the retry must also report the append failure")
	}
	if result.Duplicate {
		t.Error("a failed append must not suppress the retry as a duplicate")
	}
}

func TestFailedBatchAppendReleasesFingerprints(t *testing.T) {
	index := NewMemoryFingerprintIndex()
	config := DefaultPublisherConfig()
	publisher, err := NewPublisher(unreachableConfig(), config, index,
		kgo.RecordDeliveryTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()
	ctx := context.Background()

	event := checkInScan("BAG801")
	results, err := publisher.PublishBatch(ctx, []*bagstream.Event{event})
	if err == nil {
		t.Fatal("batch append against an unreachable broker must fail")
	}
	if results[0].Duplicate {
		t.Error("a failed batch entry is not a duplicate")
	}
	fresh, _ := index.Remember(ctx, event.Fingerprint(config.DedupBucket), config.SuppressionWindow)
	if !fresh {
		t.Error("a failed batch entry must release its fingerprint")
	}
}

func TestPublishRequiresFingerprintIndex(t *testing.T) {
	publisher, err := NewPublisher(unreachableConfig(), DefaultPublisherConfig(), nil)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()
	ctx := context.Background()

	if _, err := publisher.Publish(ctx, checkInScan("BAG802")); !errors.Is(err, ErrNoFingerprintIndex) {
		t.Errorf("Publish without an index: want ErrNoFingerprintIndex, got %v", err)
	}
	if _, err := publisher.PublishBatch(ctx, []*bagstream.Event{checkInScan("BAG803")}); !errors.Is(err, ErrNoFingerprintIndex) {
		t.Errorf("PublishBatch without an index: want ErrNoFingerprintIndex, got %v", err)
	}
}
