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

	"github.com/twmb/franz-go/pkg/kfake"

	"github.com/jbandu/bag-sub000/kit"
)

type chanSink struct {
	deliveries chan Delivery
}

func newChanSink() *chanSink {
	return &chanSink{deliveries: make(chan Delivery, 16)}
}

func (s *chanSink) Deliver(d Delivery)         { s.deliveries <- d }
func (s *chanSink) PartitionsAssigned([]int32) {}
func (s *chanSink) PartitionsRevoked([]int32)  {}

func awaitDelivery(t *testing.T, sink *chanSink, timeout time.Duration) Delivery {
	t.Helper()
	select {
	case d := <-sink.deliveries:
		return d
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a delivery")
		return Delivery{}
	}
}

// An acknowledged offset stays committed; an unacknowledged one moves with
// the partition to the next group member. Three members take turns on a
// one-partition group: A receives the record and halts without acking, B
// must see it again and acks it, C must see nothing.
func TestUnackedDeliveryMovesToNextMember(t *testing.T) {
	if testing.Short() {
		t.Skip("group lifecycle test")
	}
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, "bag-tracking"))
	if err != nil {
		t.Fatalf("fake cluster: %v", err)
	}
	defer cluster.Close()

	logConfig := Config{
		Topic:   "bag-tracking",
		GroupID: "redelivery-test",
		Cluster: SimpleCluster(cluster.ListenAddrs()),
	}
	ctx := context.Background()

	publisher, err := NewPublisher(logConfig, DefaultPublisherConfig(), NewMemoryFingerprintIndex())
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()
	if _, err := publisher.Publish(ctx, checkInScan("BAG900")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadLetters, err := NewDeadLetter(logConfig)
	if err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	defer deadLetters.Close()

	consumerConfig := ConsumerConfig{
		SessionTimeout: 6 * time.Second,
		CommitInterval: time.Second,
	}

	// A receives the record but halts without acknowledging it, so its
	// offset is never committed.
	sinkA := newChanSink()
	consumerA, err := NewConsumer(logConfig, consumerConfig, sinkA, deadLetters)
	if err != nil {
		t.Fatalf("consumer A: %v", err)
	}
	rsA := kit.NewRunStatus(ctx)
	consumerA.Start(rsA)
	first := awaitDelivery(t, sinkA, 20*time.Second)
	if first.Event.EntityID != "BAG900" {
		t.Fatalf("unexpected entity %s", first.Event.EntityID)
	}
	rsA.Halt()

	// B joins the same group and must be handed the unacknowledged record.
	sinkB := newChanSink()
	consumerB, err := NewConsumer(logConfig, consumerConfig, sinkB, deadLetters)
	if err != nil {
		t.Fatalf("consumer B: %v", err)
	}
	rsB := kit.NewRunStatus(ctx)
	consumerB.Start(rsB)
	second := awaitDelivery(t, sinkB, 20*time.Second)
	if second.Offset != first.Offset || second.Event.ID != first.Event.ID {
		t.Fatalf("expected the unacknowledged record back, got offset %d event %s", second.Offset, second.Event.ID)
	}
	consumerB.Ack(second)
	rsB.Halt()
	// B commits marked offsets on its way out of the group.
	time.Sleep(3 * time.Second)

	// C starts from the committed offset and must see nothing.
	sinkC := newChanSink()
	consumerC, err := NewConsumer(logConfig, consumerConfig, sinkC, deadLetters)
	if err != nil {
		t.Fatalf("consumer C: %v", err)
	}
	rsC := kit.NewRunStatus(ctx)
	consumerC.Start(rsC)
	select {
	case d := <-sinkC.deliveries:
		t.Fatalf("committed record delivered again at offset %d", d.Offset)
	case <-time.After(8 * time.Second):
	}
	rsC.Halt()
}

var _ Sink = (*chanSink)(nil)
