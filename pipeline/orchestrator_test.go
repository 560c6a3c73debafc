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
	"context"
	"errors"
	"testing"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/correlate"
	"github.com/jbandu/bag-sub000/dualwrite"
	"github.com/jbandu/bag-sub000/eventlog"
	"github.com/jbandu/bag-sub000/kit"
	"github.com/jbandu/bag-sub000/validate"
)

type memRecords struct {
	commitErr error
	committed chan *dualwrite.Fact
}

func newMemRecords() *memRecords {
	return &memRecords{committed: make(chan *dualwrite.Fact, 64)}
}

func (m *memRecords) Commit(_ context.Context, fact *dualwrite.Fact) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed <- fact
	return nil
}

func (m *memRecords) RecordOutcome(_ context.Context, _ bagstream.TwinWriteOutcome) error {
	return nil
}

func (m *memRecords) Backlog(_ context.Context, _ int) ([]bagstream.TwinWriteOutcome, error) {
	return nil, nil
}

func (m *memRecords) Ping(_ context.Context) error { return nil }

type memTwin struct{}

func (memTwin) Apply(_ context.Context, _ *dualwrite.Fact) error { return nil }

type memSideline struct {
	parked chan eventlog.Delivery
}

func (m *memSideline) SidelineDelivery(_ context.Context, d eventlog.Delivery, _ error) {
	m.parked <- d
}

type harness struct {
	orch     *Orchestrator
	records  *memRecords
	sideline *memSideline
	acked    chan eventlog.Delivery
	rs       kit.RunStatus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		records:  newMemRecords(),
		sideline: &memSideline{parked: make(chan eventlog.Delivery, 64)},
		acked:    make(chan eventlog.Delivery, 64),
		rs:       kit.NewRunStatus(context.Background()),
	}
	t.Cleanup(h.rs.Halt)

	coordinator := dualwrite.NewCoordinator(h.records, memTwin{}, dualwrite.Config{
		SecondaryRetries: 1,
		SecondaryBackoff: time.Millisecond,
		WriteTimeout:     time.Second,
	})
	h.orch = NewOrchestrator(h.rs,
		validate.NewValidator(validate.DefaultConfig()),
		correlate.NewEngine(correlate.DefaultConfig()),
		coordinator,
		AckerFunc(func(d eventlog.Delivery) { h.acked <- d }),
		h.sideline,
		DefaultConfig())
	h.orch.PartitionsAssigned([]int32{0})
	return h
}

func (h *harness) deliver(entity string, kind bagstream.EventKind, at time.Time) {
	h.orch.Deliver(eventlog.Delivery{
		Event:     *trackingEvent(entity, kind, at),
		Partition: 0,
	})
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestPipelineProcessesAndAcks(t *testing.T) {
	h := newHarness(t)

	h.deliver("BAG001", bagstream.CheckIn, t0)
	fact := waitFor(t, h.records.committed, "primary commit")
	if fact.Event.EntityID != "BAG001" || !fact.Result.Valid {
		t.Errorf("expected a clean committed fact, got %+v", fact)
	}
	waitFor(t, h.acked, "ack")

	select {
	case n := <-h.orch.Notifications():
		t.Errorf("a clean scan must not notify, got %+v", n)
	default:
	}
}

func TestPipelineUsesHistoryAcrossEvents(t *testing.T) {
	h := newHarness(t)

	h.deliver("BAG001", bagstream.CheckIn, t0)
	waitFor(t, h.records.committed, "first commit")

	// Claim with no intervening journey is anomalous against the history.
	h.deliver("BAG001", bagstream.Claim, t0.Add(10*time.Minute))
	fact := waitFor(t, h.records.committed, "second commit")
	if fact.Result.Valid {
		t.Error("claim straight after check_in should be flagged")
	}
	if !fact.Result.HasAnomaly(bagstream.AnomalyOutOfSequence) {
		t.Errorf("expected out_of_sequence, got %v", fact.Result.Anomalies)
	}

	n := waitFor(t, h.orch.Notifications(), "anomaly notification")
	if n.Event.Kind != bagstream.Claim {
		t.Errorf("expected the claim in the notification, got %s", n.Event.Kind)
	}
}

func TestPrimaryFailureSidelinesAndAcks(t *testing.T) {
	h := newHarness(t)
	h.records.commitErr = errors.New("postgres down")

	h.deliver("BAG001", bagstream.CheckIn, t0)
	parked := waitFor(t, h.sideline.parked, "sideline")
	if parked.Event.EntityID != "BAG001" {
		t.Errorf("wrong delivery parked: %+v", parked.Event)
	}
	// The partition must keep moving even though the event failed.
	waitFor(t, h.acked, "ack")

	snapshot := h.orch.Metrics().Snapshot()
	if snapshot.Sidelined != 1 {
		t.Errorf("expected 1 sidelined, got %d", snapshot.Sidelined)
	}
}

func TestRevokedPartitionDropsDeliveries(t *testing.T) {
	h := newHarness(t)
	h.orch.PartitionsRevoked([]int32{0})

	h.deliver("BAG001", bagstream.CheckIn, t0)
	select {
	case <-h.records.committed:
		t.Error("a revoked partition must not process deliveries")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnassignedPartitionIgnored(t *testing.T) {
	h := newHarness(t)

	h.orch.Deliver(eventlog.Delivery{
		Event:     *trackingEvent("BAG001", bagstream.CheckIn, t0),
		Partition: 7,
	})
	select {
	case <-h.records.committed:
		t.Error("deliveries for unassigned partitions must be dropped")
	case <-time.After(100 * time.Millisecond):
	}
}
