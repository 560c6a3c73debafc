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
	"time"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/dualwrite"
	"github.com/jbandu/bag-sub000/eventlog"
	"github.com/jbandu/bag-sub000/kit"
)

// worker processes every delivery for one partition, in order, on one
// goroutine. Entity ownership follows partition ownership: the log keys
// records by entity id, so an entity's events always land here together.
type worker struct {
	orch      *Orchestrator
	partition int32
	input     chan eventlog.Delivery
	history   *historyStore
	runStatus kit.RunStatus
}

func newWorker(orch *Orchestrator, partition int32) *worker {
	w := &worker{
		orch:      orch,
		partition: partition,
		input:     make(chan eventlog.Delivery, orch.config.WorkerBuffer),
		history:   newHistoryStore(orch.config.HistoryDepth),
		runStatus: orch.runStatus.Fork(),
	}
	go w.work()
	return w
}

func (w *worker) add(d eventlog.Delivery) {
	select {
	case w.input <- d:
	case <-w.runStatus.Done():
	}
}

func (w *worker) halt() {
	w.runStatus.Halt()
}

func (w *worker) work() {
	for {
		select {
		case <-w.runStatus.Done():
			return
		case d := <-w.input:
			w.process(d)
		}
	}
}

func (w *worker) process(d eventlog.Delivery) {
	start := time.Now()
	event := &d.Event

	result := w.assess(w.history.Events(event.EntityID), event)
	groups := w.correlateGuarded(event, &result)

	fact := &dualwrite.Fact{Event: d.Event, Result: result, Groups: groups}
	ctx, cancel := context.WithTimeout(w.runStatus.Ctx(), w.orch.config.EventTimeout)
	outcome, err := w.orch.coordinator.Commit(ctx, fact)
	cancel()
	if err != nil {
		// Store-of-record failure: park the event and keep the partition
		// moving. The sideline preserves it for requeue once the store
		// recovers.
		bagstream.Log().Errorf("commit failed for event %s on partition %d: %v", event.ID, w.partition, err)
		w.orch.deadLetters.SidelineDelivery(context.Background(), d, err)
		w.orch.metrics.observeSidelined()
		w.orch.acks.Ack(d)
		return
	}

	w.history.Append(event)
	w.orch.acks.Ack(d)

	anomalous := len(result.Anomalies) > 0
	batchAction := false
	for i := range groups {
		if groups[i].RequiresBatchAction {
			batchAction = true
			break
		}
	}
	if anomalous || batchAction {
		w.orch.notify(Notification{Event: d.Event, Result: result, Groups: groups})
	}
	w.orch.metrics.observe(time.Since(start), anomalous, outcome.Degraded(), len(groups))
}

// assess runs validation under a panic guard. A crashing rule must not take
// the partition down with it; the event passes through at low confidence and
// the assessment records why.
func (w *worker) assess(history []bagstream.Event, event *bagstream.Event) (result bagstream.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			bagstream.Log().Errorf("validation panic on event %s: %v", event.ID, r)
			result = bagstream.ValidationResult{
				Valid:      true,
				Confidence: 0.3,
				Reasoning:  "validation crashed, passed through unassessed",
			}
		}
	}()
	return w.orch.validator.Validate(history, event)
}

// correlateGuarded runs correlation under a panic guard. Correlation is an
// enrichment; losing it for one event costs a pattern detection, not the
// event.
func (w *worker) correlateGuarded(event *bagstream.Event, result *bagstream.ValidationResult) (groups []bagstream.CorrelatedGroup) {
	defer func() {
		if r := recover(); r != nil {
			bagstream.Log().Errorf("correlation panic on event %s: %v", event.ID, r)
			groups = nil
		}
	}()
	return w.orch.engine.Correlate(event, result)
}
