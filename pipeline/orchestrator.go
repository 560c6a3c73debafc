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

// Package pipeline wires the tracking log to the validation, correlation and
// dual-write stages. Each assigned partition gets a dedicated worker
// goroutine with its own bounded history store, so all events for an entity
// are processed in order by exactly one goroutine with no locking on the hot
// path.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/correlate"
	"github.com/jbandu/bag-sub000/dualwrite"
	"github.com/jbandu/bag-sub000/eventlog"
	"github.com/jbandu/bag-sub000/kit"
	"github.com/jbandu/bag-sub000/validate"
)

// Acker acknowledges processed deliveries back to the log.
type Acker interface {
	Ack(eventlog.Delivery)
}

// AckerFunc adapts a function to Acker.
type AckerFunc func(eventlog.Delivery)

func (f AckerFunc) Ack(d eventlog.Delivery) { f(d) }

// Sideliner parks deliveries that cannot be processed.
type Sideliner interface {
	SidelineDelivery(ctx context.Context, d eventlog.Delivery, cause error)
}

// Notification is pushed to the feed for every anomalous assessment and
// every correlated group that calls for a batch action.
type Notification struct {
	Event  bagstream.Event
	Result bagstream.ValidationResult
	Groups []bagstream.CorrelatedGroup
}

type Config struct {
	// HistoryDepth bounds the per-entity journey kept for validation.
	// Defaults to 50.
	HistoryDepth int
	// EventTimeout bounds the full store-commit path for one event.
	// Defaults to 30s.
	EventTimeout time.Duration
	// WorkerBuffer is the per-partition delivery channel depth. Defaults
	// to 256.
	WorkerBuffer int
	// NotificationBuffer is the feed channel depth; the feed drops when a
	// slow listener falls this far behind. Defaults to 128.
	NotificationBuffer int
}

func DefaultConfig() Config {
	return Config{
		HistoryDepth:       50,
		EventTimeout:       30 * time.Second,
		WorkerBuffer:       256,
		NotificationBuffer: 128,
	}
}

// Orchestrator is the eventlog.Sink for the tracking pipeline: it owns the
// per-partition workers and routes deliveries to them.
type Orchestrator struct {
	validator   *validate.Validator
	engine      *correlate.Engine
	coordinator *dualwrite.Coordinator
	acks        Acker
	deadLetters Sideliner
	metrics     *Metrics
	config      Config
	runStatus   kit.RunStatus

	notifications chan Notification
	dropped       atomic.Int64

	mu      sync.Mutex
	workers map[int32]*worker
}

func NewOrchestrator(
	rs kit.RunStatus,
	validator *validate.Validator,
	engine *correlate.Engine,
	coordinator *dualwrite.Coordinator,
	acks Acker,
	deadLetters Sideliner,
	config Config) *Orchestrator {

	return &Orchestrator{
		validator:     validator,
		engine:        engine,
		coordinator:   coordinator,
		acks:          acks,
		deadLetters:   deadLetters,
		metrics:       NewMetrics(),
		config:        config,
		runStatus:     rs,
		notifications: make(chan Notification, config.NotificationBuffer),
		workers:       make(map[int32]*worker),
	}
}

// Deliver routes the delivery to its partition's worker. Called from the
// consumer poll goroutine.
func (o *Orchestrator) Deliver(d eventlog.Delivery) {
	o.mu.Lock()
	w, ok := o.workers[d.Partition]
	o.mu.Unlock()
	if !ok {
		// A record can race a revocation; the next owner of the partition
		// will see it again.
		bagstream.Log().Debugf("dropping delivery for unassigned partition %d", d.Partition)
		return
	}
	w.add(d)
}

func (o *Orchestrator) PartitionsAssigned(partitions []int32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range partitions {
		if _, ok := o.workers[p]; ok {
			continue
		}
		bagstream.Log().Infof("assigned partition %d", p)
		o.workers[p] = newWorker(o, p)
	}
}

func (o *Orchestrator) PartitionsRevoked(partitions []int32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range partitions {
		if w, ok := o.workers[p]; ok {
			bagstream.Log().Infof("revoked partition %d", p)
			w.halt()
			delete(o.workers, p)
		}
	}
}

// Notifications is the anomaly and batch-action feed. Consume it promptly;
// the pipeline drops rather than blocks when the feed backs up.
func (o *Orchestrator) Notifications() <-chan Notification {
	return o.notifications
}

func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// ActivePatterns exposes the correlation engine's live groups.
func (o *Orchestrator) ActivePatterns() []bagstream.CorrelatedGroup {
	return o.engine.ActivePatterns()
}

func (o *Orchestrator) notify(n Notification) {
	select {
	case o.notifications <- n:
	default:
		o.dropped.Add(1)
		bagstream.Log().Warnf("notification feed full, dropped alert for event %s", n.Event.ID)
	}
}
