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

// Package dualwrite commits accepted events to two stores with different
// consistency requirements: the relational store-of-record first, inside a
// transaction, then the graph-shaped twin store best-effort with retries.
// The twin is never allowed to block or roll back the store-of-record; a
// failed twin write is a recorded degradation handled by reconciliation.
package dualwrite

import (
	"context"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
)

// Fact is everything the stores persist for one processed event: the event
// itself, its validation assessment and any correlation groups it completed.
type Fact struct {
	Event  bagstream.Event
	Result bagstream.ValidationResult
	Groups []bagstream.CorrelatedGroup
}

// RecordStore is the authoritative relational store. Commit must be
// transactional (all writes or none) and idempotent when re-applied with the
// same event id, since delivery is at-least-once.
type RecordStore interface {
	Commit(ctx context.Context, fact *Fact) error
	// RecordOutcome journals the dual-write outcome for reconciliation.
	RecordOutcome(ctx context.Context, outcome bagstream.TwinWriteOutcome) error
	// Backlog lists events whose twin write never landed.
	Backlog(ctx context.Context, limit int) ([]bagstream.TwinWriteOutcome, error)
	Ping(ctx context.Context) error
}

// TwinStore is the traversal-optimized secondary store. Apply must be
// idempotent; there is no rollback requirement because failures are
// recorded, not reversed.
type TwinStore interface {
	Apply(ctx context.Context, fact *Fact) error
}

type Config struct {
	// SecondaryRetries is how many times a failed twin write is retried
	// after the initial attempt. Defaults to 3.
	SecondaryRetries int
	// SecondaryBackoff is the delay before the first retry; it doubles per
	// retry (1s, 2s, 4s with the defaults).
	SecondaryBackoff time.Duration
	// WriteTimeout bounds each individual store call.
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SecondaryRetries: 3,
		SecondaryBackoff: time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Coordinator runs the primary-first, secondary-best-effort commit shape for
// every write path.
type Coordinator struct {
	records RecordStore
	twin    TwinStore
	config  Config
}

func NewCoordinator(records RecordStore, twin TwinStore, config Config) *Coordinator {
	return &Coordinator{records: records, twin: twin, config: config}
}

// Commit writes the fact to the store-of-record and then to the twin.
//
// A primary failure fails the whole operation: the event is not processed
// and the caller routes it to the failure sideline. A twin failure after the
// primary commit is absorbed: the outcome records the degradation and the
// event still counts as processed.
func (c *Coordinator) Commit(ctx context.Context, fact *Fact) (bagstream.TwinWriteOutcome, error) {
	outcome := bagstream.TwinWriteOutcome{EventID: fact.Event.ID}

	primaryCtx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	err := c.records.Commit(primaryCtx, fact)
	cancel()
	if err != nil {
		outcome.LastError = err.Error()
		return outcome, err
	}
	outcome.PrimaryCommitted = true

	c.applyToTwin(ctx, fact, &outcome)

	if err := c.records.RecordOutcome(ctx, outcome); err != nil {
		// The journal is advisory; losing one row costs reconciliation
		// accuracy, not correctness.
		bagstream.Log().Warnf("failed to journal twin outcome for event %s: %v", fact.Event.ID, err)
	}
	return outcome, nil
}

func (c *Coordinator) applyToTwin(ctx context.Context, fact *Fact, outcome *bagstream.TwinWriteOutcome) {
	backoff := c.config.SecondaryBackoff
	for attempt := 0; attempt <= c.config.SecondaryRetries; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, backoff) {
				outcome.LastError = ctx.Err().Error()
				return
			}
			backoff *= 2
		}
		outcome.SecondaryAttempts++

		twinCtx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
		err := c.twin.Apply(twinCtx, fact)
		cancel()
		if err == nil {
			outcome.SecondaryCommitted = true
			outcome.LastError = ""
			return
		}
		outcome.LastError = err.Error()
		bagstream.Log().Warnf("twin write attempt %d for event %s failed: %v", attempt+1, fact.Event.ID, err)
	}
	bagstream.Log().Errorf("twin write exhausted retries for event %s, degraded until reconciled: %s", fact.Event.ID, outcome.LastError)
}

// Backlog surfaces the reconciliation queue: processed events whose twin
// write never landed.
func (c *Coordinator) Backlog(ctx context.Context, limit int) ([]bagstream.TwinWriteOutcome, error) {
	return c.records.Backlog(ctx, limit)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
