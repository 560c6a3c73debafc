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

package dualwrite

import (
	"context"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/kit"
)

// FactLoader rebuilds a fact from the store-of-record so a degraded twin
// write can be replayed. PostgresStore implements it.
type FactLoader interface {
	LoadFact(ctx context.Context, eventID string) (*Fact, error)
}

// Reconciler sweeps the twin backlog on a timer, re-applying each degraded
// write from the store-of-record. Twin applies are idempotent, so racing the
// live coordinator is harmless.
type Reconciler struct {
	records RecordStore
	loader  FactLoader
	twin    TwinStore
	// Interval between sweeps. Defaults to 1m.
	Interval time.Duration
	// BatchSize bounds one sweep. Defaults to 100.
	BatchSize int
}

func NewReconciler(records RecordStore, loader FactLoader, twin TwinStore) *Reconciler {
	return &Reconciler{
		records:   records,
		loader:    loader,
		twin:      twin,
		Interval:  time.Minute,
		BatchSize: 100,
	}
}

// Start sweeps until rs halts.
func (r *Reconciler) Start(rs kit.RunStatus) {
	go func() {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := r.Sweep(rs.Ctx()); err != nil {
					bagstream.Log().Warnf("reconciliation sweep failed after %d repairs: %v", n, err)
				} else if n > 0 {
					bagstream.Log().Infof("reconciled %d degraded twin writes", n)
				}
			case <-rs.Done():
				return
			}
		}
	}()
}

// Sweep repairs one batch of degraded outcomes and returns how many twin
// writes it landed. An event that fails again stays in the backlog for the
// next sweep.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	backlog, err := r.records.Backlog(ctx, r.BatchSize)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, outcome := range backlog {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		fact, err := r.loader.LoadFact(ctx, outcome.EventID)
		if err != nil {
			bagstream.Log().Warnf("cannot load event %s for reconciliation: %v", outcome.EventID, err)
			continue
		}
		if err := r.twin.Apply(ctx, fact); err != nil {
			outcome.SecondaryAttempts++
			outcome.LastError = err.Error()
			if jErr := r.records.RecordOutcome(ctx, outcome); jErr != nil {
				bagstream.Log().Warnf("failed to journal still-degraded outcome for %s: %v", outcome.EventID, jErr)
			}
			continue
		}
		outcome.SecondaryCommitted = true
		outcome.SecondaryAttempts++
		outcome.LastError = ""
		if err := r.records.RecordOutcome(ctx, outcome); err != nil {
			bagstream.Log().Warnf("failed to journal reconciled outcome for %s: %v", outcome.EventID, err)
		}
		repaired++
	}
	return repaired, nil
}
