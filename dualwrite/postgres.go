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
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	bagstream "github.com/jbandu/bag-sub000"
)

// PostgresStore is the store-of-record: bag status, the append-only event
// ledger, per-event assessments and the twin-write journal.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS bags (
	id            text PRIMARY KEY,
	status        text NOT NULL,
	last_location text NOT NULL,
	last_event_at timestamptz NOT NULL,
	route_id      text NOT NULL DEFAULT '',
	updated_at    timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS bag_events (
	id          text PRIMARY KEY,
	bag_id      text NOT NULL,
	kind        text NOT NULL,
	location    text NOT NULL,
	occurred_at timestamptz NOT NULL,
	route_id    text NOT NULL DEFAULT '',
	payload     jsonb NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS bag_events_bag_idx ON bag_events (bag_id, occurred_at);
CREATE TABLE IF NOT EXISTS assessments (
	event_id      text PRIMARY KEY,
	is_valid      boolean NOT NULL,
	confidence    double precision NOT NULL,
	anomalies     jsonb NOT NULL DEFAULT '[]',
	missing_kinds jsonb NOT NULL DEFAULT '[]',
	reasoning     text NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS twin_write_outcomes (
	event_id            text PRIMARY KEY,
	primary_committed   boolean NOT NULL,
	secondary_committed boolean NOT NULL,
	secondary_attempts  int NOT NULL,
	last_error          text NOT NULL DEFAULT '',
	recorded_at         timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS twin_backlog_idx ON twin_write_outcomes (recorded_at) WHERE NOT secondary_committed;
`

// EnsureSchema creates the tables if they do not exist. Deployments with
// managed migrations can skip this.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Commit applies all primary writes for the fact in one transaction: bag
// status upsert, event insert, assessment insert. Re-applying the same event
// id is a no-op, which makes redelivery safe.
func (s *PostgresStore) Commit(ctx context.Context, fact *Fact) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	event := &fact.Event
	payload, err := bagstream.EncodeJson(event.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bags (id, status, last_location, last_event_at, route_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status        = EXCLUDED.status,
			last_location = EXCLUDED.last_location,
			last_event_at = EXCLUDED.last_event_at,
			route_id      = CASE WHEN EXCLUDED.route_id <> '' THEN EXCLUDED.route_id ELSE bags.route_id END,
			updated_at    = now()
		WHERE EXCLUDED.last_event_at >= bags.last_event_at`,
		event.EntityID, statusForKind(event.Kind), event.Location, event.OccurredAt, event.RouteID)
	if err != nil {
		return fmt.Errorf("upsert bag: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bag_events (id, bag_id, kind, location, occurred_at, route_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.EntityID, string(event.Kind), event.Location, event.OccurredAt, event.RouteID, payload)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	anomalies, _ := bagstream.EncodeJson(fact.Result.Anomalies)
	missing, _ := bagstream.EncodeJson(fact.Result.MissingKinds)
	_, err = tx.Exec(ctx, `
		INSERT INTO assessments (event_id, is_valid, confidence, anomalies, missing_kinds, reasoning)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		event.ID, fact.Result.Valid, fact.Result.Confidence, anomalies, missing, fact.Result.Reasoning)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, outcome bagstream.TwinWriteOutcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO twin_write_outcomes (event_id, primary_committed, secondary_committed, secondary_attempts, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO UPDATE SET
			secondary_committed = EXCLUDED.secondary_committed,
			secondary_attempts  = EXCLUDED.secondary_attempts,
			last_error          = EXCLUDED.last_error,
			recorded_at         = now()`,
		outcome.EventID, outcome.PrimaryCommitted, outcome.SecondaryCommitted,
		outcome.SecondaryAttempts, outcome.LastError)
	return err
}

func (s *PostgresStore) Backlog(ctx context.Context, limit int) ([]bagstream.TwinWriteOutcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, primary_committed, secondary_committed, secondary_attempts, last_error
		FROM twin_write_outcomes
		WHERE NOT secondary_committed
		ORDER BY recorded_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bagstream.TwinWriteOutcome
	for rows.Next() {
		var o bagstream.TwinWriteOutcome
		if err := rows.Scan(&o.EventID, &o.PrimaryCommitted, &o.SecondaryCommitted, &o.SecondaryAttempts, &o.LastError); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// LoadFact rebuilds the fact for one event from the ledger and its
// assessment. Correlation groups are not reconstructed; group edges are
// written by the live path when the pattern fires and are not repaired here.
func (s *PostgresStore) LoadFact(ctx context.Context, eventID string) (*Fact, error) {
	fact := &Fact{}
	var payload, anomalies, missing []byte
	err := s.pool.QueryRow(ctx, `
		SELECT e.id, e.bag_id, e.kind, e.location, e.occurred_at, e.route_id, e.payload,
		       a.is_valid, a.confidence, a.anomalies, a.missing_kinds, a.reasoning
		FROM bag_events e
		JOIN assessments a ON a.event_id = e.id
		WHERE e.id = $1`, eventID).Scan(
		&fact.Event.ID, &fact.Event.EntityID, &fact.Event.Kind, &fact.Event.Location,
		&fact.Event.OccurredAt, &fact.Event.RouteID, &payload,
		&fact.Result.Valid, &fact.Result.Confidence, &anomalies, &missing, &fact.Result.Reasoning)
	if err != nil {
		return nil, err
	}
	if fact.Event.Payload, err = bagstream.DecodeJson[bagstream.Payload](payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if fact.Result.Anomalies, err = bagstream.DecodeJson[[]bagstream.AnomalyKind](anomalies); err != nil {
		return nil, fmt.Errorf("decode anomalies: %w", err)
	}
	if fact.Result.MissingKinds, err = bagstream.DecodeJson[[]bagstream.EventKind](missing); err != nil {
		return nil, fmt.Errorf("decode missing kinds: %w", err)
	}
	return fact, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// statusForKind maps the latest event kind to the bag's coarse status.
func statusForKind(kind bagstream.EventKind) string {
	switch kind {
	case bagstream.CheckIn:
		return "checked_in"
	case bagstream.Sortation:
		return "in_sortation"
	case bagstream.Load:
		return "loaded"
	case bagstream.Offload:
		return "offloaded"
	case bagstream.Arrival:
		return "arrived"
	case bagstream.Claim:
		return "claimed"
	case bagstream.Exception:
		return "exception"
	default:
		return "in_transit"
	}
}
