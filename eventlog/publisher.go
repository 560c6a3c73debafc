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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	bagstream "github.com/jbandu/bag-sub000"
)

// ErrNoFingerprintIndex is returned by Publish and PublishBatch on a
// publisher built without a fingerprint index. Such a publisher can only
// Republish, which never consults the index.
var ErrNoFingerprintIndex = errors.New("publisher has no fingerprint index")

// KindHeaderKey carries the event kind on every log record so consumers can
// route without decoding the value.
const KindHeaderKey = "bs-kind"

// ReplayHeaderKey marks records re-appended through the replay path; such
// records bypassed dedup suppression on publish.
const ReplayHeaderKey = "bs-replay"

type PublisherConfig struct {
	// DedupBucket is the granularity occurred_at is rounded to when deriving
	// the dedup fingerprint. Defaults to 1m.
	DedupBucket time.Duration
	// SuppressionWindow is how long a fingerprint suppresses re-publication.
	// Defaults to 5m.
	SuppressionWindow time.Duration
}

func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		DedupBucket:       time.Minute,
		SuppressionWindow: 5 * time.Minute,
	}
}

// PublishResult reports the fate of one inbound event.
type PublishResult struct {
	ID        string
	Duplicate bool
}

// Publisher appends validated inbound events to the tracking log, suppressing
// duplicates by fingerprint. Safe for concurrent use.
type Publisher struct {
	client *kgo.Client
	topic  string
	index  FingerprintIndex
	config PublisherConfig
	codec  bagstream.JsonCodec[bagstream.Event]
}

// NewPublisher builds a Publisher against the log config. The fingerprint
// index decides the scope of suppression (shared Redis in deployment,
// in-memory for tests).
func NewPublisher(logConfig Config, publisherConfig PublisherConfig, index FingerprintIndex, opts ...kgo.Opt) (*Publisher, error) {
	defaults := []kgo.Opt{kgo.ProducerLinger(5 * time.Millisecond)}
	client, err := NewClient(logConfig.Cluster, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		client: client,
		topic:  logConfig.Topic,
		index:  index,
		config: publisherConfig,
	}, nil
}

// Publish appends one event unless its fingerprint was seen within the
// suppression window. Malformed events are rejected here and never reach the
// log. Blocks until the append is durable.
func (p *Publisher) Publish(ctx context.Context, event *bagstream.Event) (PublishResult, error) {
	if err := event.Check(); err != nil {
		return PublishResult{}, err
	}
	if p.index == nil {
		return PublishResult{}, ErrNoFingerprintIndex
	}
	fingerprint := event.Fingerprint(p.config.DedupBucket)
	fresh, err := p.index.Remember(ctx, fingerprint, p.config.SuppressionWindow)
	if err != nil {
		return PublishResult{}, err
	}
	if !fresh {
		bagstream.Log().Debugf("suppressed duplicate scan for entity %s at %s", event.EntityID, event.Location)
		return PublishResult{ID: event.ID, Duplicate: true}, nil
	}
	result, err := p.append(ctx, event, false)
	if err != nil {
		// Nothing landed on the log. Release the fingerprint so a retry is
		// appended instead of suppressed as a duplicate.
		p.forget(ctx, fingerprint)
		return PublishResult{}, err
	}
	return result, nil
}

// forget releases a fingerprint whose append failed. Best effort: on an index
// error the fingerprint expires with its suppression window anyway.
func (p *Publisher) forget(ctx context.Context, fingerprint uint64) {
	if err := p.index.Forget(ctx, fingerprint); err != nil {
		bagstream.Log().Warnf("could not release fingerprint %016x after failed append: %v", fingerprint, err)
	}
}

// PublishBatch applies the same per-item dedup check to each event. Order is
// preserved within the batch for events sharing a partition; nothing is
// implied across the whole log. The results slice is positional; a non-nil
// error reports the first append failure after all attempts settle.
func (p *Publisher) PublishBatch(ctx context.Context, events []*bagstream.Event) ([]PublishResult, error) {
	if p.index == nil {
		return nil, ErrNoFingerprintIndex
	}
	results := make([]PublishResult, len(events))
	errs := make([]error, len(events))
	fingerprints := make([]uint64, len(events))
	remembered := make([]bool, len(events))
	wg := &sync.WaitGroup{}

	for i, event := range events {
		if err := event.Check(); err != nil {
			errs[i] = err
			continue
		}
		fingerprints[i] = event.Fingerprint(p.config.DedupBucket)
		fresh, err := p.index.Remember(ctx, fingerprints[i], p.config.SuppressionWindow)
		if err != nil {
			errs[i] = err
			continue
		}
		if !fresh {
			results[i] = PublishResult{ID: event.ID, Duplicate: true}
			continue
		}
		remembered[i] = true
		record, id, err := p.newRecord(event, false)
		if err != nil {
			errs[i] = err
			continue
		}
		results[i] = PublishResult{ID: id}
		wg.Add(1)
		idx := i
		p.client.Produce(ctx, record, func(_ *kgo.Record, kErr error) {
			if kErr != nil {
				errs[idx] = kErr
			}
			wg.Done()
		})
	}
	wg.Wait()
	var firstErr error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if remembered[i] {
			p.forget(ctx, fingerprints[i])
			results[i] = PublishResult{}
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

// Republish appends an event through the replay path: no dedup check, the
// original occurred_at preserved, and the record flagged as replayed so
// downstream consumers can tell it apart from live traffic.
func (p *Publisher) Republish(ctx context.Context, event *bagstream.Event) (PublishResult, error) {
	if err := event.Check(); err != nil {
		return PublishResult{}, err
	}
	return p.append(ctx, event, true)
}

func (p *Publisher) append(ctx context.Context, event *bagstream.Event, replayed bool) (PublishResult, error) {
	record, id, err := p.newRecord(event, replayed)
	if err != nil {
		return PublishResult{}, err
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)
	var produceErr error
	p.client.Produce(ctx, record, func(_ *kgo.Record, kErr error) {
		produceErr = kErr
		wg.Done()
	})
	wg.Wait()
	if produceErr != nil {
		return PublishResult{}, produceErr
	}
	return PublishResult{ID: id}, nil
}

func (p *Publisher) newRecord(event *bagstream.Event, replayed bool) (*kgo.Record, string, error) {
	if len(event.ID) == 0 {
		event.ID = uuid.NewString()
	}
	value, err := bagstream.EncodeJson(*event)
	if err != nil {
		return nil, "", fmt.Errorf("encoding event %s: %w", event.ID, err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		// Keyed by entity so one partition owns all of a bag's events.
		Key:   []byte(event.EntityID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: KindHeaderKey, Value: []byte(event.Kind)},
		},
	}
	if replayed {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: ReplayHeaderKey, Value: []byte("1")})
	}
	return record, event.ID, nil
}

func (p *Publisher) Close() {
	p.client.Close()
}
