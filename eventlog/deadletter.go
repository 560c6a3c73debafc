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
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	bagstream "github.com/jbandu/bag-sub000"
)

const (
	errorHeaderKey           = "bs-error"
	sourcePartitionHeaderKey = "bs-source-partition"
	sourceOffsetHeaderKey    = "bs-source-offset"
)

// DeadLetterEntry is one sidelined record: the original payload paired with
// the error that parked it, for manual or automated replay.
type DeadLetterEntry struct {
	Payload         []byte
	Error           string
	SourcePartition int32
	SourceOffset    int64
	SidelinedAt     time.Time
	Offset          int64
}

// DeadLetter produces to and reads from the failure sideline topic.
type DeadLetter struct {
	client  *kgo.Client
	cluster Cluster
	topic   string
}

func NewDeadLetter(logConfig Config, opts ...kgo.Opt) (*DeadLetter, error) {
	client, err := NewClient(logConfig.Cluster, opts...)
	if err != nil {
		return nil, err
	}
	return &DeadLetter{client: client, cluster: logConfig.Cluster, topic: logConfig.DeadLetterTopic()}, nil
}

// Sideline parks a failed record with its error. Best-effort and
// non-blocking: a sideline write failure is logged, never propagated, because
// the alternative is blocking the partition behind one poisoned record.
func (dl *DeadLetter) Sideline(ctx context.Context, source *kgo.Record, cause error) {
	record := &kgo.Record{
		Topic: dl.topic,
		Key:   source.Key,
		Value: source.Value,
		Headers: []kgo.RecordHeader{
			{Key: errorHeaderKey, Value: []byte(cause.Error())},
			{Key: sourcePartitionHeaderKey, Value: []byte(strconv.FormatInt(int64(source.Partition), 10))},
			{Key: sourceOffsetHeaderKey, Value: []byte(strconv.FormatInt(source.Offset, 10))},
		},
	}
	dl.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			bagstream.Log().Errorf("failed to sideline record from %d/%d: %v", source.Partition, source.Offset, err)
		}
	})
}

// SidelineDelivery parks a delivery whose processing failed. Deliveries
// constructed without a backing record are re-encoded from the event.
func (dl *DeadLetter) SidelineDelivery(ctx context.Context, d Delivery, cause error) {
	record := d.record
	if record == nil {
		value, err := bagstream.EncodeJson(d.Event)
		if err != nil {
			bagstream.Log().Errorf("failed to encode event %s for sideline: %v", d.Event.ID, err)
			return
		}
		record = &kgo.Record{
			Key:       []byte(d.Event.EntityID),
			Value:     value,
			Partition: d.Partition,
			Offset:    d.Offset,
		}
	}
	dl.Sideline(ctx, record, cause)
}

// Depth returns the number of entries currently on the sideline.
func (dl *DeadLetter) Depth(ctx context.Context) (int64, error) {
	adminClient := kadm.NewClient(dl.client)
	starts, err := adminClient.ListStartOffsets(ctx, dl.topic)
	if err != nil {
		return 0, err
	}
	ends, err := adminClient.ListEndOffsets(ctx, dl.topic)
	if err != nil {
		return 0, err
	}
	var depth int64
	ends.Each(func(end kadm.ListedOffset) {
		if start, ok := starts.Lookup(end.Topic, end.Partition); ok {
			depth += end.Offset - start.Offset
		}
	})
	return depth, nil
}

// Read returns up to max entries from the head of the sideline for triage.
// Reading does not consume; entries stay until the topic's retention drops
// them or an operator requeues and trims.
func (dl *DeadLetter) Read(ctx context.Context, max int) ([]DeadLetterEntry, error) {
	reader, err := NewClient(dl.cluster, kgo.ConsumeTopics(dl.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	entries := make([]DeadLetterEntry, 0, max)
	deadline := time.Now().Add(5 * time.Second)
	for len(entries) < max && time.Now().Before(deadline) {
		pollCtx, cancel := context.WithTimeout(ctx, time.Second)
		fetches := reader.PollFetches(pollCtx)
		cancel()
		fetches.EachRecord(func(record *kgo.Record) {
			if len(entries) < max {
				entries = append(entries, entryFromRecord(record))
			}
		})
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}
		if fetches.NumRecords() == 0 {
			break
		}
	}
	return entries, nil
}

// Requeue pushes a sidelined entry back through the replay path of the
// publisher: original occurred_at preserved, dedup suppression bypassed.
func (dl *DeadLetter) Requeue(ctx context.Context, entry DeadLetterEntry, publisher *Publisher) error {
	event, err := bagstream.DecodeJson[bagstream.Event](entry.Payload)
	if err != nil {
		return err
	}
	_, err = publisher.Republish(ctx, &event)
	return err
}

func (dl *DeadLetter) Close() {
	dl.client.Close()
}

func entryFromRecord(record *kgo.Record) DeadLetterEntry {
	entry := DeadLetterEntry{
		Payload:     record.Value,
		SidelinedAt: record.Timestamp,
		Offset:      record.Offset,
	}
	for _, h := range record.Headers {
		switch h.Key {
		case errorHeaderKey:
			entry.Error = string(h.Value)
		case sourcePartitionHeaderKey:
			if v, err := strconv.ParseInt(string(h.Value), 10, 32); err == nil {
				entry.SourcePartition = int32(v)
			}
		case sourceOffsetHeaderKey:
			if v, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil {
				entry.SourceOffset = v
			}
		}
	}
	return entry
}
