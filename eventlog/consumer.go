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
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/kit"
)

// Delivery is one log record handed to a pipeline worker. The record is
// acknowledged by passing the Delivery back to Consumer.Ack once processing
// completes; unacknowledged records are redelivered to another group member
// after the session timeout, bounding the blast radius of a crashed worker.
type Delivery struct {
	Event     bagstream.Event
	Partition int32
	Offset    int64
	// Replayed is true for records appended through the replay path.
	Replayed bool

	record *kgo.Record
}

// Sink receives deliveries and partition lifecycle notifications from the
// consumer's poll loop. Deliver is called from the poll goroutine and must
// hand off quickly (the pipeline routes into per-partition channels).
type Sink interface {
	Deliver(Delivery)
	PartitionsAssigned(partitions []int32)
	PartitionsRevoked(partitions []int32)
}

type ConsumerConfig struct {
	// SessionTimeout is the idle threshold after which a silent worker's
	// partitions (and its unacknowledged records) move to another member.
	// Defaults to 60s.
	SessionTimeout time.Duration
	// CommitInterval is how often acknowledged offsets are committed.
	// Defaults to 5s.
	CommitInterval time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		SessionTimeout: time.Minute,
		CommitInterval: 5 * time.Second,
	}
}

// Consumer is one competing member of the tracking log's consumer group.
type Consumer struct {
	client      *kgo.Client
	sink        Sink
	deadLetters *DeadLetter
	topic       string
}

func NewConsumer(logConfig Config, consumerConfig ConsumerConfig, sink Sink, deadLetters *DeadLetter, opts ...kgo.Opt) (*Consumer, error) {
	c := &Consumer{
		sink:        sink,
		deadLetters: deadLetters,
		topic:       logConfig.Topic,
	}
	defaults := []kgo.Opt{
		kgo.ConsumeTopics(logConfig.Topic),
		kgo.ConsumerGroup(logConfig.GroupID),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(consumerConfig.CommitInterval),
		kgo.SessionTimeout(consumerConfig.SessionTimeout),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.OnPartitionsAssigned(c.onAssigned),
		kgo.OnPartitionsRevoked(c.onRevoked),
		kgo.OnPartitionsLost(c.onLost),
	}
	client, err := NewClient(logConfig.Cluster, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	c.client = client
	return c, nil
}

// Start launches the poll loop. It runs until rs halts, then commits any
// marked offsets and closes the client.
func (c *Consumer) Start(rs kit.RunStatus) {
	go c.poll(rs)
}

func (c *Consumer) poll(rs kit.RunStatus) {
	for rs.Running() {
		fetches := c.client.PollFetches(rs.Ctx())
		if fetches.IsClientClosed() || !rs.Running() {
			break
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			bagstream.Log().Errorf("fetch error on %s/%d: %v", topic, partition, err)
		})
		fetches.EachRecord(c.dispatch)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		bagstream.Log().Warnf("final offset commit failed: %v", err)
	}
	c.client.Close()
}

func (c *Consumer) dispatch(record *kgo.Record) {
	event, err := bagstream.DecodeJson[bagstream.Event](record.Value)
	if err != nil {
		// An undecodable record can never succeed; sideline it immediately
		// and acknowledge so the partition keeps moving.
		bagstream.Log().Errorf("undecodable record at %s/%d offset %d: %v", record.Topic, record.Partition, record.Offset, err)
		c.deadLetters.Sideline(context.Background(), record, err)
		c.client.MarkCommitRecords(record)
		return
	}
	c.sink.Deliver(Delivery{
		Event:     event,
		Partition: record.Partition,
		Offset:    record.Offset,
		Replayed:  hasHeader(record, ReplayHeaderKey),
		record:    record,
	})
}

// Ack acknowledges the delivery. The offset is committed on the next commit
// interval; a re-poll after a crash starts from the last committed offset, so
// processing is at-least-once and relies on dedup + idempotent dual-writes.
func (c *Consumer) Ack(d Delivery) {
	c.client.MarkCommitRecords(d.record)
}

// Ping reports broker connectivity; the liveness probe calls this.
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *Consumer) onAssigned(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
	c.sink.PartitionsAssigned(assigned[c.topic])
}

func (c *Consumer) onRevoked(ctx context.Context, client *kgo.Client, revoked map[string][]int32) {
	// Commit what we have before the partitions move; anything unmarked is
	// redelivered to the next owner.
	if err := client.CommitMarkedOffsets(ctx); err != nil {
		bagstream.Log().Warnf("commit on revoke failed: %v", err)
	}
	c.sink.PartitionsRevoked(revoked[c.topic])
}

func (c *Consumer) onLost(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
	c.sink.PartitionsRevoked(lost[c.topic])
}

func hasHeader(record *kgo.Record, key string) bool {
	for _, h := range record.Headers {
		if h.Key == key {
			return true
		}
	}
	return false
}
