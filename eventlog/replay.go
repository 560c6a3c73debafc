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

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/time/rate"

	bagstream "github.com/jbandu/bag-sub000"
)

// ReplayRange bounds one replay run: a contiguous range of historical
// positions on one partition. End is exclusive; End <= 0 means "up to the
// current end of the partition at poll time".
type ReplayRange struct {
	Partition int32
	Start     int64
	End       int64
	// RatePerSecond throttles delivery so a backfill does not starve live
	// traffic of downstream capacity. <= 0 means unthrottled.
	RatePerSecond int
}

// ReplayFunc receives each replayed delivery. Returning an error aborts the
// replay at that position; the returned count tells the operator where to
// resume.
type ReplayFunc func(Delivery) error

// Replay reads the historical range outside the consumer group (committed
// offsets are untouched) and feeds each decoded event to fn with
// Replayed=true, which downstream uses to bypass dedup suppression. Returns
// the number of records delivered.
func Replay(ctx context.Context, logConfig Config, replayRange ReplayRange, fn ReplayFunc) (int, error) {
	client, err := NewClient(logConfig.Cluster, kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
		logConfig.Topic: {replayRange.Partition: kgo.NewOffset().At(replayRange.Start)},
	}))
	if err != nil {
		return 0, err
	}
	defer client.Close()

	var limiter *rate.Limiter
	if replayRange.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(replayRange.RatePerSecond), replayRange.RatePerSecond)
	}

	delivered := 0
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		var fetchErr error
		fetches.EachError(func(_ string, _ int32, err error) {
			fetchErr = err
		})
		if fetchErr != nil {
			return delivered, fetchErr
		}

		done := false
		var fnErr error
		fetches.EachRecord(func(record *kgo.Record) {
			if done || fnErr != nil {
				return
			}
			if replayRange.End > 0 && record.Offset >= replayRange.End {
				done = true
				return
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					fnErr = err
					return
				}
			}
			event, err := bagstream.DecodeJson[bagstream.Event](record.Value)
			if err != nil {
				bagstream.Log().Warnf("skipping undecodable record at offset %d during replay: %v", record.Offset, err)
				return
			}
			fnErr = fn(Delivery{
				Event:     event,
				Partition: record.Partition,
				Offset:    record.Offset,
				Replayed:  true,
				record:    record,
			})
			delivered++
		})
		if fnErr != nil {
			return delivered, fnErr
		}
		if done {
			return delivered, nil
		}
		if replayRange.End <= 0 && fetches.NumRecords() == 0 {
			// Caught up to the live end of the partition.
			return delivered, nil
		}
	}
}
