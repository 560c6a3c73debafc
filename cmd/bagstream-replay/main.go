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

// bagstream-replay re-appends a historical range of the tracking log through
// the replay path. Replayed records carry a marker header, bypass dedup
// suppression and keep their original occurrence times, so the running
// pipeline reprocesses them deterministically.
//
// Usage:
//
//	bagstream-replay -brokers localhost:9092 -topic bag-tracking -partition 0 -start 1000 -end 2000 -rate 500
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/eventlog"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka broker list")
	topic := flag.String("topic", "bag-tracking", "tracking log topic")
	partition := flag.Int("partition", 0, "partition to replay")
	start := flag.Int64("start", 0, "first offset to replay")
	end := flag.Int64("end", 0, "offset to stop before (0 = current end of partition)")
	ratePerSecond := flag.Int("rate", 0, "max events per second (0 = unthrottled)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := bagstream.LogLevelWarn
	if *verbose {
		level = bagstream.LogLevelDebug
	}
	log := bagstream.InitLogger(bagstream.SimpleLogger(level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logConfig := eventlog.Config{
		Topic:   *topic,
		Cluster: eventlog.SimpleCluster(strings.Split(*brokers, ",")),
	}

	// Built without a fingerprint index: replay is the one path that must
	// not be suppressed as duplicate. Only Republish runs here; Publish on
	// an index-less publisher fails with ErrNoFingerprintIndex.
	publisher, err := eventlog.NewPublisher(logConfig, eventlog.DefaultPublisherConfig(), nil)
	if err != nil {
		log.Errorf("failed to open publisher: %v", err)
		os.Exit(1)
	}
	defer publisher.Close()

	total := int64(-1)
	if *end > *start {
		total = *end - *start
	}
	bar := progressbar.Default(total, fmt.Sprintf("replaying %s/%d", *topic, *partition))

	replayed, err := eventlog.Replay(ctx, logConfig, eventlog.ReplayRange{
		Partition:     int32(*partition),
		Start:         *start,
		End:           *end,
		RatePerSecond: *ratePerSecond,
	}, func(d eventlog.Delivery) error {
		if _, err := publisher.Republish(ctx, &d.Event); err != nil {
			return fmt.Errorf("republish offset %d: %w", d.Offset, err)
		}
		bar.Add(1)
		return nil
	})
	bar.Finish()
	if err != nil && ctx.Err() == nil {
		log.Errorf("replay stopped after %d events: %v", replayed, err)
		os.Exit(1)
	}
	fmt.Printf("replayed %d events from %s/%d\n", replayed, *topic, *partition)
}
