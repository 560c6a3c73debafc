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

// Package eventlog adapts Kafka into the append-only, partitioned tracking
// log the pipeline consumes: a deduplicating publisher, a consumer group
// with per-partition delivery, a dead-letter sideline and bounded replay.
//
// Records are keyed by entity id, so all events for one bag land on one
// partition and are therefore owned by exactly one worker at a time.
package eventlog

import (
	"github.com/twmb/franz-go/pkg/kgo"

	bagstream "github.com/jbandu/bag-sub000"
)

// Cluster is a reusable Kafka client configuration. At minimum Config()
// should return the kgo.SeedBrokers() option.
type Cluster interface {
	Config() ([]kgo.Opt, error)
}

// SimpleCluster establishes a plain text connection to a Kafka cluster.
// Useful for local development and testing.
//
//	cluster := eventlog.SimpleCluster([]string{"127.0.0.1:9092"})
type SimpleCluster []string

func (sc SimpleCluster) Config() ([]kgo.Opt, error) {
	return []kgo.Opt{kgo.SeedBrokers(sc...)}, nil
}

// NewClient creates a kgo.Client from the options returned by cluster plus
// any additional options. Used internally and exposed for convenience.
func NewClient(cluster Cluster, options ...kgo.Opt) (*kgo.Client, error) {
	configOptions := []kgo.Opt{kgo.WithLogger(kgoLogBridge{})}
	clusterOpts, err := cluster.Config()
	if err != nil {
		return nil, err
	}
	configOptions = append(configOptions, clusterOpts...)
	configOptions = append(configOptions, options...)
	return kgo.NewClient(configOptions...)
}

// kgoLogBridge forwards kgo driver logs into the module logger at a fixed
// warn threshold; the driver is chatty below that.
type kgoLogBridge struct{}

func (kgoLogBridge) Level() kgo.LogLevel {
	return kgo.LogLevelWarn
}

func (kgoLogBridge) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	switch level {
	case kgo.LogLevelDebug:
		bagstream.Log().Debugf(msg, keyvals...)
	case kgo.LogLevelInfo:
		bagstream.Log().Infof(msg, keyvals...)
	case kgo.LogLevelWarn:
		bagstream.Log().Warnf(msg, keyvals...)
	case kgo.LogLevelError:
		bagstream.Log().Errorf(msg, keyvals...)
	}
}
