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
	"net"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/kit"
)

// Config describes the tracking log topics for one deployment.
type Config struct {
	// Topic is the source tracking-event topic.
	Topic string
	// GroupID is the consumer group shared by pipeline workers.
	GroupID string
	// NumPartitions is the desired partition count for Topic. Entity ids
	// hash across these partitions; more partitions means more worker
	// parallelism.
	NumPartitions int
	// ReplicationFactor for Topic and the dead-letter topic. Defaults to 1.
	ReplicationFactor int
	// MinInSync for Topic. Defaults to 1.
	MinInSync int
	// Cluster holds connect options for the Kafka cluster.
	Cluster Cluster
}

// DeadLetterTopic returns the formatted sideline topic name for the config.
func (c Config) DeadLetterTopic() string {
	return fmt.Sprintf("%s.deadletter", c.Topic)
}

func (c Config) replicationFactor() int16 {
	if c.ReplicationFactor <= 0 {
		return 1
	}
	return int16(c.ReplicationFactor)
}

func (c Config) minInSync() string {
	factor := c.replicationFactor()
	if factor <= 1 {
		return "1"
	}
	if c.MinInSync >= int(factor) {
		return fmt.Sprintf("%d", factor-1)
	}
	return fmt.Sprintf("%d", c.MinInSync)
}

// CreateLog creates the source and dead-letter topics if needed and returns
// a corrected Config where NumPartitions reflects the live topic, preventing
// drift between configured and actual partition counts. TOPIC_ALREADY_EXISTS
// is not an error. Network errors are retried for a short period to smooth
// over broker startup ordering.
func CreateLog(config Config) (resolved Config, err error) {
	for retryCount := 0; retryCount < 15; retryCount++ {
		resolved, err = createLog(config)
		if isNetworkError(err) {
			time.Sleep(time.Second)
		} else {
			break
		}
	}
	return
}

func createLog(config Config) (Config, error) {
	client, err := NewClient(config.Cluster)
	if err != nil {
		return config, err
	}
	defer client.Close()
	adminClient := kadm.NewClient(client)

	createTopic(adminClient, int32(config.NumPartitions), config.replicationFactor(), map[string]*string{
		"min.insync.replicas": kit.Ptr(config.minInSync()),
	}, config.Topic)

	// The sideline is single-partition: its volume is a trickle and a total
	// order simplifies triage.
	createTopic(adminClient, 1, config.replicationFactor(), map[string]*string{
		"min.insync.replicas": kit.Ptr(config.minInSync()),
	}, config.DeadLetterTopic())

	return resolveTopicMetadata(config, adminClient)
}

func createTopic(adminClient *kadm.Client, numPartitions int32, replicationFactor int16, topicConfig map[string]*string, topic ...string) error {
	res, err := adminClient.CreateTopics(context.Background(), numPartitions, replicationFactor, topicConfig, topic...)
	bagstream.Log().Infof("createTopic res: %+v, err: %v", res, err)
	return err
}

func resolveTopicMetadata(config Config, adminClient *kadm.Client) (Config, error) {
	res, err := adminClient.ListTopics(context.Background(), config.Topic, config.DeadLetterTopic())
	if err != nil {
		return config, err
	}
	detail, ok := res[config.Topic]
	if !ok || detail.Err != nil {
		return config, fmt.Errorf("source topic %q does not exist", config.Topic)
	}
	config.NumPartitions = len(detail.Partitions.Numbers())
	config.ReplicationFactor = detail.Partitions.NumReplicas()

	if detail, ok = res[config.DeadLetterTopic()]; !ok || detail.Err != nil {
		return config, fmt.Errorf("dead-letter topic %q does not exist", config.DeadLetterTopic())
	}
	return config, nil
}

// DeleteLog removes the log topics. Provided for local testing purposes only.
func DeleteLog(config Config) error {
	client, err := NewClient(config.Cluster)
	if err != nil {
		return err
	}
	defer client.Close()
	adminClient := kadm.NewClient(client)
	_, err = adminClient.DeleteTopics(context.Background(), config.Topic, config.DeadLetterTopic())
	return err
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var opError *net.OpError
	if errors.As(err, &opError) {
		bagstream.Log().Warnf("network error for operation: %s, error: %v", opError.Op, opError)
		return true
	}
	return false
}
