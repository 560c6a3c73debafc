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

package main

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// config is loaded from the environment, with an optional .env file for
// local development. Env vars override the file.
type config struct {
	// KafkaBrokers is a comma-separated broker list, e.g. "localhost:9092".
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// Topic is the tracking log topic.
	Topic string `mapstructure:"BAG_TOPIC"`
	// GroupID is the pipeline's consumer group.
	GroupID string `mapstructure:"BAG_GROUP_ID"`
	// Partitions is the tracking log partition count, applied on creation.
	Partitions int `mapstructure:"BAG_PARTITIONS"`
	// Replication is the tracking log replication factor, applied on creation.
	Replication int `mapstructure:"BAG_REPLICATION"`
	// DatabaseURL is the Postgres DSN for the store-of-record.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr backs both the dedup fingerprint index and the twin store.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// HTTPAddr serves health probes and the status endpoint.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// EnsureSchema creates the relational tables at startup when true.
	EnsureSchema bool `mapstructure:"ENSURE_SCHEMA"`
}

func loadConfig() (*config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("BAG_TOPIC", "bag-tracking")
	v.SetDefault("BAG_GROUP_ID", "bagstream-pipeline")
	v.SetDefault("BAG_PARTITIONS", 12)
	v.SetDefault("BAG_REPLICATION", 3)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("HTTP_ADDR", ":8090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENSURE_SCHEMA", true)

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	if len(cfg.brokerList()) == 0 {
		return nil, errors.New("config: KAFKA_BROKERS must be set")
	}
	return &cfg, nil
}

func (c *config) brokerList() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
