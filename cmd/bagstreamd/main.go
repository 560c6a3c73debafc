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

// bagstreamd runs the baggage tracking pipeline: it consumes the tracking
// log, validates and correlates every scan, and dual-writes the results to
// the relational store-of-record and the graph twin.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/correlate"
	"github.com/jbandu/bag-sub000/dualwrite"
	"github.com/jbandu/bag-sub000/eventlog"
	"github.com/jbandu/bag-sub000/kit"
	"github.com/jbandu/bag-sub000/pipeline"
	"github.com/jbandu/bag-sub000/validate"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		bagstream.Log().Errorf("%v", err)
		os.Exit(1)
	}
	log := bagstream.InitLogger(bagstream.SimpleLogger(logLevel(cfg.LogLevel)))

	rs := kit.NewRunStatus(context.Background())
	startupCtx, cancel := context.WithTimeout(rs.Ctx(), 30*time.Second)
	defer cancel()

	logConfig, err := eventlog.CreateLog(eventlog.Config{
		Topic:             cfg.Topic,
		GroupID:           cfg.GroupID,
		NumPartitions:     cfg.Partitions,
		ReplicationFactor: cfg.Replication,
		Cluster:           eventlog.SimpleCluster(cfg.brokerList()),
	})
	if err != nil {
		log.Errorf("failed to create tracking log: %v", err)
		os.Exit(1)
	}

	records, err := dualwrite.NewPostgresStore(startupCtx, cfg.DatabaseURL)
	if err != nil {
		log.Errorf("failed to connect store-of-record: %v", err)
		os.Exit(1)
	}
	defer records.Close()
	if cfg.EnsureSchema {
		if err := records.EnsureSchema(startupCtx); err != nil {
			log.Errorf("failed to ensure schema: %v", err)
			os.Exit(1)
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	twin := dualwrite.NewRedisTwin(redisClient)
	coordinator := dualwrite.NewCoordinator(records, twin, dualwrite.DefaultConfig())
	dualwrite.NewReconciler(records, records, twin).Start(rs.Fork())
	validator := validate.NewValidator(validate.DefaultConfig())
	engine := correlate.NewEngine(correlate.DefaultConfig())
	engine.StartJanitor(rs.Fork(), time.Minute)

	deadLetters, err := eventlog.NewDeadLetter(logConfig)
	if err != nil {
		log.Errorf("failed to open dead letter sideline: %v", err)
		os.Exit(1)
	}
	defer deadLetters.Close()

	// The orchestrator and consumer reference each other: deliveries flow
	// down, acks flow back up. The consumer is started last.
	var consumer *eventlog.Consumer
	orch := pipeline.NewOrchestrator(rs, validator, engine, coordinator,
		pipeline.AckerFunc(func(d eventlog.Delivery) { consumer.Ack(d) }),
		deadLetters, pipeline.DefaultConfig())

	consumer, err = eventlog.NewConsumer(logConfig, eventlog.DefaultConsumerConfig(), orch, deadLetters)
	if err != nil {
		log.Errorf("failed to join consumer group: %v", err)
		os.Exit(1)
	}
	consumer.Start(rs)

	go drainNotifications(rs, orch)

	health := pipeline.NewHealth(consumer, records, orch.Metrics())
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: health.Handler()}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	log.Infof("bagstreamd consuming %s as group %s", logConfig.Topic, logConfig.GroupID)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	log.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	rs.Halt()
	// Give the consumer time to commit marked offsets before exit.
	time.Sleep(2 * time.Second)
}

func drainNotifications(rs kit.RunStatus, orch *pipeline.Orchestrator) {
	for {
		select {
		case <-rs.Done():
			return
		case n := <-orch.Notifications():
			for i := range n.Groups {
				g := &n.Groups[i]
				if g.RequiresBatchAction {
					bagstream.Log().Warnf("batch action [%s/%s] priority=%s members=%d: %v",
						g.Basis, g.Pattern, g.Priority, len(g.Members), g.RecommendedActions)
				}
			}
			if len(n.Result.Anomalies) > 0 {
				bagstream.Log().Infof("anomalous scan bag=%s kind=%s confidence=%.2f: %s",
					n.Event.EntityID, n.Event.Kind, n.Result.Confidence, n.Result.Reasoning)
			}
		}
	}
}

func logLevel(level string) bagstream.LogLevel {
	switch level {
	case "trace":
		return bagstream.LogLevelTrace
	case "debug":
		return bagstream.LogLevelDebug
	case "warn":
		return bagstream.LogLevelWarn
	case "error":
		return bagstream.LogLevelError
	default:
		return bagstream.LogLevelInfo
	}
}
