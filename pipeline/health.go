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

package pipeline

import (
	"context"
	"net/http"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
)

// Pinger is the reachability check every backing system exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health answers liveness and readiness probes. Liveness only needs the log
// connection; readiness additionally needs the store-of-record, since without
// it every event would sideline. The twin is deliberately excluded from both:
// a degraded twin is an accepted running state.
type Health struct {
	log     Pinger
	records Pinger
	metrics *Metrics
}

func NewHealth(log, records Pinger, metrics *Metrics) *Health {
	return &Health{log: log, records: records, metrics: metrics}
}

func (h *Health) Live(ctx context.Context) error {
	return h.log.Ping(ctx)
}

func (h *Health) Ready(ctx context.Context) error {
	if err := h.log.Ping(ctx); err != nil {
		return err
	}
	return h.records.Ping(ctx)
}

// Handler serves /healthz, /readyz and /statusz.
func (h *Health) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.probe(h.Live))
	mux.HandleFunc("/readyz", h.probe(h.Ready))
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		body, err := bagstream.EncodeJson(h.metrics.Snapshot())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
	return mux
}

func (h *Health) probe(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
