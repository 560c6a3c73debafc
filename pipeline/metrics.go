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
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Metrics aggregates pipeline throughput counters and an end-to-end
// processing latency histogram (delivery to acknowledgement).
type Metrics struct {
	processed     atomic.Int64
	anomalous     atomic.Int64
	sidelined     atomic.Int64
	twinDegraded  atomic.Int64
	groupsEmitted atomic.Int64

	mu      sync.Mutex
	latency *hdrhistogram.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		// 10us to 1 minute at 3 significant figures covers every sane
		// per-event path.
		latency: hdrhistogram.New(10, time.Minute.Microseconds(), 3),
	}
}

func (m *Metrics) observe(elapsed time.Duration, anomalous, degraded bool, groups int) {
	m.processed.Add(1)
	if anomalous {
		m.anomalous.Add(1)
	}
	if degraded {
		m.twinDegraded.Add(1)
	}
	m.groupsEmitted.Add(int64(groups))
	m.mu.Lock()
	m.latency.RecordValue(elapsed.Microseconds())
	m.mu.Unlock()
}

func (m *Metrics) observeSidelined() {
	m.sidelined.Add(1)
}

// Snapshot is a point-in-time metrics readout for logs and status endpoints.
type Snapshot struct {
	Processed     int64   `json:"processed"`
	Anomalous     int64   `json:"anomalous"`
	Sidelined     int64   `json:"sidelined"`
	TwinDegraded  int64   `json:"twinDegraded"`
	GroupsEmitted int64   `json:"groupsEmitted"`
	LatencyP50us  int64   `json:"latencyP50us"`
	LatencyP99us  int64   `json:"latencyP99us"`
	LatencyMaxus  int64   `json:"latencyMaxus"`
	LatencyMeanus float64 `json:"latencyMeanus"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		LatencyP50us:  m.latency.ValueAtQuantile(50),
		LatencyP99us:  m.latency.ValueAtQuantile(99),
		LatencyMaxus:  m.latency.Max(),
		LatencyMeanus: m.latency.Mean(),
	}
	m.mu.Unlock()
	s.Processed = m.processed.Load()
	s.Anomalous = m.anomalous.Load()
	s.Sidelined = m.sidelined.Load()
	s.TwinDegraded = m.twinDegraded.Load()
	s.GroupsEmitted = m.groupsEmitted.Load()
	return s
}
