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

/*
Package bagstream defines the domain model for a high-rate baggage tracking
pipeline: immutable tracking Events, the kind ontology they draw from,
per-event ValidationResults, cross-bag CorrelatedGroups and the
TwinWriteOutcome record produced by the dual-store commit path.

The packages in this module compose into one per-event flow:

	eventlog.Publisher -> Kafka -> pipeline workers -> validate -> correlate -> dualwrite -> ack

Sub-packages:

  - eventlog: the Kafka-backed append-only log. Deduplicating publisher,
    consumer group with per-partition delivery, dead-letter sideline and
    bounded replay.
  - validate: per-bag sequence validation against a transition rule table.
  - correlate: windowed cross-bag pattern detection.
  - dualwrite: primary-first commits to the store-of-record with best-effort
    twin-store writes.
  - pipeline: the orchestrator tying the above together, plus health probes
    and latency metrics.
*/
package bagstream
