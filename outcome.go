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

package bagstream

// TwinWriteOutcome records how a single dual-store commit went. The
// store-of-record is always authoritative: PrimaryCommitted must be true
// before an event counts as processed, while SecondaryCommitted=false is a
// recorded degradation awaiting reconciliation, never a reason to retry the
// whole pipeline step.
type TwinWriteOutcome struct {
	EventID            string `json:"event_id"`
	PrimaryCommitted   bool   `json:"primary_committed"`
	SecondaryCommitted bool   `json:"secondary_committed"`
	SecondaryAttempts  int    `json:"secondary_attempts"`
	LastError          string `json:"last_error,omitempty"`
}

// Degraded reports whether the outcome needs asynchronous reconciliation.
func (o TwinWriteOutcome) Degraded() bool {
	return o.PrimaryCommitted && !o.SecondaryCommitted
}
