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

// AnomalyKind labels a finding from sequence validation. Anomalies are
// first-class output, not errors; the pipeline completes processing of an
// event regardless of what the validator finds.
type AnomalyKind string

const (
	AnomalyOutOfSequence   AnomalyKind = "out_of_sequence"
	AnomalyDuplicateScan   AnomalyKind = "duplicate_scan"
	AnomalyTimeGap         AnomalyKind = "time_gap"
	AnomalyMissingExpected AnomalyKind = "missing_expected"
)

// ValidationResult is produced fresh for every event run through the
// sequence validator. It is attached to the event's processing record rather
// than persisted as its own entity.
type ValidationResult struct {
	Valid        bool          `json:"is_valid"`
	Anomalies    []AnomalyKind `json:"anomalies,omitempty"`
	MissingKinds []EventKind   `json:"missing_kinds,omitempty"`
	// Confidence is in [0,1]. 1.0 means a clean transition; each distinct
	// anomaly kind and each inferred missing kind subtracts a fixed penalty.
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// HasAnomaly reports whether kind was flagged on the result.
func (vr *ValidationResult) HasAnomaly(kind AnomalyKind) bool {
	for _, a := range vr.Anomalies {
		if a == kind {
			return true
		}
	}
	return false
}

// AddAnomaly appends kind if it is not already present, preserving set
// semantics over the slice representation.
func (vr *ValidationResult) AddAnomaly(kind AnomalyKind) {
	if !vr.HasAnomaly(kind) {
		vr.Anomalies = append(vr.Anomalies, kind)
	}
}
