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

import "time"

// CorrelationBasis states why a group of bags was correlated.
type CorrelationBasis string

const (
	BasisSameRoute    CorrelationBasis = "same_route"
	BasisSameLocation CorrelationBasis = "same_location"
	BasisPattern      CorrelationBasis = "pattern"
)

// PatternKind names a detected systemic failure pattern.
type PatternKind string

const (
	BulkMisroute  PatternKind = "bulk_misroute"
	SystemicDelay PatternKind = "systemic_delay"
	MassException PatternKind = "mass_exception"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// CorrelatedGroup is a detected multi-bag relationship within a time window.
// Membership only grows while the group's window is open; once the group is
// pruned from the active set it is immutable history.
type CorrelatedGroup struct {
	ID      string           `json:"group_id"`
	Basis   CorrelationBasis `json:"correlation_basis"`
	Pattern PatternKind      `json:"pattern_kind,omitempty"`
	// Members holds the distinct entity ids participating in the group.
	Members             []string  `json:"member_entity_ids"`
	WindowStart         time.Time `json:"window_start"`
	WindowEnd           time.Time `json:"window_end"`
	Confidence          float64   `json:"confidence"`
	RequiresBatchAction bool      `json:"requires_batch_action"`
	RecommendedActions  []string  `json:"recommended_actions,omitempty"`
	Priority            Priority  `json:"priority"`
	DetectedAt          time.Time `json:"detected_at"`
}

// HasMember reports whether entityID participates in the group.
func (g *CorrelatedGroup) HasMember(entityID string) bool {
	for _, m := range g.Members {
		if m == entityID {
			return true
		}
	}
	return false
}
