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

package validate

import (
	bagstream "github.com/jbandu/bag-sub000"
)

// TransitionRule constrains when an event kind may appear in a bag's history.
// Zero-valued minute bounds mean "no bound".
type TransitionRule struct {
	// MustFollow requires at least one of these kinds anywhere in history.
	MustFollow []bagstream.EventKind
	// CannotFollow rejects the transition when the immediate predecessor is
	// one of these kinds.
	CannotFollow []bagstream.EventKind
	// MinMinutesSincePrevious flags transitions too fast to be physically
	// plausible.
	MinMinutesSincePrevious int
	// MaxMinutesSincePrevious flags suspicious gaps between scans.
	MaxMinutesSincePrevious int
}

// Expectation is one ontology edge: after a given kind, Kind is expected with
// Probability, and any of Alternatives is also acceptable.
type Expectation struct {
	Kind         bagstream.EventKind
	Probability  float64
	Alternatives []bagstream.EventKind
}

// RuleTable maps an incoming event kind to its transition rule. Kinds with no
// entry trigger the validator's low-confidence pass-through.
type RuleTable map[bagstream.EventKind]TransitionRule

// Ontology maps a previous event kind to the kinds expected to follow it.
// Used for missing-step inference, not for accept/reject decisions.
type Ontology map[bagstream.EventKind][]Expectation

// DefaultRules returns the transition table for the standard baggage journey:
// check-in, sortation, load, offload, arrival, claim, with exception and
// manual scans allowed at any point.
func DefaultRules() RuleTable {
	return RuleTable{
		bagstream.CheckIn: {
			CannotFollow: []bagstream.EventKind{bagstream.CheckIn},
		},
		bagstream.Sortation: {
			MustFollow:              []bagstream.EventKind{bagstream.CheckIn, bagstream.Manual},
			CannotFollow:            []bagstream.EventKind{bagstream.Claim},
			MinMinutesSincePrevious: 2,
			MaxMinutesSincePrevious: 120,
		},
		bagstream.Load: {
			MustFollow:              []bagstream.EventKind{bagstream.Sortation, bagstream.Manual},
			CannotFollow:            []bagstream.EventKind{bagstream.Load, bagstream.Claim},
			MinMinutesSincePrevious: 5,
			MaxMinutesSincePrevious: 240,
		},
		bagstream.Offload: {
			MustFollow:              []bagstream.EventKind{bagstream.Load},
			CannotFollow:            []bagstream.EventKind{bagstream.Offload, bagstream.CheckIn},
			MinMinutesSincePrevious: 20,
			MaxMinutesSincePrevious: 1080,
		},
		bagstream.Arrival: {
			MustFollow:              []bagstream.EventKind{bagstream.Offload, bagstream.Load},
			CannotFollow:            []bagstream.EventKind{bagstream.Claim},
			MinMinutesSincePrevious: 5,
			MaxMinutesSincePrevious: 720,
		},
		bagstream.Claim: {
			MustFollow:              []bagstream.EventKind{bagstream.Arrival, bagstream.Offload},
			CannotFollow:            []bagstream.EventKind{bagstream.CheckIn},
			MinMinutesSincePrevious: 5,
			MaxMinutesSincePrevious: 360,
		},
		// Exceptions and manual scans can legitimately happen anywhere.
		bagstream.Exception: {},
		bagstream.Manual:    {},
	}
}

// DefaultOntology returns the expected-next mapping for the standard journey.
// Probabilities are operational defaults; tune them against historical scan
// data before trusting the inference in production.
func DefaultOntology() Ontology {
	return Ontology{
		bagstream.CheckIn: {
			{Kind: bagstream.Sortation, Probability: 0.95,
				Alternatives: []bagstream.EventKind{bagstream.Manual, bagstream.Exception}},
		},
		bagstream.Sortation: {
			{Kind: bagstream.Load, Probability: 0.9,
				Alternatives: []bagstream.EventKind{bagstream.Manual, bagstream.Exception}},
		},
		bagstream.Load: {
			{Kind: bagstream.Offload, Probability: 0.85,
				Alternatives: []bagstream.EventKind{bagstream.Exception}},
		},
		bagstream.Offload: {
			{Kind: bagstream.Arrival, Probability: 0.9,
				Alternatives: []bagstream.EventKind{bagstream.Load, bagstream.Exception}},
		},
		bagstream.Arrival: {
			{Kind: bagstream.Claim, Probability: 0.8,
				Alternatives: []bagstream.EventKind{bagstream.Manual, bagstream.Exception}},
		},
		bagstream.Exception: {
			{Kind: bagstream.Manual, Probability: 0.5},
		},
	}
}

// DefaultFirstKinds returns the kinds allowed to open a bag's history.
func DefaultFirstKinds() []bagstream.EventKind {
	return []bagstream.EventKind{bagstream.CheckIn, bagstream.Manual, bagstream.Exception}
}
