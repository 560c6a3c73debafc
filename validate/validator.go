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

// Package validate checks each incoming tracking event against the bag's
// prior history using a configurable transition rule table, flags anomalies
// and infers plausible missing steps. Anomalies are findings, not errors:
// validation always produces a result and never stalls the pipeline.
package validate

import (
	"fmt"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/kit"
)

type Config struct {
	Rules      RuleTable
	Ontology   Ontology
	FirstKinds []bagstream.EventKind
	// DuplicateWindow bounds how close in time two scans of the same kind at
	// the same location must be to count as a duplicate. Defaults to 5m.
	DuplicateWindow time.Duration
	// ExpectationCutoff is the ontology probability above which an expected
	// kind that never occurred is reported as missing. Defaults to 0.8.
	ExpectationCutoff float64
	// Per-anomaly confidence penalties.
	OutOfSequencePenalty float64
	DuplicatePenalty     float64
	TimeGapPenalty       float64
	OtherPenalty         float64
	// MissingKindPenalty is applied once per inferred missing kind.
	MissingKindPenalty float64
	// PassThroughConfidence is assigned when no rule exists for the incoming
	// kind and the validator degrades to pass-through.
	PassThroughConfidence float64
}

func DefaultConfig() Config {
	return Config{
		Rules:                 DefaultRules(),
		Ontology:              DefaultOntology(),
		FirstKinds:            DefaultFirstKinds(),
		DuplicateWindow:       5 * time.Minute,
		ExpectationCutoff:     0.8,
		OutOfSequencePenalty:  0.3,
		DuplicatePenalty:      0.1,
		TimeGapPenalty:        0.15,
		OtherPenalty:          0.1,
		MissingKindPenalty:    0.1,
		PassThroughConfidence: 0.3,
	}
}

// Validator applies sequence rules to one bag at a time. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	config Config
}

func NewValidator(config Config) *Validator {
	return &Validator{config: config}
}

// Validate checks incoming against the bag's history. History must be ordered
// by occurred_at ascending; the caller owns that invariant (see
// pipeline.HistoryStore). Out-of-order arrival shows up here as an anomaly,
// it is never an error.
func (v *Validator) Validate(history []bagstream.Event, incoming *bagstream.Event) bagstream.ValidationResult {
	if len(history) == 0 {
		return v.validateFirst(incoming)
	}

	rule, ok := v.config.Rules[incoming.Kind]
	if !ok {
		// No rule for this kind. Degrade to pass-through with low confidence
		// rather than stalling the partition.
		bagstream.Log().Warnf("no transition rule for kind %q, passing through entity %s", incoming.Kind, incoming.EntityID)
		return bagstream.ValidationResult{
			Valid:      true,
			Confidence: v.config.PassThroughConfidence,
			Reasoning:  fmt.Sprintf("no transition rule for kind %q", incoming.Kind),
		}
	}

	var result bagstream.ValidationResult
	previous := &history[len(history)-1]

	v.checkSequence(&result, rule, history, previous, incoming)
	v.checkTiming(&result, rule, previous, incoming)
	v.inferMissing(&result, history, previous, incoming)
	v.checkDuplicates(&result, history, incoming)

	result.Confidence = v.score(&result)
	result.Valid = len(result.Anomalies) == 0 && len(result.MissingKinds) == 0
	return result
}

func (v *Validator) validateFirst(incoming *bagstream.Event) bagstream.ValidationResult {
	for _, k := range v.config.FirstKinds {
		if incoming.Kind == k {
			return bagstream.ValidationResult{Valid: true, Confidence: 1.0}
		}
	}
	result := bagstream.ValidationResult{
		Reasoning: fmt.Sprintf("kind %q cannot open a bag history", incoming.Kind),
	}
	result.AddAnomaly(bagstream.AnomalyOutOfSequence)
	result.Confidence = v.score(&result)
	return result
}

func (v *Validator) checkSequence(result *bagstream.ValidationResult, rule TransitionRule,
	history []bagstream.Event, previous, incoming *bagstream.Event) {

	if len(rule.MustFollow) > 0 && !anyKindIn(history, rule.MustFollow) {
		result.AddAnomaly(bagstream.AnomalyOutOfSequence)
		result.Reasoning = appendReason(result.Reasoning,
			fmt.Sprintf("%s requires one of %v earlier in history", incoming.Kind, rule.MustFollow))
	}
	for _, k := range rule.CannotFollow {
		if previous.Kind == k {
			result.AddAnomaly(bagstream.AnomalyOutOfSequence)
			result.Reasoning = appendReason(result.Reasoning,
				fmt.Sprintf("%s cannot directly follow %s", incoming.Kind, previous.Kind))
			break
		}
	}
}

func (v *Validator) checkTiming(result *bagstream.ValidationResult, rule TransitionRule,
	previous, incoming *bagstream.Event) {

	minutes := incoming.OccurredAt.Sub(previous.OccurredAt).Minutes()
	if rule.MaxMinutesSincePrevious > 0 && minutes > float64(rule.MaxMinutesSincePrevious) {
		result.AddAnomaly(bagstream.AnomalyTimeGap)
		result.Reasoning = appendReason(result.Reasoning,
			fmt.Sprintf("%.0f minutes since %s exceeds the %d minute bound", minutes, previous.Kind, rule.MaxMinutesSincePrevious))
	}
	if rule.MinMinutesSincePrevious > 0 && minutes >= 0 && minutes < float64(rule.MinMinutesSincePrevious) {
		// Too fast to be physically plausible.
		result.AddAnomaly(bagstream.AnomalyOutOfSequence)
		result.Reasoning = appendReason(result.Reasoning,
			fmt.Sprintf("%.1f minutes since %s is below the %d minute floor", minutes, previous.Kind, rule.MinMinutesSincePrevious))
	}
}

func (v *Validator) inferMissing(result *bagstream.ValidationResult,
	history []bagstream.Event, previous, incoming *bagstream.Event) {

	expectations, ok := v.config.Ontology[previous.Kind]
	if !ok {
		return
	}
	if kindExpected(expectations, incoming.Kind) {
		return
	}
	for _, exp := range expectations {
		if exp.Probability <= v.config.ExpectationCutoff {
			continue
		}
		if exp.Kind == incoming.Kind || anyKindIn(history, []bagstream.EventKind{exp.Kind}) {
			continue
		}
		result.MissingKinds = append(result.MissingKinds, exp.Kind)
		result.Reasoning = appendReason(result.Reasoning,
			fmt.Sprintf("expected %s (p=%.2f) after %s, never seen", exp.Kind, exp.Probability, previous.Kind))
	}
	if len(result.MissingKinds) > 0 {
		result.AddAnomaly(bagstream.AnomalyMissingExpected)
	}
}

func (v *Validator) checkDuplicates(result *bagstream.ValidationResult,
	history []bagstream.Event, incoming *bagstream.Event) {

	for i := range history {
		h := &history[i]
		if h.Kind != incoming.Kind || h.Location != incoming.Location {
			continue
		}
		delta := incoming.OccurredAt.Sub(h.OccurredAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < v.config.DuplicateWindow {
			result.AddAnomaly(bagstream.AnomalyDuplicateScan)
			result.Reasoning = appendReason(result.Reasoning,
				fmt.Sprintf("duplicate %s scan at %s within %v", incoming.Kind, incoming.Location, v.config.DuplicateWindow))
			return
		}
	}
}

func (v *Validator) score(result *bagstream.ValidationResult) float64 {
	confidence := 1.0
	for _, a := range result.Anomalies {
		switch a {
		case bagstream.AnomalyOutOfSequence:
			confidence -= v.config.OutOfSequencePenalty
		case bagstream.AnomalyDuplicateScan:
			confidence -= v.config.DuplicatePenalty
		case bagstream.AnomalyTimeGap:
			confidence -= v.config.TimeGapPenalty
		default:
			confidence -= v.config.OtherPenalty
		}
	}
	confidence -= float64(len(result.MissingKinds)) * v.config.MissingKindPenalty
	return kit.Clamp01(confidence)
}

func anyKindIn(history []bagstream.Event, kinds []bagstream.EventKind) bool {
	for i := range history {
		for _, k := range kinds {
			if history[i].Kind == k {
				return true
			}
		}
	}
	return false
}

func kindExpected(expectations []Expectation, kind bagstream.EventKind) bool {
	for _, exp := range expectations {
		if exp.Kind == kind {
			return true
		}
		for _, alt := range exp.Alternatives {
			if alt == kind {
				return true
			}
		}
	}
	return false
}

func appendReason(existing, reason string) string {
	if len(existing) == 0 {
		return reason
	}
	return existing + "; " + reason
}
