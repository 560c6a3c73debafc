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

package correlate

import (
	"fmt"
	"time"

	bagstream "github.com/jbandu/bag-sub000"
	"github.com/jbandu/bag-sub000/kit"
)

const misrouteCode = "misroute"

// detectPatterns runs the three systemic-failure rules over one time bucket's
// entries. Each rule compares a dominant subgroup against
// MinEventsForPattern; confidence scales with the subgroup's share of the
// bucket, capped at 0.95.
func (e *Engine) detectPatterns(entries []entry, bucketStart time.Time) []detected {
	var out []detected
	if d, ok := e.detectBulkMisroute(entries, bucketStart); ok {
		out = append(out, d)
	}
	if d, ok := e.detectSystemicDelay(entries, bucketStart); ok {
		out = append(out, d)
	}
	if d, ok := e.detectMassException(entries, bucketStart); ok {
		out = append(out, d)
	}
	return out
}

func (e *Engine) detectBulkMisroute(entries []entry, bucketStart time.Time) (detected, bool) {
	misroutes := filter(entries, func(ent entry) bool {
		return ent.kind == bagstream.Exception && ent.exceptionCode == misrouteCode
	})
	location, dominant := dominantBy(misroutes, func(ent entry) string { return ent.location })
	if len(dominant) < e.config.MinEventsForPattern {
		return detected{}, false
	}

	confidence := kit.Clamp01(float64(len(dominant)) / float64(len(entries)) * e.config.MisrouteMultiplier)
	if confidence > 0.95 {
		confidence = 0.95
	}
	g := e.newPatternGroup(bagstream.BulkMisroute, dominant, bucketStart, confidence)
	g.Priority = bagstream.PriorityHigh
	g.RequiresBatchAction = true
	g.RecommendedActions = []string{
		fmt.Sprintf("hold outbound sortation at %s", location),
		fmt.Sprintf("re-route %d affected bags as a batch", len(g.Members)),
		"notify the route controller",
	}
	return detected{group: g, subject: location}, true
}

func (e *Engine) detectSystemicDelay(entries []entry, bucketStart time.Time) (detected, bool) {
	delayed := filter(entries, func(ent entry) bool { return ent.timeGap })
	location, dominant := dominantBy(delayed, func(ent entry) string { return ent.location })
	if len(dominant) < e.config.MinEventsForPattern {
		return detected{}, false
	}

	confidence := kit.Clamp01(float64(len(dominant)) / float64(len(delayed)) * e.config.DelayMultiplier)
	if confidence > 0.95 {
		confidence = 0.95
	}
	g := e.newPatternGroup(bagstream.SystemicDelay, dominant, bucketStart, confidence)
	g.Priority = bagstream.PriorityHigh
	g.RecommendedActions = []string{
		fmt.Sprintf("inspect conveyor and staffing at %s", location),
		"proactively rebook tight connections",
	}
	return detected{group: g, subject: location}, true
}

func (e *Engine) detectMassException(entries []entry, bucketStart time.Time) (detected, bool) {
	exceptions := filter(entries, func(ent entry) bool { return ent.kind == bagstream.Exception })
	code, dominant := dominantBy(exceptions, func(ent entry) string { return ent.exceptionCode })
	if len(dominant) < e.config.MinEventsForPattern {
		return detected{}, false
	}

	confidence := kit.Clamp01(float64(len(dominant)) / float64(len(exceptions)) * e.config.ExceptionMultiplier)
	if confidence > 0.95 {
		confidence = 0.95
	}
	g := e.newPatternGroup(bagstream.MassException, dominant, bucketStart, confidence)
	g.Priority = bagstream.PriorityCritical
	g.RequiresBatchAction = true
	g.RecommendedActions = []string{
		fmt.Sprintf("open a bulk incident for exception code %q", code),
		"page the duty manager",
	}
	return detected{group: g, subject: code}, true
}

func (e *Engine) newPatternGroup(pattern bagstream.PatternKind, members []entry,
	bucketStart time.Time, confidence float64) bagstream.CorrelatedGroup {
	return bagstream.CorrelatedGroup{
		Basis:       bagstream.BasisPattern,
		Pattern:     pattern,
		Members:     uniqueEntities(members),
		WindowStart: bucketStart,
		WindowEnd:   bucketStart.Add(e.config.Bucket),
		Confidence:  confidence,
	}
}

func filter(entries []entry, keep func(entry) bool) []entry {
	out := make([]entry, 0, len(entries))
	for _, ent := range entries {
		if keep(ent) {
			out = append(out, ent)
		}
	}
	return out
}

// dominantBy buckets entries by key and returns the most frequent key and its
// entries. Ties resolve to whichever key reached the top count first.
func dominantBy(entries []entry, key func(entry) string) (string, []entry) {
	if len(entries) == 0 {
		return "", nil
	}
	byKey := make(map[string][]entry)
	best := ""
	for _, ent := range entries {
		k := key(ent)
		byKey[k] = append(byKey[k], ent)
		if best == "" || len(byKey[k]) > len(byKey[best]) {
			best = k
		}
	}
	return best, byKey[best]
}
