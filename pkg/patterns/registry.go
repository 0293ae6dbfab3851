// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package patterns generalizes the ingestion pipeline's method-set matching
// (BuildImplementsIndex) into a pluggable design-pattern detection registry:
// any Detector can declare a pattern type and a confidence heuristic, and
// the Registry dispatches, dedups, and thresholds across all of them.
package patterns

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kraklabs/cortex/pkg/storage"
	"github.com/kraklabs/cortex/pkg/tools"
)

// DetectedPattern is one design pattern instance a Detector found.
type DetectedPattern struct {
	PatternType  string
	Description  string
	Confidence   float64
	Participants []Participant
}

// Participant is one entity playing a role in a DetectedPattern.
type Participant struct {
	EntityID string
	Role     string
}

// Detector finds instances of one pattern type against the current graph.
type Detector interface {
	// PatternType names the kind of pattern this detector looks for, e.g.
	// "implements", "singleton".
	PatternType() string
	// Detect runs the detector's heuristics and returns whatever instances
	// it found; an error means the detector itself failed, not that it
	// found nothing.
	Detect(ctx context.Context, client tools.Querier) ([]DetectedPattern, error)
}

// Options controls which detectors run and how results are filtered.
type Options struct {
	PatternTypes  []string // empty = run every registered detector
	MinConfidence float64  // default 0.5
}

// Registry dispatches across registered Detectors, collecting, deduping,
// and thresholding their results per §4.10.
type Registry struct {
	logger    *slog.Logger
	detectors map[string]Detector
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, detectors: make(map[string]Detector)}
}

// Register adds a detector, keyed by its PatternType. Registering a second
// detector under the same pattern type replaces the first.
func (r *Registry) Register(d Detector) {
	r.detectors[d.PatternType()] = d
}

// Detect runs the selected detectors (or all of them, if options.PatternTypes
// is empty) against client, isolating any detector failure so the rest
// still complete, then dedups by (pattern_type, sorted participant IDs)
// keeping the highest confidence, and drops anything below MinConfidence.
func (r *Registry) Detect(ctx context.Context, client tools.Querier, options Options) []DetectedPattern {
	minConfidence := options.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.5
	}

	selected := r.detectors
	if len(options.PatternTypes) > 0 {
		selected = make(map[string]Detector, len(options.PatternTypes))
		for _, pt := range options.PatternTypes {
			if d, ok := r.detectors[pt]; ok {
				selected[pt] = d
			}
		}
	}

	var all []DetectedPattern
	for patternType, detector := range selected {
		found, err := detector.Detect(ctx, client)
		if err != nil {
			r.logger.Warn("patterns.detector.failed", "pattern_type", patternType, "error", err)
			continue
		}
		all = append(all, found...)
	}

	deduped := dedupe(all)

	out := make([]DetectedPattern, 0, len(deduped))
	for _, p := range deduped {
		if p.Confidence >= minConfidence {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(patterns []DetectedPattern) []DetectedPattern {
	best := make(map[string]DetectedPattern)
	for _, p := range patterns {
		key := dedupeKey(p)
		if existing, ok := best[key]; !ok || p.Confidence > existing.Confidence {
			best[key] = p
		}
	}
	out := make([]DetectedPattern, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func dedupeKey(p DetectedPattern) string {
	ids := make([]string, len(p.Participants))
	for i, participant := range p.Participants {
		ids[i] = participant.EntityID
	}
	sort.Strings(ids)
	return p.PatternType + "|" + strings.Join(ids, ",")
}

// patternID derives a stable ID for a DetectedPattern from its dedupe key,
// so re-running Detect/Persist against an unchanged graph overwrites the
// same row instead of accumulating duplicates.
func patternID(p DetectedPattern) string {
	sum := sha256.Sum256([]byte(dedupeKey(p)))
	return "pat_" + hex.EncodeToString(sum[:8])
}

// Persist writes patterns to backend's ent_design_pattern/ent_pattern_participant
// tables, the durable counterpart to the in-memory results Detect returns.
// IDs are derived from each pattern's dedupe key so repeated detection runs
// against a stable graph upsert the same rows rather than growing without
// bound.
func (r *Registry) Persist(ctx context.Context, backend storage.Backend, patterns []DetectedPattern) error {
	if len(patterns) == 0 {
		return nil
	}

	var buf strings.Builder
	for _, p := range patterns {
		id := patternID(p)
		buf.WriteString(fmt.Sprintf(
			"{ ?[id, pattern_type, description, confidence] <- [[%s, %s, %s, %g]] :put ent_design_pattern { id, pattern_type, description, confidence } }\n",
			quoteString(id), quoteString(p.PatternType), quoteString(p.Description), p.Confidence,
		))
		for _, participant := range p.Participants {
			participantID := id + ":" + participant.EntityID
			buf.WriteString(fmt.Sprintf(
				"{ ?[id, pattern_id, entity_id, role] <- [[%s, %s, %s, %s]] :put ent_pattern_participant { id, pattern_id, entity_id, role } }\n",
				quoteString(participantID), quoteString(id), quoteString(participant.EntityID), quoteString(participant.Role),
			))
		}
	}

	if err := backend.Execute(ctx, buf.String()); err != nil {
		return fmt.Errorf("persist detected patterns: %w", err)
	}
	r.logger.Info("patterns.persist", "count", len(patterns))
	return nil
}

func quoteString(s string) string {
	return fmt.Sprintf("%q", s)
}
