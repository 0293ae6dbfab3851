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

package patterns

import (
	"context"
	"fmt"
	"regexp"

	"github.com/kraklabs/cortex/pkg/tools"
)

// SingletonDetector weighs two independent heuristics per candidate
// function: does its body guard construction with sync.Once (or an
// equivalent nil-check-and-assign), and does its name read as an
// accessor ("Instance", "GetInstance", "Shared", "Default"). The accessor
// name is required; by itself it is a weak suggestion (0.4), and a
// nil-check guard (0.7) or sync.Once (0.95) in the body raises confidence.
type SingletonDetector struct{}

func (SingletonDetector) PatternType() string { return "singleton" }

var (
	singletonNamePattern  = regexp.MustCompile(`(?i)^(get)?(instance|shared|default|singleton)$`)
	singletonOncePattern  = regexp.MustCompile(`sync\.Once`)
	singletonNilGuardPattern = regexp.MustCompile(`if\s+\w+\s*==\s*nil\s*\{`)
)

func (d SingletonDetector) Detect(ctx context.Context, client tools.Querier) ([]DetectedPattern, error) {
	result, err := client.Query(ctx,
		`?[id, name, file_path] := *ent_function { id, name, file_path } :limit 2000`)
	if err != nil {
		return nil, fmt.Errorf("query ent_function: %w", err)
	}

	var patterns []DetectedPattern
	for _, row := range result.Rows {
		if len(row) < 3 {
			continue
		}
		id := tools.AnyToString(row[0])
		name := tools.AnyToString(row[1])
		filePath := tools.AnyToString(row[2])

		methodName := name
		if idx := lastDot(name); idx >= 0 {
			methodName = name[idx+1:]
		}
		if !singletonNamePattern.MatchString(methodName) {
			continue
		}

		code, err := d.functionCode(ctx, client, id)
		if err != nil || code == "" {
			continue
		}

		confidence := 0.4 // name alone is a weak signal
		if singletonOncePattern.MatchString(code) {
			confidence = 0.95
		} else if singletonNilGuardPattern.MatchString(code) {
			confidence = 0.7
		}

		patterns = append(patterns, DetectedPattern{
			PatternType: "singleton",
			Description: fmt.Sprintf("%s in %s looks like a singleton accessor", name, filePath),
			Confidence:  confidence,
			Participants: []Participant{
				{EntityID: id, Role: "accessor"},
			},
		})
	}
	return patterns, nil
}

func (SingletonDetector) functionCode(ctx context.Context, client tools.Querier, functionID string) (string, error) {
	result, err := client.Query(ctx, fmt.Sprintf(
		`?[code_text] := *ent_function_code { function_id: %q, code_text } :limit 1`, functionID))
	if err != nil {
		return "", err
	}
	if len(result.Rows) == 0 {
		return "", nil
	}
	return tools.AnyToString(result.Rows[0][0]), nil
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
