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

	"github.com/kraklabs/cortex/pkg/tools"
)

// ImplementsDetector reports the ent_implements edges the ingestion
// pipeline's method-set matching (the direct ancestor of this detector)
// already computed and stored, surfacing them through the same
// detect/confidence interface as every other pattern detector. Confidence
// is fixed at 1.0: ent_implements rows are a structural fact, not a
// heuristic guess.
type ImplementsDetector struct{}

func (ImplementsDetector) PatternType() string { return "implements" }

func (ImplementsDetector) Detect(ctx context.Context, client tools.Querier) ([]DetectedPattern, error) {
	result, err := client.Query(ctx,
		`?[type_name, interface_name] := *ent_implements { type_name, interface_name } :limit 500`)
	if err != nil {
		return nil, fmt.Errorf("query ent_implements: %w", err)
	}

	patterns := make([]DetectedPattern, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < 2 {
			continue
		}
		typeName := tools.AnyToString(row[0])
		ifaceName := tools.AnyToString(row[1])
		patterns = append(patterns, DetectedPattern{
			PatternType: "implements",
			Description: fmt.Sprintf("%s implements %s", typeName, ifaceName),
			Confidence:  1.0,
			Participants: []Participant{
				{EntityID: typeName, Role: "implementation"},
				{EntityID: ifaceName, Role: "interface"},
			},
		})
	}
	return patterns, nil
}
