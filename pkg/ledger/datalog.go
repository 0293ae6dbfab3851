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

package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ledgerColumns is the canonical column list for ent_ledger, shared between
// the :put builder and the :sort/query reader so the two never drift apart.
const ledgerColumns = "seq, id, kind, source, entity_id, file_path, impacted_files_json, " +
	"impacted_entities_json, classification_changes_json, graph_diff_summary_json, " +
	"confidence_adjustments_json, user_interaction_json, mcp_context_json, metadata_json, " +
	"summary, detail, error, correlation_id, parent_event_id, session_id, timestamp"

const ledgerColumnCount = 21

// quoteString escapes a Go string for embedding in a Datalog literal.
func quoteString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// jsonOrEmpty marshals v, falling back to fallback on error, for embedding
// nested structures (ClassificationChanges, GraphDiffSummary, etc.) into a
// *_json column the same way pkg/ingestion's datalog.go encodes implements_json.
func jsonOrEmpty(v any, fallback string) string {
	if v == nil {
		return fallback
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(b)
}

// buildPutScript renders one or more Entry rows as a single :put script so
// AppendBatch and ImportNDJSON can write many rows atomically.
func buildPutScript(entries []Entry) string {
	var buf strings.Builder
	buf.WriteString("{ ?[")
	buf.WriteString(ledgerColumns)
	buf.WriteString("] <- [")
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteByte('[')
		buf.WriteString(strings.Join([]string{
			fmt.Sprintf("%d", e.Seq),
			quoteString(e.ID),
			quoteString(string(e.Kind)),
			quoteString(e.Source),
			quoteString(e.EntityID),
			quoteString(e.FilePath),
			quoteString(jsonOrEmpty(e.ImpactedFiles, "[]")),
			quoteString(jsonOrEmpty(e.ImpactedEntities, "[]")),
			quoteString(jsonOrEmpty(e.ClassificationChanges, "[]")),
			quoteString(jsonOrEmpty(e.GraphDiffSummary, "")),
			quoteString(jsonOrEmpty(e.ConfidenceAdjustments, "[]")),
			quoteString(jsonOrEmpty(e.UserInteraction, "")),
			quoteString(jsonOrEmpty(e.MCPContext, "")),
			quoteString(jsonOrEmpty(e.Metadata, "{}")),
			quoteString(e.Summary),
			quoteString(e.Detail),
			quoteString(e.Error),
			quoteString(e.CorrelationID),
			quoteString(e.ParentEventID),
			quoteString(e.SessionID),
			fmt.Sprintf("%d", e.Timestamp.Unix()),
		}, ", "))
		buf.WriteByte(']')
	}
	buf.WriteString("] :put ent_ledger { ")
	buf.WriteString(ledgerColumns)
	buf.WriteString(" } }")
	return buf.String()
}

// buildCompactedPutScript renders one CompactedLedgerEntry as a :put script
// against ent_ledger_compacted.
func buildCompactedPutScript(ce CompactedLedgerEntry) string {
	cols := "session_id, start_seq, end_seq, start_time, end_time, entry_count, " +
		"impacted_files_json, impacted_entities_json, summary, content_hash"
	values := strings.Join([]string{
		quoteString(ce.SessionID),
		fmt.Sprintf("%d", ce.StartSeq),
		fmt.Sprintf("%d", ce.EndSeq),
		fmt.Sprintf("%d", ce.StartTime.Unix()),
		fmt.Sprintf("%d", ce.EndTime.Unix()),
		fmt.Sprintf("%d", ce.EntryCount),
		quoteString(jsonOrEmpty(ce.ImpactedFiles, "[]")),
		quoteString(jsonOrEmpty(ce.ImpactedEntities, "[]")),
		quoteString(ce.Summary),
		quoteString(ce.ContentHash),
	}, ", ")
	return fmt.Sprintf("{ ?[%s] <- [[%s]] :put ent_ledger_compacted { %s } }", cols, values, cols)
}

// rowToEntry decodes one ent_ledger row, in ledgerColumns order, back into
// an Entry.
func rowToEntry(row []any) Entry {
	e := Entry{}
	if v, ok := row[0].(float64); ok {
		e.Seq = int64(v)
	}
	e.ID = stringField(row[1])
	e.Kind = Kind(stringField(row[2]))
	e.Source = stringField(row[3])
	e.EntityID = stringField(row[4])
	e.FilePath = stringField(row[5])
	_ = json.Unmarshal([]byte(stringField(row[6])), &e.ImpactedFiles)
	_ = json.Unmarshal([]byte(stringField(row[7])), &e.ImpactedEntities)
	_ = json.Unmarshal([]byte(stringField(row[8])), &e.ClassificationChanges)
	if raw := stringField(row[9]); raw != "" {
		var gds GraphDiffSummary
		if json.Unmarshal([]byte(raw), &gds) == nil {
			e.GraphDiffSummary = &gds
		}
	}
	_ = json.Unmarshal([]byte(stringField(row[10])), &e.ConfidenceAdjustments)
	if raw := stringField(row[11]); raw != "" {
		var ui UserInteraction
		if json.Unmarshal([]byte(raw), &ui) == nil {
			e.UserInteraction = &ui
		}
	}
	if raw := stringField(row[12]); raw != "" {
		var mc MCPContext
		if json.Unmarshal([]byte(raw), &mc) == nil {
			e.MCPContext = &mc
		}
	}
	_ = json.Unmarshal([]byte(stringField(row[13])), &e.Metadata)
	e.Summary = stringField(row[14])
	e.Detail = stringField(row[15])
	e.Error = stringField(row[16])
	e.CorrelationID = stringField(row[17])
	e.ParentEventID = stringField(row[18])
	e.SessionID = stringField(row[19])
	if v, ok := row[20].(float64); ok {
		e.Timestamp = time.Unix(int64(v), 0)
	}
	return e
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}
