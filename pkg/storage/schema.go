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

package storage

import "fmt"

// schemaTables returns the full set of :create statements for the current
// schema version. Type kinds (struct/interface/class/type_alias) share the
// ent_type/ent_type_code/ent_type_embedding tables, discriminated by the
// Kind column, the way the teacher already unifies Go struct/interface
// extraction — this avoids five near-identical physical tables for what is
// one UCE concept with a kind tag.
func schemaTables(embeddingDim int) []string {
	return []string{
		`:create ent_file { id: String => path: String, hash: String, language: String, size: Int }`,
		`:create ent_function { id: String => name: String, signature: String, file_path: String, start_line: Int, end_line: Int, start_col: Int, end_col: Int, is_async: Bool default false, is_exported: Bool default true, doc_comment: String default '' }`,
		`:create ent_function_code { function_id: String => code_text: String }`,
		fmt.Sprintf(`:create ent_function_embedding { function_id: String => embedding: <F32; %d> }`, embeddingDim),
		`:create ent_defines { id: String => file_id: String, function_id: String }`,
		`:create ent_calls { id: String => caller_id: String, callee_id: String, call_line: Int default 0 }`,
		`:create ent_import { id: String => file_path: String, import_path: String, alias: String, start_line: Int, side_effect: Bool default false, type_only: Bool default false }`,
		// Class/Interface/TypeAlias share ent_type, discriminated by Kind, rather
		// than five near-identical physical tables. Fields that only apply to
		// one kind (e.g. extends_class on Class, definition on TypeAlias) are
		// left at their zero value for rows of other kinds.
		`:create ent_type { id: String => name: String, kind: String, file_path: String, start_line: Int, end_line: Int, start_col: Int, end_col: Int, is_exported: Bool default true, is_abstract: Bool default false, extends_class: String default '', implements_json: String default '', extends_json: String default '', definition: String default '', doc_comment: String default '', properties_json: String default '' }`,
		`:create ent_type_code { type_id: String => code_text: String }`,
		fmt.Sprintf(`:create ent_type_embedding { type_id: String => embedding: <F32; %d> }`, embeddingDim),
		`:create ent_defines_type { id: String => file_id: String, type_id: String }`,
		`:create ent_field { id: String => struct_name: String, field_name: String, field_type: String, file_path: String, line: Int }`,
		`:create ent_implements { id: String => type_name: String, interface_name: String, file_path: String }`,
		// Variables: module/package-level declarations, distinct from local
		// function-body variables which are not indexed (§3 scoping rule).
		`:create ent_variable { id: String => name: String, var_type: String, file_path: String, start_line: Int, is_const: Bool default false, is_exported: Bool default true }`,
		`:create ent_defines_variable { id: String => file_id: String, variable_id: String }`,
		// Ghost nodes: placeholders for symbols resolved outside the indexed
		// tree (stdlib, third-party, vendored) so call/reference edges never
		// dangle. Generalizes the teacher's StubFunctions mechanism.
		`:create ent_ghost_node { id: String => package_name: String, symbol: String, kind: String default 'unknown' }`,
		`:create ent_references_external { id: String => source_id: String, ghost_id: String, reference_kind: String default 'call' }`,
		`:create ent_extends_class { id: String => subclass_id: String, superclass_id: String }`,
		`:create ent_extends_interface { id: String => sub_interface_id: String, super_interface_id: String }`,
		// Derived/analysis rows.
		`:create ent_justification { id: String => subject_id: String, claim: String, evidence: String, confidence: Float default 1.0, created_at: Int default 0 }`,
		`:create ent_classification { id: String => subject_id: String, label: String, source: String default 'heuristic' }`,
		`:create ent_design_pattern { id: String => pattern_type: String, description: String, confidence: Float default 0.0 }`,
		`:create ent_pattern_participant { id: String => pattern_id: String, entity_id: String, role: String }`,
		`:create ent_llm_cache { key: String => value: String, created_at: Int default 0 }`,
		// Project/engine bookkeeping.
		`:create ent_project_meta { key: String => value: String }`,
		`:create ent_schema_migrations { version: Int => name: String, applied_at: Int default 0 }`,
		// Append-only change ledger backing pkg/ledger subscriptions. Nested
		// structures (classification changes, confidence adjustments, etc.)
		// are stored as JSON-encoded columns, the same convention used for
		// ent_type's implements_json/extends_json.
		`:create ent_ledger { seq: Int => id: String default '', kind: String, source: String default '', entity_id: String default '', file_path: String default '', impacted_files_json: String default '[]', impacted_entities_json: String default '[]', classification_changes_json: String default '[]', graph_diff_summary_json: String default '', confidence_adjustments_json: String default '[]', user_interaction_json: String default '', mcp_context_json: String default '', metadata_json: String default '{}', summary: String default '', detail: String default '', error: String default '', correlation_id: String default '', parent_event_id: String default '', session_id: String default '', timestamp: Int default 0 }`,
		// Session-compacted ledger checkpoints, written by Ledger.CompactSessions.
		`:create ent_ledger_compacted { session_id: String => start_seq: Int, end_seq: Int, start_time: Int, end_time: Int, entry_count: Int, impacted_files_json: String default '[]', impacted_entities_json: String default '[]', summary: String default '', content_hash: String }`,
	}
}

// hnswIndexes returns the ::hnsw create statements for every embedding table.
func hnswIndexes(dim int) []string {
	return []string{
		fmt.Sprintf(`::hnsw create ent_function_embedding:embedding_idx { dim: %d, m: 16, ef_construction: 200, distance: Cosine, fields: [embedding] }`, dim),
		fmt.Sprintf(`::hnsw create ent_type_embedding:embedding_idx { dim: %d, m: 16, ef_construction: 200, distance: Cosine, fields: [embedding] }`, dim),
	}
}
