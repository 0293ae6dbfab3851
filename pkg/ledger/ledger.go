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

// Package ledger is the append-only record of every change the indexer
// makes to the graph: what changed, where, and when. It generalizes the
// teacher's flat-file index.log (one line per indexing event, tailed for
// diagnostics) into a queryable, sequenced, subscribable log backed by the
// graph store itself rather than a side file.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/cortex/pkg/storage"
)

// Kind enumerates the events a Ledger records.
type Kind string

const (
	KindFileIndexed     Kind = "file_indexed"
	KindFileRemoved     Kind = "file_removed"
	KindEntityAdded     Kind = "entity_added"
	KindEntityChanged   Kind = "entity_changed"
	KindEntityRemoved   Kind = "entity_removed"
	KindReindexStart    Kind = "reindex_started"
	KindReindexDone     Kind = "reindex_completed"
	KindSessionBoundary Kind = "session_boundary"
)

// ClassificationChange records a before/after label change for one entity,
// e.g. a pattern detector reclassifying a type from "struct" to "singleton".
type ClassificationChange struct {
	EntityID string `json:"entity_id"`
	Before   string `json:"before"`
	After    string `json:"after"`
}

// ConfidenceAdjustment records a confidence-score revision for one entity or
// claim, with an optional human-readable reason.
type ConfidenceAdjustment struct {
	EntityID string  `json:"entity_id"`
	Before   float64 `json:"before"`
	After    float64 `json:"after"`
	Reason   string  `json:"reason,omitempty"`
}

// GraphDiffSummary is a coarse node/edge delta count for one event, cheap
// enough to compute per-mutation without diffing the whole graph.
type GraphDiffSummary struct {
	NodesAdded   int `json:"nodes_added"`
	NodesRemoved int `json:"nodes_removed"`
	EdgesAdded   int `json:"edges_added"`
	EdgesRemoved int `json:"edges_removed"`
}

// UserInteraction records the human action behind an event, when one
// triggered it (as opposed to an automated reindex).
type UserInteraction struct {
	Actor  string `json:"actor,omitempty"`
	Action string `json:"action,omitempty"`
}

// MCPContext records which MCP tool call, if any, produced this event, so a
// change can be traced back to the query that caused it.
type MCPContext struct {
	Tool      string `json:"tool,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Entry is one row of the ledger, the direct descendant of the teacher's
// IndexLogEntry generalized with a stable Seq/ID, a structured Kind, and
// the full impact/classification/confidence/provenance field set.
type Entry struct {
	ID   string `json:"id"`
	Seq  int64  `json:"sequence"`
	Kind Kind   `json:"event_type"`

	Source string `json:"source,omitempty"`

	// EntityID/FilePath are convenience accessors for the common case of a
	// single impacted entity/file: the first element of ImpactedEntities/
	// ImpactedFiles, kept so single-entity callers don't build a one-element
	// slice by hand.
	EntityID string `json:"entity_id,omitempty"`
	FilePath string `json:"file_path,omitempty"`

	ImpactedFiles         []string               `json:"impacted_files,omitempty"`
	ImpactedEntities      []string               `json:"impacted_entities,omitempty"`
	ClassificationChanges []ClassificationChange `json:"classification_changes,omitempty"`
	GraphDiffSummary      *GraphDiffSummary      `json:"graph_diff_summary,omitempty"`
	ConfidenceAdjustments []ConfidenceAdjustment `json:"confidence_adjustments,omitempty"`
	UserInteraction       *UserInteraction       `json:"user_interaction,omitempty"`
	MCPContext            *MCPContext            `json:"mcp_context,omitempty"`
	Metadata              map[string]string      `json:"metadata,omitempty"`

	Summary string `json:"summary,omitempty"`
	Detail  string `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
	ParentEventID string `json:"parent_event_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// CompactedLedgerEntry condenses one session's worth of raw entries into a
// single durable checkpoint: aggregated impact plus a content hash over the
// canonical fields, for integrity checks after compaction.
type CompactedLedgerEntry struct {
	SessionID        string    `json:"session_id"`
	StartSeq         int64     `json:"start_seq"`
	EndSeq           int64     `json:"end_seq"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	EntryCount       int       `json:"entry_count"`
	ImpactedFiles    []string  `json:"impacted_files,omitempty"`
	ImpactedEntities []string  `json:"impacted_entities,omitempty"`
	Summary          string    `json:"summary"`
	ContentHash      string    `json:"content_hash"`
}

// Filter narrows Subscribe/Since/Query to a subset of entries. A zero-value
// field means "no constraint on this dimension".
type Filter struct {
	Kinds         []Kind
	Sources       []string
	EntityIDs     []string
	FilePath      string
	CorrelationID string
}

func (f Filter) matches(e Entry) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if s == e.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.EntityIDs) > 0 {
		found := false
		for _, wanted := range f.EntityIDs {
			for _, got := range e.ImpactedEntities {
				if wanted == got {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	if f.FilePath != "" {
		found := e.FilePath == f.FilePath
		for _, fp := range e.ImpactedFiles {
			if fp == f.FilePath {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.CorrelationID != "" && f.CorrelationID != e.CorrelationID {
		return false
	}
	return true
}

// QueryOptions extends Filter with the time range, text search, pagination,
// and ordering controls the ledger's query surface exposes.
type QueryOptions struct {
	Filter     Filter
	Since      time.Time // zero value means unbounded
	Until      time.Time // zero value means unbounded
	Text       string    // case-insensitive substring match over Summary/Detail
	Limit      int       // 0 means unbounded
	Offset     int
	Descending bool
}

// Ledger appends Entry rows to storage's ent_ledger table and fans them
// out to live subscribers, guarding the monotonically increasing Seq with
// a mutex the way the teacher's AppendIndexLog guards its single log file.
type Ledger struct {
	logger  *slog.Logger
	backend storage.Backend

	mu      sync.Mutex
	nextSeq int64

	subMu     sync.Mutex
	subs      map[int]chan Entry
	nextSubID int
}

// New creates a Ledger over backend, recovering its next sequence number
// from the highest Seq already stored so restarts don't collide with or
// skip past prior entries.
func New(ctx context.Context, backend storage.Backend, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		logger:  logger,
		backend: backend,
		subs:    make(map[int]chan Entry),
	}
	result, err := backend.Query(ctx, "?[seq] := *ent_ledger{seq} :sort -seq :limit 1")
	if err != nil {
		return nil, fmt.Errorf("read ledger high-water mark: %w", err)
	}
	if len(result.Rows) > 0 {
		if seq, ok := result.Rows[0][0].(float64); ok {
			l.nextSeq = int64(seq) + 1
		}
	}
	return l, nil
}

// Append records a minimal single-file/single-entity event, the common case
// that covers most indexer call sites. It is a thin wrapper over AppendEvent.
func (l *Ledger) Append(ctx context.Context, kind Kind, entityID, filePath, detail string) (Entry, error) {
	e := Entry{Kind: kind, Detail: detail, Summary: detail}
	if entityID != "" {
		e.ImpactedEntities = []string{entityID}
	}
	if filePath != "" {
		e.ImpactedFiles = []string{filePath}
	}
	return l.AppendEvent(ctx, e)
}

// AppendEvent records one fully-populated Entry, assigning its Seq/ID/
// Timestamp and publishing it to live subscribers. O(1) amortized per the
// ledger's append guarantee.
func (l *Ledger) AppendEvent(ctx context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	seq := l.nextSeq
	l.nextSeq++
	l.mu.Unlock()

	e.Seq = seq
	e.ID = fmt.Sprintf("led_%d", seq)
	e.Timestamp = time.Now()
	normalizeConvenienceFields(&e)

	if err := l.backend.Execute(ctx, buildPutScript([]Entry{e})); err != nil {
		return Entry{}, fmt.Errorf("append ledger entry: %w", err)
	}

	l.logger.Debug("ledger.append", "seq", e.Seq, "kind", e.Kind, "entity_id", e.EntityID)
	l.publish(e)
	return e, nil
}

// AppendBatch records entries atomically: every row is written by a single
// backend.Execute call, so a crash mid-batch cannot leave a partial write
// visible. Sequence numbers are assigned in order before the write.
func (l *Ledger) AppendBatch(ctx context.Context, entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	now := time.Now()
	for i := range entries {
		entries[i].Seq = l.nextSeq
		entries[i].ID = fmt.Sprintf("led_%d", l.nextSeq)
		entries[i].Timestamp = now
		normalizeConvenienceFields(&entries[i])
		l.nextSeq++
	}
	l.mu.Unlock()

	if err := l.backend.Execute(ctx, buildPutScript(entries)); err != nil {
		return nil, fmt.Errorf("append ledger batch: %w", err)
	}

	for _, e := range entries {
		l.logger.Debug("ledger.append", "seq", e.Seq, "kind", e.Kind, "entity_id", e.EntityID)
		l.publish(e)
	}
	return entries, nil
}

// normalizeConvenienceFields fills EntityID/FilePath from the first element
// of ImpactedEntities/ImpactedFiles when the caller set the slices directly
// but not the singular convenience fields, or vice versa for Append's
// single-value callers.
func normalizeConvenienceFields(e *Entry) {
	if e.EntityID == "" && len(e.ImpactedEntities) > 0 {
		e.EntityID = e.ImpactedEntities[0]
	}
	if len(e.ImpactedEntities) == 0 && e.EntityID != "" {
		e.ImpactedEntities = []string{e.EntityID}
	}
	if e.FilePath == "" && len(e.ImpactedFiles) > 0 {
		e.FilePath = e.ImpactedFiles[0]
	}
	if len(e.ImpactedFiles) == 0 && e.FilePath != "" {
		e.ImpactedFiles = []string{e.FilePath}
	}
}

func (l *Ledger) publish(entry Entry) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber: drop rather than block the indexer.
		}
	}
}

// Subscribe returns a channel of future entries matching filter, plus an
// unsubscribe func that must be called when the caller is done reading.
// Backpressure is the subscriber's concern: a slow reader drops entries
// rather than stalling the writer.
func (l *Ledger) Subscribe(filter Filter) (<-chan Entry, func()) {
	raw := make(chan Entry, 64)
	filtered := make(chan Entry, 64)

	l.subMu.Lock()
	id := l.nextSubID
	l.nextSubID++
	l.subs[id] = raw
	l.subMu.Unlock()

	go func() {
		for e := range raw {
			if filter.matches(e) {
				select {
				case filtered <- e:
				default:
				}
			}
		}
		close(filtered)
	}()

	unsubscribe := func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
		close(raw)
	}
	return filtered, unsubscribe
}

// Since returns every entry with Seq > afterSeq matching filter, ordered
// oldest-first, for a caller reconnecting after a gap (e.g. an MCP client
// resuming a poll loop). A thin convenience wrapper over Query.
func (l *Ledger) Since(ctx context.Context, afterSeq int64, filter Filter) ([]Entry, error) {
	return l.queryAfter(ctx, afterSeq, QueryOptions{Filter: filter})
}

// Query runs a bounded, filtered, ordered read over the ledger: time range,
// kind/source/entity/file/correlation filters, a text search over
// Summary/Detail, and limit/offset pagination.
func (l *Ledger) Query(ctx context.Context, opts QueryOptions) ([]Entry, error) {
	return l.queryAfter(ctx, -1, opts)
}

func (l *Ledger) queryAfter(ctx context.Context, afterSeq int64, opts QueryOptions) ([]Entry, error) {
	script := fmt.Sprintf(
		`?[%s] := *ent_ledger{%s}, seq > %d
		:sort seq`,
		ledgerColumns, ledgerColumns, afterSeq,
	)
	result, err := l.backend.Query(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}

	entries := make([]Entry, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < ledgerColumnCount {
			continue
		}
		e := rowToEntry(row)
		if !opts.Filter.matches(e) {
			continue
		}
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
			continue
		}
		if opts.Text != "" && !containsFold(e.Summary, opts.Text) && !containsFold(e.Detail, opts.Text) {
			continue
		}
		entries = append(entries, e)
	}

	if opts.Descending {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Seq > entries[j].Seq })
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Compact removes every entry at or before boundarySeq except
// session_boundary markers, collapsing a caller-delimited range of raw
// churn once downstream consumers have caught up to it. CompactSessions is
// the automatic, time-based counterpart of this manual boundary marker.
func (l *Ledger) Compact(ctx context.Context, boundarySeq int64) (int, error) {
	before, err := l.backend.Query(ctx, fmt.Sprintf(
		`?[count(seq)] := *ent_ledger{seq, kind}, seq <= %d, kind != %q`, boundarySeq, string(KindSessionBoundary)))
	if err != nil {
		return 0, fmt.Errorf("count compactable entries: %w", err)
	}
	removed := 0
	if len(before.Rows) > 0 {
		if n, ok := before.Rows[0][0].(float64); ok {
			removed = int(n)
		}
	}
	if removed == 0 {
		return 0, nil
	}
	script := fmt.Sprintf(
		`rows[seq] := *ent_ledger{seq, kind}, seq <= %d, kind != %q
		?[seq] := rows[seq]
		:rm ent_ledger { seq }`,
		boundarySeq, string(KindSessionBoundary),
	)
	if err := l.backend.Execute(ctx, script); err != nil {
		return 0, fmt.Errorf("compact ledger: %w", err)
	}
	l.logger.Info("ledger.compact", "boundary_seq", boundarySeq, "removed", removed)
	return removed, nil
}

// CompactSessions groups raw (non-boundary) entries into sessions using the
// session-boundary rule: a new session starts whenever the gap to the
// previous entry exceeds sessionTimeout, or the running session's span
// exceeds maxSessionDuration. Each finalized session is condensed into one
// CompactedLedgerEntry (aggregated impact plus a content hash over its
// canonical fields) written to ent_ledger_compacted, and its raw rows are
// then removed from ent_ledger.
func (l *Ledger) CompactSessions(ctx context.Context, sessionTimeout, maxSessionDuration time.Duration) ([]CompactedLedgerEntry, error) {
	entries, err := l.Since(ctx, -1, Filter{})
	if err != nil {
		return nil, fmt.Errorf("read entries for session compaction: %w", err)
	}

	var sessions [][]Entry
	var current []Entry
	for _, e := range entries {
		if e.Kind == KindSessionBoundary {
			continue
		}
		if len(current) > 0 {
			last := current[len(current)-1]
			gap := e.Timestamp.Sub(last.Timestamp)
			span := e.Timestamp.Sub(current[0].Timestamp)
			if gap > sessionTimeout || span > maxSessionDuration {
				sessions = append(sessions, current)
				current = nil
			}
		}
		current = append(current, e)
	}
	if len(current) > 0 {
		sessions = append(sessions, current)
	}

	var compacted []CompactedLedgerEntry
	var removedSeqs []int64
	for _, session := range sessions {
		ce := compactSession(session)
		compacted = append(compacted, ce)
		for _, e := range session {
			removedSeqs = append(removedSeqs, e.Seq)
		}
	}
	if len(compacted) == 0 {
		return nil, nil
	}

	var buf strings.Builder
	for _, ce := range compacted {
		buf.WriteString(buildCompactedPutScript(ce))
		buf.WriteByte('\n')
	}
	seqList := make([]string, len(removedSeqs))
	for i, s := range removedSeqs {
		seqList[i] = fmt.Sprintf("%d", s)
	}
	buf.WriteString(fmt.Sprintf(
		"{ ?[seq] <- [%s] :rm ent_ledger { seq } }\n",
		joinBracketed(seqList),
	))

	if err := l.backend.Execute(ctx, buf.String()); err != nil {
		return nil, fmt.Errorf("write compacted sessions: %w", err)
	}
	l.logger.Info("ledger.compact_sessions", "sessions", len(compacted), "raw_entries_removed", len(removedSeqs))
	return compacted, nil
}

func joinBracketed(rows []string) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = "[" + r + "]"
	}
	return strings.Join(parts, ", ")
}

func compactSession(session []Entry) CompactedLedgerEntry {
	ce := CompactedLedgerEntry{
		SessionID:  session[0].ID,
		StartSeq:   session[0].Seq,
		EndSeq:     session[len(session)-1].Seq,
		StartTime:  session[0].Timestamp,
		EndTime:    session[len(session)-1].Timestamp,
		EntryCount: len(session),
	}
	fileSet := map[string]bool{}
	entitySet := map[string]bool{}
	kindCounts := map[Kind]int{}
	for _, e := range session {
		for _, f := range e.ImpactedFiles {
			fileSet[f] = true
		}
		for _, id := range e.ImpactedEntities {
			entitySet[id] = true
		}
		kindCounts[e.Kind]++
	}
	ce.ImpactedFiles = sortedKeys(fileSet)
	ce.ImpactedEntities = sortedKeys(entitySet)

	var parts []string
	for k, n := range kindCounts {
		parts = append(parts, fmt.Sprintf("%s x%d", k, n))
	}
	sort.Strings(parts)
	ce.Summary = fmt.Sprintf("session %s: %s", ce.SessionID, strings.Join(parts, ", "))
	ce.ContentHash = hashCompactedEntry(ce)
	return ce
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hashCompactedEntry(ce CompactedLedgerEntry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s|%s",
		ce.SessionID, ce.StartSeq, ce.EndSeq,
		strings.Join(ce.ImpactedFiles, ","), strings.Join(ce.ImpactedEntities, ","), ce.Summary)
	return hex.EncodeToString(h.Sum(nil))
}

// Prune removes raw ledger entries older than retentionDays, bounding how
// much raw history is kept regardless of whether it has been compacted.
func (l *Ledger) Prune(ctx context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	before, err := l.backend.Query(ctx, fmt.Sprintf(
		`?[count(seq)] := *ent_ledger{seq, timestamp}, timestamp < %d`, cutoff))
	if err != nil {
		return 0, fmt.Errorf("count prunable entries: %w", err)
	}
	removed := 0
	if len(before.Rows) > 0 {
		if n, ok := before.Rows[0][0].(float64); ok {
			removed = int(n)
		}
	}
	if removed == 0 {
		return 0, nil
	}
	script := fmt.Sprintf(
		`rows[seq] := *ent_ledger{seq, timestamp}, timestamp < %d
		?[seq] := rows[seq]
		:rm ent_ledger { seq }`,
		cutoff,
	)
	if err := l.backend.Execute(ctx, script); err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	l.logger.Info("ledger.prune", "retention_days", retentionDays, "removed", removed)
	return removed, nil
}

// ExportNDJSON returns every entry matching filter as newline-delimited
// JSON, one Entry per line, for offline audit or replay into another project.
func (l *Ledger) ExportNDJSON(ctx context.Context, filter Filter) (string, error) {
	entries, err := l.Since(ctx, -1, filter)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return "", fmt.Errorf("marshal ledger entry %d: %w", e.Seq, err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// ImportNDJSON bulk-appends previously-exported entries, preserving their
// original Seq values. Rejected unless the ledger is empty (restore mode);
// reimporting into an already-populated ledger would collide sequences.
func (l *Ledger) ImportNDJSON(ctx context.Context, ndjson string) (int, error) {
	l.mu.Lock()
	empty := l.nextSeq == 0
	l.mu.Unlock()
	if !empty {
		return 0, fmt.Errorf("ledger already has entries; import is only allowed in restore mode")
	}

	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(ndjson), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return 0, fmt.Errorf("unmarshal ledger entry: %w", err)
		}
		normalizeConvenienceFields(&e)
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := l.backend.Execute(ctx, buildPutScript(entries)); err != nil {
		return 0, fmt.Errorf("import ledger entries: %w", err)
	}

	l.mu.Lock()
	for _, e := range entries {
		if e.Seq+1 > l.nextSeq {
			l.nextSeq = e.Seq + 1
		}
	}
	l.mu.Unlock()

	l.logger.Info("ledger.import", "entries", len(entries))
	return len(entries), nil
}
