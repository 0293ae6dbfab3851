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

// Package retrieval fuses lexical, vector, and graph-traversal results into
// one ranked, cited answer. Its fanout legs reuse the query-construction
// idiom of pkg/tools' search/trace tools (fmt.Sprintf + strings.Join over
// Datalog conditions) rather than introducing a second query-building style.
package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/cortex/pkg/lexical"
	"github.com/kraklabs/cortex/pkg/optimize"
	"github.com/kraklabs/cortex/pkg/tools"
)

// resultCacheTTL bounds how long a fused Result is reused for an identical
// query before the index is allowed to have moved on.
const resultCacheTTL = 30 * time.Second

// Intent is the coarse classification a query is tagged with before fanout.
type Intent string

const (
	IntentLookup    Intent = "lookup"
	IntentSemantic  Intent = "semantic"
	IntentCallGraph Intent = "call-graph"
	IntentFilePath  Intent = "file-path"
	IntentRegex     Intent = "regex"
)

var (
	regexMetaChars  = regexp.MustCompile(`[.*+?()\[\]{}|^$\\]`)
	pathSeparator   = regexp.MustCompile(`[\\/]`)
	callGraphWords  = regexp.MustCompile(`(?i)\b(call|calls|callee|caller|invoke|invokes|invoked by)\b`)
	semanticWords   = regexp.MustCompile(`(?i)\b(like|similar|related to|about|that handles|that does)\b`)
)

// ClassifyIntent tags a query using cheap heuristics over its surface form:
// quoted substrings and path separators suggest a literal lookup or file
// path, regex metacharacters suggest a regex search, call-graph vocabulary
// suggests a graph traversal, and natural-language phrasing suggests a
// semantic search. Lookup is the default when nothing else matches.
func ClassifyIntent(query string) Intent {
	trimmed := strings.TrimSpace(query)
	switch {
	case callGraphWords.MatchString(trimmed):
		return IntentCallGraph
	case pathSeparator.MatchString(trimmed) && strings.Contains(trimmed, ".") && !strings.ContainsAny(trimmed, "*+?()[]{}|^$"):
		return IntentFilePath
	case strings.Contains(trimmed, `"`):
		return IntentLookup
	case semanticWords.MatchString(trimmed) || strings.Count(trimmed, " ") >= 4:
		return IntentSemantic
	case regexMetaChars.MatchString(trimmed):
		return IntentRegex
	default:
		return IntentLookup
	}
}

// Source identifies which fanout leg produced a Hit.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
	SourceGraph   Source = "graph"
)

// Hit is one scored, citable result before or after fusion.
type Hit struct {
	EntityID    string
	FilePath    string
	StartLine   int
	Snippet     string
	Signature   string
	Score       float64 // normalized to [0,1] within its own source
	Sources     []Source
	Justification string
}

// Result is the Hybrid Retriever's final answer to one query.
type Result struct {
	Intent  Intent
	Hits    []Hit
	Partial bool
}

// fusionWeights gives each source's contribution to the final score,
// conditioned on the query's classified intent.
var fusionWeights = map[Intent]map[Source]float64{
	IntentLookup:    {SourceLexical: 0.6, SourceVector: 0.2, SourceGraph: 0.2},
	IntentRegex:     {SourceLexical: 0.8, SourceVector: 0.1, SourceGraph: 0.1},
	IntentFilePath:  {SourceLexical: 0.7, SourceVector: 0.1, SourceGraph: 0.2},
	IntentSemantic:  {SourceLexical: 0.15, SourceVector: 0.75, SourceGraph: 0.1},
	IntentCallGraph: {SourceLexical: 0.1, SourceVector: 0.1, SourceGraph: 0.8},
}

// Retriever orchestrates the RECEIVED -> INTENT_CLASSIFIED -> fanout ->
// FUSED -> CITED -> RESPONDED pipeline for one project.
type Retriever struct {
	client  tools.Querier
	lexical *lexical.Supervisor // nil when no subprocess is configured
	cache   *optimize.LRUCache  // fused Result cache, keyed by query+limit
	perf    *optimize.PerfTracker // optional; nil disables cache-hit metrics
	heat    *optimize.HeatTracker  // tracks which entities surface in results often

	embeddingURL   string // empty disables the real vector leg (falls back to lexical-over-name)
	embeddingModel string
}

// heatHalfLife bounds how quickly an entity's access heat decays; an hour
// keeps "hot right now" distinct from "was hot yesterday".
const heatHalfLife = time.Hour

// New creates a Retriever over client's graph store, with an optional
// lexical subprocess supervisor (nil disables the lexical fanout leg).
func New(client tools.Querier, lex *lexical.Supervisor) *Retriever {
	return &Retriever{
		client:  client,
		lexical: lex,
		cache:   optimize.NewLRUCache(256, resultCacheTTL),
		heat:    optimize.NewHeatTracker(heatHalfLife),
	}
}

// HotEntities returns the n entities most frequently surfaced in recent
// query results, decayed to the current time. Used by operators and
// cache-warming jobs to see what the project is actually being asked about.
func (r *Retriever) HotEntities(n int) []optimize.HeatEntry {
	return r.heat.Top(n)
}

// SetPerfTracker attaches a metrics sink for cache hit/miss accounting.
// Safe to leave unset; nil perf simply skips recording.
func (r *Retriever) SetPerfTracker(perf *optimize.PerfTracker) {
	r.perf = perf
}

// SetEmbeddingConfig points the vector fanout leg at a real embedding
// server, mirroring tools.CortexClient's SetEmbeddingConfig. Leaving this
// unset keeps runVector on its name-regex fallback, same as
// tools.SemanticSearch falls back when no embedding server is configured.
func (r *Retriever) SetEmbeddingConfig(baseURL, model string) {
	r.embeddingURL = baseURL
	r.embeddingModel = model
}

// Query runs the full pipeline for one natural-language or literal query,
// fanning out the fanout legs appropriate to its classified intent
// concurrently and fusing their results into one ranked, cited Result.
//
// If ctx is cancelled while fanout legs are in flight, Query returns
// whatever hits had already landed with Partial set, rather than blocking
// until every leg finishes or erroring outright.
func (r *Retriever) Query(ctx context.Context, query string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = 20
	}

	cacheKey := fmt.Sprintf("%s\x00%d", query, limit)
	if cached, ok := r.cache.Get(cacheKey); ok {
		r.recordCacheResult(true)
		result := cached.(Result)
		return &result, nil
	}
	r.recordCacheResult(false)

	intent := ClassifyIntent(query)
	weights := fusionWeights[intent]

	type legResult struct {
		source Source
		hits   []Hit
	}

	legs := r.legsFor(intent)
	resultsCh := make(chan legResult, len(legs))
	var wg sync.WaitGroup
	for _, leg := range legs {
		wg.Add(1)
		go func(source Source, run func(context.Context, string, int) []Hit) {
			defer wg.Done()
			hits := run(ctx, query, limit*2)
			select {
			case resultsCh <- legResult{source: source, hits: hits}:
			case <-ctx.Done():
			}
		}(leg.source, leg.run)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	bySource := make(map[Source][]Hit)
	partial := false
collect:
	for {
		select {
		case lr, ok := <-resultsCh:
			if !ok {
				break collect
			}
			bySource[lr.source] = lr.hits
		case <-ctx.Done():
			partial = true
			break collect
		}
	}

	fused := fuse(bySource, weights, limit)
	r.attachJustifications(ctx, fused)
	for _, h := range fused {
		if h.EntityID != "" {
			r.heat.Access(h.EntityID)
		}
	}
	result := &Result{Intent: intent, Hits: fused, Partial: partial}

	if !partial {
		r.cache.Set(cacheKey, *result)
	}
	return result, nil
}

// recordCacheResult reports a cache hit/miss to perf, if one is attached.
func (r *Retriever) recordCacheResult(hit bool) {
	if r.perf != nil {
		r.perf.RecordCacheResult("retrieval", hit)
	}
}

// attachJustifications fills in Hit.Justification from ent_justification
// rows where one exists. A missing justification is not an error: C1 may
// simply never have recorded one for that entity.
func (r *Retriever) attachJustifications(ctx context.Context, hits []Hit) {
	for i := range hits {
		if hits[i].EntityID == "" {
			continue
		}
		result, err := r.client.Query(ctx, fmt.Sprintf(
			`?[evidence] := *ent_justification { subject_id: %q, evidence } :limit 1`,
			hits[i].EntityID,
		))
		if err != nil || result == nil || len(result.Rows) == 0 {
			continue
		}
		hits[i].Justification = tools.AnyToString(result.Rows[0][0])
	}
}

type fanoutLeg struct {
	source Source
	run    func(ctx context.Context, query string, limit int) []Hit
}

func (r *Retriever) legsFor(intent Intent) []fanoutLeg {
	legs := []fanoutLeg{
		{SourceLexical, r.runLexical},
		{SourceVector, r.runVector},
	}
	if intent == IntentCallGraph {
		legs = append(legs, fanoutLeg{SourceGraph, r.runGraph})
	}
	return legs
}

// fuse weights each hit's Score (already normalized to [0,1] by its leg)
// by the intent-conditioned weight of its source, merges hits that share
// (file_path, entity_id) by summing their weighted contributions, and
// returns the top-limit hits sorted descending. Justifications are attached
// afterwards by Query.
func fuse(bySource map[Source][]Hit, weights map[Source]float64, limit int) []Hit {
	combined := make(map[string]*Hit)

	for source, hits := range bySource {
		weight := weights[source]
		if weight == 0 {
			continue
		}
		for _, h := range hits {
			key := h.FilePath + "|" + h.EntityID
			contribution := h.Score * weight
			if existing, ok := combined[key]; ok {
				existing.Score += contribution
				existing.Sources = appendUnique(existing.Sources, source)
			} else {
				hc := h
				hc.Score = contribution
				hc.Sources = []Source{source}
				combined[key] = &hc
			}
		}
	}

	out := make([]Hit, 0, len(combined))
	for _, h := range combined {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func appendUnique(sources []Source, s Source) []Source {
	for _, existing := range sources {
		if existing == s {
			return sources
		}
	}
	return append(sources, s)
}

// runLexical proxies to the C7 subprocess when configured; an absent or
// down subprocess simply contributes zero hits rather than failing the
// whole query, consistent with lexical.Supervisor.Search never erroring.
func (r *Retriever) runLexical(ctx context.Context, query string, limit int) []Hit {
	if r.lexical == nil {
		return nil
	}
	resp := r.lexical.Search(ctx, query, limit)
	if resp.Error != "" {
		return nil
	}
	hits := make([]Hit, 0, len(resp.Results))
	maxScore := 0.0
	for _, res := range resp.Results {
		if res.Score > maxScore {
			maxScore = res.Score
		}
	}
	for _, res := range resp.Results {
		score := 1.0
		if maxScore > 0 {
			score = res.Score / maxScore
		}
		hits = append(hits, Hit{
			EntityID:  fmt.Sprintf("%s:%d", res.FilePath, res.Line),
			FilePath:  res.FilePath,
			StartLine: res.Line,
			Snippet:   res.Snippet,
			Score:     score,
		})
	}
	return hits
}

// runVector runs an HNSW nearest-neighbor search over function and type
// embeddings, embedding the query text through the same embedding server
// used at ingestion time. With no embedding server configured it falls
// back to a literal name match, same fallback tools.SemanticSearch takes
// when embedding generation is unavailable -- never silently substituting
// one for the other when a real embedding server IS configured.
func (r *Retriever) runVector(ctx context.Context, query string, limit int) []Hit {
	if r.embeddingURL == "" {
		return r.runVectorFallback(ctx, query, limit)
	}

	vec, err := tools.GenerateEmbedding(ctx, r.embeddingURL, r.embeddingModel, query)
	if err != nil {
		return r.runVectorFallback(ctx, query, limit)
	}

	hits := append(
		r.runHNSW(ctx, "ent_function_embedding", "function_id", `
			*ent_function { id: function_id, name, file_path, signature, start_line }`,
			vec, limit),
		r.runHNSW(ctx, "ent_type_embedding", "type_id", `
			*ent_type { id: type_id, name, file_path, kind: signature, start_line }`,
			vec, limit)...,
	)
	if len(hits) == 0 {
		return r.runVectorFallback(ctx, query, limit)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// runHNSW issues one HNSW nearest-neighbor query against table's embedding
// index, joining back to the entity relation named in entityJoin to
// recover name/file_path/signature/start_line for each hit.
func (r *Retriever) runHNSW(ctx context.Context, table, idCol, entityJoin string, vec []float64, limit int) []Hit {
	vecParts := make([]string, len(vec))
	for i, v := range vec {
		vecParts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	script := fmt.Sprintf(
		`?[name, file_path, signature, start_line, distance] :=
			~%s:embedding_idx{ %s | query: vec([%s]), k: %d, ef: 50, bind_distance: distance },%s
		:limit %d`,
		table, idCol, strings.Join(vecParts, ","), limit*2, entityJoin, limit,
	)
	result, err := r.client.Query(ctx, script)
	if err != nil || result == nil {
		return nil
	}
	hits := make([]Hit, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < 5 {
			continue
		}
		dist, _ := row[4].(float64)
		similarity := 1.0 - dist/2.0 // CozoDB cosine distance ranges [0,2]
		hits = append(hits, Hit{
			EntityID:  tools.AnyToString(row[0]),
			FilePath:  tools.AnyToString(row[1]),
			Signature: tools.AnyToString(row[2]),
			StartLine: atoiSafe(tools.AnyToString(row[3])),
			Score:     similarity,
		})
	}
	return hits
}

// runVectorFallback degrades the semantic leg to a literal name match, the
// same degradation tools.SemanticSearch performs when no embedding server
// is reachable. It is a fallback, not the vector leg's normal behavior.
func (r *Retriever) runVectorFallback(ctx context.Context, query string, limit int) []Hit {
	result, err := r.client.Query(ctx, fmt.Sprintf(
		`?[id, name, signature, file_path, start_line] :=
			*ent_function { id, name, signature, file_path, start_line },
			regex_matches(name, %q)
		:limit %d`,
		regexp.QuoteMeta(query), limit,
	))
	if err != nil || result == nil {
		return nil
	}
	return rowsToNameHits(result.Rows)
}

// runGraph resolves a query naming a function into its direct callers and
// callees, the C1 graph-traversal leg for call-graph-classified intents.
// Mirrors the direct-neighbor half of trace.go's getCallees: one hop,
// no multi-step path search (that's TracePath's job, not the retriever's).
func (r *Retriever) runGraph(ctx context.Context, query string, limit int) []Hit {
	name := extractIdentifier(query)
	if name == "" {
		return nil
	}
	script := fmt.Sprintf(
		`?[name, file_path, start_line] :=
			*ent_calls { caller_id, callee_id },
			*ent_function { id: caller_id, name: %q },
			*ent_function { id: callee_id, name, file_path, start_line }
		?[name, file_path, start_line] :=
			*ent_calls { caller_id, callee_id },
			*ent_function { id: callee_id, name: %q },
			*ent_function { id: caller_id, name, file_path, start_line }
		:limit %d`,
		name, name, limit,
	)
	result, err := r.client.Query(ctx, script)
	if err != nil || result == nil {
		return nil
	}
	return rowsToNameHits(result.Rows)
}

func rowsToNameHits(rows [][]any) []Hit {
	hits := make([]Hit, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			continue
		}
		score := 1.0 - float64(i)*0.02
		if score < 0.1 {
			score = 0.1
		}
		hits = append(hits, Hit{
			EntityID:  tools.AnyToString(row[0]),
			FilePath:  tools.AnyToString(row[len(row)-2]),
			StartLine: atoiSafe(tools.AnyToString(row[len(row)-1])),
			Signature: tools.AnyToString(row[0]),
			Score:     score,
		})
	}
	return hits
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

func extractIdentifier(query string) string {
	return identifierPattern.FindString(query)
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
