// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build cgo

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/cortex/pkg/storage"
)

func newTestBackend(t *testing.T) storage.Backend {
	t.Helper()
	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{
		DataDir: t.TempDir(),
		Engine:  "mem",
	})
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestLedger_AppendAssignsIncreasingSeq(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)

	first, err := l.Append(ctx, KindFileIndexed, "", "main.go", "indexed 3 functions")
	require.NoError(t, err)
	second, err := l.Append(ctx, KindEntityAdded, "fn:main.go:main", "main.go", "")
	require.NoError(t, err)

	assert.Equal(t, int64(0), first.Seq)
	assert.Equal(t, int64(1), second.Seq)
}

func TestLedger_RecoversSeqAcrossRestart(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	first, err := New(ctx, backend, nil)
	require.NoError(t, err)
	_, err = first.Append(ctx, KindFileIndexed, "", "a.go", "")
	require.NoError(t, err)
	_, err = first.Append(ctx, KindFileIndexed, "", "b.go", "")
	require.NoError(t, err)

	second, err := New(ctx, backend, nil)
	require.NoError(t, err)
	entry, err := second.Append(ctx, KindFileIndexed, "", "c.go", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Seq)
}

func TestLedger_SinceFiltersByKindAndFilePath(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)

	_, err = l.Append(ctx, KindFileIndexed, "", "a.go", "")
	require.NoError(t, err)
	_, err = l.Append(ctx, KindEntityAdded, "fn:a.go:f", "a.go", "")
	require.NoError(t, err)
	_, err = l.Append(ctx, KindEntityAdded, "fn:b.go:g", "b.go", "")
	require.NoError(t, err)

	entries, err := l.Since(ctx, -1, Filter{Kinds: []Kind{KindEntityAdded}, FilePath: "a.go"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fn:a.go:f", entries[0].EntityID)
}

func TestLedger_SubscribeReceivesFutureEntries(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)

	ch, unsubscribe := l.Subscribe(Filter{Kinds: []Kind{KindReindexDone}})
	defer unsubscribe()

	_, err = l.Append(ctx, KindFileIndexed, "", "a.go", "")
	require.NoError(t, err)
	_, err = l.Append(ctx, KindReindexDone, "", "", "reindex finished")
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, KindReindexDone, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected an entry on the subscription channel")
	}
}

func TestLedger_CompactRemovesEntriesAtOrBeforeBoundary(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)

	_, err = l.Append(ctx, KindFileIndexed, "", "a.go", "")
	require.NoError(t, err)
	boundary, err := l.Append(ctx, KindSessionBoundary, "", "", "")
	require.NoError(t, err)
	_, err = l.Append(ctx, KindFileIndexed, "", "b.go", "")
	require.NoError(t, err)

	removed, err := l.Compact(ctx, boundary.Seq)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := l.Since(ctx, -1, Filter{})
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, KindSessionBoundary, remaining[0].Kind)
	assert.Equal(t, "b.go", remaining[1].FilePath)
}

func TestLedger_AppendEventPersistsFullFieldSet(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)

	entry, err := l.AppendEvent(ctx, Entry{
		Kind:                  KindEntityChanged,
		Source:                "reindex",
		ImpactedFiles:         []string{"a.go", "b.go"},
		ImpactedEntities:      []string{"fn:a.go:f"},
		ClassificationChanges: []ClassificationChange{{EntityID: "ty:a.go:T", Before: "struct", After: "singleton"}},
		GraphDiffSummary:      &GraphDiffSummary{NodesAdded: 2, EdgesAdded: 1},
		ConfidenceAdjustments: []ConfidenceAdjustment{{EntityID: "fn:a.go:f", Before: 0.5, After: 0.9, Reason: "pattern match"}},
		UserInteraction:       &UserInteraction{Actor: "cli", Action: "reindex"},
		MCPContext:            &MCPContext{Tool: "cortex_reindex", RequestID: "req-1"},
		Metadata:              map[string]string{"repo": "cortex"},
		Summary:               "reclassified T as singleton",
		CorrelationID:         "corr-1",
		SessionID:             "sess-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "fn:a.go:f", entry.EntityID)
	assert.Equal(t, "a.go", entry.FilePath)

	fetched, err := l.Query(ctx, QueryOptions{Filter: Filter{CorrelationID: "corr-1"}})
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	got := fetched[0]
	assert.Equal(t, "reindex", got.Source)
	assert.Equal(t, []string{"a.go", "b.go"}, got.ImpactedFiles)
	require.Len(t, got.ClassificationChanges, 1)
	assert.Equal(t, "singleton", got.ClassificationChanges[0].After)
	require.NotNil(t, got.GraphDiffSummary)
	assert.Equal(t, 2, got.GraphDiffSummary.NodesAdded)
	require.NotNil(t, got.UserInteraction)
	assert.Equal(t, "cli", got.UserInteraction.Actor)
	require.NotNil(t, got.MCPContext)
	assert.Equal(t, "cortex_reindex", got.MCPContext.Tool)
	assert.Equal(t, "sess-1", got.SessionID)
}

func TestLedger_AppendBatchIsAtomicAndOrdered(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)

	written, err := l.AppendBatch(ctx, []Entry{
		{Kind: KindFileIndexed, ImpactedFiles: []string{"a.go"}},
		{Kind: KindFileIndexed, ImpactedFiles: []string{"b.go"}},
		{Kind: KindFileIndexed, ImpactedFiles: []string{"c.go"}},
	})
	require.NoError(t, err)
	require.Len(t, written, 3)
	assert.Equal(t, int64(0), written[0].Seq)
	assert.Equal(t, int64(2), written[2].Seq)

	all, err := l.Since(ctx, -1, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestLedger_QueryFiltersByTextAndPagination(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)

	_, err = l.Append(ctx, KindFileIndexed, "", "a.go", "indexed main package")
	require.NoError(t, err)
	_, err = l.Append(ctx, KindFileIndexed, "", "b.go", "indexed util package")
	require.NoError(t, err)
	_, err = l.Append(ctx, KindReindexDone, "", "", "reindex finished")
	require.NoError(t, err)

	matches, err := l.Query(ctx, QueryOptions{Text: "package"})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	page, err := l.Query(ctx, QueryOptions{Limit: 1, Offset: 1, Descending: true})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), page[0].Seq)
}

func TestLedger_CompactSessionsGroupsByGapAndHashesContent(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)

	_, err = l.AppendEvent(ctx, Entry{Kind: KindFileIndexed, ImpactedFiles: []string{"a.go"}})
	require.NoError(t, err)
	_, err = l.AppendEvent(ctx, Entry{Kind: KindFileIndexed, ImpactedFiles: []string{"b.go"}})
	require.NoError(t, err)

	sessions, err := l.CompactSessions(ctx, time.Hour, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].EntryCount)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, sessions[0].ImpactedFiles)
	assert.NotEmpty(t, sessions[0].ContentHash)

	remaining, err := l.Since(ctx, -1, Filter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 0)
}

func TestLedger_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)
	_, err = src.Append(ctx, KindFileIndexed, "", "a.go", "indexed a.go")
	require.NoError(t, err)
	_, err = src.Append(ctx, KindFileIndexed, "", "b.go", "indexed b.go")
	require.NoError(t, err)

	dump, err := src.ExportNDJSON(ctx, Filter{})
	require.NoError(t, err)

	dst, err := New(ctx, newTestBackend(t), nil)
	require.NoError(t, err)
	n, err := dst.ImportNDJSON(ctx, dump)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := dst.Since(ctx, -1, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.go", entries[0].FilePath)

	_, err = dst.ImportNDJSON(ctx, dump)
	assert.Error(t, err)
}
