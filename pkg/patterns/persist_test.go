// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build cgo

package patterns

import (
	"context"
	"testing"

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

func TestRegistry_PersistWritesPatternAndParticipantRows(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	r := NewRegistry(nil)

	found := []DetectedPattern{
		{
			PatternType: "singleton",
			Description: "Config.GetInstance guards construction with sync.Once",
			Confidence:  0.95,
			Participants: []Participant{
				{EntityID: "fn:config.go:GetInstance", Role: "accessor"},
			},
		},
	}

	require.NoError(t, r.Persist(ctx, backend, found))

	patternRows, err := backend.Query(ctx, "?[pattern_type, confidence] := *ent_design_pattern{pattern_type, confidence}")
	require.NoError(t, err)
	require.Len(t, patternRows.Rows, 1)
	assert.Equal(t, "singleton", patternRows.Rows[0][0])

	participantRows, err := backend.Query(ctx, "?[entity_id, role] := *ent_pattern_participant{entity_id, role}")
	require.NoError(t, err)
	require.Len(t, participantRows.Rows, 1)
	assert.Equal(t, "fn:config.go:GetInstance", participantRows.Rows[0][0])
	assert.Equal(t, "accessor", participantRows.Rows[0][1])
}

func TestRegistry_PersistIsIdempotentForStablePatterns(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	r := NewRegistry(nil)

	found := []DetectedPattern{
		{PatternType: "implements", Description: "x implements y", Confidence: 1.0,
			Participants: []Participant{{EntityID: "a"}, {EntityID: "b"}}},
	}
	require.NoError(t, r.Persist(ctx, backend, found))
	require.NoError(t, r.Persist(ctx, backend, found))

	rows, err := backend.Query(ctx, "?[id] := *ent_design_pattern{id}")
	require.NoError(t, err)
	assert.Len(t, rows.Rows, 1)
}
