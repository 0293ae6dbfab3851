// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package patterns

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/cortex/pkg/tools"
)

type stubDetector struct {
	patternType string
	results     []DetectedPattern
	err         error
}

func (s stubDetector) PatternType() string { return s.patternType }
func (s stubDetector) Detect(ctx context.Context, client tools.Querier) ([]DetectedPattern, error) {
	return s.results, s.err
}

func TestRegistry_ThresholdsByMinConfidence(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubDetector{patternType: "x", results: []DetectedPattern{
		{PatternType: "x", Confidence: 0.9, Participants: []Participant{{EntityID: "a"}}},
		{PatternType: "x", Confidence: 0.2, Participants: []Participant{{EntityID: "b"}}},
	}})

	found := r.Detect(context.Background(), &tools.MockCortexClient{}, Options{})
	assert.Len(t, found, 1)
	assert.Equal(t, 0.9, found[0].Confidence)
}

func TestRegistry_DedupesKeepingHighestConfidence(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubDetector{patternType: "x", results: []DetectedPattern{
		{PatternType: "x", Confidence: 0.6, Participants: []Participant{{EntityID: "a"}, {EntityID: "b"}}},
		{PatternType: "x", Confidence: 0.8, Participants: []Participant{{EntityID: "b"}, {EntityID: "a"}}},
	}})

	found := r.Detect(context.Background(), &tools.MockCortexClient{}, Options{MinConfidence: 0.1})
	assert.Len(t, found, 1)
	assert.Equal(t, 0.8, found[0].Confidence)
}

func TestRegistry_IsolatesDetectorFailure(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubDetector{patternType: "broken", err: errors.New("boom")})
	r.Register(stubDetector{patternType: "ok", results: []DetectedPattern{
		{PatternType: "ok", Confidence: 0.9, Participants: []Participant{{EntityID: "a"}}},
	}})

	found := r.Detect(context.Background(), &tools.MockCortexClient{}, Options{})
	assert.Len(t, found, 1)
	assert.Equal(t, "ok", found[0].PatternType)
}

func TestRegistry_FiltersByPatternTypes(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubDetector{patternType: "a", results: []DetectedPattern{
		{PatternType: "a", Confidence: 0.9, Participants: []Participant{{EntityID: "x"}}},
	}})
	r.Register(stubDetector{patternType: "b", results: []DetectedPattern{
		{PatternType: "b", Confidence: 0.9, Participants: []Participant{{EntityID: "y"}}},
	}})

	found := r.Detect(context.Background(), &tools.MockCortexClient{}, Options{PatternTypes: []string{"b"}})
	assert.Len(t, found, 1)
	assert.Equal(t, "b", found[0].PatternType)
}

func TestImplementsDetector_MapsRowsToParticipants(t *testing.T) {
	mock := &tools.MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*tools.QueryResult, error) {
			return tools.NewMockQueryResult(
				[]string{"type_name", "interface_name"},
				[][]any{{"CortexClient", "Querier"}},
			), nil
		},
	}
	found, err := ImplementsDetector{}.Detect(context.Background(), mock)
	assert.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, 1.0, found[0].Confidence)
	assert.Len(t, found[0].Participants, 2)
}

func TestSingletonDetector_RaisesConfidenceWithSyncOnce(t *testing.T) {
	calls := 0
	mock := &tools.MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*tools.QueryResult, error) {
			calls++
			if calls == 1 {
				return tools.NewMockQueryResult(
					[]string{"id", "name", "file_path"},
					[][]any{{"fn1", "Config.GetInstance", "config.go"}},
				), nil
			}
			return tools.NewMockQueryResult(
				[]string{"code_text"},
				[][]any{{"func GetInstance() *Config { once.Do(func() { sync.Once{} }); return instance }"}},
			), nil
		},
	}
	found, err := SingletonDetector{}.Detect(context.Background(), mock)
	assert.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, 0.95, found[0].Confidence)
}

func TestSingletonDetector_SkipsNonAccessorNames(t *testing.T) {
	mock := &tools.MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*tools.QueryResult, error) {
			return tools.NewMockQueryResult(
				[]string{"id", "name", "file_path"},
				[][]any{{"fn1", "ParseFile", "parser.go"}},
			), nil
		},
	}
	found, err := SingletonDetector{}.Detect(context.Background(), mock)
	assert.NoError(t, err)
	assert.Empty(t, found)
}
