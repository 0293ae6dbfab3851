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

package tools

import (
	"context"
	"strings"
	"testing"
)

// MockCortexClient is a Querier test double. A nil QueryFunc returns an
// empty result, so zero-value &MockCortexClient{} is valid wherever a test
// doesn't care what the query returns.
type MockCortexClient struct {
	QueryFunc   func(ctx context.Context, script string) (*QueryResult, error)
	ExecuteFunc func(ctx context.Context, script string) error
}

func (m *MockCortexClient) Query(ctx context.Context, script string) (*QueryResult, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, script)
	}
	return &QueryResult{Headers: []string{}, Rows: [][]any{}}, nil
}

func (m *MockCortexClient) Execute(ctx context.Context, script string) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, script)
	}
	return nil
}

// NewMockClientWithResults builds a MockCortexClient that always returns
// the given headers/rows regardless of the script it's asked.
func NewMockClientWithResults(headers []string, rows [][]any) *MockCortexClient {
	return &MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*QueryResult, error) {
			return &QueryResult{Headers: headers, Rows: rows}, nil
		},
	}
}

// NewMockClientEmpty builds a MockCortexClient whose every query returns
// zero rows.
func NewMockClientEmpty() *MockCortexClient {
	return &MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*QueryResult, error) {
			return &QueryResult{Headers: []string{}, Rows: [][]any{}}, nil
		},
	}
}

// NewMockClientWithError builds a MockCortexClient whose every query fails
// with err.
func NewMockClientWithError(err error) *MockCortexClient {
	return &MockCortexClient{
		QueryFunc: func(ctx context.Context, script string) (*QueryResult, error) {
			return nil, err
		},
	}
}

// NewMockQueryResult builds a QueryResult directly, for tests that need to
// hand a fixed result to a NewMockClientCustom query function.
func NewMockQueryResult(headers []string, rows [][]any) *QueryResult {
	return &QueryResult{Headers: headers, Rows: rows}
}

// NewMockClientCustom builds a MockCortexClient from explicit query/execute
// callbacks, for tests that branch behavior on the generated script.
func NewMockClientCustom(queryFn func(ctx context.Context, script string) (*QueryResult, error), executeFn func(ctx context.Context, script string) error) *MockCortexClient {
	return &MockCortexClient{QueryFunc: queryFn, ExecuteFunc: executeFn}
}

// setupTest returns a background context for unit tests that don't need
// cancellation or deadlines.
func setupTest(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Errorf("expected %q to contain %q", haystack, needle)
	}
}
