// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package optimize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchedWriter_FlushesOnSize(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]any
	w := NewBatchedWriter(3, time.Hour, func(ctx context.Context, items []any) error {
		mu.Lock()
		defer mu.Unlock()
		flushed = append(flushed, items)
		return nil
	}, nil)

	w.Add(1)
	w.Add(2)
	w.Add(3) // triggers flush
	w.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, flushed, 1)
	assert.Len(t, flushed[0], 3)
}

func TestBatchedWriter_FlushesOnInterval(t *testing.T) {
	var mu sync.Mutex
	flushedCount := 0
	w := NewBatchedWriter(100, 10*time.Millisecond, func(ctx context.Context, items []any) error {
		mu.Lock()
		defer mu.Unlock()
		flushedCount += len(items)
		return nil
	}, nil)

	w.Add("x")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, flushedCount)
}

func TestBatchedWriter_RetriesOnFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	w := NewBatchedWriter(1, time.Hour, func(ctx context.Context, items []any) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			return errors.New("transient failure")
		}
		return nil
	}, nil)
	w.maxRetries = 3

	w.Add("x")
	w.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, attempts, 2)
}
