// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package optimize

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsAllSubmittedTasks(t *testing.T) {
	p := NewWorkerPool(4, nil)
	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.Submit(&Task{Run: func(ctx context.Context) error {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
			return nil
		}})
	}
	wg.Wait()
	p.Stop()
	assert.Equal(t, int64(20), atomic.LoadInt64(&count))
}

func TestWorkerPool_RunsHigherPriorityFirst(t *testing.T) {
	p := NewWorkerPool(1, nil)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Block the single worker until every task is enqueued, so priority
	// ordering actually has a queue to sort rather than running inline.
	block := make(chan struct{})
	wg.Add(1)
	p.Submit(&Task{Run: func(ctx context.Context) error {
		defer wg.Done()
		<-block
		return nil
	}})

	for _, priority := range []int{1, 5, 3} {
		wg.Add(1)
		priority := priority
		p.Submit(&Task{Priority: priority, Run: func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			order = append(order, priority)
			mu.Unlock()
			return nil
		}})
	}
	close(block)
	wg.Wait()
	p.Stop()

	assert.Equal(t, []int{5, 3, 1}, order)
}

func TestWorkerPool_TaskTimeoutCancelsContext(t *testing.T) {
	p := NewWorkerPool(1, nil)
	var sawDeadlineExceeded bool
	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(&Task{
		Timeout: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			defer wg.Done()
			<-ctx.Done()
			sawDeadlineExceeded = ctx.Err() == context.DeadlineExceeded
			return nil
		},
	})
	wg.Wait()
	p.Stop()
	assert.True(t, sawDeadlineExceeded)
}
