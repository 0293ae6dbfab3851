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

package optimize

import (
	"container/heap"
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Task is one unit of work submitted to a WorkerPool.
type Task struct {
	Priority int // higher runs first
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].Priority > h[j].Priority }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)         { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// WorkerPool runs submitted Tasks across a bounded, auto-scaled set of
// goroutines, highest Priority first, generalizing the ad hoc worker-count
// capping seen in the ingestion pipeline's parallel resolve/parse helpers.
type WorkerPool struct {
	logger *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    taskHeap
	closed   bool
	workers  int
	maxWork  int
	active   int
	wg       sync.WaitGroup
}

// NewWorkerPool creates a pool of up to maxWorkers goroutines
// (runtime.NumCPU() when maxWorkers <= 0). Workers are started lazily by
// Submit and stay alive, waiting for work, until Stop is called.
func NewWorkerPool(maxWorkers int, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	p := &WorkerPool{
		logger:  logger,
		maxWork: maxWorkers,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Submit enqueues a task, spawning a new worker goroutine whenever the pool
// is below its max.
func (p *WorkerPool) Submit(task *Task) {
	p.mu.Lock()
	heap.Push(&p.queue, task)
	spawn := p.workers < p.maxWork
	if spawn {
		p.workers++
	}
	p.mu.Unlock()
	p.cond.Signal()

	if spawn {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.workers--
			p.mu.Unlock()
			return
		}
		task := heap.Pop(&p.queue).(*Task)
		p.active++
		p.mu.Unlock()

		p.runTask(task)

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}

func (p *WorkerPool) runTask(task *Task) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}
	if err := task.Run(ctx); err != nil {
		p.logger.Warn("worker.task.error", "error", err)
	}
}

// Stop drains the queue and waits for in-flight tasks, then returns once
// every worker goroutine has exited.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

// PendingAndActive reports queue depth and currently-running task count,
// for health/status reporting.
func (p *WorkerPool) PendingAndActive() (pending, active int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue), p.active
}
