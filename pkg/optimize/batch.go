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
	"context"
	"log/slog"
	"sync"
	"time"
)

// FlushFunc writes a batch of accumulated items. Returning an error triggers
// BatchedWriter's retry with exponential backoff.
type FlushFunc func(ctx context.Context, items []any) error

// BatchedWriter accumulates items and flushes them either once maxSize is
// reached or maxInterval has elapsed since the oldest pending item, whichever
// comes first, so a write-heavy indexing pass issues fewer, larger CozoDB
// transactions instead of one per entity.
type BatchedWriter struct {
	logger      *slog.Logger
	flush       FlushFunc
	maxSize     int
	maxInterval time.Duration
	maxRetries  int

	mu      sync.Mutex
	pending []any
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewBatchedWriter creates a writer that calls flush once pending items
// reach maxSize or maxInterval elapses since the first pending item.
func NewBatchedWriter(maxSize int, maxInterval time.Duration, flush FlushFunc, logger *slog.Logger) *BatchedWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize < 1 {
		maxSize = 1
	}
	if maxInterval <= 0 {
		maxInterval = time.Second
	}
	return &BatchedWriter{
		logger:      logger,
		flush:       flush,
		maxSize:     maxSize,
		maxInterval: maxInterval,
		maxRetries:  3,
		pending:     make([]any, 0, maxSize),
	}
}

// Add appends item to the pending batch, triggering an immediate flush if
// the batch is now full, and arming the interval timer if this is the first
// item since the last flush.
func (w *BatchedWriter) Add(item any) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, item)
	full := len(w.pending) >= w.maxSize
	first := len(w.pending) == 1
	if first && !full {
		w.armTimerLocked()
	}
	w.mu.Unlock()

	if full {
		w.flushNow()
	}
}

func (w *BatchedWriter) armTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.maxInterval, w.flushNow)
}

// flushNow drains the pending batch and writes it with exponential backoff
// on failure (1s, 2s, 4s, ... for up to maxRetries retries). A batch that
// still fails after all retries is logged and dropped; callers that need
// durability should combine BatchedWriter with the ledger, which records
// the write attempt independently of whether the batch succeeds.
func (w *BatchedWriter) flushNow() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make([]any, 0, w.maxSize)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.writeWithRetry(batch)
	}()
}

func (w *BatchedWriter) writeWithRetry(batch []any) {
	backoff := time.Second
	var err error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = w.flush(ctx, batch)
		cancel()
		if err == nil {
			return
		}
		if attempt < w.maxRetries {
			w.logger.Warn("batch.flush.retry", "attempt", attempt+1, "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	w.logger.Error("batch.flush.failed", "items", len(batch), "error", err)
}

// Flush forces an immediate flush of any pending items and waits for it
// (and any still-in-flight flush) to complete.
func (w *BatchedWriter) Flush() {
	w.flushNow()
	w.wg.Wait()
}

// Close flushes remaining items and prevents further use of the writer.
func (w *BatchedWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.Flush()
}

// Pending reports how many items are currently buffered, for status reporting.
func (w *BatchedWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
