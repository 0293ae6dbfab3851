// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package optimize

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPerfTracker_RecordQueryLabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	pt := NewPerfTracker(reg)

	pt.RecordQuery("search_text", 5*time.Millisecond, nil)
	pt.RecordQuery("search_text", 5*time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(pt.queries.WithLabelValues("search_text", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pt.queries.WithLabelValues("search_text", "error")))
}

func TestPerfTracker_RecordCacheResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	pt := NewPerfTracker(reg)

	pt.RecordCacheResult("entity_filter", true)
	pt.RecordCacheResult("entity_filter", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(pt.cacheHits.WithLabelValues("entity_filter", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pt.cacheHits.WithLabelValues("entity_filter", "miss")))
}

func TestPerfTracker_SetQueueSize(t *testing.T) {
	reg := prometheus.NewRegistry()
	pt := NewPerfTracker(reg)

	pt.SetQueueSize(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(pt.queueSize))
}
