// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package optimize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeatTracker_AccessAccumulates(t *testing.T) {
	h := NewHeatTracker(time.Hour)
	h.Access("fn1")
	h.Access("fn1")
	assert.InDelta(t, 2.0, h.Score("fn1"), 1e-6)
}

func TestHeatTracker_TopSortsDescending(t *testing.T) {
	h := NewHeatTracker(time.Hour)
	h.Access("cold")
	h.Access("hot")
	h.Access("hot")
	h.Access("hot")

	top := h.Top(2)
	assert.Len(t, top, 2)
	assert.Equal(t, "hot", top[0].ID)
	assert.Equal(t, "cold", top[1].ID)
}

func TestHeatTracker_PruneRemovesBelowThreshold(t *testing.T) {
	h := NewHeatTracker(time.Hour)
	h.Access("keep")
	h.Access("keep")
	h.Access("drop")

	removed := h.Prune(1.5)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0.0, h.Score("drop"))
	assert.InDelta(t, 2.0, h.Score("keep"), 1e-6)
}

func TestHeatTracker_ScoreDecaysOverHalfLife(t *testing.T) {
	h := NewHeatTracker(10 * time.Millisecond)
	h.Access("fn1")
	time.Sleep(10 * time.Millisecond)
	assert.InDelta(t, 0.5, h.Score("fn1"), 0.2)
}
