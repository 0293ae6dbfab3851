// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloomFilter_NeverFalseNegative(t *testing.T) {
	bf := NewBloomFilter(100, 0.01)
	items := []string{"fn:a.go:main", "fn:b.go:helper", "type:c.go:Config"}
	for _, item := range items {
		bf.Add(item)
	}
	for _, item := range items {
		assert.True(t, bf.MightContain(item))
	}
	assert.Equal(t, uint64(len(items)), bf.Count())
}

func TestBloomFilter_RoundTripsThroughSerialize(t *testing.T) {
	bf := NewBloomFilter(50, 0.01)
	bf.Add("one")
	bf.Add("two")

	restored, err := DeserializeBloomFilter(bf.Serialize())
	require.NoError(t, err)
	assert.True(t, restored.MightContain("one"))
	assert.True(t, restored.MightContain("two"))
	assert.Equal(t, bf.Count(), restored.Count())
}

func TestDeserializeBloomFilter_RejectsShortData(t *testing.T) {
	_, err := DeserializeBloomFilter([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEntityFilter_NarrowsByKind(t *testing.T) {
	f := NewEntityFilter(100)
	f.Add("function", "fn1")
	f.Add("type", "type1")

	assert.True(t, f.MightContain("function", "fn1"))
	assert.False(t, f.MightContain("type", "fn1"))
	assert.True(t, f.MightContain("", "fn1"))
	assert.False(t, f.MightContain("", "unknown-id"))
}
