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

// Package optimize holds the substrate that keeps large-repository queries
// cheap: probabilistic existence filters, a bounded hot-entity cache, a
// priority worker pool, and a batching writer, plus the counters that
// report on all of them.
package optimize

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"
)

// BloomFilter is a fixed-size probabilistic set using double hashing
// (Kirsch-Mitzenmacher) to derive k hash positions from two FNV hashes
// instead of k independent hash functions.
type BloomFilter struct {
	mu   sync.RWMutex
	bits []uint64
	m    uint64 // number of bits
	k    uint64 // number of hash functions
	n    uint64 // items added
}

// NewBloomFilter sizes a filter for expectedItems entries at the given
// false-positive rate, using the standard m = -n*ln(p)/(ln2)^2 and
// k = (m/n)*ln2 formulas.
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	n := float64(expectedItems)
	m := math.Ceil(-n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	k := math.Max(1, math.Round((m/n)*math.Ln2))

	mBits := uint64(m)
	if mBits == 0 {
		mBits = 64
	}
	words := (mBits + 63) / 64

	return &BloomFilter{
		bits: make([]uint64, words),
		m:    mBits,
		k:    uint64(k),
	}
}

func (b *BloomFilter) hashes(item string) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write([]byte(item))
	sum1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write([]byte(item))
	sum2 := h2.Sum64()

	return sum1, sum2
}

// Add inserts item into the filter.
func (b *BloomFilter) Add(item string) {
	sum1, sum2 := b.hashes(item)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := uint64(0); i < b.k; i++ {
		pos := (sum1 + i*sum2) % b.m
		b.bits[pos/64] |= 1 << (pos % 64)
	}
	b.n++
}

// MightContain reports whether item may be in the set. False means it is
// definitely absent; true means it is present or a false positive.
func (b *BloomFilter) MightContain(item string) bool {
	sum1, sum2 := b.hashes(item)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := uint64(0); i < b.k; i++ {
		pos := (sum1 + i*sum2) % b.m
		if b.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of items added (not the estimated cardinality).
func (b *BloomFilter) Count() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

// Serialize encodes the filter as a 12-byte header (m, k as uint32, n as
// uint32) followed by the bit array, little-endian throughout.
func (b *BloomFilter) Serialize() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, 12+len(b.bits)*8)
	binary.LittleEndian.PutUint32(out[0:4], uint32(b.m))
	binary.LittleEndian.PutUint32(out[4:8], uint32(b.k))
	binary.LittleEndian.PutUint32(out[8:12], uint32(b.n))
	for i, word := range b.bits {
		binary.LittleEndian.PutUint64(out[12+i*8:20+i*8], word)
	}
	return out
}

// DeserializeBloomFilter reconstructs a filter from Serialize's output.
func DeserializeBloomFilter(data []byte) (*BloomFilter, error) {
	if len(data) < 12 {
		return nil, errShortBloomData
	}
	m := uint64(binary.LittleEndian.Uint32(data[0:4]))
	k := uint64(binary.LittleEndian.Uint32(data[4:8]))
	n := uint64(binary.LittleEndian.Uint32(data[8:12]))

	words := (len(data) - 12) / 8
	bits := make([]uint64, words)
	for i := 0; i < words; i++ {
		bits[i] = binary.LittleEndian.Uint64(data[12+i*8 : 20+i*8])
	}
	return &BloomFilter{bits: bits, m: m, k: k, n: n}, nil
}

var errShortBloomData = bloomError("serialized bloom filter shorter than 12-byte header")

type bloomError string

func (e bloomError) Error() string { return string(e) }

// EntityFilter composes one global bloom filter with a per-kind filter
// ("function", "type", "variable", ...) so a lookup can skip both the
// whole-graph miss case and a wrong-kind miss case without touching CozoDB.
type EntityFilter struct {
	mu     sync.RWMutex
	global *BloomFilter
	byKind map[string]*BloomFilter
	expect int
}

// NewEntityFilter creates an EntityFilter sized for expectedItems total
// entities; per-kind filters are created lazily and sized for a quarter of
// that, since no single kind is expected to dominate.
func NewEntityFilter(expectedItems int) *EntityFilter {
	return &EntityFilter{
		global: NewBloomFilter(expectedItems, 0.01),
		byKind: make(map[string]*BloomFilter),
		expect: expectedItems,
	}
}

// Add records id under kind in both the global and per-kind filters.
func (f *EntityFilter) Add(kind, id string) {
	f.global.Add(id)
	f.mu.Lock()
	kf, ok := f.byKind[kind]
	if !ok {
		kf = NewBloomFilter(f.expect/4+1, 0.01)
		f.byKind[kind] = kf
	}
	f.mu.Unlock()
	kf.Add(id)
}

// MightContain reports whether id may exist, optionally narrowed to kind.
// An empty kind checks only the global filter.
func (f *EntityFilter) MightContain(kind, id string) bool {
	if !f.global.MightContain(id) {
		return false
	}
	if kind == "" {
		return true
	}
	f.mu.RLock()
	kf, ok := f.byKind[kind]
	f.mu.RUnlock()
	if !ok {
		return false
	}
	return kf.MightContain(id)
}
