// Package coverage implements the AFL-style edge bitmap used to decide
// whether a mutant exercised behavior the corpus has not seen before.
//
// Grounded on bradleyjkemp-simple-fuzz's coverage/coverage.go (CoverSize,
// the module-level CoverTab pattern) and go-fuzz/cover.go (roundUpCover
// bucketing, compareCoverDump/updateMaxCover word-ish scanning), adapted
// from a global singleton into a plain value a Fuzz Driver owns and hands
// to its Executor by reference, per the design note in spec.md §9.
package coverage

import (
	"github.com/cespare/xxhash/v2"
)

// MapSize is the fixed edge-bitmap size: 64 KiB, cache-friendly and
// AFL-compatible.
const MapSize = 65536

// Map is a single driver's coverage bitmap plus its virgin map. It is not
// safe for concurrent use; each Fuzz Driver owns exactly one.
type Map struct {
	trace        [MapSize]byte
	virgin       [MapSize]byte
	prevLocation uint16

	bucketScratch [MapSize]byte
	totalEdges    int
}

// New returns a Map with every virgin bit set, as required by spec.md §3
// ("Initial value 0xFF everywhere").
func New() *Map {
	m := &Map{}
	for i := range m.virgin {
		m.virgin[i] = 0xFF
	}
	return m
}

// Reset zeroes the trace array and the edge-direction cursor, ready for a
// fresh execution.
func (m *Map) Reset() {
	for i := range m.trace {
		m.trace[i] = 0
	}
	m.prevLocation = 0
}

// Record registers a control-flow transition into block. edge_id is
// formed as prev_block XOR cur_block; prevLocation is updated to
// cur_block >> 1 so that A->B and B->A hash to different edges (spec.md
// §4.1: "The right shift is essential").
func (m *Map) Record(block uint16) {
	edge := block ^ m.prevLocation
	idx := int(edge) % MapSize
	if m.trace[idx] != 255 {
		m.trace[idx]++
	}
	m.prevLocation = block >> 1
}

// countClass maps a raw hit count to a one-bit flag identifying its
// bucket (0 for no hits, then 1,2,4,...,128 for the eight non-empty
// buckets), per spec.md §3's nine classes {0,1,2,3,4-7,8-15,16-31,32-127,128-255}.
// Grounded on original_source's CoverageMap._count_class table.
func countClass(v byte) byte {
	switch {
	case v == 0:
		return 0
	case v == 1:
		return 1
	case v == 2:
		return 2
	case v == 3:
		return 4
	case v <= 7:
		return 8
	case v <= 15:
		return 16
	case v <= 31:
		return 32
	case v <= 127:
		return 64
	default:
		return 128
	}
}

func (m *Map) bucketize() *[MapSize]byte {
	for i, v := range m.trace {
		m.bucketScratch[i] = countClass(v)
	}
	return &m.bucketScratch
}

// HasNewCoverage reports whether any bucketed trace byte raises a bit
// that is still set in the virgin map. Comparison is done word-wise over
// 8-byte chunks, per the design note in spec.md §9 ("replace with
// word-wise comparison ... the single most important micro-optimization").
func (m *Map) HasNewCoverage() bool {
	bucketed := m.bucketize()
	const words = MapSize / 8
	for w := 0; w < words; w++ {
		off := w * 8
		var t, v uint64
		for b := 0; b < 8; b++ {
			t |= uint64(bucketed[off+b]) << (8 * b)
			v |= uint64(m.virgin[off+b]) << (8 * b)
		}
		if t&v != 0 {
			return true
		}
	}
	return false
}

// Promote admits the current run's coverage into the virgin map,
// clearing every virgin bit the bucketed trace raised, and returns the
// number of newly cleared bits (new_edges). Per spec.md §3 the virgin
// map can only lose bits over time.
func (m *Map) Promote() int {
	bucketed := m.bucketize()
	cleared := 0
	for i, t := range bucketed {
		before := m.virgin[i]
		after := before &^ t
		if after != before {
			cleared += popcount(before &^ after)
			m.virgin[i] = after
		}
	}
	m.totalEdges += cleared
	return cleared
}

// TotalEdgesFound is the cumulative count of virgin bits cleared across
// every Promote call on this map.
func (m *Map) TotalEdgesFound() int {
	return m.totalEdges
}

// Digest returns a stable 64-bit hash of the bucketed trace, used as a
// corpus entry's coverage_hash. A non-cryptographic hash is intentional:
// this sits on the hot path of every single execution.
func (m *Map) Digest() uint64 {
	bucketed := m.bucketize()
	return xxhash.Sum64(bucketed[:])
}

// EdgeCount returns how many bitmap slots are currently non-zero, i.e.
// how many distinct edges this run touched.
func (m *Map) EdgeCount() int {
	n := 0
	for _, v := range m.trace {
		if v != 0 {
			n++
		}
	}
	return n
}

func popcount(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}
