// Package schedule implements the coverage-weighted queue scheduler
// (spec.md §4.4, component C4): weighted random selection over the
// corpus, favoring entries with more new edges, smaller size, and less
// exercise.
//
// Grounded on go-fuzz/hub.go's score bookkeeping (defScore,
// runningScoreSum) and go-fuzz/cover.go's size/coverage tradeoffs,
// reshaped into the explicit multiplicative weight formula spec.md
// §4.4 specifies.
package schedule

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"protocrash/corpus"
)

// ErrEmptyQueue is returned by Next when the scheduler has nothing to
// offer. Per spec.md §4.4 this is only ever expected at fuzz() start,
// before seeds are loaded; once seeded the corpus never shrinks.
var ErrEmptyQueue = errors.New("schedule: queue is empty")

// Scheduler selects corpus entries with probability proportional to
//
//	w(e) = base * coverage_factor(e) * size_factor(e) * freshness_factor(e) * favored_factor(e)
//
// Ties are broken by insertion order.
type Scheduler struct {
	store *corpus.Store
	base  float64
	ids   []string // insertion order, for tie-breaking
	seen  map[string]bool
}

// New returns a Scheduler backed by store. base is the weight constant;
// callers typically pass 1.0.
func New(store *corpus.Store, base float64) *Scheduler {
	if base <= 0 {
		base = 1.0
	}
	return &Scheduler{store: store, base: base, seen: make(map[string]bool)}
}

// Add registers an entry id with the scheduler. It is a no-op if the id
// was already added, matching corpus.Store's own idempotence.
func (s *Scheduler) Add(id string) {
	if s.seen[id] {
		return
	}
	s.seen[id] = true
	s.ids = append(s.ids, id)
}

// Size reports how many entries the scheduler is tracking.
func (s *Scheduler) Size() int {
	return len(s.ids)
}

func coverageFactor(e corpus.Entry) float64 { return 1 + float64(e.NewEdges) }

func sizeFactor(e corpus.Entry) float64 { return 1 / (1 + float64(len(e.Data))/1024) }

func freshnessFactor(e corpus.Entry) float64 { return 1 / (1 + float64(e.ExecCount)/10) }

func favoredFactor(e corpus.Entry) float64 {
	if e.Favored {
		return 2
	}
	return 1
}

func (s *Scheduler) weight(e corpus.Entry) float64 {
	return s.base * coverageFactor(e) * sizeFactor(e) * freshnessFactor(e) * favoredFactor(e)
}

// Weight exposes the scheduler's weight formula for a given entry, used
// by tests and diagnostics.
func (s *Scheduler) Weight(e corpus.Entry) float64 {
	return s.weight(e)
}

// Next selects an entry with probability proportional to its weight. It
// is O(|corpus|), acceptable per spec.md §4.4 since corpora stay in the
// 10^2-10^4 range.
func (s *Scheduler) Next() (corpus.Entry, error) {
	if len(s.ids) == 0 {
		return corpus.Entry{}, ErrEmptyQueue
	}

	entries := make([]corpus.Entry, 0, len(s.ids))
	weights := make([]float64, 0, len(s.ids))
	total := 0.0
	for _, id := range s.ids {
		e, ok := s.store.Entry(id)
		if !ok {
			continue
		}
		w := s.weight(e)
		entries = append(entries, e)
		weights = append(weights, w)
		total += w
	}
	if len(entries) == 0 {
		return corpus.Entry{}, ErrEmptyQueue
	}

	// Insertion order is already the iteration order above, so a linear
	// scan over a cumulative distribution breaks ties by insertion order
	// without an extra sort.
	target := rand.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if target <= cum {
			return entries[i], nil
		}
	}
	return entries[len(entries)-1], nil
}

// sortedByWeightDesc is a small test/diagnostic helper, not on the hot
// path: returns ids ordered by current weight, highest first.
func (s *Scheduler) sortedByWeightDesc() []string {
	type scored struct {
		id string
		w  float64
	}
	scoredIDs := make([]scored, 0, len(s.ids))
	for _, id := range s.ids {
		e, ok := s.store.Entry(id)
		if !ok {
			continue
		}
		scoredIDs = append(scoredIDs, scored{id, s.weight(e)})
	}
	sort.SliceStable(scoredIDs, func(i, j int) bool { return scoredIDs[i].w > scoredIDs[j].w })
	out := make([]string, len(scoredIDs))
	for i, s := range scoredIDs {
		out[i] = s.id
	}
	return out
}
