package mutate

import (
	"math/rand"
	"sync"
)

// weightAlpha is the multiplicative learning rate from spec.md §4.2
// ("multiplied by 1 + alpha*success_rate with alpha ~ 0.1").
const weightAlpha = 0.1

// weightFloor is this implementation's answer to the first Open
// Question in spec.md §9: the source's unbounded multiplicative update
// can underflow a strategy's weight to effectively zero over a long
// run. We treat that as unintended starvation and cap the minimum
// weight at a small positive constant so every strategy keeps a chance
// of being sampled.
const weightFloor = 0.01

// Weights tracks per-strategy selection weight and its observed success
// rate. It is worker-local, per spec.md §4.2 ("Weights are
// worker-local").
type Weights struct {
	mu       sync.Mutex
	rng      *rand.Rand
	weight   map[Strategy]float64
	hits     map[Strategy]float64
	attempts map[Strategy]float64
}

// NewWeights returns a Weights with every strategy initialized to the
// same uniform weight.
func NewWeights(rng *rand.Rand) *Weights {
	w := &Weights{
		rng:      rng,
		weight:   make(map[Strategy]float64, len(allStrategies)),
		hits:     make(map[Strategy]float64, len(allStrategies)),
		attempts: make(map[Strategy]float64, len(allStrategies)),
	}
	for _, s := range allStrategies {
		w.weight[s] = 1.0
	}
	return w
}

// Sample draws a strategy from candidates with probability proportional
// to its current weight.
func (w *Weights) Sample(candidates []Strategy) Strategy {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0.0
	for _, s := range candidates {
		total += w.weight[s]
	}
	if total <= 0 {
		return candidates[w.rng.Intn(len(candidates))]
	}
	target := w.rng.Float64() * total
	cum := 0.0
	for _, s := range candidates {
		cum += w.weight[s]
		if target <= cum {
			return s
		}
	}
	return candidates[len(candidates)-1]
}

// Observe reports whether the given strategy's most recent mutant found
// new coverage, adapting its weight accordingly. Per spec.md §4.2, the
// multiplicative update only fires "on success"; a failed attempt still
// counts toward success_rate but leaves the weight untouched.
func (w *Weights) Observe(s Strategy, foundNewCoverage bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.attempts[s]++
	if !foundNewCoverage {
		return
	}
	w.hits[s]++
	successRate := w.hits[s] / w.attempts[s]
	w.weight[s] *= 1 + weightAlpha*successRate
	if w.weight[s] < weightFloor {
		w.weight[s] = weightFloor
	}
}

// Snapshot returns a copy of the current weight map, for stats
// reporting.
func (w *Weights) Snapshot() map[Strategy]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[Strategy]float64, len(w.weight))
	for k, v := range w.weight {
		out[k] = v
	}
	return out
}
