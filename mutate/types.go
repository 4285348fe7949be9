// Package mutate implements the mutation engine (spec.md §4.2, component
// C2): deterministic, havoc, dictionary, and splice stages plus
// protocol-aware field mutation, selected per call via adaptive
// strategy weights.
//
// Grounded on go-fuzz's mutator (other_examples/dvyukov-go-fuzz__mutator.go:
// crossover/splice, bit-flip, random insert/delete) and go-fuzz/worker.go's
// smash() enumeration (bit/byte walks, interesting-value overwrite,
// increment/decrement), adapted from "enumerate every mutant for this
// input" into "pick one transformation per call", since spec.md's
// mutate() contract returns a single mutant.
package mutate

import "math/rand"

// Strategy identifies which mutation stage produced an output. Driver
// code reports back whether the resulting execution found new coverage
// so the Engine can adapt its selection weights.
type Strategy string

const (
	StrategyDeterministic Strategy = "deterministic"
	StrategyHavoc         Strategy = "havoc"
	StrategyDictionary    Strategy = "dictionary"
	StrategySplice        Strategy = "splice"
	StrategyProtocol      Strategy = "protocol"
)

// allStrategies is the full set considered by the weight sampler.
// Protocol-aware mutation only participates when a Protocol is
// configured; see Engine.candidateStrategies.
var allStrategies = []Strategy{
	StrategyDeterministic,
	StrategyHavoc,
	StrategyDictionary,
	StrategySplice,
	StrategyProtocol,
}

// CorpusSource is the narrow view of the corpus the Splice stage needs:
// a random other entry, optionally excluding one id. The driver's
// corpusAdapter wraps corpus.Store to satisfy this.
type CorpusSource interface {
	Random(excludeID string) (data Entry, ok bool)
}

// Entry is the minimal shape Splice needs from a corpus entry. Defined
// here (rather than imported from package corpus) to keep the mutation
// engine's dependency on the corpus narrow and one-directional.
type Entry struct {
	ID   string
	Data []byte
}

// Context carries everything a single Mutate call may need beyond the
// input bytes: a source of peer corpus entries for splicing, an
// optional protocol-aware field mutator, and the RNG to use (so callers
// can make mutation deterministic in tests).
type Context struct {
	Corpus   CorpusSource
	SelfID   string // excluded from splice's partner selection
	Protocol Protocol
	Rng      *rand.Rand
}

func (c Context) rng() *rand.Rand {
	if c.Rng != nil {
		return c.Rng
	}
	return rand.New(rand.NewSource(rand.Int63()))
}
