package mutate

import "math/rand"

// splice cuts input and a randomly chosen peer corpus entry at random
// offsets and concatenates input[:a] + other[b:], per spec.md §4.2.4.
// Grounded on go-fuzz's Mutator.crossover. An empty result is permitted
// only from this stage per spec.md §4.2's failure model (e.g. a == 0
// and b == len(other)).
func splice(input []byte, ctx Context, rng *rand.Rand) []byte {
	if ctx.Corpus == nil {
		return append([]byte(nil), input...)
	}
	other, ok := ctx.Corpus.Random(ctx.SelfID)
	if !ok {
		return append([]byte(nil), input...)
	}

	a := 0
	if len(input) > 0 {
		a = rng.Intn(len(input) + 1)
	}
	b := 0
	if len(other.Data) > 0 {
		b = rng.Intn(len(other.Data) + 1)
	}

	out := make([]byte, 0, a+(len(other.Data)-b))
	out = append(out, input[:a]...)
	out = append(out, other.Data[b:]...)
	return out
}
