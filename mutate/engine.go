package mutate

import "math/rand"

// Engine composes the four core stages plus protocol-aware field
// mutation behind the single mutate(input, context) -> bytes contract
// of spec.md §4.2.
type Engine struct {
	weights    *Weights
	dictionary Dictionary
}

// NewEngine returns an Engine. If dict is nil, GenericDictionary is
// used by the dictionary stage.
func NewEngine(weights *Weights, dict Dictionary) *Engine {
	if dict == nil {
		dict = GenericDictionary
	}
	return &Engine{weights: weights, dictionary: dict}
}

// Weights exposes the engine's adaptive strategy weights.
func (e *Engine) Weights() *Weights { return e.weights }

func (e *Engine) candidateStrategies(ctx Context) []Strategy {
	if ctx.Protocol == nil {
		out := make([]Strategy, 0, len(allStrategies)-1)
		for _, s := range allStrategies {
			if s != StrategyProtocol {
				out = append(out, s)
			}
		}
		return out
	}
	return allStrategies
}

// Mutate selects a strategy by weighted draw and applies it, returning
// the mutant and the strategy used so the caller can later call
// Weights().Observe with the execution outcome.
func (e *Engine) Mutate(input []byte, ctx Context) ([]byte, Strategy) {
	rng := ctx.rng()
	strategy := e.weights.Sample(e.candidateStrategies(ctx))
	return e.apply(strategy, input, ctx, rng), strategy
}

func (e *Engine) apply(strategy Strategy, input []byte, ctx Context, rng *rand.Rand) []byte {
	switch strategy {
	case StrategyDeterministic:
		return deterministic(input, rng)
	case StrategyHavoc:
		return havoc(input, rng)
	case StrategyDictionary:
		return dictionaryMutate(input, e.dictionary, rng)
	case StrategySplice:
		return splice(input, ctx, rng)
	case StrategyProtocol:
		return protocolAware(input, ctx, rng)
	default:
		return append([]byte(nil), input...)
	}
}

// DictionaryFor returns the built-in dictionary for a named protocol,
// falling back to GenericDictionary for unknown names.
func DictionaryFor(protocol string) Dictionary {
	switch protocol {
	case "http":
		return HTTPDictionary
	case "dns":
		return DNSDictionary
	case "smtp":
		return SMTPDictionary
	default:
		return GenericDictionary
	}
}
