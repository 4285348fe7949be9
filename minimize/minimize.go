// Package minimize implements the Minimizer (spec.md §4.7, component
// C7): adaptive chunk-size delta-debugging over a crashing input.
//
// Grounded on spec.md §9's explicit design note replacing
// exceptions-for-control-flow with a total {Preserved, Changed,
// NoCrash} result value, and on bradleyjkemp-simple-fuzz's
// go-fuzz/worker.go minimizeInput chunk-removal loop, generalized
// from Go-source literal minimization to arbitrary byte inputs.
package minimize

import "protocrash/execution"

// Outcome is the total result of one "does this candidate still
// crash with the same signature?" test, replacing exception-based
// control flow.
type Outcome int

const (
	Preserved Outcome = iota // candidate still crashes with the target hash
	Changed                  // candidate crashes, but with a different hash
	NoCrash                  // candidate does not crash at all
)

// Tester runs a candidate against the target and reports its
// outcome. Callers typically close over an execution.Executor, a
// crash.Classify+crash.DedupHash pair, and the target crash_hash.
type Tester func(candidate []byte) Outcome

// DefaultBudget bounds the number of Tester invocations a single Run may
// make, per spec.md §4.7 step 5's default of 10,000.
const DefaultBudget = 10000

// Result is what Run reports back to the crash pipeline.
type Result struct {
	Data        []byte
	Executions  int
	BudgetSpent bool
}

// Run performs the chunk-based delta-debugging pass (steps 1-5) and
// the optional byte-zeroing pass (step 6), stopping early if budget
// executions are exhausted.
func Run(original []byte, test Tester, budget int) Result {
	if budget <= 0 {
		budget = DefaultBudget
	}
	candidate := append([]byte(nil), original...)
	execs := 0

	n := 2
	for len(candidate) > 0 && execs < budget {
		if n > len(candidate) {
			n = len(candidate)
		}
		chunks := partition(candidate, n)
		reducedThisRound := false
		for i := range chunks {
			if execs >= budget {
				break
			}
			without := withoutChunk(candidate, chunks, i)
			execs++
			if test(without) == Preserved {
				candidate = without
				n = max(2, n-1)
				reducedThisRound = true
				break
			}
		}
		if !reducedThisRound {
			if n >= len(candidate) {
				break
			}
			n = min(len(candidate), 2*n)
		}
	}

	budgetSpent := execs >= budget
	if !budgetSpent {
		candidate, execs = zeroBytePass(candidate, test, execs, budget)
	}

	return Result{Data: candidate, Executions: execs, BudgetSpent: execs >= budget}
}

// chunkSpan is a half-open [start, end) byte range.
type chunkSpan struct{ start, end int }

// partition splits data into n spans, the last absorbing the
// remainder, per spec.md §4.7 step 2.
func partition(data []byte, n int) []chunkSpan {
	if n <= 0 {
		n = 1
	}
	size := len(data) / n
	if size == 0 {
		size = 1
	}
	var spans []chunkSpan
	pos := 0
	for i := 0; i < n && pos < len(data); i++ {
		end := pos + size
		if i == n-1 || end > len(data) {
			end = len(data)
		}
		spans = append(spans, chunkSpan{pos, end})
		pos = end
	}
	return spans
}

func withoutChunk(data []byte, chunks []chunkSpan, idx int) []byte {
	c := chunks[idx]
	out := make([]byte, 0, len(data)-(c.end-c.start))
	out = append(out, data[:c.start]...)
	out = append(out, data[c.end:]...)
	return out
}

// zeroBytePass implements step 6: for each byte, try replacing with
// 0x00, keeping the replacement iff the outcome is still Preserved.
func zeroBytePass(data []byte, test Tester, execs, budget int) ([]byte, int) {
	candidate := append([]byte(nil), data...)
	for i := range candidate {
		if execs >= budget {
			break
		}
		if candidate[i] == 0x00 {
			continue
		}
		trial := append([]byte(nil), candidate...)
		trial[i] = 0x00
		execs++
		if test(trial) == Preserved {
			candidate = trial
		}
	}
	return candidate, execs
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ExecutorTester builds a Tester bound to a live target: it runs the
// candidate through exec, classifies the result, and compares its
// dedup hash against targetHash.
//
// classify and dedupHash are injected (rather than importing package
// crash directly) to keep minimize free of a crash package import
// cycle, since crash's own minify hook calls back into minimize.Run.
func ExecutorTester(exec *execution.Executor, timeoutMS int, classify func(execution.Result) bool, dedupHash func(execution.Result, []byte) string, targetHash string) Tester {
	return func(candidate []byte) Outcome {
		res, err := exec.Execute(candidate, timeoutMS)
		if err != nil || !classify(res) {
			return NoCrash
		}
		if dedupHash(res, candidate) == targetHash {
			return Preserved
		}
		return Changed
	}
}
