package minimize

import (
	"bytes"
	"testing"
)

// crashSubstringTester mimics spec.md's scenario 3 synthetic target:
// crashes (Preserved) iff the candidate contains "CRASH"; otherwise
// NoCrash. It never produces Changed since there is only one crash
// signature in this fixture.
func crashSubstringTester(substr string) Tester {
	return func(candidate []byte) Outcome {
		if bytes.Contains(candidate, []byte(substr)) {
			return Preserved
		}
		return NoCrash
	}
}

func TestRunReducesToMinimalSubstring(t *testing.T) {
	result := Run([]byte("AAAAACRASHBBBBB"), crashSubstringTester("CRASH"), DefaultBudget)
	if string(result.Data) != "CRASH" {
		t.Fatalf("expected minimal reduction to %q, got %q", "CRASH", result.Data)
	}
}

func TestRunOnSingleByteCrashingInput(t *testing.T) {
	result := Run([]byte("X"), func(candidate []byte) Outcome {
		if len(candidate) == 0 {
			return Preserved
		}
		return NoCrash
	}, DefaultBudget)
	if len(result.Data) != 0 {
		t.Fatalf("expected empty result when empty input still crashes, got %q", result.Data)
	}
}

func TestRunOnSingleByteNonReducibleInput(t *testing.T) {
	result := Run([]byte("X"), func(candidate []byte) Outcome {
		if len(candidate) == 1 {
			return Preserved
		}
		return NoCrash
	}, DefaultBudget)
	if len(result.Data) != 1 {
		t.Fatalf("expected 1-byte result, got %q", result.Data)
	}
}

func TestRunRespectsBudget(t *testing.T) {
	calls := 0
	test := func(candidate []byte) Outcome {
		calls++
		return NoCrash
	}
	result := Run(bytes.Repeat([]byte("A"), 1000), test, 5)
	if calls > 5 {
		t.Fatalf("expected at most 5 executions, used %d", calls)
	}
	if !result.BudgetSpent {
		t.Fatal("expected BudgetSpent to be true")
	}
}

func TestRunPreservesChangedOutcomeDistinctFromNoCrash(t *testing.T) {
	// A candidate that always crashes, but whose signature ("Changed")
	// never matches the target: the minimizer must not treat this as
	// reducible, since Preserved is required to shrink.
	result := Run([]byte("ABCDEF"), func(candidate []byte) Outcome {
		return Changed
	}, DefaultBudget)
	if !bytes.Equal(result.Data, []byte("ABCDEF")) {
		t.Fatalf("expected no reduction when outcome is always Changed, got %q", result.Data)
	}
}

func TestZeroBytePassZeroesNonEssentialBytes(t *testing.T) {
	// Only byte 0's value and the 4-byte length matter, so chunk removal
	// cannot shrink the input and the zero-byte pass zeroes bytes 1-3.
	target := []byte{0xAA, 0x01, 0x02, 0x03}
	result := Run(target, func(candidate []byte) Outcome {
		if len(candidate) == 4 && candidate[0] == 0xAA {
			return Preserved
		}
		return NoCrash
	}, DefaultBudget)
	if result.Data[0] != 0xAA {
		t.Fatalf("expected essential byte preserved, got %q", result.Data)
	}
	if !bytes.Equal(result.Data, []byte{0xAA, 0x00, 0x00, 0x00}) {
		t.Fatalf("expected non-essential bytes zeroed, got %v", result.Data)
	}
}
