package crash

import (
	"bytes"
	"strings"

	"protocrash/execution"
)

// signal numbers per spec.md §4.6.1; kept local rather than importing
// syscall so classification stays portable to the stored int value in
// execution.Result.
const (
	sigSEGV = 11
	sigABRT = 6
	sigILL  = 4
	sigFPE  = 8
	sigBUS  = 7
)

var sanitizerPatterns = []struct {
	needle string
	kind   Kind
}{
	{"AddressSanitizer", KindASAN},
	{"MemorySanitizer", KindMSAN},
	{"UndefinedBehaviorSanitizer", KindUBSAN},
}

var signalKinds = map[int]Kind{
	sigSEGV: KindSEGV,
	sigABRT: KindABRT,
	sigILL:  KindILL,
	sigFPE:  KindFPE,
	sigBUS:  KindBUS,
}

// Classify applies spec.md §4.6.1's first-match-wins order: sanitizer
// banner in stderr, then signal, then timeout, else no crash.
func Classify(res execution.Result) Kind {
	for _, p := range sanitizerPatterns {
		if bytes.Contains(res.Stderr, []byte(p.needle)) {
			return p.kind
		}
	}
	if res.HasSignal {
		if res.Signal == execution.SignalTimeout {
			return KindHang
		}
		if k, ok := signalKinds[res.Signal]; ok {
			return k
		}
	}
	if res.TimedOut {
		return KindHang
	}
	return KindNone
}

// IsCrash reports whether a result should be routed to the crash
// pipeline at all, per the driver's is_crash(result) check (spec.md
// §4.8).
func IsCrash(res execution.Result) bool {
	return Classify(res) != KindNone
}

// Rate implements spec.md §4.6.4's exploitability table. stderr is
// consulted for the HIGH-vs-MEDIUM SEGV distinction and for the
// overflow patterns checked on sanitizer reports.
func Rate(kind Kind, stderr []byte) Exploitability {
	lower := strings.ToLower(string(stderr))
	switch kind {
	case KindNone:
		return ExploitNone
	case KindHang, KindABRT, KindILL, KindFPE:
		return ExploitLow
	case KindSEGV:
		if strings.Contains(lower, "stack") {
			return ExploitHigh
		}
		return ExploitMedium
	case KindBUS:
		return ExploitMedium
	case KindASAN, KindMSAN, KindUBSAN:
		for _, needle := range []string{"heap-use-after-free", "heap-buffer-overflow", "stack-buffer-overflow"} {
			if strings.Contains(lower, needle) {
				return ExploitHigh
			}
		}
		return ExploitMedium
	default:
		return ExploitNone
	}
}

func signalForKind(kind Kind, res execution.Result) int {
	if res.HasSignal {
		return res.Signal
	}
	for sig, k := range signalKinds {
		if k == kind {
			return sig
		}
	}
	return 0
}
