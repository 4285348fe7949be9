package coverage

import "testing"

func TestEdgeHashingDirectionSensitive(t *testing.T) {
	m := New()
	m.Record(0x1A2B)
	m.Record(0x3C4D)

	if m.trace[0x1A2B%MapSize] != 1 {
		t.Fatalf("expected trace[0x1A2B] == 1, got %d", m.trace[0x1A2B%MapSize])
	}
	wantIdx := (0x3C4D ^ 0x0D15) % MapSize
	if m.trace[wantIdx] != 1 {
		t.Fatalf("expected trace[0x%x] == 1, got %d", wantIdx, m.trace[wantIdx])
	}

	reverse := New()
	reverse.Record(0x3C4D)
	reverse.Record(0x1A2B)
	if reverse.trace[wantIdx] != 0 {
		t.Fatalf("reverse order should not hash identically")
	}
}

func TestSaturatesAt255(t *testing.T) {
	m := New()
	for i := 0; i < 300; i++ {
		m.prevLocation = 0
		m.Record(0x1234)
	}
	if m.trace[0x1234%MapSize] != 255 {
		t.Fatalf("expected saturation at 255, got %d", m.trace[0x1234%MapSize])
	}
}

func TestCountClassBuckets(t *testing.T) {
	cases := map[byte]byte{
		0: 0, 1: 1, 2: 2, 3: 4, 5: 8, 7: 8,
		8: 16, 15: 16, 16: 32, 31: 32, 50: 64, 127: 64, 128: 128, 200: 128,
	}
	for in, want := range cases {
		if got := countClass(in); got != want {
			t.Errorf("countClass(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestBucketizeIdempotent(t *testing.T) {
	m := New()
	m.Record(0x10)
	m.Record(0x11)
	first := *m.bucketize()
	second := *m.bucketize()
	if first != second {
		t.Fatalf("bucketize is not idempotent")
	}
}

func TestHasNewCoverageFirstRun(t *testing.T) {
	m := New()
	m.Record(0x1234)
	if !m.HasNewCoverage() {
		t.Fatal("expected new coverage on first run")
	}
}

func TestHasNewCoverageRepeatRun(t *testing.T) {
	m := New()
	m.Record(0x1234)
	if !m.HasNewCoverage() {
		t.Fatal("expected new coverage")
	}
	m.Promote()

	m.Reset()
	m.Record(0x1234)
	if m.HasNewCoverage() {
		t.Fatal("expected no new coverage on repeat")
	}
}

// Bucketing scenario from spec.md §8.2: a transition from 4 to 5 hits on
// the same edge stays in the same bucket (4-7) and must not register as
// new coverage, but 7 -> 8 crosses into the next bucket and must.
func TestBucketingTransitions(t *testing.T) {
	hit := func(m *Map, n int) {
		for i := 0; i < n; i++ {
			m.prevLocation = 0
			m.Record(0x42)
		}
	}

	base := New()
	hit(base, 4)
	base.HasNewCoverage()
	base.Promote()

	same := New()
	same.virgin = base.virgin
	hit(same, 5)
	if same.HasNewCoverage() {
		t.Fatal("4 -> 5 hits should stay in the same bucket")
	}

	grown := New()
	grown.virgin = base.virgin
	hit(grown, 8)
	if !grown.HasNewCoverage() {
		t.Fatal("7 -> 8 hits should cross a bucket boundary")
	}
}

func TestVirginMapMonotonicallyNonIncreasing(t *testing.T) {
	m := New()
	before := m.virgin
	m.Record(0x1)
	m.Record(0x2)
	m.Promote()
	for i := range before {
		if m.virgin[i]&^before[i] != 0 {
			t.Fatalf("virgin map gained a bit at index %d", i)
		}
	}
}

func TestDigestStable(t *testing.T) {
	m1 := New()
	m1.Record(0xAA)
	m1.Record(0xBB)
	d1 := m1.Digest()

	m2 := New()
	m2.Record(0xAA)
	m2.Record(0xBB)
	d2 := m2.Digest()

	if d1 != d2 {
		t.Fatalf("digest not stable across identical runs: %x != %x", d1, d2)
	}
}

func TestMapSizeBoundaryParticipates(t *testing.T) {
	m := New()
	// Force an edge that lands exactly on MapSize-1.
	m.prevLocation = 0
	m.trace[MapSize-1] = 0
	m.virgin[MapSize-1] = 0xFF
	for i := range m.virgin {
		if i != MapSize-1 {
			m.virgin[i] = 0
		}
	}
	m.trace[MapSize-1] = 1
	if !m.HasNewCoverage() {
		t.Fatal("index MapSize-1 should participate in has_new_coverage")
	}
}
