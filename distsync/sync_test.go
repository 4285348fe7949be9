package distsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPublishAndImportAcrossWorkers(t *testing.T) {
	root := t.TempDir()
	a, err := Open(root, 0)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	b, err := Open(root, 1)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	since := time.Now().UnixNano()
	time.Sleep(5 * time.Millisecond)

	if err := a.Publish([]byte("payload"), 0xABCD); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := b.ImportNew(since)
	if len(got) != 1 {
		t.Fatalf("expected 1 imported entry, got %d", len(got))
	}
	if string(got[0].Data) != "payload" {
		t.Fatalf("unexpected payload: %q", got[0].Data)
	}
	if got[0].CoverageHash != 0xABCD {
		t.Fatalf("unexpected coverage hash: %x", got[0].CoverageHash)
	}
}

func TestImportNewStrictlyGreaterThan(t *testing.T) {
	root := t.TempDir()
	a, err := Open(root, 0)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	b, err := Open(root, 1)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	if err := a.Publish([]byte("x"), 1); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	entries := b.ImportNew(time.Now().Add(-time.Hour).UnixNano())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry before the publish ts, got %d", len(entries))
	}
	again := b.ImportNew(entries[0].Timestamp)
	if len(again) != 0 {
		t.Fatalf("expected 0 entries on re-query at the exact timestamp, got %d", len(again))
	}
}

func TestPublishSkipsDuplicateCoverageHash(t *testing.T) {
	root := t.TempDir()
	a, err := Open(root, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a.Publish([]byte("one"), 42)
	a.Publish([]byte("two"), 42)

	entries, err := os.ReadDir(filepath.Join(root, "worker_0", "queue"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 published file, got %d", len(entries))
	}
}

func TestParseFilenameTolerance(t *testing.T) {
	cases := []struct {
		name    string
		wantCov uint64
	}{
		{"noUnderscoresAtAll", 0},
		{"one_underscore", 0},
		{"id_abc123", 0},
		{"id_abc123_1a", 0x1a},
		{"id_ab_c1_23_1a", 0x1a},
	}
	for _, c := range cases {
		_, cov := parseFilename(c.name)
		if cov != c.wantCov {
			t.Errorf("parseFilename(%q) cov = %x, want %x", c.name, cov, c.wantCov)
		}
	}
}

func TestCleanupRemovesOwnQueueOnly(t *testing.T) {
	root := t.TempDir()
	a, _ := Open(root, 0)
	b, _ := Open(root, 1)
	_ = b

	if err := a.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "worker_0")); !os.IsNotExist(err) {
		t.Fatal("expected worker_0 directory removed")
	}
	if _, err := os.Stat(filepath.Join(root, "worker_1")); err != nil {
		t.Fatal("expected worker_1 directory to remain")
	}
}
