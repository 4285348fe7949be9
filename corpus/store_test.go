package corpus

import (
	"os"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestAddAndGet(t *testing.T) {
	s := tempStore(t)
	e, err := s.Add([]byte("hello"), 42, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(e.ID) != IDLen {
		t.Fatalf("expected %d-char id, got %q", IDLen, e.ID)
	}
	got, ok := s.Get(e.ID)
	if !ok || string(got) != "hello" {
		t.Fatalf("Get returned %q, %v", got, ok)
	}
	if !e.Favored {
		t.Fatal("seed entries (no parent) should be favored")
	}
}

func TestAddSyncedIsNotFavored(t *testing.T) {
	s := tempStore(t)
	e, err := s.AddSynced([]byte("from a peer"), 7)
	if err != nil {
		t.Fatalf("AddSynced: %v", err)
	}
	if e.Favored {
		t.Fatal("synced entries should not inherit seed favored status")
	}
	if e.ParentID != "" {
		t.Fatalf("expected empty parent id, got %q", e.ParentID)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Add([]byte("x"), 1, ""); err != nil {
		t.Fatal(err)
	}
	sizeBefore := s.Size()
	_, err := s.Add([]byte("x"), 1, "")
	if err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if s.Size() != sizeBefore {
		t.Fatalf("size changed on duplicate add: %d != %d", s.Size(), sizeBefore)
	}
}

func TestStableIDsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	e1, err := s1.Add([]byte("persisted"), 7, "")
	if err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	data, ok := s2.Get(e1.ID)
	if !ok || string(data) != "persisted" {
		t.Fatalf("entry did not survive restart: ok=%v data=%q", ok, data)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatal(err)
	}
}

func TestIterEntriesRestartable(t *testing.T) {
	s := tempStore(t)
	s.Add([]byte("a"), 1, "")
	s.Add([]byte("b"), 1, "")

	it := s.IterEntries()
	var first []string
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		first = append(first, e.ID)
	}
	it.Reset()
	var second []string
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		second = append(second, e.ID)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 entries both passes, got %d and %d", len(first), len(second))
	}
}

func TestRandomExcludesID(t *testing.T) {
	s := tempStore(t)
	a, _ := s.Add([]byte("a"), 1, "")
	s.Add([]byte("b"), 1, "")

	for i := 0; i < 50; i++ {
		e, ok := s.Random(a.ID)
		if !ok {
			t.Fatal("expected an entry")
		}
		if e.ID == a.ID {
			t.Fatal("Random returned the excluded id")
		}
	}
}

func TestRandomOnSingleExcludedEntry(t *testing.T) {
	s := tempStore(t)
	a, _ := s.Add([]byte("only"), 1, "")
	if _, ok := s.Random(a.ID); ok {
		t.Fatal("expected no entry when the only one is excluded")
	}
}
