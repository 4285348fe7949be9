package corpus

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrDuplicate is returned by Add when the content was already present.
// Per spec.md §4.3 this is not a failure, just a signal to discard.
var ErrDuplicate = errors.New("corpus: duplicate entry")

// Store is a content-addressed, append-only set of corpus entries. It is
// safe for concurrent use, though spec.md §5 notes a driver's corpus is
// process-local and never actually shared across goroutines.
type Store struct {
	mu      sync.RWMutex
	dir     string
	entries map[string]*Entry
	order   []string // insertion order (entries reloaded by Open come first, in id order), for iteration and tie-breaking
	byteLen int64
}

// Open creates or loads a Store rooted at dir (spec.md §6:
// "<campaign_root>/corpus/"). Existing <id> / <id>.meta pairs are loaded
// back so that ids remain stable across process restarts.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "corpus: create directory")
	}
	s := &Store{dir: dir, entries: make(map[string]*Entry)}

	matches, err := filepath.Glob(filepath.Join(dir, "*.meta"))
	if err != nil {
		return nil, errors.Wrap(err, "corpus: glob metadata")
	}
	for _, mp := range matches {
		id := filepath.Base(mp)
		id = id[:len(id)-len(".meta")]
		data, err := os.ReadFile(filepath.Join(dir, id))
		if err != nil {
			continue // partial write from a crashed run; skip it
		}
		raw, err := os.ReadFile(mp)
		if err != nil {
			continue
		}
		var m meta
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		e := m.toEntry(data)
		s.entries[id] = &e
		s.order = append(s.order, id)
		s.byteLen += int64(len(data))
	}
	return s, nil
}

// Add admits data into the corpus. If content equal to data is already
// present, it returns ErrDuplicate and leaves the store unchanged
// (spec.md §4.3: "re-adding the same bytes is a no-op"). An empty
// parentID marks the entry as a seed, which is favored on load.
func (s *Store) Add(data []byte, coverageHash uint64, parentID string) (Entry, error) {
	return s.add(data, coverageHash, parentID, parentID == "")
}

// AddSynced admits a peer-published entry pulled in by the
// Synchronizer (spec.md §4.9). Unlike a locally loaded seed, a synced
// entry carries no parent lineage but is not favored: favored status
// is reserved for the worker's own seed corpus, per spec.md §4.3.
func (s *Store) AddSynced(data []byte, coverageHash uint64) (Entry, error) {
	return s.add(data, coverageHash, "", false)
}

func (s *Store) add(data []byte, coverageHash uint64, parentID string, favored bool) (Entry, error) {
	id := ContentID(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok {
		return *existing, ErrDuplicate
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	e := &Entry{
		ID:           id,
		Data:         cp,
		ParentID:     parentID,
		CoverageHash: coverageHash,
		Favored:      favored,
	}
	if parent, ok := s.entries[parentID]; ok {
		e.Depth = parent.Depth + 1
	}

	if s.dir != "" {
		if err := s.persist(e); err != nil {
			return Entry{}, err
		}
	}

	s.entries[id] = e
	s.order = append(s.order, id)
	s.byteLen += int64(len(cp))
	return *e, nil
}

// SetNewEdges records how many virgin bits this entry's admission
// cleared, for the scheduler's coverage_factor.
func (s *Store) SetNewEdges(id string, newEdges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.NewEdges = newEdges
		if s.dir != "" {
			_ = s.persist(e)
		}
	}
}

func (s *Store) persist(e *Entry) error {
	if err := os.WriteFile(filepath.Join(s.dir, e.ID), e.Data, 0o644); err != nil {
		return errors.Wrap(err, "corpus: write data")
	}
	raw, err := json.Marshal(e.toMeta())
	if err != nil {
		return errors.Wrap(err, "corpus: marshal metadata")
	}
	if err := os.WriteFile(filepath.Join(s.dir, e.ID+".meta"), raw, 0o644); err != nil {
		return errors.Wrap(err, "corpus: write metadata")
	}
	return nil
}

// Get returns the bytes for id, if present.
func (s *Store) Get(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// Entry returns the full record for id.
func (s *Store) Entry(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IncrementExecCount bumps the exec_count counter the scheduler's
// freshness_factor reads.
func (s *Store) IncrementExecCount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.ExecCount++
	}
}

// MarkSelected records that the scheduler just handed id out, updating
// both its exec_count and last_selected_at.
func (s *Store) MarkSelected(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.ExecCount++
		e.LastSelectedAt = at
	}
}

// Random returns a uniformly random entry, optionally excluding one id
// (used by splice mutation to avoid splicing an input with itself).
func (s *Store) Random(excludeID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return Entry{}, false
	}
	if len(s.order) == 1 && s.order[0] == excludeID {
		return Entry{}, false
	}
	for {
		id := s.order[rand.Intn(len(s.order))]
		if id == excludeID {
			continue
		}
		return *s.entries[id], true
	}
}

// Size returns the number of entries in the corpus.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// ByteSize returns the total bytes stored across all entries.
func (s *Store) ByteSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byteLen
}

// EntryIter is a finite, restartable lazy sequence over a Store's
// entries, per spec.md §4.3 ("iter_entries() -> lazy sequence of
// entries (finite, restartable)").
type EntryIter struct {
	entries []Entry
	idx     int
}

// IterEntries returns a restartable iterator over a snapshot of the
// current entries.
func (s *Store) IterEntries() *EntryIter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		snap = append(snap, *s.entries[id])
	}
	return &EntryIter{entries: snap}
}

// Next returns the next entry in the sequence, or false when exhausted.
func (it *EntryIter) Next() (Entry, bool) {
	if it.idx >= len(it.entries) {
		return Entry{}, false
	}
	e := it.entries[it.idx]
	it.idx++
	return e, true
}

// Reset rewinds the iterator to the beginning of the same snapshot.
func (it *EntryIter) Reset() {
	it.idx = 0
}
