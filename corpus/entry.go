// Package corpus implements the content-addressed corpus store (spec.md
// §4.3, component C3): a set of byte records keyed by the truncated
// SHA-256 of their content, each carrying the metadata the Queue
// Scheduler needs to weight it.
//
// Grounded on bradleyjkemp-simple-fuzz's PersistentSet pattern
// (go-fuzz/coordinator.go: corpus/crashers/suppressions as on-disk sets
// keyed by content hash) and original_source's CorpusManager tests
// (16-hex-char ids, idempotent add, JSON sidecar metadata).
package corpus

import (
	"encoding/hex"
	"time"

	sha256simd "github.com/minio/sha256-simd"
)

// IDLen is the number of hex characters an entry id is truncated to:
// sha256(data) truncated to 16 hex chars, per spec.md §3.
const IDLen = 16

// Entry is one admitted corpus member.
type Entry struct {
	ID             string    `json:"id"`
	Data           []byte    `json:"-"`
	ParentID       string    `json:"parent_id,omitempty"`
	Depth          int       `json:"depth"`
	CoverageHash   uint64    `json:"coverage_hash"`
	NewEdges       int       `json:"new_edges"`
	ExecCount      uint64    `json:"exec_count"`
	LastSelectedAt time.Time `json:"last_selected_at"`
	Favored        bool      `json:"favored"`
}

// meta is the on-disk JSON sidecar shape (spec.md §6: "<entry_id>.meta").
type meta struct {
	ID           string    `json:"id"`
	ParentID     string    `json:"parent,omitempty"`
	Depth        int       `json:"depth"`
	CoverageHash uint64    `json:"cov_hash"`
	NewEdges     int       `json:"new_edges"`
	ExecCount    uint64    `json:"exec_count"`
	LastSelected time.Time `json:"last_selected_at"`
	Favored      bool      `json:"favored"`
}

func (e Entry) toMeta() meta {
	return meta{
		ID:           e.ID,
		ParentID:     e.ParentID,
		Depth:        e.Depth,
		CoverageHash: e.CoverageHash,
		NewEdges:     e.NewEdges,
		ExecCount:    e.ExecCount,
		LastSelected: e.LastSelectedAt,
		Favored:      e.Favored,
	}
}

func (m meta) toEntry(data []byte) Entry {
	return Entry{
		ID:             m.ID,
		Data:           data,
		ParentID:       m.ParentID,
		Depth:          m.Depth,
		CoverageHash:   m.CoverageHash,
		NewEdges:       m.NewEdges,
		ExecCount:      m.ExecCount,
		LastSelectedAt: m.LastSelected,
		Favored:        m.Favored,
	}
}

// ContentID returns the stable, content-derived id for data: the
// truncated hex SHA-256 digest. Using minio/sha256-simd rather than
// crypto/sha256 because this hash is computed on every single mutant,
// successful or not.
func ContentID(data []byte) string {
	sum := sha256simd.Sum256(data)
	return hex.EncodeToString(sum[:])[:IDLen]
}
