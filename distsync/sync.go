// Package distsync implements the Synchronizer (spec.md §4.9,
// component C9): an eventually-consistent, filesystem-based exchange
// of promoted corpus entries between sibling worker processes.
//
// Grounded on corpus.Store's own persist() (no worker in the retrieved
// corpus does cross-process filesystem sync), with a temp-file-then-
// rename step added here so peers never read a half-written file,
// generalized from "one process's own durable write" to "one process
// publishing for N peers to later discover", per
// spec.md §4.9's explicit protocol.
package distsync

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	sha256simd "github.com/minio/sha256-simd"
	"github.com/pkg/errors"

	"protocrash/driver"
)

// queueDirName is the subdirectory each worker owns under its own
// worker_<i> directory, per spec.md §4.9.
const queueDirName = "queue"

// Synchronizer implements driver.Synchronizer against
// <sync_root>/worker_<i>/queue/ directories.
type Synchronizer struct {
	root       string
	workerID   int
	ownQueue   string
	peersDirs  func() ([]string, error)

	mu        sync.Mutex
	published map[uint64]bool // coverage hashes already published this run
}

// Open creates this worker's queue directory under root and returns a
// Synchronizer ready to publish and import. root is the campaign's
// shared sync directory, created and owned by the Supervisor (C10).
func Open(root string, workerID int) (*Synchronizer, error) {
	own := filepath.Join(root, workerDirName(workerID), queueDirName)
	if err := os.MkdirAll(own, 0o755); err != nil {
		return nil, errors.Wrap(err, "distsync: create queue directory")
	}
	s := &Synchronizer{
		root:      root,
		workerID:  workerID,
		ownQueue:  own,
		published: map[uint64]bool{},
	}
	s.peersDirs = s.listPeerQueues
	return s, nil
}

func workerDirName(id int) string {
	return "worker_" + strconv.Itoa(id)
}

// Publish writes data into this worker's queue via a temp-file-then-
// rename, skipping coverage hashes this worker has already published
// (spec.md §4.9: "Skip if coverage_hash was already published by this
// worker").
func (s *Synchronizer) Publish(data []byte, coverageHash uint64) error {
	s.mu.Lock()
	if s.published[coverageHash] {
		s.mu.Unlock()
		return nil
	}
	s.published[coverageHash] = true
	s.mu.Unlock()

	inputHash := contentHash(data)
	cov8 := fmt.Sprintf("%08x", uint32(coverageHash))
	name := "id_" + inputHash + "_" + cov8

	tmp, err := os.CreateTemp(s.ownQueue, ".tmp-publish-")
	if err != nil {
		return errors.Wrap(err, "distsync: create temp publish file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "distsync: write publish payload")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "distsync: close publish payload")
	}
	dest := filepath.Join(s.ownQueue, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "distsync: publish rename")
	}
	return nil
}

func contentHash(data []byte) string {
	sum := sha256simd.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// ImportNew scans peer queue directories for entries newer than
// sinceUnixNano (strict >), per spec.md §4.9.
func (s *Synchronizer) ImportNew(sinceUnixNano int64) []driver.SyncedInput {
	peers, err := s.peersDirs()
	if err != nil {
		return nil
	}
	var out []driver.SyncedInput
	for _, dir := range peers {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if ent.IsDir() || strings.HasPrefix(ent.Name(), ".tmp-publish-") {
				continue
			}
			info, err := ent.Info()
			if err != nil {
				continue
			}
			mtime := info.ModTime().UnixNano()
			if mtime <= sinceUnixNano {
				continue
			}
			path := filepath.Join(dir, ent.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			_, covHash := parseFilename(ent.Name())
			out = append(out, driver.SyncedInput{
				Data:         data,
				CoverageHash: covHash,
				Source:       filepath.Base(filepath.Dir(dir)),
				Timestamp:    mtime,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// parseFilename tolerates zero, one, two, three, or more underscore
// segments in a queue filename, per spec.md §4.9's filename
// discipline. Fewer than three parts yields an empty coverage_hash.
func parseFilename(name string) (inputHash string, coverageHash uint64) {
	parts := strings.Split(name, "_")
	if len(parts) < 3 {
		return name, 0
	}
	// parts[0] is the "id" literal; parts[1] is the input hash segment
	// (itself tolerant of embedded underscores handled by taking
	// everything up to the last segment); the final segment is the
	// coverage hash.
	last := parts[len(parts)-1]
	inputHash = strings.Join(parts[1:len(parts)-1], "_")
	cov, err := strconv.ParseUint(last, 16, 32)
	if err != nil {
		return inputHash, 0
	}
	return inputHash, cov
}

func (s *Synchronizer) listPeerQueues() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrap(err, "distsync: list sync root")
	}
	self := workerDirName(s.workerID)
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == self {
			continue
		}
		dirs = append(dirs, filepath.Join(s.root, e.Name(), queueDirName))
	}
	return dirs, nil
}

// Cleanup removes this worker's queue directory on shutdown, per
// spec.md §4.9's cleanup().
func (s *Synchronizer) Cleanup() error {
	return errors.Wrap(os.RemoveAll(filepath.Join(s.root, workerDirName(s.workerID))), "distsync: cleanup")
}
