package crash

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"protocrash/execution"
)

// stderrTailLimit bounds how much stderr feeds the dedup hash and the
// persisted record, mirroring execution.maxOutputBytes's "cap chatty
// output" rationale one layer up.
const stderrTailLimit = 64 * 1024

// record is the on-disk JSON shape for a persisted crash. Field names
// and the first_seen/last_seen ISO-8601 UTC encoding are bit-exact to
// spec.md §6's "Crash record JSON (bit-exact field names)".
type record struct {
	CrashHash      string         `json:"crash_hash"`
	BucketID       BucketID       `json:"bucket_id"`
	CrashType      Kind           `json:"crash_type"`
	Exploitability Exploitability `json:"exploitability"`
	SignalNumber   *int           `json:"signal_number"`
	ExitCode       int            `json:"exit_code"`
	FirstSeen      string         `json:"first_seen"`
	LastSeen       string         `json:"last_seen"`
	Count          int            `json:"count"`
	InputSize      int            `json:"input_size"`
	MinimizedSize  *int           `json:"minimized_size"`
	StackTrace     []Frame        `json:"stack_trace"`
	StderrTail     string         `json:"stderr_tail"`
}

func isoUTC(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

// Detector runs the observed→deduped→classified→minimized→persisted
// pipeline of spec.md §4.6.5 and owns the on-disk crash store.
//
// Grounded on bradleyjkemp-simple-fuzz's go-fuzz/worker.go crash
// handling (triage, suppression extraction, writing to a crashers
// directory), generalized to arbitrary native targets and enriched
// with the dedup/exploitability/bucket machinery spec.md adds.
type Detector struct {
	dir    string
	log    *logrus.Logger
	minify func(argv []string, input []byte, hash string) ([]byte, bool)

	mu     sync.Mutex
	byHash map[string]*Report
}

// NewDetector opens (creating if absent) a crash store rooted at dir.
// minify is called during the classified→minimized transition; pass
// nil to skip minimization entirely; the crash is still persisted.
func NewDetector(dir string, log *logrus.Logger, minify func(argv []string, input []byte, hash string) ([]byte, bool)) (*Detector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "crash: create crash store dir")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Detector{dir: dir, log: log, minify: minify, byHash: map[string]*Report{}}, nil
}

// Observe runs one execution result through the full pipeline. It
// returns the Report and whether this was a newly-seen hash (as
// opposed to a repeat incrementing an existing count).
func (d *Detector) Observe(argv []string, input []byte, res execution.Result, nowUnix int64) (*Report, bool, error) {
	kind := Classify(res)
	if kind == KindNone {
		return nil, false, nil
	}

	stderrTail := res.Stderr
	if len(stderrTail) > stderrTailLimit {
		stderrTail = stderrTail[len(stderrTail)-stderrTailLimit:]
	}
	stack := ParseStack(stderrTail)
	signal := signalForKind(kind, res)
	hash := DedupHash(kind, signal, stack, stderrTail)

	d.mu.Lock()
	if existing, ok := d.byHash[hash]; ok {
		existing.Count++
		existing.LastSeen = nowUnix
		d.mu.Unlock()
		// spec.md §4.6's merge rule ("count increments and last_seen
		// advances") applies to the on-disk record too; only one JSON
		// file per crash_hash ever exists, so this overwrites it in place.
		if err := d.updateRecord(existing); err != nil {
			d.log.WithError(err).Warn("failed to update crash record on repeat")
		}
		return existing, false, nil
	}
	d.mu.Unlock()

	rpt := &Report{
		Kind:           kind,
		Signal:         signal,
		ExitCode:       res.ExitCode,
		Exploitability: Rate(kind, stderrTail),
		Bucket:         MakeBucketID(kind, signal),
		Hash:           hash,
		Stack:          stack.Top(stack.Len()),
		StderrTail:     stderrTail,
		Input:          append([]byte(nil), input...),
		Count:          1,
		FirstSeen:      nowUnix,
		LastSeen:       nowUnix,
	}

	if d.minify != nil {
		if reduced, ok := d.minify(argv, input, hash); ok {
			rpt.MinimizedInput = reduced
		}
		rpt.Minimized = true
	}

	if err := d.persist(rpt); err != nil {
		return rpt, true, err
	}
	rpt.Persisted = true

	d.mu.Lock()
	d.byHash[hash] = rpt
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"kind":           rpt.Kind,
		"hash":           rpt.Hash,
		"exploitability": rpt.Exploitability,
		"bucket":         rpt.Bucket,
	}).Warn("crash persisted")
	return rpt, true, nil
}

// persist writes the pre-minimization input, the minimized input (if
// any), the stderr tail (snappy-compressed above stderrTailLimit/4),
// and the JSON record for a newly-deduped crash, per spec.md §6's
// on-disk crash layout.
func (d *Detector) persist(rpt *Report) error {
	base := filepath.Join(d.dir, rpt.Hash)
	if err := os.WriteFile(base+".input", rpt.Input, 0o644); err != nil {
		return errors.Wrap(err, "crash: write input")
	}
	if rpt.Minimized && rpt.MinimizedInput != nil {
		if err := os.WriteFile(base+".min", rpt.MinimizedInput, 0o644); err != nil {
			return errors.Wrap(err, "crash: write minimized input")
		}
	}

	stderrBytes := rpt.StderrTail
	compressed := false
	if len(stderrBytes) > stderrTailLimit/4 {
		stderrBytes = snappy.Encode(nil, stderrBytes)
		compressed = true
	}
	stderrPath := base + ".stderr"
	if compressed {
		stderrPath += ".snappy"
	}
	if err := os.WriteFile(stderrPath, stderrBytes, 0o644); err != nil {
		return errors.Wrap(err, "crash: write stderr tail")
	}

	return d.updateRecord(rpt)
}

// updateRecord (re)writes only the JSON record for rpt, without
// touching the input/stderr sidecar files. Used both for the initial
// persist and for refreshing count/last_seen on a deduped repeat,
// since spec.md §4.6 requires exactly one JSON file per crash_hash.
func (d *Detector) updateRecord(rpt *Report) error {
	base := filepath.Join(d.dir, rpt.Hash)

	var signalNumber *int
	if rpt.Signal != 0 {
		s := rpt.Signal
		signalNumber = &s
	}
	var minimizedSize *int
	if rpt.Minimized && rpt.MinimizedInput != nil {
		n := len(rpt.MinimizedInput)
		minimizedSize = &n
	}

	rec := record{
		CrashHash:      rpt.Hash,
		BucketID:       rpt.Bucket,
		CrashType:      rpt.Kind,
		Exploitability: rpt.Exploitability,
		SignalNumber:   signalNumber,
		ExitCode:       rpt.ExitCode,
		FirstSeen:      isoUTC(rpt.FirstSeen),
		LastSeen:       isoUTC(rpt.LastSeen),
		Count:          rpt.Count,
		InputSize:      len(rpt.Input),
		MinimizedSize:  minimizedSize,
		StackTrace:     rpt.Stack,
		StderrTail:     string(rpt.StderrTail),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "crash: marshal record")
	}
	if err := os.WriteFile(base+".json", data, 0o644); err != nil {
		return errors.Wrap(err, "crash: write record")
	}
	return nil
}

// ByBucket indexes known reports by bucket for reporting purposes
// only; it plays no part in dedup.
func (d *Detector) ByBucket() map[BucketID][]*Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[BucketID][]*Report{}
	for _, r := range d.byHash {
		out[r.Bucket] = append(out[r.Bucket], r)
	}
	return out
}

// Count returns the number of distinct crash hashes seen.
func (d *Detector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byHash)
}
