// Package driver implements the Fuzz Driver (spec.md §4.8, component
// C8): the per-worker loop tying the Scheduler, Mutation Engine,
// Executor, Coverage Map, Crash Detector, Corpus Store, and
// Synchronizer together.
//
// Grounded on bradleyjkemp-simple-fuzz's go-fuzz/worker.go loop()
// (select-mutate-test-triage cycle with periodic sync), generalized
// from an in-process goroutine pool over a shared coordinator to a
// single self-contained worker process per spec.md §5's process-per-
// worker model.
package driver

import (
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"protocrash/corpus"
	"protocrash/coverage"
	"protocrash/crash"
	"protocrash/execution"
	"protocrash/mutate"
	"protocrash/schedule"
)

// Synchronizer is the narrow view of the Synchronizer (C9) the driver
// needs: publish a promoted mutant, and pull in whatever peers have
// published since the last tick.
type Synchronizer interface {
	Publish(data []byte, coverageHash uint64) error
	ImportNew(sinceUnixNano int64) []SyncedInput
}

// SyncedInput is what a Synchronizer hands back for each peer entry
// newer than the driver's last sync tick.
type SyncedInput struct {
	Data         []byte
	CoverageHash uint64
	Source       string
	Timestamp    int64
}

// Config bounds one driver run, per spec.md §4.8's should_stop().
type Config struct {
	Argv       []string
	TimeoutMS  int
	MaxExecs   uint64        // 0 means unbounded
	MaxWall    time.Duration // 0 means unbounded
	SyncPeriod time.Duration

	// Protocol feeds mutate.Context.Protocol for every step, enabling
	// StrategyProtocol (spec.md §4.2.5). Nil disables protocol-aware
	// field mutation entirely.
	Protocol mutate.Protocol
}

// Driver runs the canonical step loop of spec.md §4.8 for one worker.
type Driver struct {
	cfg      Config
	corpus   *corpus.Store
	sched    *schedule.Scheduler
	engine   *mutate.Engine
	cov      *coverage.Map
	exec     *execution.Executor
	detector *crash.Detector
	sync     Synchronizer
	log      *logrus.Logger
	stats    *Stats

	lastSync time.Time
	started  time.Time
	stopped  bool
}

// New wires a Driver from its components. sync may be nil to disable
// cross-worker synchronization entirely.
func New(cfg Config, store *corpus.Store, sched *schedule.Scheduler, engine *mutate.Engine, cov *coverage.Map, exec *execution.Executor, detector *crash.Detector, sync Synchronizer, log *logrus.Logger) *Driver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Driver{
		cfg:      cfg,
		corpus:   store,
		sched:    sched,
		engine:   engine,
		cov:      cov,
		exec:     exec,
		detector: detector,
		sync:     sync,
		log:      log,
		stats:    &Stats{StartedAt: time.Now().UnixNano()},
	}
}

// Stats returns the driver's live stats accumulator.
func (d *Driver) Stats() *Stats { return d.stats }

// Stop requests a graceful stop at the next loop check, per spec.md
// §4.8's "external signal" should_stop() condition.
func (d *Driver) Stop() { d.stopped = true }

// Run executes the canonical step loop until should_stop() is true,
// then performs the termination contract: one final sync_tick and a
// final stats snapshot.
func (d *Driver) Run() (Stats, error) {
	d.started = time.Now()
	d.lastSync = d.started

	for !d.shouldStop() {
		if err := d.step(); err != nil {
			return d.stats.Snapshot(), err
		}
		d.maybeSyncTick()
	}

	d.syncTick()
	return d.stats.Snapshot(), nil
}

func (d *Driver) shouldStop() bool {
	if d.stopped {
		return true
	}
	if d.cfg.MaxExecs > 0 && d.stats.Snapshot().Execs >= d.cfg.MaxExecs {
		return true
	}
	if d.cfg.MaxWall > 0 && time.Since(d.started) >= d.cfg.MaxWall {
		return true
	}
	return false
}

// step runs exactly one iteration of spec.md §4.8's canonical loop
// body.
func (d *Driver) step() error {
	entry, err := d.sched.Next()
	if err != nil {
		if stderrors.Is(err, schedule.ErrEmptyQueue) {
			// spec.md §9's second open question: an empty queue at
			// steady state is an impossibility, not a silent fallback.
			return errors.Wrap(err, "driver: scheduler queue empty mid-run")
		}
		return err
	}
	d.corpus.MarkSelected(entry.ID, time.Now())

	ctx := mutate.Context{Corpus: corpusAdapter{d.corpus}, SelfID: entry.ID, Protocol: d.cfg.Protocol}
	mutant, strategy := d.engine.Mutate(entry.Data, ctx)

	d.cov.Reset()
	result, err := d.exec.Execute(mutant, d.cfg.TimeoutMS)
	if err != nil {
		return errors.Wrap(err, "driver: execute target")
	}
	// A cooperating target's reported block ids feed the coverage map;
	// a target that never wrote to the shared channel leaves cov empty,
	// which HasNewCoverage correctly reports as false.
	for _, block := range result.CoverageBlocks {
		d.cov.Record(block)
	}

	newCov := d.cov.HasNewCoverage()

	crashed := crash.IsCrash(result)
	hang := crashed && crash.Classify(result) == crash.KindHang
	if crashed && d.detector != nil {
		if _, _, err := d.detector.Observe(d.cfg.Argv, mutant, result, time.Now().Unix()); err != nil {
			d.log.WithError(err).Warn("crash detector failed to persist report")
		}
	}

	if newCov {
		digest := d.cov.Digest()
		newEntry, err := d.corpus.Add(mutant, digest, entry.ID)
		if err == nil {
			d.sched.Add(newEntry.ID)
			edges := d.cov.Promote()
			d.corpus.SetNewEdges(newEntry.ID, edges)
			if d.sync != nil {
				if err := d.sync.Publish(mutant, digest); err != nil {
					d.log.WithError(err).Warn("publish to synchronizer failed")
				}
			}
		} else if !stderrors.Is(err, corpus.ErrDuplicate) {
			d.log.WithError(err).Warn("corpus admission failed")
		}
	}

	d.engine.Weights().Observe(strategy, newCov)
	d.stats.record(crashed, hang, newCov)
	d.stats.CorpusSize = uint64(d.corpus.Size())
	d.stats.EdgesFound = uint64(d.cov.TotalEdgesFound())
	return nil
}

func (d *Driver) maybeSyncTick() {
	if d.cfg.SyncPeriod <= 0 {
		return
	}
	if time.Since(d.lastSync) < d.cfg.SyncPeriod {
		return
	}
	d.syncTick()
}

// syncTick publishes nothing itself (publication happens inline on
// promotion); it only pulls in what peers have published, admitting
// anything the local corpus doesn't already have.
func (d *Driver) syncTick() {
	if d.sync == nil {
		d.lastSync = time.Now()
		return
	}
	since := d.lastSync.UnixNano()
	d.lastSync = time.Now()
	for _, in := range d.sync.ImportNew(since) {
		// A peer-imported entry has no local parent; it is seeded
		// straight into the scheduler as its own lineage root. Duplicate
		// imports are expected and silently dropped by content addressing.
		newEntry, err := d.corpus.AddSynced(in.Data, in.CoverageHash)
		if err == nil {
			d.sched.Add(newEntry.ID)
		}
	}
}
