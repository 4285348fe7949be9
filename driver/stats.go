package driver

import (
	"sync/atomic"
	"time"
)

// Stats is the snapshot a driver publishes periodically. Grounded on
// go-fuzz/worker.go's Stats accumulator (exec/crash/restart counters
// read with atomics from a periodic reporter), generalized with the
// coverage and corpus counters spec.md's stats.record(result,
// new_cov) step needs.
type Stats struct {
	Execs      uint64
	Crashes    uint64
	Hangs      uint64
	NewCov     uint64
	CorpusSize uint64
	EdgesFound uint64
	StartedAt  int64
}

// record is the atomic-counter mirror of the Fuzz Driver loop's
// "stats.record(result, new_cov)" step.
func (s *Stats) record(crashed, hang, newCov bool) {
	atomic.AddUint64(&s.Execs, 1)
	if crashed {
		atomic.AddUint64(&s.Crashes, 1)
	}
	if hang {
		atomic.AddUint64(&s.Hangs, 1)
	}
	if newCov {
		atomic.AddUint64(&s.NewCov, 1)
	}
}

// Snapshot returns a point-in-time copy safe to send over a channel.
func (s *Stats) Snapshot() Stats {
	return Stats{
		Execs:      atomic.LoadUint64(&s.Execs),
		Crashes:    atomic.LoadUint64(&s.Crashes),
		Hangs:      atomic.LoadUint64(&s.Hangs),
		NewCov:     atomic.LoadUint64(&s.NewCov),
		CorpusSize: atomic.LoadUint64(&s.CorpusSize),
		EdgesFound: atomic.LoadUint64(&s.EdgesFound),
		StartedAt:  s.StartedAt,
	}
}

// Uptime reports how long this driver has been running.
func (s *Stats) Uptime() time.Duration {
	return time.Since(time.Unix(0, s.StartedAt))
}
