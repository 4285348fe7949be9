// Package metrics implements the Observability surface SPEC_FULL.md
// adds on top of spec.md's Stats record: Prometheus counters/gauges
// for the campaign-level numbers an operator would dashboard, plus an
// optional HTTP listener.
//
// The retrieved example pack pulls in github.com/prometheus/client_golang
// only as an indirect dependency (no repo in the pack instantiates a
// registry directly), so this package follows the library's own
// documented usage rather than an in-pack precedent; see DESIGN.md.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the campaign-wide Prometheus collectors described in
// SPEC_FULL.md's Observability section.
type Metrics struct {
	ExecutionsTotal prometheus.Counter
	CrashesTotal    prometheus.Counter
	HangsTotal      prometheus.Counter
	CorpusSize      prometheus.Gauge
	CoverageEdges   prometheus.Gauge

	registry *prometheus.Registry
}

// New registers a fresh set of collectors on a private registry (not
// the global default) so multiple campaigns in one process, or tests,
// never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protocrash_executions_total",
			Help: "Total number of target executions across all workers.",
		}),
		CrashesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protocrash_crashes_total",
			Help: "Total number of crashing executions reported by workers.",
		}),
		HangsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protocrash_hangs_total",
			Help: "Total number of executions that timed out.",
		}),
		CorpusSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "protocrash_corpus_size",
			Help: "Current number of entries in the corpus store.",
		}),
		CoverageEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "protocrash_coverage_edges",
			Help: "Cumulative number of distinct edges promoted into the virgin map.",
		}),
		registry: reg,
	}
	reg.MustRegister(m.ExecutionsTotal, m.CrashesTotal, m.HangsTotal, m.CorpusSize, m.CoverageEdges)
	return m
}

// Handler returns the promhttp handler for this Metrics' private
// registry, suitable for mounting at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ListenAndServe starts a minimal HTTP server exposing /metrics on
// addr. It blocks; callers typically run it in its own goroutine.
func (m *Metrics) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

// Observe folds one driver.Stats-shaped delta into the collectors.
// Called by the supervisor each time it drains a worker snapshot;
// execs/crashes/hangs deltas are cumulative counters so callers must
// pass the increment since the last observation, not the running
// total.
func (m *Metrics) Observe(execsDelta, crashesDelta, hangsDelta uint64, corpusSize, coverageEdges uint64) {
	m.ExecutionsTotal.Add(float64(execsDelta))
	m.CrashesTotal.Add(float64(crashesDelta))
	m.HangsTotal.Add(float64(hangsDelta))
	m.CorpusSize.Set(float64(corpusSize))
	m.CoverageEdges.Set(float64(coverageEdges))
}
