// Package supervisor implements the Supervisor (spec.md §4.10,
// component C10): spawning N worker processes, collecting their
// stats, and enforcing the campaign's duration and shutdown contract.
//
// Grounded on go-fuzz/main.go's shutdown-context + SIGINT handling
// (context.WithCancel cancelled from a signal goroutine, a bounded
// grace period before cleanup) and go-fuzz/coordinator.go's
// RPC-driven stats aggregation, generalized from "goroutine workers
// talking RPC to an in-process coordinator" to "OS-process workers
// self-re-exec'd and polled via a stats channel", per spec.md §5's
// explicit process-per-worker requirement.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// statsChanCapacity bounds the non-blocking stats channel spec.md
// §4.10 calls for; a full channel drops the oldest snapshot rather
// than blocking a worker (spec.md §9's multiprocessing.Queue design
// note: "losing a snapshot is acceptable").
const statsChanCapacity = 64

// inactivityThreshold flags a worker that has reported no stats in
// this long, per spec.md §6's 10s default.
const inactivityThreshold = 10 * time.Second

// softStopGrace is how long a worker gets to exit after SIGTERM
// before the Supervisor escalates to SIGKILL.
const softStopGrace = 5 * time.Second

// Config bounds one supervised campaign run.
type Config struct {
	WorkerCount int
	SelfPath    string        // path to this binary, for self-re-exec
	BaseArgs    []string      // flags common to every worker (target argv, timeout, etc.)
	Duration    time.Duration // 0 means run until interrupted
	SharedDir   string        // sync root; created if empty
}

// WorkerStats is one worker's self-reported snapshot, read from its
// stdout by the Supervisor's per-worker reader goroutine.
type WorkerStats struct {
	WorkerID   int
	Execs      uint64
	Crashes    uint64
	ReceivedAt time.Time
}

// Supervisor owns the campaign's shared directory and worker
// processes for its lifetime.
type Supervisor struct {
	cfg Config
	log *logrus.Logger

	statsCh chan WorkerStats

	mu       sync.Mutex
	lastSeen map[int]time.Time
}

// New returns a Supervisor. If cfg.SharedDir is empty, a temporary
// directory is created and owned by this Supervisor.
func New(cfg Config, log *logrus.Logger) (*Supervisor, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.SharedDir == "" {
		dir, err := os.MkdirTemp("", "protocrash-campaign-")
		if err != nil {
			return nil, errors.Wrap(err, "supervisor: create shared directory")
		}
		cfg.SharedDir = dir
	}
	return &Supervisor{
		cfg:      cfg,
		log:      log,
		statsCh:  make(chan WorkerStats, statsChanCapacity),
		lastSeen: make(map[int]time.Time),
	}, nil
}

// Stats exposes the non-blocking stats channel workers report on.
func (s *Supervisor) Stats() <-chan WorkerStats { return s.statsCh }

// publish is a drop-oldest send: if the channel is full, the oldest
// pending snapshot is discarded to make room, matching spec.md §9's
// "losing a snapshot is acceptable" design note.
func (s *Supervisor) publish(ws WorkerStats) {
	s.mu.Lock()
	s.lastSeen[ws.WorkerID] = ws.ReceivedAt
	s.mu.Unlock()

	select {
	case s.statsCh <- ws:
	default:
		select {
		case <-s.statsCh:
		default:
		}
		select {
		case s.statsCh <- ws:
		default:
		}
	}
}

// Run spawns cfg.WorkerCount self-re-exec'd worker processes, waits
// for cfg.Duration (or an interrupt) and then tears everything down:
// soft signal, bounded grace period, force-kill, remove shared
// directory.
func (s *Supervisor) Run(ctx context.Context) error {
	defer os.RemoveAll(s.cfg.SharedDir)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			s.log.Info("interrupt received, stopping workers")
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.cfg.Duration > 0 {
		go func() {
			select {
			case <-time.After(s.cfg.Duration):
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.WorkerCount; i++ {
		workerID := i
		group.Go(func() error {
			return s.runWorker(gctx, workerID)
		})
	}

	go s.watchInactivity(ctx)

	return group.Wait()
}

// runWorker spawns one self-re-exec'd worker and manages its
// lifecycle: soft-stop on context cancellation, hard-kill after
// softStopGrace. The worker's stdout carries newline-delimited JSON
// stats snapshots, read by a dedicated goroutine and forwarded to the
// Supervisor's stats channel.
func (s *Supervisor) runWorker(ctx context.Context, workerID int) error {
	args := append(append([]string(nil), s.cfg.BaseArgs...),
		"-worker-id", strconv.Itoa(workerID),
		"-sync-root", s.cfg.SharedDir,
	)
	cmd := exec.Command(s.cfg.SelfPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrapf(err, "supervisor: stdout pipe for worker %d", workerID)
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "supervisor: start worker %d", workerID)
	}
	s.mu.Lock()
	s.lastSeen[workerID] = time.Now()
	s.mu.Unlock()

	go s.readWorkerStats(workerID, stdout)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(softStopGrace):
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-done
		}
		return nil
	}
}

// readWorkerStats decodes one JSON WorkerStats payload per line from
// a worker's stdout until it closes.
func (s *Supervisor) readWorkerStats(workerID int, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var ws WorkerStats
		if err := json.Unmarshal(scanner.Bytes(), &ws); err != nil {
			continue
		}
		ws.WorkerID = workerID
		ws.ReceivedAt = time.Now()
		s.publish(ws)
	}
}

// watchInactivity periodically logs workers that haven't reported
// stats within inactivityThreshold, per spec.md §6.
func (s *Supervisor) watchInactivity(ctx context.Context) {
	ticker := time.NewTicker(inactivityThreshold / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, t := range s.lastSeen {
				if now.Sub(t) > inactivityThreshold {
					s.log.WithField("worker_id", id).Warn("worker has not reported stats recently")
				}
			}
			s.mu.Unlock()
		}
	}
}
