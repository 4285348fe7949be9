// Command protocrash is the CLI front-end wiring config.Config to the
// Supervisor (multi-process mode) or directly to a single Driver
// (worker mode, entered via self-re-exec with -worker-id set).
//
// Grounded on go-fuzz/main.go's flag.Parse + shutdown-context
// bootstrapping, replacing its single in-process coordinator with a
// Supervisor/worker split per spec.md §5.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"protocrash/config"
	"protocrash/corpus"
	"protocrash/coverage"
	"protocrash/crash"
	"protocrash/distsync"
	"protocrash/driver"
	"protocrash/execution"
	"protocrash/metrics"
	"protocrash/minimize"
	"protocrash/mutate"
	"protocrash/schedule"
	"protocrash/supervisor"
)

var (
	flagConfig     = flag.String("config", "", "path to a YAML campaign config")
	flagArgv       = flag.String("target", "", "target argv, e.g. \"/usr/bin/target @@\"")
	flagCorpusDir  = flag.String("corpus", "", "corpus directory")
	flagCrashDir   = flag.String("crashes", "", "crash store directory")
	flagSeedsDir   = flag.String("seeds", "", "seed corpus directory")
	flagWorkers    = flag.Int("workers", 0, "worker process count (default from config, else 1)")
	flagDurationS  = flag.Int("duration", 0, "campaign duration in seconds (0 = unbounded)")
	flagTimeoutMS  = flag.Int("timeout-ms", 0, "per-execution timeout in milliseconds")
	flagProtocol   = flag.String("protocol", "", "protocol-aware mutation target: http, dns, smtp, custom")
	flagGrammar    = flag.String("grammar-path", "", "YAML grammar file, required when -protocol=custom")
	flagWorkerID   = flag.Int("worker-id", -1, "internal: run as worker N instead of supervisor")
	flagSyncRoot   = flag.String("sync-root", "", "internal: shared sync directory (worker mode)")
)

func main() {
	flag.Parse()
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	if *flagWorkerID >= 0 {
		if err := runWorker(cfg, *flagWorkerID, *flagSyncRoot, log); err != nil {
			log.WithError(err).Fatal("worker exited with error")
		}
		return
	}

	if err := runSupervisor(cfg, log); err != nil {
		log.WithError(err).Fatal("campaign failed")
	}
}

func loadConfig() (config.Config, error) {
	var cfg config.Config
	if *flagConfig != "" {
		loaded, err := config.Load(*flagConfig)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if *flagArgv != "" {
		cfg.Argv = strings.Fields(*flagArgv)
	}
	if *flagCorpusDir != "" {
		cfg.CorpusDir = *flagCorpusDir
	}
	if *flagCrashDir != "" {
		cfg.CrashDir = *flagCrashDir
	}
	if *flagSeedsDir != "" {
		cfg.SeedsDir = *flagSeedsDir
	}
	if *flagWorkers > 0 {
		cfg.Workers = *flagWorkers
	}
	if *flagDurationS > 0 {
		cfg.MaxDurationS = uint64(*flagDurationS)
	}
	if *flagTimeoutMS > 0 {
		cfg.TimeoutMS = *flagTimeoutMS
	}
	if *flagProtocol != "" {
		cfg.Protocol = *flagProtocol
	}
	if *flagGrammar != "" {
		cfg.GrammarPath = *flagGrammar
	}
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// runSupervisor spawns cfg.Workers self-re-exec'd workers and blocks
// until the campaign's duration elapses or it is interrupted.
func runSupervisor(cfg config.Config, log *logrus.Logger) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	baseArgs := []string{
		"-target", strings.Join(cfg.Argv, " "),
		"-corpus", cfg.CorpusDir,
		"-crashes", cfg.CrashDir,
		"-seeds", cfg.SeedsDir,
		"-timeout-ms", itoa(cfg.TimeoutMS),
		"-protocol", cfg.Protocol,
		"-grammar-path", cfg.GrammarPath,
	}

	sup, err := supervisor.New(supervisor.Config{
		WorkerCount: cfg.Workers,
		SelfPath:    self,
		BaseArgs:    baseArgs,
		Duration:    cfg.MaxDuration(),
		SharedDir:   cfg.SyncRoot,
	}, log)
	if err != nil {
		return err
	}

	var mtr *metrics.Metrics
	if cfg.MetricsAddr != "" {
		mtr = metrics.New()
		go func() {
			if err := mtr.ListenAndServe(cfg.MetricsAddr); err != nil {
				log.WithError(err).Warn("metrics listener exited")
			}
		}()
	}

	go func() {
		lastExecs := map[int]uint64{}
		lastCrashes := map[int]uint64{}
		for ws := range sup.Stats() {
			log.WithFields(logrus.Fields{
				"worker_id": ws.WorkerID,
				"execs":     ws.Execs,
				"crashes":   ws.Crashes,
			}).Info("worker stats")
			if mtr != nil {
				execsDelta := ws.Execs - lastExecs[ws.WorkerID]
				crashesDelta := ws.Crashes - lastCrashes[ws.WorkerID]
				lastExecs[ws.WorkerID] = ws.Execs
				lastCrashes[ws.WorkerID] = ws.Crashes
				mtr.Observe(execsDelta, crashesDelta, 0, 0, 0)
			}
		}
	}()

	return sup.Run(context.Background())
}

// runWorker builds and runs a single Driver to completion, emitting a
// JSON stats line to stdout once per second so the Supervisor's stdout
// reader can forward it.
func runWorker(cfg config.Config, workerID int, syncRoot string, log *logrus.Logger) error {
	corpusDir := filepath.Join(cfg.CorpusDir, fmt.Sprintf("worker_%d", workerID))
	store, err := corpus.Open(corpusDir)
	if err != nil {
		return err
	}
	if store.Size() == 0 && cfg.SeedsDir != "" {
		if err := seedCorpus(store, cfg.SeedsDir); err != nil {
			log.WithError(err).Warn("failed to load seed corpus")
		}
	}

	sched := schedule.New(store, 1.0)
	it := store.IterEntries()
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		sched.Add(e.ID)
	}

	weights := mutate.NewWeights(rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID))))
	dict := mutate.DictionaryFor(cfg.Protocol)
	engine := mutate.NewEngine(weights, dict)
	protocol, err := mutate.ProtocolFor(cfg.Protocol, cfg.GrammarPath)
	if err != nil {
		return err
	}
	cov := coverage.New()
	exec := execution.NewExecutor(cfg.Argv, int(cfg.MemoryLimitBytes/(1<<20)))
	exec.ExtraEnv = cfg.SanitizerEnv()

	var sync driver.Synchronizer
	if syncRoot != "" {
		s, err := distsync.Open(syncRoot, workerID)
		if err != nil {
			log.WithError(err).Warn("synchronizer unavailable, running solo")
		} else {
			sync = s
			defer s.Cleanup()
		}
	}

	var minifier func(argv []string, input []byte, hash string) ([]byte, bool)
	if cfg.ShouldMinimizeCrashes() {
		minifier = func(argv []string, input []byte, hash string) ([]byte, bool) {
			tester := minimize.ExecutorTester(exec, cfg.TimeoutMS,
				func(res execution.Result) bool { return crash.IsCrash(res) },
				func(res execution.Result, candidate []byte) string {
					stack := crash.ParseStack(res.Stderr)
					return crash.DedupHash(crash.Classify(res), res.Signal, stack, res.Stderr)
				}, hash)
			result := minimize.Run(input, tester, minimize.DefaultBudget)
			return result.Data, true
		}
	}
	detector, err := crash.NewDetector(cfg.CrashDir, log, minifier)
	if err != nil {
		return err
	}

	d := driver.New(driver.Config{
		Argv:       cfg.Argv,
		TimeoutMS:  cfg.TimeoutMS,
		MaxExecs:   cfg.MaxExecutions,
		MaxWall:    cfg.MaxDuration(),
		SyncPeriod: cfg.SyncInterval(),
		Protocol:   protocol,
	}, store, sched, engine, cov, exec, detector, sync, log)

	statsDone := make(chan struct{})
	go reportStatsPeriodically(d, statsDone)
	defer close(statsDone)

	_, err = d.Run()
	return err
}

func reportStatsPeriodically(d *driver.Driver, done chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s := d.Stats().Snapshot()
			line, err := json.Marshal(map[string]uint64{
				"execs":   s.Execs,
				"crashes": s.Crashes,
			})
			if err == nil {
				fmt.Println(string(line))
			}
		}
	}
}

func seedCorpus(store *corpus.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		store.Add(data, 0, "")
	}
	return nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
