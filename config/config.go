// Package config implements the campaign configuration surface of
// spec.md §6: the option table every component reads its knobs from,
// with documented defaults and validation.
//
// Grounded on go-fuzz/main.go's flag-based option set (flagWorkdir,
// flagTimeout, flagMinimize, ...), generalized into a struct so a
// campaign can be described once and handed to flag.Var bindings, a
// YAML file (via gopkg.in/yaml.v2, present in the wider example
// pack), or both.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Defaults per spec.md §6.
const (
	DefaultTimeoutMS        = 5000
	DefaultMemoryLimitBytes = int64(1) << 30
	DefaultWorkers          = 1
	DefaultSyncIntervalS    = 5
)

// Config mirrors spec.md §6's "Configuration options the core
// recognizes" table.
//
// MinimizeCrashes and Sanitizers are *bool rather than bool: both
// default to true per spec.md §6, and a plain bool's zero value
// (false) would be indistinguishable from an explicit "disable this"
// in a YAML file that omits the key entirely.
type Config struct {
	Argv             []string `yaml:"argv"`
	SeedsDir         string   `yaml:"seeds_dir"`
	CrashDir         string   `yaml:"crash_dir"`
	CorpusDir        string   `yaml:"corpus_dir"`
	TimeoutMS        int      `yaml:"timeout_ms"`
	MemoryLimitBytes int64    `yaml:"memory_limit_bytes"`
	MaxExecutions    uint64   `yaml:"max_executions"`
	MaxDurationS     uint64   `yaml:"max_duration_s"`
	Workers          int      `yaml:"workers"`
	SyncIntervalS    int      `yaml:"sync_interval_s"`
	MinimizeCrashes  *bool    `yaml:"minimize_crashes"`
	Sanitizers       *bool    `yaml:"sanitizers"`
	SyncRoot         string   `yaml:"sync_root"`
	Protocol         string   `yaml:"protocol"` // "", "http", "dns", "smtp", or "custom"
	GrammarPath      string   `yaml:"grammar_path"`
	MetricsAddr      string   `yaml:"metrics_addr"` // "" disables the /metrics listener
}

// Load reads a YAML config file and applies defaults to any field the
// file left at its zero value.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "config: read file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: parse yaml")
	}
	cfg.WithDefaults()
	return cfg, nil
}

// WithDefaults fills in zero-valued optional fields with spec.md §6's
// documented defaults. Required fields (Argv, CorpusDir, CrashDir)
// are left untouched; Validate rejects them if still empty.
func (c *Config) WithDefaults() {
	if c.TimeoutMS == 0 {
		c.TimeoutMS = DefaultTimeoutMS
	}
	if c.MemoryLimitBytes == 0 {
		c.MemoryLimitBytes = DefaultMemoryLimitBytes
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.SyncIntervalS == 0 {
		c.SyncIntervalS = DefaultSyncIntervalS
	}
	if c.SyncRoot == "" {
		c.SyncRoot = os.TempDir()
	}
	if c.MinimizeCrashes == nil {
		c.MinimizeCrashes = boolPtr(true)
	}
	if c.Sanitizers == nil {
		c.Sanitizers = boolPtr(true)
	}
}

func boolPtr(v bool) *bool { return &v }

// ShouldMinimizeCrashes reports whether crash minimization is enabled,
// defaulting to true if WithDefaults has not yet run.
func (c Config) ShouldMinimizeCrashes() bool {
	return c.MinimizeCrashes == nil || *c.MinimizeCrashes
}

// SanitizersEnabled reports whether sanitizer environment variables
// should be set, defaulting to true if WithDefaults has not yet run.
func (c Config) SanitizersEnabled() bool {
	return c.Sanitizers == nil || *c.Sanitizers
}

// Validate reports the first configuration error found, per the
// required fields spec.md §6 implies (argv, corpus_dir and crash_dir
// must be set; seeds_dir is optional and everything else has a default).
func (c Config) Validate() error {
	if len(c.Argv) == 0 {
		return errors.New("config: argv must not be empty")
	}
	if c.CorpusDir == "" {
		return errors.New("config: corpus_dir must be set")
	}
	if c.CrashDir == "" {
		return errors.New("config: crash_dir must be set")
	}
	if c.TimeoutMS <= 0 {
		return errors.New("config: timeout_ms must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Protocol != "" {
		switch c.Protocol {
		case "http", "dns", "smtp", "custom":
		default:
			return errors.Errorf("config: unknown protocol %q", c.Protocol)
		}
		if c.Protocol == "custom" && c.GrammarPath == "" {
			return errors.New("config: grammar_path required when protocol is \"custom\"")
		}
	}
	return nil
}

// SyncInterval returns sync_interval_s as a time.Duration for driver
// wiring.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalS) * time.Second
}

// MaxDuration returns max_duration_s as a time.Duration; zero means
// unbounded.
func (c Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationS) * time.Second
}

// SanitizerEnv returns the environment overrides spec.md §6 specifies
// when sanitizers are enabled.
func (c Config) SanitizerEnv() []string {
	if !c.SanitizersEnabled() {
		return nil
	}
	return []string{
		"ASAN_OPTIONS=abort_on_error=1:detect_leaks=0",
		"MSAN_OPTIONS=abort_on_error=1",
		"UBSAN_OPTIONS=abort_on_error=1",
	}
}
