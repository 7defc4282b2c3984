// Package config resolves the runtime tunables named in spec.md §4.11's
// environment-infrastructure stage: mailbox capacities, default per-type
// message-limit capacity, dispatcher worker counts, and trace-sink
// addresses. Precedence, low to high: built-in defaults, an optional YAML
// file, then environment variables — matching the teacher's own
// defaults-then-env-overrides Load() shape, generalised with a YAML layer
// in between per the newer dependency pack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMailboxCapacity sizes the buffer of the environment's default
	// dispatcher queue.
	DefaultMailboxCapacity = 256
	// DefaultDispatcherWorkers is the default for Config.DispatcherWorkers;
	// nothing outside this package reads that value.
	DefaultDispatcherWorkers = 4
	// DefaultLimitCapacity is the default for Config.DefaultLimitCapacity.
	// It is not applied to agents' limit registries: a type with no
	// SetLimit call has no quota.
	DefaultLimitCapacity = 1000
	// DefaultTraceSinkAddr disables message-tracing export by default.
	DefaultTraceSinkAddr = ""

	DefaultLogLevel      = "info"
	DefaultLogPath       = "actorcore.log"
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 10
	DefaultLogMaxAgeDays = 7
	DefaultLogCompress   = true
)

// LoggingConfig captures structured-logging configuration, per spec.md
// §4.12.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config captures every runtime tunable the environment resolves at
// construction time.
type Config struct {
	MailboxCapacity    int
	DispatcherWorkers  int
	DefaultLimitCapacity int
	TraceSinkAddr      string
	Logging            LoggingConfig
}

func defaults() *Config {
	return &Config{
		MailboxCapacity:      DefaultMailboxCapacity,
		DispatcherWorkers:    DefaultDispatcherWorkers,
		DefaultLimitCapacity: DefaultLimitCapacity,
		TraceSinkAddr:        DefaultTraceSinkAddr,
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}
}

// fileConfig mirrors Config but with pointer fields, so a YAML document
// that only sets a few keys leaves the rest at their already-resolved
// defaults rather than zeroing them out.
type fileConfig struct {
	MailboxCapacity      *int    `yaml:"mailbox_capacity"`
	DispatcherWorkers    *int    `yaml:"dispatcher_workers"`
	DefaultLimitCapacity *int    `yaml:"default_limit_capacity"`
	TraceSinkAddr        *string `yaml:"trace_sink_addr"`
	Logging              *struct {
		Level      *string `yaml:"level"`
		Path       *string `yaml:"path"`
		MaxSizeMB  *int    `yaml:"max_size_mb"`
		MaxBackups *int    `yaml:"max_backups"`
		MaxAgeDays *int    `yaml:"max_age_days"`
		Compress   *bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// Load resolves configuration from defaults, an optional YAML file
// (yamlPath, falling back to ACTORCORE_CONFIG_FILE when empty), and
// environment variable overrides, in that order. A missing YAML file is
// not an error — only a present-but-invalid one is.
func Load(yamlPath string) (*Config, error) {
	cfg := defaults()

	if yamlPath == "" {
		yamlPath = strings.TrimSpace(os.Getenv("ACTORCORE_CONFIG_FILE"))
	}
	if yamlPath != "" {
		if err := applyYAMLFile(cfg, yamlPath); err != nil {
			return nil, err
		}
	}

	var problems []string
	applyEnvOverrides(cfg, &problems)
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.MailboxCapacity != nil {
		cfg.MailboxCapacity = *fc.MailboxCapacity
	}
	if fc.DispatcherWorkers != nil {
		cfg.DispatcherWorkers = *fc.DispatcherWorkers
	}
	if fc.DefaultLimitCapacity != nil {
		cfg.DefaultLimitCapacity = *fc.DefaultLimitCapacity
	}
	if fc.TraceSinkAddr != nil {
		cfg.TraceSinkAddr = *fc.TraceSinkAddr
	}
	if fc.Logging != nil {
		l := fc.Logging
		if l.Level != nil {
			cfg.Logging.Level = *l.Level
		}
		if l.Path != nil {
			cfg.Logging.Path = *l.Path
		}
		if l.MaxSizeMB != nil {
			cfg.Logging.MaxSizeMB = *l.MaxSizeMB
		}
		if l.MaxBackups != nil {
			cfg.Logging.MaxBackups = *l.MaxBackups
		}
		if l.MaxAgeDays != nil {
			cfg.Logging.MaxAgeDays = *l.MaxAgeDays
		}
		if l.Compress != nil {
			cfg.Logging.Compress = *l.Compress
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config, problems *[]string) {
	if raw := strings.TrimSpace(os.Getenv("ACTORCORE_MAILBOX_CAPACITY")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			*problems = append(*problems, fmt.Sprintf("ACTORCORE_MAILBOX_CAPACITY must be a positive integer, got %q", raw))
		} else {
			cfg.MailboxCapacity = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ACTORCORE_DISPATCHER_WORKERS")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			*problems = append(*problems, fmt.Sprintf("ACTORCORE_DISPATCHER_WORKERS must be a positive integer, got %q", raw))
		} else {
			cfg.DispatcherWorkers = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ACTORCORE_DEFAULT_LIMIT_CAPACITY")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			*problems = append(*problems, fmt.Sprintf("ACTORCORE_DEFAULT_LIMIT_CAPACITY must be a positive integer, got %q", raw))
		} else {
			cfg.DefaultLimitCapacity = v
		}
	}
	if raw, ok := os.LookupEnv("ACTORCORE_TRACE_SINK_ADDR"); ok {
		cfg.TraceSinkAddr = strings.TrimSpace(raw)
	}
	if raw := strings.TrimSpace(os.Getenv("ACTORCORE_LOG_LEVEL")); raw != "" {
		cfg.Logging.Level = raw
	}
	if raw := strings.TrimSpace(os.Getenv("ACTORCORE_LOG_PATH")); raw != "" {
		cfg.Logging.Path = raw
	}
	if raw := strings.TrimSpace(os.Getenv("ACTORCORE_LOG_MAX_SIZE_MB")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			*problems = append(*problems, fmt.Sprintf("ACTORCORE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ACTORCORE_LOG_MAX_BACKUPS")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			*problems = append(*problems, fmt.Sprintf("ACTORCORE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ACTORCORE_LOG_MAX_AGE_DAYS")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			*problems = append(*problems, fmt.Sprintf("ACTORCORE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ACTORCORE_LOG_COMPRESS")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			*problems = append(*problems, fmt.Sprintf("ACTORCORE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = v
		}
	}
}

// Watcher keeps a Config reloaded from its backing YAML file as that file
// changes on disk, per spec.md §4.13's "WatchFile" hot-reload mode. Each
// reload is fully validated before being swapped in atomically; a bad edit
// never replaces the last-good configuration.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchFile loads path once synchronously, then starts watching its
// containing directory for writes, reloading and re-validating on each
// one.
func WatchFile(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	w.current.Store(cfg)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			//1.- Debounce a burst of writes from a single save.
			time.Sleep(10 * time.Millisecond)
			if cfg, err := Load(w.path); err == nil {
				w.current.Store(cfg)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Current returns the most recently validated configuration.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Close stops the watcher goroutine and releases the underlying fsnotify
// handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
