// Package config loads the kernel's PolicyBundle-shaped YAML document and
// watches it for changes. Strict decoding is grounded on the teacher's
// sim/bundle.go LoadPolicyBundle (yaml.Decoder with KnownFields(true), error
// wrapping via fmt.Errorf("...: %w", err)). The hot-reload half is grounded
// on 99souls-ariadne's HotReloadSystem (packages/engine/config/runtime.go):
// watch the config file's directory rather than the file itself, diff
// checksums, and publish a change over a channel — adapted here to only ever
// swap the non-safety-critical fields (telemetry cadence, admin token
// rotation); admission bounds and deterministic budgets are read once at
// boot and never touched by the watcher, since the scheduler hot path must
// never observe a config value changing mid-tick.
package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// KernelConfig is the PolicyBundle-shaped document this kernel core loads at
// boot: admission bound, deterministic budgets, and control-plane token
// provisioning.
type KernelConfig struct {
	// AdmissionBoundPpm is spec.md's ADMISSION_BOUND_PPM: the parts-per-million
	// utilization ceiling the admission controller enforces.
	AdmissionBoundPpm uint64 `yaml:"admission_bound_ppm"`

	// TimerHz overrides the default ARM_TIMER_FREQ_HZ used to convert AI
	// cycle budgets to nanoseconds. Zero means "use the package default".
	TimerHz uint64 `yaml:"timer_hz"`

	// Deterministic holds a graph-wide CBS budget, checked by Validate. It is
	// not applied to any graph: a graph gets its budget from a
	// ConfigureDeterministic control frame.
	Deterministic DeterministicBudget `yaml:"deterministic"`

	// Token provisions the control-plane secret and the rights granted to
	// freshly minted tokens (see internal/kernel/ctlplane).
	Token TokenConfig `yaml:"token"`

	// TelemetryCadenceMs is how often the host harness should poll for
	// METRIC lines. Not safety-critical: eligible for hot reload.
	TelemetryCadenceMs uint64 `yaml:"telemetry_cadence_ms"`

	// ArenaBytes sizes the tensor arena backing any graph the control plane
	// creates. Zero means "use the arena package's default".
	ArenaBytes uint32 `yaml:"arena_bytes"`

	// MaxServers bounds the scheduler's EDF queue capacity (spec.md's
	// MAX_SERVERS constant). Zero means "use DefaultMaxServers".
	MaxServers uint32 `yaml:"max_servers"`
}

// DefaultMaxServers is the MAX_SERVERS default when a config omits it.
const DefaultMaxServers = 16

// DefaultArenaBytes is the tensor arena size a graph gets when a config
// omits arena_bytes.
const DefaultArenaBytes = 1 << 20

// DeterministicBudget mirrors ctlplane's ConfigureDeterministic payload.
type DeterministicBudget struct {
	WCETNs     uint64 `yaml:"wcet_ns"`
	PeriodNs   uint64 `yaml:"period_ns"`
	DeadlineNs uint64 `yaml:"deadline_ns"`
}

// TokenConfig describes how control-plane tokens are minted.
type TokenConfig struct {
	Secret      uint64 `yaml:"secret"`
	AdminRights uint8  `yaml:"admin_rights"`
	SubmitOnly  uint8  `yaml:"submit_rights"`
}

// Load reads and strictly decodes a KernelConfig from path, rejecting any
// field the struct does not declare.
func Load(path string) (*KernelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading kernel config: %w", err)
	}

	var cfg KernelConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing kernel config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating kernel config: %w", err)
	}
	return &cfg, nil
}

// Validate checks range and consistency constraints that the YAML schema
// alone cannot express.
func (c *KernelConfig) Validate() error {
	if c.AdmissionBoundPpm == 0 || c.AdmissionBoundPpm > 1_000_000 {
		return fmt.Errorf("admission_bound_ppm must be in (0, 1_000_000], got %d", c.AdmissionBoundPpm)
	}
	if c.Deterministic.PeriodNs != 0 && c.Deterministic.WCETNs > c.Deterministic.PeriodNs {
		return fmt.Errorf("deterministic.wcet_ns (%d) must not exceed period_ns (%d)",
			c.Deterministic.WCETNs, c.Deterministic.PeriodNs)
	}
	if c.Deterministic.DeadlineNs != 0 && c.Deterministic.PeriodNs != 0 &&
		c.Deterministic.DeadlineNs > c.Deterministic.PeriodNs {
		return fmt.Errorf("deterministic.deadline_ns (%d) must not exceed period_ns (%d)",
			c.Deterministic.DeadlineNs, c.Deterministic.PeriodNs)
	}
	return nil
}

func checksum(c *KernelConfig) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%+v", c)))
}

// Change describes a hot-reload event: only the non-safety-critical fields
// carried over from New are meaningful to apply; Config is the fully
// decoded document so callers can still read the safety-critical fields for
// logging, but must not re-provision admission/CBS state from it.
type Change struct {
	Config             *KernelConfig
	TelemetryCadenceMs uint64
	AdminSecret        uint64
}

// Watcher hot-reloads TelemetryCadenceMs and Token.Secret from path whenever
// the file is rewritten, publishing a Change over Changes(). All other
// fields are boot-only and ignored after the first Load.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	watching bool
	last     [32]byte
}

// NewWatcher constructs a Watcher for the config file at path.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	return &Watcher{path: path, watcher: w}, nil
}

// Watch starts watching the config file's directory (more reliable than
// watching the file itself across editors that replace-on-save) and returns
// a channel of Change events, closed when ctx is done or Close is called.
func (w *Watcher) Watch(ctx context.Context) (<-chan Change, <-chan error) {
	changes := make(chan Change, 4)
	errs := make(chan error, 4)

	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		close(changes)
		close(errs)
		return changes, errs
	}
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Unlock()
		errs <- fmt.Errorf("watching config directory %s: %w", dir, err)
		close(changes)
		close(errs)
		return changes, errs
	}
	w.watching = true
	w.mu.Unlock()

	go func() {
		defer close(changes)
		defer close(errs)
		for {
			select {
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if ev.Name != w.path || ev.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					errs <- err
					continue
				}
				sum := checksum(cfg)
				w.mu.Lock()
				changed := sum != w.last
				w.last = sum
				w.mu.Unlock()
				if !changed {
					continue
				}
				changes <- Change{
					Config:             cfg,
					TelemetryCadenceMs: cfg.TelemetryCadenceMs,
					AdminSecret:        cfg.Token.Secret,
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()

	return changes, errs
}

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return nil
	}
	w.watching = false
	return w.watcher.Close()
}
