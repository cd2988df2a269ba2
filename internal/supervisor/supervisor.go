// Package supervisor owns the spool lifecycle: admission through the
// concurrency gate, detached spawning, the monitor loop that finalizes
// spools, multi-spool waits, and session continuation. Handlers never block
// on a child's exit; everything long-running is observed through the store.
package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agusx1211/spindle/internal/config"
	"github.com/agusx1211/spindle/internal/debug"
	"github.com/agusx1211/spindle/internal/harness"
	"github.com/agusx1211/spindle/internal/store"
)

// Supervisor is the process-scoped owner of the gate, monitor, and store.
// Tests instantiate fresh ones against a temporary root.
type Supervisor struct {
	cfg      *config.Config
	store    *store.Store
	registry *harness.Registry
	gate     *gate

	startedAt time.Time
	stop      chan struct{}
	done      chan struct{}
}

// New builds a supervisor over the configured root. The monitor loop is not
// started; call Start.
func New(cfg *config.Config, registry *harness.Registry) (*Supervisor, error) {
	st, err := store.New(cfg.SpoolsDir())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.TranscriptsDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating transcripts dir: %w", err)
	}
	return &Supervisor{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		gate:      newGate(cfg.MaxConcurrent, st),
		startedAt: time.Now(),
	}, nil
}

// Store exposes the spool store to read-only consumers (dashboard TUI,
// transport handlers).
func (s *Supervisor) Store() *store.Store {
	return s.store
}

// Config returns the supervisor's configuration.
func (s *Supervisor) Config() *config.Config {
	return s.cfg
}

// Uptime returns the time since the supervisor was constructed.
func (s *Supervisor) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Start recovers orphans, sweeps old records, and launches the monitor loop.
func (s *Supervisor) Start() error {
	if s.stop != nil {
		return fmt.Errorf("supervisor already started")
	}

	if err := s.recoverOrphans(); err != nil {
		debug.LogKV("supervisor", "orphan recovery failed", "error", err)
	}
	if n, err := s.store.Sweep(time.Now().Add(-s.cfg.Retention())); err == nil && n > 0 {
		debug.LogKV("supervisor", "swept old spools", "removed", n)
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.monitorLoop()
	return nil
}

// Stop shuts down the monitor loop. Running children are left alone; they
// are detached and will be reaped on the next start.
func (s *Supervisor) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

// transcriptPath returns where a spool's completion transcript lives.
func (s *Supervisor) transcriptPath(id string) string {
	return filepath.Join(s.cfg.TranscriptsDir(), id+".txt")
}

// saveTranscript persists the raw stdout of a completed spool so a later
// respin can fall back to transcript injection after session expiry.
func (s *Supervisor) saveTranscript(id string, stdout []byte) {
	if len(stdout) == 0 {
		return
	}
	if err := os.WriteFile(s.transcriptPath(id), stdout, 0644); err != nil {
		debug.LogKV("supervisor", "transcript write failed", "id", id, "error", err)
	}
}

// loadTranscript returns a spool's saved transcript, or "".
func (s *Supervisor) loadTranscript(id string) string {
	data, err := os.ReadFile(s.transcriptPath(id))
	if err != nil {
		return ""
	}
	return string(data)
}
