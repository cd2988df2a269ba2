package supervisor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agusx1211/spindle/internal/debug"
	"github.com/agusx1211/spindle/internal/harness"
	"github.com/agusx1211/spindle/internal/launch"
	"github.com/agusx1211/spindle/internal/spool"
)

// stderrTailLimit bounds how much stderr lands in a spool's error field.
const stderrTailLimit = 500

// monitorLoop is the single background reaper. Each tick it inspects every
// running spool; a panic or error on one record never stalls the others.
func (s *Supervisor) monitorLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PollDuration())
	defer ticker.Stop()

	sweepEvery := time.Hour
	lastSweep := time.Now()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
			if time.Since(lastSweep) >= sweepEvery {
				lastSweep = time.Now()
				if _, err := s.store.Sweep(time.Now().Add(-s.cfg.Retention())); err != nil {
					debug.LogKV("monitor", "sweep failed", "error", err)
				}
			}
		}
	}
}

// tick processes every running spool once.
func (s *Supervisor) tick() {
	running, err := s.store.List(func(sp *spool.Spool) bool { return sp.Running() })
	if err != nil {
		debug.LogKV("monitor", "listing running spools failed", "error", err)
		return
	}
	for _, sp := range running {
		s.safeCheck(sp)
	}
}

// safeCheck isolates per-spool panics so one bad record cannot kill the
// reaper.
func (s *Supervisor) safeCheck(sp *spool.Spool) {
	defer func() {
		if r := recover(); r != nil {
			debug.LogKV("monitor", "panic processing spool", "id", sp.ID, "panic", r)
		}
	}()
	s.checkSpool(sp, false)
}

// checkSpool advances one running spool: cancellation first, then deadline,
// then session-expiry fallback, then completion detection. With orphaned
// set, a dead child with no usable output is finalized as orphaned rather
// than a generic error.
func (s *Supervisor) checkSpool(sp *spool.Spool, orphaned bool) {
	if !sp.Running() {
		return
	}

	if sp.DropRequested {
		launch.Terminate(sp.PID)
		s.finalize(sp.ID, spool.StatusKilled, "", "", "dropped by user")
		return
	}

	if sp.TimeoutSeconds > 0 && sp.StartedAt != nil {
		deadline := sp.StartedAt.Add(time.Duration(sp.TimeoutSeconds) * time.Second)
		if time.Now().After(deadline) {
			launch.Terminate(sp.PID)
			s.finalize(sp.ID, spool.StatusTimeout, "", "", fmt.Sprintf("timeout after %ds", sp.TimeoutSeconds))
			return
		}
	}

	h, err := s.registry.Get(sp.Harness)
	if err != nil {
		s.finalize(sp.ID, spool.StatusError, "", "", err.Error())
		return
	}

	// Resumed spools: watch stderr for the harness's expired-session
	// signature and re-spawn via transcript injection before the child
	// even finishes failing.
	if sp.SessionID != "" && sp.RetryOf != "" && !sp.TranscriptFallback {
		if stderr, err := os.ReadFile(sp.StderrPath); err == nil && h.ExpiredSession(stderr) {
			if s.respinWithTranscript(sp, h) {
				return
			}
		}
	}

	alive := launch.Alive(sp.PID)

	// Some harnesses write their complete result before the process tree
	// winds down; finalize early when the artifact is already whole.
	if alive {
		if ef, ok := h.(earlyFinalizer); ok {
			if stdout, err := os.ReadFile(sp.StdoutPath); err == nil && ef.OutputComplete(stdout) {
				s.finalizeFromOutput(sp, h, false)
			}
		}
		return
	}

	s.finalizeFromOutput(sp, h, orphaned)
}

// earlyFinalizer is implemented by harnesses whose output artifact is
// self-delimiting (claude's single JSON document), allowing completion
// detection while the process tree is still winding down.
type earlyFinalizer interface {
	OutputComplete(stdout []byte) bool
}

// finalizeFromOutput reads the artifacts of a dead (or early-complete)
// child and finalizes the spool.
func (s *Supervisor) finalizeFromOutput(sp *spool.Spool, h harness.Harness, orphaned bool) {
	stdout, _ := os.ReadFile(sp.StdoutPath)
	stderr, _ := os.ReadFile(sp.StderrPath)

	outcome, parseErr := h.ParseOutput(stdout)
	if parseErr == nil {
		s.finalize(sp.ID, spool.StatusComplete, outcome.Result, outcome.SessionID, "")
		if outcome.SessionID != "" {
			s.saveTranscript(sp.ID, stdout)
		}
		return
	}

	reason := tail(string(stderr), stderrTailLimit)
	switch {
	case orphaned && reason != "":
		reason = "orphaned: " + reason
	case orphaned:
		reason = "orphaned"
	case reason == "":
		reason = parseErr.Error()
	}
	s.finalize(sp.ID, spool.StatusError, "", "", reason)
}

// finalize transitions a spool to a terminal state. Transitions out of a
// terminal state are refused, so late monitor ticks cannot clobber an
// explicit drop or timeout.
func (s *Supervisor) finalize(id string, status spool.Status, result, sessionID, errMsg string) {
	now := time.Now()
	_, err := s.store.Update(id, func(rec *spool.Spool) {
		if rec.Terminal() {
			return
		}
		rec.Status = status
		rec.PID = 0
		rec.CompletedAt = &now
		rec.DropRequested = false
		if status == spool.StatusComplete {
			rec.Result = result
			if sessionID != "" {
				rec.SessionID = sessionID
			}
		} else {
			rec.Error = errMsg
		}
	})
	if err != nil {
		debug.LogKV("monitor", "finalize failed", "id", id, "error", err)
		return
	}
	debug.LogKV("monitor", "spool finalized", "id", id, "status", status)
}

// respinWithTranscript replaces an expired resume child with a fresh run
// whose prompt embeds the saved transcript. Returns false when no fallback
// is possible, leaving the spool to fail normally.
func (s *Supervisor) respinWithTranscript(sp *spool.Spool, h harness.Harness) bool {
	fb, ok := h.(harness.FallbackResumer)
	if !ok {
		return false
	}
	original, err := s.store.Get(sp.RetryOf)
	if err != nil {
		return false
	}
	transcript := s.loadTranscript(original.ID)
	argv := fb.FallbackResume(original, transcript, sp.Prompt)
	if argv == nil {
		return false
	}

	// The replacement reuses the spool's output sinks; the failing resume
	// child must be gone before they are truncated, so no grace window.
	launch.Kill(sp.PID)

	pid, err := launch.Start(launch.Spec{
		Argv:       argv,
		Dir:        sp.WorkingDir,
		StdoutPath: sp.StdoutPath,
		StderrPath: sp.StderrPath,
		Env:        debugEnv(),
	})
	if err != nil {
		debug.LogKV("monitor", "transcript fallback spawn failed", "id", sp.ID, "error", err)
		return false
	}

	now := time.Now()
	s.store.Update(sp.ID, func(rec *spool.Spool) {
		rec.PID = pid
		rec.TranscriptFallback = true
		rec.StartedAt = &now
	})
	debug.LogKV("monitor", "respawned via transcript injection", "id", sp.ID, "pid", pid)
	return true
}

// recoverOrphans finalizes spools left running by a previous supervisor.
// Children that completed while unsupervised still get their output parsed;
// the rest are marked orphaned. A pid that is alive but belongs to a
// different process image was reused by the OS and is treated as absent —
// and never signalled.
func (s *Supervisor) recoverOrphans() error {
	running, err := s.store.List(func(sp *spool.Spool) bool { return sp.Running() })
	if err != nil {
		return err
	}
	for _, sp := range running {
		alive := launch.Alive(sp.PID)
		if alive && launch.OwnedBy(sp.PID, sp.Harness) {
			// Still ours across the restart: the monitor picks it back up.
			continue
		}

		debug.LogKV("supervisor", "recovering orphan", "id", sp.ID, "pid", sp.PID, "pid_reused", alive)

		if alive {
			// Foreign process behind a reused pid; finalize from whatever
			// artifacts the original child left.
			h, err := s.registry.Get(sp.Harness)
			if err != nil {
				s.finalize(sp.ID, spool.StatusError, "", "", "orphaned")
				continue
			}
			s.finalizeFromOutput(sp, h, true)
			continue
		}
		s.checkSpool(sp, true)
	}
	return nil
}

// tail returns at most n bytes from the end of a string, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
