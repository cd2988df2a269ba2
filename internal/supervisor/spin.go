package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agusx1211/spindle/internal/debug"
	"github.com/agusx1211/spindle/internal/hexid"
	"github.com/agusx1211/spindle/internal/launch"
	"github.com/agusx1211/spindle/internal/shard"
	"github.com/agusx1211/spindle/internal/spool"
)

// shardPreamble is prepended to prompts that run inside an isolated
// worktree; without it, children routinely leave their work uncommitted.
const shardPreamble = `You are working in an isolated worktree on your own branch.

After completing work:
1. Commit: git add -A && git commit -m "Your commit message"

Your task:
`

// SpinRequest is the argument set of the spin operation.
type SpinRequest struct {
	Prompt       string
	Harness      string
	Permission   string
	Shard        bool
	SystemPrompt string
	WorkingDir   string
	AllowedTools string
	Tags         string
	Model        string
	Timeout      int // seconds; 0 = no deadline
}

// sandboxPolicied is implemented by harnesses with host-dependent sandbox
// derivation (codex). The decision is recorded on the spool.
type sandboxPolicied interface {
	SandboxPolicy(permission string) string
}

// Spin admits, persists, and spawns a new spool, returning its id without
// waiting for the child. Admission errors create no record; launch errors
// create one already finalized as error.
func (s *Supervisor) Spin(ctx context.Context, req SpinRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("prompt required")
	}

	harnessName := req.Harness
	if harnessName == "" {
		harnessName = s.cfg.DefaultHarness
	}
	h, err := s.registry.Get(harnessName)
	if err != nil {
		return "", err
	}

	if req.Permission != "" && !spool.ValidPermission(req.Permission) {
		return "", fmt.Errorf("invalid permission %q", req.Permission)
	}

	if req.WorkingDir == "" && h.RequiresWorkingDir() {
		return "", fmt.Errorf("working_dir required: the supervisor's own directory is never the caller's project")
	}

	if err := s.gate.admit(); err != nil {
		return "", err
	}

	permission := req.Permission
	if permission == "" {
		permission = spool.DefaultPermission
	}
	allowedTools, autoShard := spool.ResolvePermission(req.Permission, req.AllowedTools)
	useShard := req.Shard || autoShard

	id := hexid.NewPrefixed(h.IDPrefix())
	now := time.Now()

	sp := &spool.Spool{
		ID:             id,
		Harness:        h.Name(),
		Status:         spool.StatusPending,
		Prompt:         req.Prompt,
		SystemPrompt:   req.SystemPrompt,
		WorkingDir:     req.WorkingDir,
		AllowedTools:   allowedTools,
		Permission:     permission,
		Model:          req.Model,
		Tags:           spool.ParseTags(req.Tags),
		TimeoutSeconds: req.Timeout,
		CreatedAt:      now,
		StdoutPath:     s.store.StdoutPath(id),
		StderrPath:     s.store.StderrPath(id),
	}

	if policied, ok := h.(sandboxPolicied); ok {
		sp.Sandbox = policied.SandboxPolicy(permission)
	}

	if useShard {
		mgr := shard.NewManager(req.WorkingDir, s.cfg.WorkspaceTool)
		sh, err := mgr.Allocate(ctx, id)
		if err != nil {
			s.gate.abort()
			return "", fmt.Errorf("allocating shard: %w", err)
		}
		sp.Shard = sh
		sp.WorkingDir = sh.WorktreePath
	}

	// Child sees the shard preamble; the record keeps the caller's prompt.
	child := *sp
	if sp.Shard != nil {
		child.Prompt = shardPreamble + sp.Prompt
	}

	argv, err := h.BuildCommand(&child)
	if err != nil {
		s.gate.abort()
		s.cleanupShard(ctx, sp)
		return "", err
	}

	if err := s.store.Put(sp); err != nil {
		s.gate.abort()
		s.cleanupShard(ctx, sp)
		return "", err
	}

	return s.spawn(sp, argv)
}

// spawn starts the detached child for an already-persisted pending spool and
// flips it to running. Launch failure finalizes the spool as error.
func (s *Supervisor) spawn(sp *spool.Spool, argv []string) (string, error) {
	pid, err := launch.Start(launch.Spec{
		Argv:       argv,
		Dir:        sp.WorkingDir,
		StdoutPath: sp.StdoutPath,
		StderrPath: sp.StderrPath,
		Env:        debugEnv(),
	})
	if err != nil {
		s.gate.abort()
		now := time.Now()
		s.store.Update(sp.ID, func(rec *spool.Spool) {
			rec.Status = spool.StatusError
			rec.Error = err.Error()
			rec.CompletedAt = &now
		})
		return "", err
	}

	now := time.Now()
	_, uerr := s.store.Update(sp.ID, func(rec *spool.Spool) {
		rec.Status = spool.StatusRunning
		rec.PID = pid
		rec.StartedAt = &now
	})
	s.gate.confirm()
	if uerr != nil {
		return "", uerr
	}

	debug.LogKV("supervisor", "spool running", "id", sp.ID, "pid", pid, "harness", sp.Harness)
	return sp.ID, nil
}

// Retry re-runs a spool with the same parameters, linking the new spool to
// its ancestor.
func (s *Supervisor) Retry(ctx context.Context, id string) (string, error) {
	old, err := s.store.Get(id)
	if err != nil {
		return "", err
	}
	newID, err := s.Spin(ctx, SpinRequest{
		Prompt:       old.Prompt,
		Harness:      old.Harness,
		Permission:   old.Permission,
		Shard:        old.Shard != nil,
		SystemPrompt: old.SystemPrompt,
		WorkingDir:   retryWorkingDir(old),
		AllowedTools: old.AllowedTools,
		Tags:         strings.Join(old.Tags, ","),
		Model:        old.Model,
		Timeout:      old.TimeoutSeconds,
	})
	if err != nil {
		return "", err
	}
	s.store.Update(newID, func(rec *spool.Spool) {
		rec.RetryOf = id
	})
	return newID, nil
}

// retryWorkingDir undoes shard redirection so the retry allocates a fresh
// worktree from the original repository instead of nesting in the old one.
func retryWorkingDir(old *spool.Spool) string {
	if old.Shard == nil {
		return old.WorkingDir
	}
	if i := strings.Index(old.WorkingDir, "/.spindle-worktrees/"); i > 0 {
		return old.WorkingDir[:i]
	}
	return old.WorkingDir
}

// Drop requests cancellation of a running spool. Terminal spools are a
// no-op success. The terminal state becomes visible after the next monitor
// tick.
func (s *Supervisor) Drop(id string) error {
	sp, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if sp.Terminal() {
		return nil
	}

	_, err = s.store.Update(id, func(rec *spool.Spool) {
		rec.DropRequested = true
	})
	if err != nil {
		return err
	}
	if sp.PID > 0 {
		launch.Terminate(sp.PID)
	}
	debug.LogKV("supervisor", "drop requested", "id", id, "pid", sp.PID)
	return nil
}

// Unspool returns the current record for a spool, finalizing it first if
// its child has already exited.
func (s *Supervisor) Unspool(id string) (*spool.Spool, error) {
	sp, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if sp.Running() {
		s.checkSpool(sp, false)
		return s.store.Get(id)
	}
	return sp, nil
}

// List returns summaries of all spools, oldest first.
func (s *Supervisor) List() ([]spool.Summary, error) {
	all, err := s.store.List(nil)
	if err != nil {
		return nil, err
	}
	summaries := make([]spool.Summary, 0, len(all))
	for _, sp := range all {
		summaries = append(summaries, sp.Summarize())
	}
	return summaries, nil
}

func (s *Supervisor) cleanupShard(ctx context.Context, sp *spool.Spool) {
	if sp.Shard == nil {
		return
	}
	mgr := shard.NewManager(retryWorkingDir(sp), s.cfg.WorkspaceTool)
	if err := mgr.Abandon(ctx, sp.Shard, false); err != nil {
		debug.LogKV("supervisor", "shard cleanup failed", "id", sp.ID, "error", err)
	}
}

// debugEnv propagates debug logging settings into children.
func debugEnv() []string {
	if !debug.Enabled() {
		return nil
	}
	return []string{
		debug.EnvEnabled + "=1",
		debug.EnvLogPath + "=" + debug.Path(),
	}
}
