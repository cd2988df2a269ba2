// Package shard manages isolated git worktrees for spool execution. A shard
// is a worktree on its own branch, cut from the caller's current branch, so
// a child agent's edits stay contained until merged back or abandoned.
package shard

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/agusx1211/spindle/internal/debug"
	"github.com/agusx1211/spindle/internal/hexid"
	"github.com/agusx1211/spindle/internal/spool"
)

const worktreeDir = ".spindle-worktrees"

// repoLocks serializes git invocations per repository root; concurrent
// worktree mutation corrupts the shared index.
var repoLocks sync.Map // repoRoot -> *sync.Mutex

func lockRepo(root string) *sync.Mutex {
	mu, _ := repoLocks.LoadOrStore(root, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Manager creates, inspects, merges, and removes shards for one repository.
type Manager struct {
	repoRoot string

	// tool, when set, names a higher-level workspace command on PATH that
	// allocation is delegated to before falling back to plain git worktree.
	tool string
}

// NewManager creates a manager rooted at the given repository directory.
func NewManager(repoRoot, workspaceTool string) *Manager {
	return &Manager{repoRoot: repoRoot, tool: workspaceTool}
}

// Status describes the state of a shard's worktree and branch.
type Status struct {
	Branch         string   `json:"branch"`
	WorktreeExists bool     `json:"worktree_exists"`
	Clean          bool     `json:"clean"`
	AheadBy        int      `json:"ahead_by"`
	BehindBy       int      `json:"behind_by"`
	Changes        []string `json:"changes,omitempty"`
}

// MergeResult describes the outcome of merging a shard branch back.
type MergeResult struct {
	MergedCommits int    `json:"merged_commits"`
	MergeCommit   string `json:"merge_commit,omitempty"`
	Conflicts     string `json:"conflicts,omitempty"`
}

// Allocate creates a worktree and branch for the spool, delegating to the
// configured workspace tool when one is available. Failure aborts admission,
// so the error carries the git output.
func (m *Manager) Allocate(ctx context.Context, spoolID string) (*spool.Shard, error) {
	mu := lockRepo(m.repoRoot)
	mu.Lock()
	defer mu.Unlock()

	if m.tool != "" {
		if sh, err := m.allocateViaTool(ctx, spoolID); err == nil {
			return sh, nil
		} else {
			debug.LogKV("shard", "workspace tool allocation failed, falling back to git", "tool", m.tool, "error", err)
		}
	}

	short := hexid.New()[:4]
	shardID := spoolID + "-" + short
	branch := "shard-" + shardID

	base := filepath.Join(m.repoRoot, worktreeDir)
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("creating worktree dir: %w", err)
	}
	// Keep shard worktrees out of the main checkout's status.
	if err := os.WriteFile(filepath.Join(base, ".gitignore"), []byte("*\n"), 0644); err != nil {
		return nil, fmt.Errorf("writing worktree dir ignore file: %w", err)
	}
	wtPath := filepath.Join(base, shardID)

	if _, err := m.git(ctx, "worktree", "add", wtPath, "-b", branch); err != nil {
		return nil, fmt.Errorf("worktree add: %w", err)
	}

	debug.LogKV("shard", "allocated", "shard_id", shardID, "path", wtPath, "branch", branch)
	return &spool.Shard{
		WorktreePath: wtPath,
		BranchName:   branch,
		ShardID:      shardID,
	}, nil
}

// allocateViaTool shells out to "<tool> shard spawn --agent <id>" and parses
// the Worktree:/Branch: lines from its output.
func (m *Manager) allocateViaTool(ctx context.Context, spoolID string) (*spool.Shard, error) {
	out, err := m.run(ctx, m.tool, "shard", "spawn", "--agent", spoolID)
	if err != nil {
		return nil, err
	}
	sh := &spool.Shard{ShardID: spoolID}
	for _, line := range strings.Split(out, "\n") {
		if _, rest, ok := strings.Cut(line, "Worktree:"); ok {
			sh.WorktreePath = strings.TrimSpace(rest)
		}
		if _, rest, ok := strings.Cut(line, "Branch:"); ok {
			sh.BranchName = strings.TrimSpace(rest)
		}
	}
	if sh.WorktreePath == "" {
		return nil, fmt.Errorf("%s output carried no worktree path", m.tool)
	}
	if sh.BranchName == "" {
		sh.BranchName = "shard-" + spoolID
	}
	return sh, nil
}

// Status inspects a shard's worktree and branch.
func (m *Manager) Status(ctx context.Context, sh *spool.Shard) (*Status, error) {
	mu := lockRepo(m.repoRoot)
	mu.Lock()
	defer mu.Unlock()

	st := &Status{Branch: sh.BranchName}

	if _, err := os.Stat(sh.WorktreePath); err != nil {
		return st, nil
	}
	st.WorktreeExists = true

	porcelain, err := m.git(ctx, "-C", sh.WorktreePath, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	porcelain = strings.TrimSpace(porcelain)
	st.Clean = porcelain == ""
	if porcelain != "" {
		st.Changes = strings.Split(porcelain, "\n")
	}

	// HEAD...branch from the main checkout: left = ahead of shard (shard is
	// behind), right = shard commits not on the original branch.
	counts, err := m.git(ctx, "rev-list", "--left-right", "--count", "HEAD..."+sh.BranchName)
	if err == nil {
		fields := strings.Fields(strings.TrimSpace(counts))
		if len(fields) == 2 {
			st.BehindBy, _ = strconv.Atoi(fields[0])
			st.AheadBy, _ = strconv.Atoi(fields[1])
		}
	}

	return st, nil
}

// Merge merges the shard's branch into the original branch with an explicit
// merge commit, then removes the worktree. A conflict aborts the merge and
// is returned verbatim without completing.
func (m *Manager) Merge(ctx context.Context, sh *spool.Shard, message string, keepBranch bool) (*MergeResult, error) {
	mu := lockRepo(m.repoRoot)
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(sh.WorktreePath); err != nil {
		return nil, fmt.Errorf("worktree no longer exists: %s", sh.WorktreePath)
	}

	porcelain, err := m.git(ctx, "-C", sh.WorktreePath, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(porcelain) != "" {
		return nil, fmt.Errorf("shard has uncommitted changes; commit or abandon first")
	}

	countOut, err := m.git(ctx, "rev-list", "--count", "HEAD.."+sh.BranchName)
	if err != nil {
		return nil, err
	}
	commits, _ := strconv.Atoi(strings.TrimSpace(countOut))

	if message == "" {
		message = "Merge shard " + sh.ShardID
	}
	if out, err := m.git(ctx, "merge", "--no-ff", "-m", message, sh.BranchName); err != nil {
		// Leave the repository clean for the caller; the conflict text is
		// the result, not an internal error.
		m.git(ctx, "merge", "--abort")
		return &MergeResult{Conflicts: strings.TrimSpace(out)}, nil
	}

	hash, err := m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}

	m.removeLocked(ctx, sh, keepBranch)

	return &MergeResult{
		MergedCommits: commits,
		MergeCommit:   strings.TrimSpace(hash),
	}, nil
}

// Abandon removes the worktree without merging, optionally keeping the
// branch for later salvage.
func (m *Manager) Abandon(ctx context.Context, sh *spool.Shard, keepBranch bool) error {
	mu := lockRepo(m.repoRoot)
	mu.Lock()
	defer mu.Unlock()
	return m.removeLocked(ctx, sh, keepBranch)
}

func (m *Manager) removeLocked(ctx context.Context, sh *spool.Shard, keepBranch bool) error {
	if _, err := m.git(ctx, "worktree", "remove", "--force", sh.WorktreePath); err != nil {
		// Manual cleanup keeps abandon usable when git refuses.
		if removeErr := os.RemoveAll(sh.WorktreePath); removeErr != nil {
			return fmt.Errorf("worktree remove failed (%v) and manual cleanup failed: %w", err, removeErr)
		}
	}
	m.git(ctx, "worktree", "prune")

	if !keepBranch && sh.BranchName != "" {
		m.git(ctx, "branch", "-D", sh.BranchName)
	}
	return nil
}

// git runs a git command in the repo root and returns combined output.
func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	return m.run(ctx, "git", args...)
}

func (m *Manager) run(ctx context.Context, name string, args ...string) (string, error) {
	debug.LogKV("shard", "exec", "cmd", name+" "+strings.Join(args, " "), "dir", m.repoRoot)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = m.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}
