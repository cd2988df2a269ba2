package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/agusx1211/spindle/internal/launch"
	"github.com/agusx1211/spindle/internal/shard"
	"github.com/agusx1211/spindle/internal/spool"
)

// ShardStatus inspects the worktree and branch of a spool's shard.
func (s *Supervisor) ShardStatus(ctx context.Context, id string) (*shard.Status, error) {
	sp, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if sp.Shard == nil {
		return nil, fmt.Errorf("spool %s has no shard", id)
	}
	mgr := shard.NewManager(retryWorkingDir(sp), s.cfg.WorkspaceTool)
	return mgr.Status(ctx, sp.Shard)
}

// ShardMerge merges a completed spool's shard branch back into the original
// branch and removes the worktree. Conflicts are returned in the result
// without completing the merge.
func (s *Supervisor) ShardMerge(ctx context.Context, id string, keepBranch bool) (*shard.MergeResult, error) {
	sp, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if sp.Shard == nil {
		return nil, fmt.Errorf("spool %s has no shard", id)
	}
	if sp.Running() {
		return nil, fmt.Errorf("spool %s is still running; wait or spin_drop first", id)
	}
	if err := s.checkWorktreeFree(id, sp.Shard.WorktreePath); err != nil {
		return nil, err
	}

	mgr := shard.NewManager(retryWorkingDir(sp), s.cfg.WorkspaceTool)
	message := fmt.Sprintf("Merge shard %s: %s", id, spool.Truncate(sp.Prompt, 50))
	res, err := mgr.Merge(ctx, sp.Shard, message, keepBranch)
	if err != nil {
		return nil, err
	}
	if res.Conflicts != "" {
		return res, nil
	}

	now := time.Now()
	s.store.Update(id, func(rec *spool.Spool) {
		if rec.Shard != nil {
			rec.Shard.Merged = true
			rec.Shard.MergedAt = &now
		}
	})
	return res, nil
}

// ShardAbandon removes a shard's worktree without merging. A still-running
// spool is killed first.
func (s *Supervisor) ShardAbandon(ctx context.Context, id string, keepBranch bool) error {
	sp, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if sp.Shard == nil {
		return fmt.Errorf("spool %s has no shard", id)
	}
	if err := s.checkWorktreeFree(id, sp.Shard.WorktreePath); err != nil {
		return err
	}

	if sp.Running() {
		launch.Terminate(sp.PID)
		s.finalize(id, spool.StatusKilled, "", "", "shard abandoned")
	}

	mgr := shard.NewManager(retryWorkingDir(sp), s.cfg.WorkspaceTool)
	if err := mgr.Abandon(ctx, sp.Shard, keepBranch); err != nil {
		return err
	}

	now := time.Now()
	_, err = s.store.Update(id, func(rec *spool.Spool) {
		if rec.Shard != nil {
			rec.Shard.Abandoned = true
			rec.Shard.AbandonedAt = &now
		}
	})
	return err
}

// checkWorktreeFree refuses shard teardown while another running spool has
// its working directory inside the worktree.
func (s *Supervisor) checkWorktreeFree(id, worktreePath string) error {
	others, err := s.store.List(func(sp *spool.Spool) bool {
		return sp.Running() && sp.ID != id && sp.WorkingDir == worktreePath
	})
	if err != nil {
		return err
	}
	if len(others) > 0 {
		return fmt.Errorf("spool %s is still running in this worktree; wait or spin_drop first", others[0].ID)
	}
	return nil
}
