package supervisor

import (
	"context"
	"strconv"
	"time"

	"github.com/agusx1211/spindle/internal/shard"
	"github.com/agusx1211/spindle/internal/spool"
)

// expectedDuration is how long a spool may run before the dashboard flags it.
const expectedDuration = 10 * time.Minute

// Dashboard is the single-view summary of spool state.
type Dashboard struct {
	Summary           DashboardSummary `json:"summary"`
	Running           []DashboardEntry `json:"running"`
	RecentCompletions []DashboardEntry `json:"recent_completions"`
	NeedingAttention  []AttentionEntry `json:"needing_attention"`
}

// DashboardSummary carries counts by status.
type DashboardSummary struct {
	Running          int `json:"running"`
	CompleteLastHour int `json:"complete_last_hour"`
	Errors           int `json:"errors"`
	Total            int `json:"total_spools"`
}

// DashboardEntry is one spool row.
type DashboardEntry struct {
	SpoolID string `json:"spool_id"`
	Task    string `json:"task"`
	Status  string `json:"status"`
	Age     string `json:"age,omitempty"`
	Started string `json:"started,omitempty"`
}

// AttentionEntry flags a spool that needs operator action.
type AttentionEntry struct {
	SpoolID  string `json:"spool_id"`
	Task     string `json:"task"`
	Reason   string `json:"reason"`
	Worktree string `json:"worktree,omitempty"`
}

// BuildDashboard summarizes all spools: counts, running entries, completions
// from the last hour, and spools needing attention (errors, long runners,
// shards with uncommitted changes or unmerged commits).
func (s *Supervisor) BuildDashboard(ctx context.Context) (*Dashboard, error) {
	all, err := s.store.List(nil)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	hourAgo := now.Add(-time.Hour)
	d := &Dashboard{}
	d.Summary.Total = len(all)

	for _, sp := range all {
		switch sp.Status {
		case spool.StatusRunning:
			d.Summary.Running++
			entry := DashboardEntry{
				SpoolID: sp.ID,
				Task:    spool.Truncate(sp.Prompt, 60),
				Status:  string(sp.Status),
			}
			if sp.StartedAt != nil {
				entry.Started = sp.StartedAt.Format(time.RFC3339)
				if now.Sub(*sp.StartedAt) > expectedDuration {
					d.NeedingAttention = append(d.NeedingAttention, AttentionEntry{
						SpoolID: sp.ID,
						Task:    entry.Task,
						Reason:  "running longer than expected",
					})
				}
			}
			d.Running = append(d.Running, entry)

		case spool.StatusError, spool.StatusTimeout, spool.StatusKilled:
			d.Summary.Errors++
			if sp.CompletedAt != nil && sp.CompletedAt.After(hourAgo) {
				d.NeedingAttention = append(d.NeedingAttention, AttentionEntry{
					SpoolID: sp.ID,
					Task:    spool.Truncate(sp.Prompt, 60),
					Reason:  string(sp.Status) + ": " + spool.Truncate(sp.Error, 50),
				})
			}

		case spool.StatusComplete:
			if sp.CompletedAt != nil && sp.CompletedAt.After(hourAgo) {
				d.Summary.CompleteLastHour++
				d.RecentCompletions = append(d.RecentCompletions, DashboardEntry{
					SpoolID: sp.ID,
					Task:    spool.Truncate(sp.Prompt, 60),
					Status:  string(sp.Status),
					Age:     ageString(now, *sp.CompletedAt),
				})
			}
			if att := s.shardAttention(ctx, sp); att != nil {
				d.NeedingAttention = append(d.NeedingAttention, *att)
			}
		}
	}

	return d, nil
}

// shardAttention inspects a completed spool's shard for unmerged or dirty
// work.
func (s *Supervisor) shardAttention(ctx context.Context, sp *spool.Spool) *AttentionEntry {
	if sp.Shard == nil || sp.Shard.Merged || sp.Shard.Abandoned {
		return nil
	}
	mgr := shard.NewManager(retryWorkingDir(sp), s.cfg.WorkspaceTool)
	st, err := mgr.Status(ctx, sp.Shard)
	if err != nil || !st.WorktreeExists {
		return nil
	}

	reason := ""
	switch {
	case !st.Clean:
		reason = "shard has uncommitted changes"
	case st.AheadBy > 0:
		reason = "shard has unmerged commits"
	}
	if reason == "" {
		return nil
	}
	return &AttentionEntry{
		SpoolID:  sp.ID,
		Task:     spool.Truncate(sp.Prompt, 60),
		Reason:   reason,
		Worktree: sp.Shard.WorktreePath,
	}
}

func ageString(now, then time.Time) string {
	mins := int(now.Sub(then).Minutes())
	if mins < 1 {
		return "just now"
	}
	if mins < 60 {
		return strconv.Itoa(mins) + "m ago"
	}
	return strconv.Itoa(mins/60) + "h ago"
}
