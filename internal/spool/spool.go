// Package spool defines the persistent record of a delegated task and its
// lifecycle. One spool per child agent run; the record on disk is the source
// of truth for everything the supervisor knows about the task.
package spool

import (
	"time"
)

// Spool is the record of one delegated task. Persisted as
// <root>/spools/<id>.json; mutated only by the monitor loop and explicit
// control operations.
type Spool struct {
	ID           string `json:"id"`
	Harness      string `json:"harness"`
	Status       Status `json:"status"`
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	WorkingDir   string `json:"working_dir"`
	AllowedTools string `json:"allowed_tools,omitempty"`
	Permission   string `json:"permission,omitempty"`
	Model        string `json:"model,omitempty"`

	// Sandbox records the sandbox policy the harness adapter derived from
	// Permission (e.g. codex "workspace-write"), including any downgrade
	// decision made by the landlock capability probe.
	Sandbox string `json:"sandbox,omitempty"`

	Tags []string `json:"tags,omitempty"`

	// PID of the detached child while running; zero once reaped.
	PID int `json:"pid"`

	SessionID string `json:"session_id,omitempty"`

	Shard *Shard `json:"shard,omitempty"`

	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`

	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// RetryOf links a resumed or retried spool to its ancestor.
	RetryOf string `json:"retry_of,omitempty"`

	// DropRequested is set by spin_drop; the monitor loop observes it and
	// finalizes the spool as killed after terminating the child.
	DropRequested bool `json:"drop_requested,omitempty"`

	// TranscriptFallback marks a resumed spool that was re-spawned with the
	// previous exchange injected into the prompt after session expiry.
	TranscriptFallback bool `json:"transcript_fallback,omitempty"`
}

// Shard describes the isolated git worktree a spool runs in.
type Shard struct {
	WorktreePath string     `json:"worktree_path"`
	BranchName   string     `json:"branch_name"`
	ShardID      string     `json:"shard_id"`
	Merged       bool       `json:"merged,omitempty"`
	MergedAt     *time.Time `json:"merged_at,omitempty"`
	Abandoned    bool       `json:"abandoned,omitempty"`
	AbandonedAt  *time.Time `json:"abandoned_at,omitempty"`
}

// Terminal reports whether the spool has reached a final state.
func (s *Spool) Terminal() bool {
	return s.Status.Terminal()
}

// Running reports whether the spool currently has a live child.
func (s *Spool) Running() bool {
	return s.Status == StatusRunning
}

// Summary is the condensed listing shape returned by the spools() tool.
type Summary struct {
	ID        string    `json:"id"`
	Harness   string    `json:"harness"`
	Status    Status    `json:"status"`
	Prompt    string    `json:"prompt"`
	Tags      []string  `json:"tags,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Summarize condenses a spool for listings, truncating the prompt.
func (s *Spool) Summarize() Summary {
	return Summary{
		ID:        s.ID,
		Harness:   s.Harness,
		Status:    s.Status,
		Prompt:    Truncate(s.Prompt, 100),
		Tags:      s.Tags,
		SessionID: s.SessionID,
		CreatedAt: s.CreatedAt,
	}
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
