package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agusx1211/spindle/internal/spool"
)

// claudeExpiredSignature is what the claude CLI prints to stderr when asked
// to resume a session it no longer has.
const claudeExpiredSignature = "No conversation found with session ID"

// Claude runs Anthropic's claude CLI in non-interactive JSON mode.
type Claude struct{}

// NewClaude creates the claude adapter.
func NewClaude() *Claude {
	return &Claude{}
}

// Name returns "claude".
func (c *Claude) Name() string { return "claude" }

// IDPrefix returns "" — claude spools use bare hex ids.
func (c *Claude) IDPrefix() string { return "" }

// RequiresWorkingDir is true: the supervisor's own cwd is the MCP server
// directory, never the caller's project.
func (c *Claude) RequiresWorkingDir() bool { return true }

// BuildCommand builds the claude invocation for a spool.
//
// --print with --output-format json makes the CLI run the prompt to
// completion and emit a single JSON document on stdout with "result" and
// "session_id" fields. Permission mode is derived from the spool's profile:
// full and shard runs bypass permission prompts entirely, everything else
// auto-accepts edits so the child never blocks on interactive approval.
func (c *Claude) BuildCommand(sp *spool.Spool) ([]string, error) {
	args := []string{"claude", "-p", sp.Prompt, "--output-format", "json"}

	if sp.Model != "" {
		args = append(args, "--model", sp.Model)
	}

	if bypassPermissions(sp.Permission) {
		args = append(args, "--permission-mode", "bypassPermissions")
	} else {
		args = append(args, "--permission-mode", "acceptEdits")
	}

	if sp.SystemPrompt != "" {
		args = append(args, "--system-prompt", sp.SystemPrompt)
	}
	if sp.AllowedTools != "" {
		args = append(args, "--allowedTools", sp.AllowedTools)
	}

	return args, nil
}

func bypassPermissions(permission string) bool {
	return permission == spool.PermissionFull ||
		permission == spool.PermissionShard ||
		strings.HasSuffix(permission, "+shard")
}

// claudeOutput is the JSON document claude -p --output-format json emits.
type claudeOutput struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Subtype   string `json:"subtype"`
}

// ParseOutput extracts the result and session id from captured stdout.
// Non-JSON output is accepted verbatim as the result: the CLI falls back to
// plain text in some error paths and partial output is better than none.
func (c *Claude) ParseOutput(stdout []byte) (Outcome, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return Outcome{}, fmt.Errorf("claude: empty output")
	}

	var out claudeOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return Outcome{Result: string(trimmed)}, nil
	}
	if out.IsError {
		msg := out.Result
		if msg == "" {
			msg = out.Subtype
		}
		return Outcome{}, fmt.Errorf("claude: %s", msg)
	}
	if out.Result == "" {
		return Outcome{Result: string(trimmed), SessionID: out.SessionID}, nil
	}
	return Outcome{Result: out.Result, SessionID: out.SessionID}, nil
}

// OutputComplete reports whether captured stdout already holds the CLI's
// complete JSON document. claude does not always exit promptly after writing
// its result, so the monitor may finalize on the artifact alone.
func (c *Claude) OutputComplete(stdout []byte) bool {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return false
	}
	var out claudeOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return false
	}
	return out.Result != "" || out.IsError
}

// ResumeCommand continues a previous session via --resume.
func (c *Claude) ResumeCommand(sessionID, prompt string) []string {
	return []string{"claude", "-p", prompt, "--resume", sessionID, "--output-format", "json"}
}

// ExpiredSession matches the claude CLI's expired-session stderr signature.
func (c *Claude) ExpiredSession(stderr []byte) bool {
	return bytes.Contains(stderr, []byte(claudeExpiredSignature))
}

// FallbackResume rebuilds context by embedding the previous exchange in the
// new prompt when the upstream session is gone.
func (c *Claude) FallbackResume(prev *spool.Spool, transcript, prompt string) []string {
	if transcript == "" {
		return nil
	}
	injected := fmt.Sprintf("Previous conversation transcript:\n\n%s\n\n---\n\nContinue from above. New message: %s", transcript, prompt)
	return []string{"claude", "-p", injected, "--output-format", "json"}
}
