package harness

import (
	"reflect"
	"strings"
	"testing"

	"github.com/agusx1211/spindle/internal/spool"
)

func TestClaudeBuildCommandCareful(t *testing.T) {
	c := NewClaude()
	sp := &spool.Spool{
		Prompt:       "fix the bug",
		Permission:   spool.PermissionCareful,
		AllowedTools: "Read,Write",
		WorkingDir:   "/proj",
	}
	argv, err := c.BuildCommand(sp)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	want := []string{
		"claude", "-p", "fix the bug", "--output-format", "json",
		"--permission-mode", "acceptEdits",
		"--allowedTools", "Read,Write",
	}
	if !reflect.DeepEqual(argv, want) {
		t.Fatalf("argv = %#v, want %#v", argv, want)
	}
}

func TestClaudeBuildCommandShardBypasses(t *testing.T) {
	c := NewClaude()
	for _, perm := range []string{spool.PermissionFull, spool.PermissionShard, spool.PermissionCarefulShard} {
		argv, err := c.BuildCommand(&spool.Spool{Prompt: "x", Permission: perm, WorkingDir: "/p"})
		if err != nil {
			t.Fatalf("BuildCommand(%s): %v", perm, err)
		}
		if !containsPair(argv, "--permission-mode", "bypassPermissions") {
			t.Fatalf("permission %s: argv = %v, want bypassPermissions", perm, argv)
		}
	}
}

func TestClaudeBuildCommandModelAndSystemPrompt(t *testing.T) {
	c := NewClaude()
	argv, err := c.BuildCommand(&spool.Spool{
		Prompt:       "x",
		Model:        "haiku",
		SystemPrompt: "be terse",
		WorkingDir:   "/p",
	})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if !containsPair(argv, "--model", "haiku") {
		t.Fatalf("argv = %v, missing --model haiku", argv)
	}
	if !containsPair(argv, "--system-prompt", "be terse") {
		t.Fatalf("argv = %v, missing --system-prompt", argv)
	}
}

func TestClaudeParseOutputJSON(t *testing.T) {
	c := NewClaude()
	out, err := c.ParseOutput([]byte(`{"result":"done","session_id":"sess-42","is_error":false}`))
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if out.Result != "done" || out.SessionID != "sess-42" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestClaudeParseOutputPlainText(t *testing.T) {
	c := NewClaude()
	out, err := c.ParseOutput([]byte("just plain text\n"))
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if out.Result != "just plain text" {
		t.Fatalf("result = %q", out.Result)
	}
}

func TestClaudeParseOutputErrors(t *testing.T) {
	c := NewClaude()
	if _, err := c.ParseOutput([]byte("  \n")); err == nil {
		t.Fatalf("empty output should fail")
	}
	if _, err := c.ParseOutput([]byte(`{"result":"boom","is_error":true}`)); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("is_error output: err = %v", err)
	}
}

func TestClaudeResumeAndFallback(t *testing.T) {
	c := NewClaude()
	argv := c.ResumeCommand("sess-1", "continue")
	want := []string{"claude", "-p", "continue", "--resume", "sess-1", "--output-format", "json"}
	if !reflect.DeepEqual(argv, want) {
		t.Fatalf("resume argv = %#v, want %#v", argv, want)
	}

	if !c.ExpiredSession([]byte("Error: No conversation found with session ID sess-1")) {
		t.Fatalf("expired signature not detected")
	}
	if c.ExpiredSession([]byte("some other failure")) {
		t.Fatalf("false positive on expired signature")
	}

	fb := c.FallbackResume(&spool.Spool{ID: "aa11bb22"}, "old transcript", "new message")
	if fb == nil {
		t.Fatalf("FallbackResume returned nil with transcript present")
	}
	prompt := fb[2]
	if !strings.Contains(prompt, "old transcript") || !strings.Contains(prompt, "new message") {
		t.Fatalf("fallback prompt = %q", prompt)
	}
	if got := c.FallbackResume(&spool.Spool{}, "", "x"); got != nil {
		t.Fatalf("FallbackResume without transcript = %v, want nil", got)
	}
}

func containsPair(argv []string, flag, value string) bool {
	for i := 0; i+1 < len(argv); i++ {
		if argv[i] == flag && argv[i+1] == value {
			return true
		}
	}
	return false
}
