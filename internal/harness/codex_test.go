package harness

import (
	"strings"
	"testing"

	"github.com/agusx1211/spindle/internal/spool"
)

func TestCodexSandboxFlagTable(t *testing.T) {
	tests := []struct {
		permission string
		want       string
	}{
		{spool.PermissionReadonly, "read-only"},
		{spool.PermissionCareful, "workspace-write"},
		{spool.PermissionCarefulShard, "workspace-write"},
		{spool.PermissionFull, "danger-full-access"},
		{spool.PermissionShard, "danger-full-access"},
	}
	for _, tt := range tests {
		if got := sandboxFlag(tt.permission); got != tt.want {
			t.Fatalf("sandboxFlag(%s) = %q, want %q", tt.permission, got, tt.want)
		}
	}
}

func TestCodexBuildCommandWithSandbox(t *testing.T) {
	c := &Codex{sandboxAvailable: true}
	argv, err := c.BuildCommand(&spool.Spool{
		Prompt:     "run tests",
		Permission: spool.PermissionCareful,
		WorkingDir: "/proj",
	})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if argv[0] != "codex" || argv[1] != "exec" {
		t.Fatalf("argv = %v", argv)
	}
	if !containsPair(argv, "--sandbox", "workspace-write") {
		t.Fatalf("argv = %v, want --sandbox workspace-write", argv)
	}
	if !containsPair(argv, "-c", `approval_policy="never"`) {
		t.Fatalf("argv = %v, want approval auto-override for careful", argv)
	}
	if argv[len(argv)-1] != "run tests" {
		t.Fatalf("prompt not last arg: %v", argv)
	}
}

func TestCodexBuildCommandBypassWithoutLandlock(t *testing.T) {
	c := &Codex{sandboxAvailable: false}
	argv, err := c.BuildCommand(&spool.Spool{
		Prompt:     "x",
		Permission: spool.PermissionReadonly,
		WorkingDir: "/proj",
	})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if !hasArg(argv, "--dangerously-bypass-approvals-and-sandbox") {
		t.Fatalf("argv = %v, want bypass flag", argv)
	}
	if hasArg(argv, "--sandbox") {
		t.Fatalf("argv = %v, sandbox flag should be substituted", argv)
	}
	if got := c.SandboxPolicy(spool.PermissionReadonly); !strings.Contains(got, "bypass") {
		t.Fatalf("SandboxPolicy = %q", got)
	}
}

func TestCodexBuildCommandRequiresWorkingDir(t *testing.T) {
	c := &Codex{sandboxAvailable: true}
	if _, err := c.BuildCommand(&spool.Spool{Prompt: "x"}); err == nil {
		t.Fatalf("BuildCommand without working_dir should fail")
	}
}

func TestCodexParseOutput(t *testing.T) {
	c := NewCodex()
	stream := strings.Join([]string{
		`{"type":"thread.started","thread_id":"th-99"}`,
		`{"type":"item.completed","item":{"type":"reasoning","text":"thinking"}}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"first answer"}}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"final answer"}}`,
		`{"type":"turn.completed","usage":{"input_tokens":10,"output_tokens":5}}`,
	}, "\n")

	out, err := c.ParseOutput([]byte(stream))
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if out.SessionID != "th-99" {
		t.Fatalf("SessionID = %q, want th-99", out.SessionID)
	}
	if out.Result != "final answer" {
		t.Fatalf("Result = %q, want last agent message", out.Result)
	}
}

func TestCodexParseOutputFailure(t *testing.T) {
	c := NewCodex()
	stream := `{"type":"turn.failed","error":{"message":"model refused"}}`
	if _, err := c.ParseOutput([]byte(stream)); err == nil || !strings.Contains(err.Error(), "model refused") {
		t.Fatalf("err = %v, want turn.failed message", err)
	}
	if _, err := c.ParseOutput([]byte("not json at all")); err == nil {
		t.Fatalf("garbage stream should fail")
	}
}

func TestCodexResumeAndExpired(t *testing.T) {
	c := NewCodex()
	argv := c.ResumeCommand("th-1", "go on")
	if argv[0] != "codex" || argv[1] != "exec" || argv[2] != "resume" || argv[3] != "th-1" {
		t.Fatalf("resume argv = %v", argv)
	}
	if argv[len(argv)-1] != "go on" {
		t.Fatalf("prompt not last: %v", argv)
	}

	if !c.ExpiredSession([]byte("ERROR: Conversation not found: th-1")) {
		t.Fatalf("expired signature not detected")
	}
	if c.ExpiredSession([]byte("network unreachable")) {
		t.Fatalf("false positive")
	}
}

func TestParseKernelRelease(t *testing.T) {
	tests := []struct {
		in           string
		major, minor int
		ok           bool
	}{
		{"6.8.0-45-generic\n", 6, 8, true},
		{"5.13-rc2", 5, 13, true},
		{"4.19.0", 4, 19, true},
		{"garbage", 0, 0, false},
	}
	for _, tt := range tests {
		major, minor, ok := parseKernelRelease(tt.in)
		if major != tt.major || minor != tt.minor || ok != tt.ok {
			t.Fatalf("parseKernelRelease(%q) = %d,%d,%v", tt.in, major, minor, ok)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"claude", "codex"} {
		h, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if h.Name() != name {
			t.Fatalf("Name() = %q, want %q", h.Name(), name)
		}
	}
	if _, err := r.Get("gemini"); err == nil {
		t.Fatalf("unknown harness should error")
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "claude" || names[1] != "codex" {
		t.Fatalf("Names() = %v", names)
	}
}

func hasArg(argv []string, flag string) bool {
	for _, a := range argv {
		if a == flag {
			return true
		}
	}
	return false
}
