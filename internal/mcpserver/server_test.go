package mcpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/agusx1211/spindle/internal/config"
	"github.com/agusx1211/spindle/internal/harness"
	"github.com/agusx1211/spindle/internal/spool"
	"github.com/agusx1211/spindle/internal/supervisor"
)

// shHarness runs prompts as shell scripts, mirroring the supervisor tests.
type shHarness struct{}

func (shHarness) Name() string             { return "fake" }
func (shHarness) IDPrefix() string         { return "" }
func (shHarness) RequiresWorkingDir() bool { return false }

func (shHarness) BuildCommand(sp *spool.Spool) ([]string, error) {
	return []string{"sh", "-c", sp.Prompt}, nil
}

func (shHarness) ParseOutput(stdout []byte) (harness.Outcome, error) {
	text := strings.TrimSpace(string(stdout))
	if text == "" {
		return harness.Outcome{}, fmt.Errorf("no output")
	}
	return harness.Outcome{Result: text}, nil
}

func (shHarness) ResumeCommand(sessionID, prompt string) []string {
	return []string{"sh", "-c", "echo resumed"}
}

func (shHarness) ExpiredSession(stderr []byte) bool { return false }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.DefaultHarness = "fake"

	reg := harness.NewRegistry()
	reg.Register(shHarness{})

	sup, err := supervisor.New(cfg, reg)
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	if err := sup.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(sup.Stop)

	return New(sup, "test")
}

func handle(t *testing.T, s *Server, raw string) *response {
	t.Helper()
	return s.Handle(t.Context(), []byte(raw))
}

func TestInitializeHandshake(t *testing.T) {
	s := newTestServer(t)
	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if resp == nil || resp.Error != nil {
		t.Fatalf("resp = %+v", resp)
	}
	result := resp.Result.(map[string]any)
	if result["protocolVersion"] != protocolVersion {
		t.Fatalf("protocolVersion = %v", result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "spindle" {
		t.Fatalf("serverInfo = %v", info)
	}

	// The initialized notification gets no response.
	if resp := handle(t, s, `{"jsonrpc":"2.0","method":"notifications/initialized"}`); resp != nil {
		t.Fatalf("notification got response %+v", resp)
	}
}

func TestProtocolErrors(t *testing.T) {
	s := newTestServer(t)

	resp := handle(t, s, `{not json`)
	if resp == nil || resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("parse error resp = %+v", resp)
	}

	resp = handle(t, s, `{"jsonrpc":"1.0","id":1,"method":"x"}`)
	if resp == nil || resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("version error resp = %+v", resp)
	}

	resp = handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	if resp == nil || resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method resp = %+v", resp)
	}
}

func TestToolsListCoversSurface(t *testing.T) {
	s := newTestServer(t)
	resp := handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if resp == nil || resp.Error != nil {
		t.Fatalf("resp = %+v", resp)
	}

	tools := resp.Result.(map[string]any)["tools"].([]toolDef)
	names := make(map[string]bool)
	for _, td := range tools {
		names[td.Name] = true
		if td.Description == "" || td.InputSchema == nil {
			t.Fatalf("tool %s missing description or schema", td.Name)
		}
	}
	for _, want := range []string{
		"spin", "unspool", "spools", "spin_wait", "respin", "spin_drop",
		"spool_peek", "spool_retry", "shard_status", "shard_merge", "shard_abandon",
		"spool_search", "spool_results", "spool_grep", "spool_export",
		"spool_info", "spool_stats", "spool_dashboard",
	} {
		if !names[want] {
			t.Fatalf("tool %s missing from tools/list", want)
		}
	}
}

func callToolRPC(t *testing.T, s *Server, name string, args map[string]any) *toolResult {
	t.Helper()
	params := map[string]any{"name": name, "arguments": args}
	raw, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 7, "method": "tools/call", "params": params,
	})
	resp := s.Handle(t.Context(), raw)
	if resp == nil {
		t.Fatalf("tools/call returned nil")
	}
	if resp.Error != nil {
		t.Fatalf("tools/call protocol error: %+v", resp.Error)
	}
	return resp.Result.(*toolResult)
}

func TestSpinThroughToolSurface(t *testing.T) {
	s := newTestServer(t)

	res := callToolRPC(t, s, "spin", map[string]any{"prompt": "echo hello"})
	if res.IsError {
		t.Fatalf("spin failed: %+v", res)
	}
	id := res.Content[0].Text
	if id == "" {
		t.Fatalf("no spool id returned")
	}

	// Wait for completion through the tool surface too.
	res = callToolRPC(t, s, "spin_wait", map[string]any{"spool_ids": id, "timeout": 10})
	if res.IsError {
		t.Fatalf("spin_wait failed: %+v", res)
	}

	res = callToolRPC(t, s, "unspool", map[string]any{"spool_id": id})
	if res.IsError || res.Content[0].Text != "hello" {
		t.Fatalf("unspool = %+v", res)
	}

	res = callToolRPC(t, s, "spools", nil)
	if res.IsError || !strings.Contains(res.Content[0].Text, id) {
		t.Fatalf("spools listing = %+v", res)
	}

	res = callToolRPC(t, s, "spool_dashboard", nil)
	if res.IsError {
		t.Fatalf("dashboard = %+v", res)
	}
}

func TestToolErrorsAreResultsNotProtocolErrors(t *testing.T) {
	s := newTestServer(t)

	res := callToolRPC(t, s, "unspool", map[string]any{"spool_id": "missing0"})
	if !res.IsError {
		t.Fatalf("unknown spool should be a tool error: %+v", res)
	}
	if !strings.Contains(res.Content[0].Text, "Error") {
		t.Fatalf("error text = %q", res.Content[0].Text)
	}

	res = callToolRPC(t, s, "nonexistent_tool", nil)
	if !res.IsError {
		t.Fatalf("unknown tool should be a tool error")
	}
}

func TestServeStdioRoundTrip(t *testing.T) {
	s := newTestServer(t)

	var in bytes.Buffer
	in.WriteString(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n")
	in.WriteString(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n")

	var out syncBuffer
	if err := s.ServeStdio(t.Context(), &in, &out); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d response lines, want 2:\n%s", len(lines), out.String())
	}
	ids := make(map[float64]bool)
	for _, line := range lines {
		var resp map[string]any
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", line, err)
		}
		if resp["error"] != nil {
			t.Fatalf("response error: %v", resp["error"])
		}
		ids[resp["id"].(float64)] = true
	}
	if !ids[1] || !ids[2] {
		t.Fatalf("missing response ids: %v", ids)
	}
}

// syncBuffer makes bytes.Buffer safe for the concurrent writes ServeStdio
// performs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWaitToolStreamMode(t *testing.T) {
	s := newTestServer(t)

	var ids []string
	for _, d := range []string{"0.2", "0.1"} {
		res := callToolRPC(t, s, "spin", map[string]any{"prompt": "sleep " + d + "; echo slept-" + d})
		if res.IsError {
			t.Fatalf("spin: %+v", res)
		}
		ids = append(ids, res.Content[0].Text)
	}

	res := callToolRPC(t, s, "spin_wait", map[string]any{
		"spool_ids": strings.Join(ids, ","),
		"mode":      "stream",
		"timeout":   10,
	})
	if res.IsError {
		t.Fatalf("spin_wait stream: %+v", res)
	}
	text := res.Content[0].Text
	if !strings.Contains(text, "slept-0.1") || !strings.Contains(text, "slept-0.2") {
		t.Fatalf("stream results incomplete: %s", text)
	}
	if strings.Index(text, "slept-0.1") > strings.Index(text, "slept-0.2") {
		t.Fatalf("stream results out of completion order: %s", text)
	}
}
