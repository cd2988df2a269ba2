package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agusx1211/spindle/internal/spool"
	"github.com/agusx1211/spindle/internal/supervisor"
)

// toolDef is one entry of the tools/list response.
type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// toolResult is the MCP tools/call result envelope.
type toolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(text string) *toolResult {
	return &toolResult{Content: []contentBlock{{Type: "text", Text: text}}}
}

func errorResult(err error) *toolResult {
	return &toolResult{Content: []contentBlock{{Type: "text", Text: "Error: " + err.Error()}}, IsError: true}
}

func jsonResult(v any) *toolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return textResult(string(data))
}

// schema builds an object input schema from property name/definition pairs.
func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// toolDefs lists every operation the supervisor exposes.
func toolDefs() []toolDef {
	return []toolDef{
		{
			Name:        "spin",
			Description: "Spawn a child agent to handle a task. Returns immediately with a spool_id; use unspool to collect the result.",
			InputSchema: schema([]string{"prompt", "working_dir"}, map[string]any{
				"prompt":        strProp("The task for the child agent"),
				"harness":       strProp("Which agent CLI to use: claude (default) or codex"),
				"permission":    strProp("Permission profile: readonly, careful (default), full, shard, careful+shard"),
				"shard":         boolProp("Run in an isolated git worktree"),
				"system_prompt": strProp("Optional system prompt"),
				"working_dir":   strProp("Directory the child runs in"),
				"allowed_tools": strProp("Explicit tool restriction overriding the permission profile"),
				"tags":          strProp("Comma-separated labels for organizing spools"),
				"model":         strProp("Harness-specific model tag"),
				"timeout":       intProp("Kill the spool after this many seconds"),
			}),
		},
		{
			Name:        "unspool",
			Description: "Get a spool's result text once complete; otherwise a one-line status with the prompt (pending or running) or the error (failed, timed out or killed). The full record is not returned; use spool_info for that.",
			InputSchema: schema([]string{"spool_id"}, map[string]any{
				"spool_id": strProp("The spool to inspect"),
			}),
		},
		{
			Name:        "spools",
			Description: "List all spools with status and prompt summaries.",
			InputSchema: schema(nil, map[string]any{}),
		},
		{
			Name:        "spin_wait",
			Description: "Block until spools finish. mode=gather returns all records at once; mode=stream returns them in completion order.",
			InputSchema: schema([]string{"spool_ids"}, map[string]any{
				"spool_ids": strProp("Comma-separated spool ids"),
				"mode":      strProp("gather (default) or stream"),
				"timeout":   intProp("Give up after this many seconds"),
			}),
		},
		{
			Name:        "respin",
			Description: "Continue an earlier session with a follow-up prompt. Falls back to transcript injection when the session has expired upstream.",
			InputSchema: schema([]string{"session_id", "prompt"}, map[string]any{
				"session_id": strProp("Session id from a completed spool"),
				"prompt":     strProp("The follow-up message"),
			}),
		},
		{
			Name:        "spin_drop",
			Description: "Cancel a running spool. No-op on finished spools.",
			InputSchema: schema([]string{"spool_id"}, map[string]any{
				"spool_id": strProp("The spool to cancel"),
			}),
		},
		{
			Name:        "spool_peek",
			Description: "See the tail of a running spool's live output.",
			InputSchema: schema([]string{"spool_id"}, map[string]any{
				"spool_id": strProp("The spool to peek at"),
				"lines":    intProp("Lines from the end (default 50)"),
			}),
		},
		{
			Name:        "spool_retry",
			Description: "Re-run a spool with the same parameters.",
			InputSchema: schema([]string{"spool_id"}, map[string]any{
				"spool_id": strProp("The spool to retry"),
			}),
		},
		{
			Name:        "shard_status",
			Description: "Inspect the worktree and branch of a spool's shard.",
			InputSchema: schema([]string{"spool_id"}, map[string]any{
				"spool_id": strProp("The spool whose shard to inspect"),
			}),
		},
		{
			Name:        "shard_merge",
			Description: "Merge a shard's branch back into the original branch and remove the worktree. Conflicts are reported without merging.",
			InputSchema: schema([]string{"spool_id"}, map[string]any{
				"spool_id":    strProp("The spool whose shard to merge"),
				"keep_branch": boolProp("Keep the branch after merging"),
			}),
		},
		{
			Name:        "shard_abandon",
			Description: "Remove a shard's worktree without merging.",
			InputSchema: schema([]string{"spool_id"}, map[string]any{
				"spool_id":    strProp("The spool whose shard to abandon"),
				"keep_branch": boolProp("Keep the branch for later salvage"),
			}),
		},
		{
			Name:        "spool_search",
			Description: "Case-insensitive substring search over spool prompts and results.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query": strProp("The search string"),
				"field": strProp("prompt, result, or both (default)"),
			}),
		},
		{
			Name:        "spool_results",
			Description: "Bulk fetch spool results filtered by status and time window.",
			InputSchema: schema(nil, map[string]any{
				"status": strProp("complete (default), error, running, or all"),
				"since":  strProp("Time window: 1h, 6h, 12h, 1d, 7d"),
				"limit":  intProp("Max results (default 10)"),
			}),
		},
		{
			Name:        "spool_grep",
			Description: "Regex search through all spool results.",
			InputSchema: schema([]string{"pattern"}, map[string]any{
				"pattern": strProp("Regular expression"),
			}),
		},
		{
			Name:        "spool_export",
			Description: "Export spool records to a JSON or markdown file.",
			InputSchema: schema([]string{"spool_ids"}, map[string]any{
				"spool_ids":   strProp("Comma-separated spool ids, or \"all\""),
				"format":      strProp("json (default) or md"),
				"output_path": strProp("Destination path (default <root>/export.<format>)"),
			}),
		},
		{
			Name:        "spool_info",
			Description: "Full record dump of one spool for debugging.",
			InputSchema: schema([]string{"spool_id"}, map[string]any{
				"spool_id": strProp("The spool to inspect"),
			}),
		},
		{
			Name:        "spool_stats",
			Description: "Counts by status and the creation time range.",
			InputSchema: schema(nil, map[string]any{}),
		},
		{
			Name:        "spool_dashboard",
			Description: "Single-view dashboard: counts, running spools, recent completions, and items needing attention.",
			InputSchema: schema(nil, map[string]any{}),
		},
	}
}

// callTool dispatches one tools/call invocation into the supervisor. Tool
// failures come back as isError results, never as protocol errors.
func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) *toolResult {
	switch name {
	case "spin":
		var p struct {
			Prompt       string `json:"prompt"`
			Harness      string `json:"harness"`
			Permission   string `json:"permission"`
			Shard        bool   `json:"shard"`
			SystemPrompt string `json:"system_prompt"`
			WorkingDir   string `json:"working_dir"`
			AllowedTools string `json:"allowed_tools"`
			Tags         string `json:"tags"`
			Model        string `json:"model"`
			Timeout      int    `json:"timeout"`
		}
		if err := unmarshalArgs(args, &p); err != nil {
			return errorResult(err)
		}
		id, err := s.sup.Spin(ctx, supervisor.SpinRequest{
			Prompt:       p.Prompt,
			Harness:      p.Harness,
			Permission:   p.Permission,
			Shard:        p.Shard,
			SystemPrompt: p.SystemPrompt,
			WorkingDir:   p.WorkingDir,
			AllowedTools: p.AllowedTools,
			Tags:         p.Tags,
			Model:        p.Model,
			Timeout:      p.Timeout,
		})
		if err != nil {
			return errorResult(err)
		}
		return textResult(id)

	case "unspool":
		id, err := argString(args, "spool_id")
		if err != nil {
			return errorResult(err)
		}
		sp, err := s.sup.Unspool(id)
		if err != nil {
			return errorResult(err)
		}
		switch sp.Status {
		case spool.StatusComplete:
			return textResult(sp.Result)
		case spool.StatusPending, spool.StatusRunning:
			return textResult(fmt.Sprintf("Spool %s %s: %s", sp.ID, sp.Status, spool.Truncate(sp.Prompt, 50)))
		default:
			return textResult(fmt.Sprintf("Spool %s %s: %s", sp.ID, sp.Status, sp.Error))
		}

	case "spools":
		summaries, err := s.sup.List()
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(summaries)

	case "spin_wait":
		var p struct {
			SpoolIDs string `json:"spool_ids"`
			Mode     string `json:"mode"`
			Timeout  int    `json:"timeout"`
		}
		if err := unmarshalArgs(args, &p); err != nil {
			return errorResult(err)
		}
		return s.waitTool(ctx, p.SpoolIDs, p.Mode, p.Timeout)

	case "respin":
		var p struct {
			SessionID string `json:"session_id"`
			Prompt    string `json:"prompt"`
		}
		if err := unmarshalArgs(args, &p); err != nil {
			return errorResult(err)
		}
		id, err := s.sup.Respin(p.SessionID, p.Prompt)
		if err != nil {
			return errorResult(err)
		}
		return textResult(id)

	case "spin_drop":
		id, err := argString(args, "spool_id")
		if err != nil {
			return errorResult(err)
		}
		if err := s.sup.Drop(id); err != nil {
			return errorResult(err)
		}
		return textResult("Dropped spool " + id)

	case "spool_peek":
		var p struct {
			SpoolID string `json:"spool_id"`
			Lines   int    `json:"lines"`
		}
		if err := unmarshalArgs(args, &p); err != nil {
			return errorResult(err)
		}
		out, err := s.sup.Peek(p.SpoolID, p.Lines)
		if err != nil {
			return errorResult(err)
		}
		return textResult(out)

	case "spool_retry":
		id, err := argString(args, "spool_id")
		if err != nil {
			return errorResult(err)
		}
		newID, err := s.sup.Retry(ctx, id)
		if err != nil {
			return errorResult(err)
		}
		return textResult(newID)

	case "shard_status":
		id, err := argString(args, "spool_id")
		if err != nil {
			return errorResult(err)
		}
		st, err := s.sup.ShardStatus(ctx, id)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(st)

	case "shard_merge":
		var p struct {
			SpoolID    string `json:"spool_id"`
			KeepBranch bool   `json:"keep_branch"`
		}
		if err := unmarshalArgs(args, &p); err != nil {
			return errorResult(err)
		}
		res, err := s.sup.ShardMerge(ctx, p.SpoolID, p.KeepBranch)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(res)

	case "shard_abandon":
		var p struct {
			SpoolID    string `json:"spool_id"`
			KeepBranch bool   `json:"keep_branch"`
		}
		if err := unmarshalArgs(args, &p); err != nil {
			return errorResult(err)
		}
		if err := s.sup.ShardAbandon(ctx, p.SpoolID, p.KeepBranch); err != nil {
			return errorResult(err)
		}
		return textResult("Abandoned shard " + p.SpoolID)

	case "spool_search":
		var p struct {
			Query string `json:"query"`
			Field string `json:"field"`
		}
		if err := unmarshalArgs(args, &p); err != nil {
			return errorResult(err)
		}
		matches, err := s.sup.Search(p.Query, p.Field)
		if err != nil {
			return errorResult(err)
		}
		if len(matches) == 0 {
			return textResult(fmt.Sprintf("No spools found matching %q", p.Query))
		}
		return jsonResult(matches)

	case "spool_results":
		var p struct {
			Status string `json:"status"`
			Since  string `json:"since"`
			Limit  int    `json:"limit"`
		}
		if err := unmarshalArgs(args, &p); err != nil {
			return errorResult(err)
		}
		entries, err := s.sup.Results(p.Status, p.Since, p.Limit)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(entries)

	case "spool_grep":
		pattern, err := argString(args, "pattern")
		if err != nil {
			return errorResult(err)
		}
		matches, err := s.sup.Grep(pattern)
		if err != nil {
			return errorResult(err)
		}
		if len(matches) == 0 {
			return textResult(fmt.Sprintf("No results matching pattern %q", pattern))
		}
		return jsonResult(matches)

	case "spool_export":
		var p struct {
			SpoolIDs   string `json:"spool_ids"`
			Format     string `json:"format"`
			OutputPath string `json:"output_path"`
		}
		if err := unmarshalArgs(args, &p); err != nil {
			return errorResult(err)
		}
		path, err := s.sup.Export(p.SpoolIDs, p.Format, p.OutputPath)
		if err != nil {
			return errorResult(err)
		}
		return textResult("Exported to " + path)

	case "spool_info":
		id, err := argString(args, "spool_id")
		if err != nil {
			return errorResult(err)
		}
		sp, err := s.sup.Store().Get(id)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(sp)

	case "spool_stats":
		st, err := s.sup.BuildStats()
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(st)

	case "spool_dashboard":
		d, err := s.sup.BuildDashboard(ctx)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(d)

	default:
		return errorResult(fmt.Errorf("unknown tool %q", name))
	}
}

// waitTool runs spin_wait in either mode and renders the records.
func (s *Server) waitTool(ctx context.Context, spoolIDs, mode string, timeoutSec int) *toolResult {
	var ids []string
	for _, id := range strings.Split(spoolIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	timeout := time.Duration(timeoutSec) * time.Second

	switch mode {
	case "", string(supervisor.WaitGather):
		records, err := s.sup.WaitGatherResult(ctx, ids, timeout)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(records)
	case string(supervisor.WaitStream):
		ch, err := s.sup.WaitStreamResult(ctx, ids, timeout)
		if err != nil {
			return errorResult(err)
		}
		var records []*spool.Spool
		for sp := range ch {
			records = append(records, sp)
		}
		return jsonResult(records)
	default:
		return errorResult(fmt.Errorf("invalid mode %q (want gather or stream)", mode))
	}
}

func unmarshalArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func argString(args json.RawMessage, key string) (string, error) {
	var m map[string]any
	if err := unmarshalArgs(args, &m); err != nil {
		return "", err
	}
	val, _ := m[key].(string)
	if val == "" {
		return "", fmt.Errorf("%s required", key)
	}
	return val, nil
}
