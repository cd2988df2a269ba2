package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/agusx1211/spindle/internal/debug"
	"github.com/agusx1211/spindle/internal/supervisor"
)

// serverName identifies this implementation in the initialize handshake.
const serverName = "spindle"

// Server handles MCP requests against one supervisor. The same core serves
// both the stdio and the HTTP transport.
type Server struct {
	sup     *supervisor.Supervisor
	version string
}

// New creates an MCP server over the supervisor.
func New(sup *supervisor.Supervisor, version string) *Server {
	return &Server{sup: sup, version: version}
}

// Handle processes one JSON-RPC message and returns the response to send,
// or nil for notifications.
func (s *Server) Handle(ctx context.Context, data []byte) *response {
	req, errResp := parseRequest(data)
	if errResp != nil {
		return errResp
	}

	debug.LogKV("mcp", "request", "method", req.Method)

	switch req.Method {
	case "initialize":
		return newResponse(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": s.version,
			},
		})

	case "notifications/initialized", "initialized":
		return nil

	case "ping":
		return newResponse(req.ID, map[string]any{})

	case "tools/list":
		return newResponse(req.ID, map[string]any{"tools": toolDefs()})

	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newErrorResponse(req.ID, codeInvalidParams, "invalid tools/call params")
		}
		if params.Name == "" {
			return newErrorResponse(req.ID, codeInvalidParams, "missing tool name")
		}
		result := s.callTool(ctx, params.Name, params.Arguments)
		return newResponse(req.ID, result)

	default:
		if req.isNotification() {
			return nil
		}
		return newErrorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}
}
