// Package mcpserver exposes the supervisor's tool surface over the Model
// Context Protocol: JSON-RPC 2.0 framed over stdio or streamable HTTP.
package mcpserver

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 specification: https://www.jsonrpc.org/specification

const jsonrpcVersion = "2.0"

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// Standard JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// request is an incoming JSON-RPC 2.0 request or notification.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request expects no response.
func (r *request) isNotification() bool {
	return r.ID == nil
}

// response is an outgoing JSON-RPC 2.0 response.
type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

// rpcError is the JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

func newResponse(id, result any) *response {
	return &response{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func newErrorResponse(id any, code int, message string) *response {
	return &response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	}
}

// parseRequest validates framing and version.
func parseRequest(data []byte) (*request, *response) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, newErrorResponse(nil, codeParseError, "failed to parse JSON-RPC request")
	}
	if req.JSONRPC != jsonrpcVersion {
		return nil, newErrorResponse(req.ID, codeInvalidRequest, fmt.Sprintf("invalid JSON-RPC version %q", req.JSONRPC))
	}
	if req.Method == "" {
		return nil, newErrorResponse(req.ID, codeInvalidRequest, "missing method")
	}
	return &req, nil
}
