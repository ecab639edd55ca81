// Package mcp exposes a twin's owner operations as Model Context Protocol
// tools over JSON-RPC 2.0.
package mcp

import "github.com/scrypster/twinrag/pkg/types"

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeServerError    = -32000
)

// MCPServerInfo identifies the server in the initialize handshake.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities lists what the server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to initialize.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to tools/list.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters of a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCPToolCallResult is the response to tools/call. Tool failures are reported
// with IsError rather than as JSON-RPC errors.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}

// QueryTwinArgs contains arguments for the query_twin tool.
type QueryTwinArgs struct {
	TwinID string `json:"twin_id,omitempty"` // defaults to the server's twin
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
}

// AddSourceArgs contains arguments for the add_source tool.
type AddSourceArgs struct {
	TwinID    string `json:"twin_id,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Label     string `json:"label,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SourceArgs names one source.
type SourceArgs struct {
	SourceID string `json:"source_id"`
}

// TwinArgs names one twin.
type TwinArgs struct {
	TwinID string `json:"twin_id,omitempty"`
}

// LearnArgs contains arguments for the learn_from_conversation tool.
type LearnArgs struct {
	TwinID    string       `json:"twin_id,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Turns     []types.Turn `json:"turns"`
}
