package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/twinrag/internal/app"
	"github.com/scrypster/twinrag/internal/ingest"
	"github.com/scrypster/twinrag/pkg/types"
)

// graphLimit caps the edges returned by twin_graph.
const graphLimit = 200

// Server implements the MCP protocol on top of an App. Every tool acts with
// owner trust; there is no public surface here.
type Server struct {
	app         *app.App
	defaultTwin string
	version     string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDefaultTwin sets the twin used when a tool call omits twin_id.
func WithDefaultTwin(id string) ServerOption {
	return func(s *Server) { s.defaultTwin = id }
}

// WithVersion sets the version reported by initialize.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// NewServer creates an MCP server over a.
func NewServer(a *app.App, opts ...ServerOption) *Server {
	s := &Server{app: a, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleRequest processes one JSON-RPC 2.0 request and returns the encoded
// response.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error
	switch req.Method {
	case "initialize":
		result = MCPInitializeResult{
			ProtocolVersion: "2024-11-05",
			Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
			ServerInfo:      MCPServerInfo{Name: "twinrag", Version: s.version},
		}
	case "initialized", "notifications/initialized":
		result = map[string]interface{}{}
	case "tools/list":
		result = MCPToolsListResult{Tools: toolsList()}
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
	if err != nil {
		return s.errorResponse(req.ID, ErrCodeInvalidParams, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	var result interface{}
	var err error
	switch p.Name {
	case "query_twin":
		var args QueryTwinArgs
		if err = unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.QueryTwin(ctx, args)
		}
	case "add_source":
		var args AddSourceArgs
		if err = unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.AddSource(ctx, args)
		}
	case "approve_source":
		var args SourceArgs
		if err = unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.app.Ingest.Approve(ctx, args.SourceID)
		}
	case "drain_jobs":
		var args TwinArgs
		if err = unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.withTwin(ctx, args.TwinID, func(id string) (interface{}, error) {
				return s.app.Queue.Drain(ctx, id)
			})
		}
	case "twin_readiness":
		var args TwinArgs
		if err = unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.withTwin(ctx, args.TwinID, func(id string) (interface{}, error) {
				return s.app.Readiness.Check(ctx, id)
			})
		}
	case "twin_graph":
		var args TwinArgs
		if err = unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.withTwin(ctx, args.TwinID, func(id string) (interface{}, error) {
				return s.app.Extractor.Graph(ctx, id, graphLimit)
			})
		}
	case "learn_from_conversation":
		var args LearnArgs
		if err = unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.Learn(ctx, args)
		}
	default:
		return toolError(fmt.Sprintf("unknown tool: %s", p.Name)), nil
	}
	if err != nil {
		return toolError(err.Error()), nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &MCPToolCallResult{Content: []MCPToolCallContent{{Type: "text", Text: string(text)}}}, nil
}

// QueryTwin runs an owner query. The trace is included.
func (s *Server) QueryTwin(ctx context.Context, args QueryTwinArgs) (interface{}, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("query is required")
	}
	return s.withTwin(ctx, args.TwinID, func(id string) (interface{}, error) {
		return s.app.Retrieval.OwnerQuery(ctx, id, args.Query, args.TopK)
	})
}

// AddSource ingests pasted text or a URL. A run that fails after the source
// was created is reported as an error naming the source.
func (s *Server) AddSource(ctx context.Context, args AddSourceArgs) (interface{}, error) {
	var in ingest.Input
	switch {
	case args.Text != "" && args.URL != "":
		return nil, errors.New("text and url are mutually exclusive")
	case args.Text != "":
		in = ingest.Input{Kind: types.SourceKindFile, Filename: "content.txt", ContentType: "text/plain", Data: []byte(args.Text)}
	case args.URL != "":
		in = ingest.Input{Kind: types.SourceKindURL, URL: args.URL}
	default:
		return nil, errors.New("text or url is required")
	}

	return s.withTwin(ctx, args.TwinID, func(id string) (interface{}, error) {
		src, err := s.app.Ingest.Ingest(ctx, ingest.Request{
			TwinID:    id,
			SourceID:  args.SourceID,
			Title:     args.Title,
			Label:     types.SourceLabel(args.Label),
			Confirmed: args.Confirmed,
			Input:     in,
		})
		if err != nil && src != nil {
			return nil, fmt.Errorf("source %s failed: %w", src.ID, err)
		}
		return src, err
	})
}

// Learn proposes memories from a conversation and stores them for review.
func (s *Server) Learn(ctx context.Context, args LearnArgs) (interface{}, error) {
	if len(args.Turns) == 0 {
		return nil, errors.New("turns are required")
	}
	if args.SessionID == "" {
		args.SessionID = uuid.NewString()
	}
	return s.withTwin(ctx, args.TwinID, func(id string) (interface{}, error) {
		return s.app.Memory.LearnFromTranscript(ctx, id, args.SessionID, args.Turns)
	})
}

// withTwin resolves the twin id, checks that the twin exists and calls fn.
func (s *Server) withTwin(ctx context.Context, twinID string, fn func(id string) (interface{}, error)) (interface{}, error) {
	if twinID == "" {
		twinID = s.defaultTwin
	}
	if twinID == "" {
		return nil, errors.New("twin_id is required")
	}
	if _, err := s.app.Store.GetTwin(ctx, twinID); err != nil {
		return nil, fmt.Errorf("twin %s: %w", twinID, err)
	}
	return fn(twinID)
}

func toolError(msg string) *MCPToolCallResult {
	return &MCPToolCallResult{Content: []MCPToolCallContent{{Type: "text", Text: msg}}, IsError: true}
}

func toolsList() []MCPTool {
	twinProp := map[string]interface{}{"type": "string", "description": "Twin id; defaults to the server's twin"}
	twinOnly := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"twin_id": twinProp},
	}
	return []MCPTool{
		{
			Name:        "query_twin",
			Description: "Retrieve cited passages and graph facts from the twin's knowledge with owner trust.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"twin_id": twinProp,
					"query":   map[string]interface{}{"type": "string"},
					"top_k":   map[string]interface{}{"type": "integer", "minimum": 1},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "add_source",
			Description: "Ingest pasted text or a URL as a new source. Identity sources need confirmed=true.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"twin_id":   twinProp,
					"source_id": map[string]interface{}{"type": "string"},
					"title":     map[string]interface{}{"type": "string"},
					"label":     map[string]interface{}{"type": "string", "enum": []string{"knowledge", "identity", "policy"}},
					"confirmed": map[string]interface{}{"type": "boolean"},
					"text":      map[string]interface{}{"type": "string"},
					"url":       map[string]interface{}{"type": "string"},
				},
			},
		},
		{
			Name:        "approve_source",
			Description: "Approve a staged source and queue its indexing job.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"source_id": map[string]interface{}{"type": "string"}},
				"required":   []string{"source_id"},
			},
		},
		{Name: "drain_jobs", Description: "Run the twin's queued training jobs now.", InputSchema: twinOnly},
		{Name: "twin_readiness", Description: "Report vector count, graph size and recent verification runs.", InputSchema: twinOnly},
		{Name: "twin_graph", Description: "Return the twin's concept graph.", InputSchema: twinOnly},
		{
			Name:        "learn_from_conversation",
			Description: "Propose memories from a conversation. Proposals wait for owner review.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"twin_id":    twinProp,
					"session_id": map[string]interface{}{"type": "string"},
					"turns": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"role": map[string]interface{}{"type": "string"},
								"text": map[string]interface{}{"type": "string"},
							},
						},
					},
				},
				"required": []string{"turns"},
			},
		},
	}
}

func unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
