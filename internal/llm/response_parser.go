package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/twinrag/pkg/types"
)

// ErrSchemaViolation is returned when a model response does not match the
// JSON schema the prompt asked for.
var ErrSchemaViolation = errors.New("response violates schema")

// GraphNodeResponse is one concept in a graph extraction response.
type GraphNodeResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// GraphEdgeResponse is one relationship in a graph extraction response.
type GraphEdgeResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// GraphResponse is the graph extraction schema:
// {"nodes":[{"name","type"}],"edges":[{"from","to","type"}]}
type GraphResponse struct {
	Nodes []GraphNodeResponse `json:"nodes"`
	Edges []GraphEdgeResponse `json:"edges"`
}

// MemoryItemResponse is one belief in a memory extraction response.
type MemoryItemResponse struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// MemoryResponse is the memory extraction schema:
// {"memories":[{"type","content","confidence"}]}
type MemoryResponse struct {
	Memories []MemoryItemResponse `json:"memories"`
}

// extractJSON extracts the first complete JSON object from a string that may contain extra text.
// This handles cases where LLMs add explanations before/after the JSON despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found, return as-is and let the decoder fail
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		// Only count braces outside of strings
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // No complete JSON found, return as-is
}

// DecodeStrict decodes the JSON object embedded in text into v, rejecting
// unknown fields and trailing data.
func DecodeStrict(text string, v interface{}) error {
	raw := extractJSON(text)
	if raw == "" {
		return fmt.Errorf("%w: empty response", ErrSchemaViolation)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after object", ErrSchemaViolation)
	}
	return nil
}

// ParseGraphResponse decodes and validates a graph extraction response.
// Both arrays must be present; every node needs a name and type and every
// edge needs both endpoints and a type.
func ParseGraphResponse(text string) (*GraphResponse, error) {
	var wire struct {
		Nodes *[]GraphNodeResponse `json:"nodes"`
		Edges *[]GraphEdgeResponse `json:"edges"`
	}
	if err := DecodeStrict(text, &wire); err != nil {
		return nil, err
	}
	if wire.Nodes == nil || wire.Edges == nil {
		return nil, fmt.Errorf("%w: nodes and edges are required", ErrSchemaViolation)
	}

	resp := &GraphResponse{Nodes: *wire.Nodes, Edges: *wire.Edges}
	for i, n := range resp.Nodes {
		if strings.TrimSpace(n.Name) == "" || strings.TrimSpace(n.Type) == "" {
			return nil, fmt.Errorf("%w: node %d missing name or type", ErrSchemaViolation, i)
		}
	}
	for i, e := range resp.Edges {
		if strings.TrimSpace(e.From) == "" || strings.TrimSpace(e.To) == "" || strings.TrimSpace(e.Type) == "" {
			return nil, fmt.Errorf("%w: edge %d missing from, to or type", ErrSchemaViolation, i)
		}
	}
	return resp, nil
}

// ParseMemoryResponse decodes and validates a memory extraction response.
// A single invalid item invalidates the whole response.
func ParseMemoryResponse(text string) (*MemoryResponse, error) {
	var wire struct {
		Memories *[]MemoryItemResponse `json:"memories"`
	}
	if err := DecodeStrict(text, &wire); err != nil {
		return nil, err
	}
	if wire.Memories == nil {
		return nil, fmt.Errorf("%w: memories is required", ErrSchemaViolation)
	}

	resp := &MemoryResponse{Memories: *wire.Memories}
	for i, m := range resp.Memories {
		if _, err := types.ParseMemoryType(m.Type); err != nil {
			return nil, fmt.Errorf("%w: memory %d: %v", ErrSchemaViolation, i, err)
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, fmt.Errorf("%w: memory %d has empty content", ErrSchemaViolation, i)
		}
		if m.Confidence < 0 || m.Confidence > 1 {
			return nil, fmt.Errorf("%w: memory %d confidence %.2f out of range", ErrSchemaViolation, i, m.Confidence)
		}
	}
	return resp, nil
}
