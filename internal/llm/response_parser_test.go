package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantJSON string
	}{
		{
			name:     "plain JSON object",
			input:    `{"key": "value"}`,
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "JSON with markdown code block",
			input:    "```json\n{\"key\": \"value\"}\n```",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "JSON with triple backticks",
			input:    "```\n{\"key\": \"value\"}\n```",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "JSON with surrounding text",
			input:    "Here is the JSON:\n{\"key\": \"value\"}\nEnd of JSON",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "nested JSON object",
			input:    `{"outer": {"inner": "value"}}`,
			wantJSON: `{"outer": {"inner": "value"}}`,
		},
		{
			name:     "JSON with escaped quotes in string",
			input:    `{"text": "He said \"hello\""}`,
			wantJSON: `{"text": "He said \"hello\""}`,
		},
		{
			name:     "JSON with backslash escapes",
			input:    `{"path": "C:\\Users\\test"}`,
			wantJSON: `{"path": "C:\\Users\\test"}`,
		},
		{
			name:     "no JSON present",
			input:    "just some text without json",
			wantJSON: "just some text without json",
		},
		{
			name:     "empty string",
			input:    "",
			wantJSON: "",
		},
		{
			name:     "JSON with newlines in strings",
			input:    `{"text": "line1\nline2"}`,
			wantJSON: `{"text": "line1\nline2"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractJSON(tt.input)
			if got != tt.wantJSON {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.input, got, tt.wantJSON)
			}
		})
	}
}

func TestParseGraphResponse(t *testing.T) {
	resp, err := ParseGraphResponse("Sure!\n```json\n" + `{"nodes":[{"name":"Go","type":"tool"},{"name":"Concurrency","type":"concept"}],"edges":[{"from":"Go","to":"Concurrency","type":"supports"}]}` + "\n```")
	require.NoError(t, err)
	assert.Len(t, resp.Nodes, 2)
	require.Len(t, resp.Edges, 1)
	assert.Equal(t, "supports", resp.Edges[0].Type)

	resp, err = ParseGraphResponse(`{"nodes":[],"edges":[]}`)
	require.NoError(t, err)
	assert.Empty(t, resp.Nodes)
}

func TestParseGraphResponse_SchemaViolations(t *testing.T) {
	cases := map[string]string{
		"not json":         "no concepts here",
		"missing edges":    `{"nodes":[{"name":"Go","type":"tool"}]}`,
		"unknown field":    `{"nodes":[{"name":"Go","type":"tool","weight":3}],"edges":[]}`,
		"unnamed node":     `{"nodes":[{"name":" ","type":"tool"}],"edges":[]}`,
		"edge no target":   `{"nodes":[],"edges":[{"from":"a","type":"x"}]}`,
		"wrong value type": `{"nodes":"Go","edges":[]}`,
		"empty":            "",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGraphResponse(input)
			assert.ErrorIs(t, err, ErrSchemaViolation)
		})
	}
}

func TestParseMemoryResponse(t *testing.T) {
	resp, err := ParseMemoryResponse(`{"memories":[{"type":"goal","content":"Run a marathon","confidence":0.9}]}`)
	require.NoError(t, err)
	require.Len(t, resp.Memories, 1)
	assert.Equal(t, "goal", resp.Memories[0].Type)

	for name, input := range map[string]string{
		"missing key":   `{"beliefs":[]}`,
		"unknown type":  `{"memories":[{"type":"wish","content":"x","confidence":0.9}]}`,
		"empty content": `{"memories":[{"type":"goal","content":"","confidence":0.9}]}`,
		"confidence >1": `{"memories":[{"type":"goal","content":"x","confidence":1.5}]}`,
		"extra field":   `{"memories":[{"type":"goal","content":"x","confidence":0.9,"why":"y"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMemoryResponse(input)
			assert.ErrorIs(t, err, ErrSchemaViolation)
		})
	}
}

func TestDecodeStrict_RejectsTrailingObject(t *testing.T) {
	var v map[string]interface{}
	// extractJSON keeps only the first object, so trailing prose is fine.
	require.NoError(t, DecodeStrict(`{"a":1} and then some`, &v))
	assert.Equal(t, float64(1), v["a"])
}
