package gcp

import (
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoicesession/internal/llm"
)

func TestToSchema(t *testing.T) {
	s := toSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group_by": map[string]any{"type": "string", "description": "Field", "enum": []string{"vendor", "date"}},
			"limit":    map[string]any{"type": "integer"},
			"ids":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"group_by"},
	})

	require.NotNil(t, s)
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"group_by"}, s.Required)
	assert.Equal(t, genai.TypeString, s.Properties["group_by"].Type)
	assert.Equal(t, []string{"vendor", "date"}, s.Properties["group_by"].Enum)
	assert.Equal(t, "Field", s.Properties["group_by"].Description)
	assert.Equal(t, genai.TypeInteger, s.Properties["limit"].Type)
	assert.Equal(t, genai.TypeString, s.Properties["ids"].Items.Type)
}

func TestResponseMap(t *testing.T) {
	assert.Equal(t, map[string]any{"error": "boom"}, responseMap(llm.ToolResult{Error: "boom"}))
	assert.Equal(t, map[string]any{"count": float64(2)}, responseMap(llm.ToolResult{Payload: map[string]int{"count": 2}}))
	assert.Equal(t, map[string]any{"result": []any{"a", "b"}}, responseMap(llm.ToolResult{Payload: []string{"a", "b"}}))
}

func TestSplitResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: "model", Parts: []genai.Part{
			genai.Text("Checking. "),
			genai.FunctionCall{Name: "aggregate", Args: map[string]any{"group_by": "vendor"}},
		}},
	}}}

	text, calls := splitResponse(resp)
	assert.Equal(t, "Checking.", text)
	require.Len(t, calls, 1)
	assert.Equal(t, "aggregate", calls[0].Name)
	assert.NotEmpty(t, calls[0].ID)
	assert.Equal(t, "vendor", calls[0].Arguments["group_by"])

	text, calls = splitResponse(&genai.GenerateContentResponse{})
	assert.Empty(t, text)
	assert.Empty(t, calls)
}

func TestToParts(t *testing.T) {
	parts := toParts(llm.Message{
		Role:        llm.RoleUser,
		ToolResults: []llm.ToolResult{{CallID: "c1", Name: "filter", Payload: map[string]any{"count": 0}}},
	})
	require.Len(t, parts, 1)
	fr, ok := parts[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, "filter", fr.Name)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("INVOICE_TEST_KEY", "set")
	assert.Equal(t, "set", GetEnv("INVOICE_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnv("INVOICE_TEST_MISSING", "fallback"))
}
