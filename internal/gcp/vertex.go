package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"

	"github.com/Lllllllleong/invoicesession/internal/llm"
)

// VertexClient implements llm.Completer and llm.ToolCaller over Gemini models on
// Vertex AI. A GenerativeModel is built per call, so the client is safe for
// concurrent use.
type VertexClient struct {
	baseClient *genai.Client
}

// NewVertexClient creates a new Vertex AI client.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexClient{baseClient: baseClient}, nil
}

func (c *VertexClient) model(name, system string, temperature *float32, maxTokens int) *genai.GenerativeModel {
	m := c.baseClient.GenerativeModel(name)
	if system != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	if temperature != nil {
		m.SetTemperature(*temperature)
	}
	if maxTokens > 0 {
		m.SetMaxOutputTokens(int32(maxTokens))
	}
	m.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockOnlyHigh},
	}
	return m
}

// Complete implements llm.Completer.
func (c *VertexClient) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	m := c.model(req.Model, req.System, req.Temperature, req.MaxTokens)
	if req.JSON {
		// Force JSON output.
		m.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", llm.Unavailable(req.Model, err)
	}
	text, _ := splitResponse(resp)
	if text == "" {
		return "", llm.Unavailable(req.Model, fmt.Errorf("empty response"))
	}
	return text, nil
}

// Converse implements llm.ToolCaller. Every message but the last becomes chat
// history; the last must be a user turn.
func (c *VertexClient) Converse(ctx context.Context, req llm.ConverseRequest) (*llm.ConverseResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("converse: no messages")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != llm.RoleUser {
		return nil, fmt.Errorf("converse: last message must be a user turn, got %q", last.Role)
	}

	m := c.model(req.Model, req.System, req.Temperature, req.MaxTokens)
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toSchema(t.Parameters),
			}
		}
		m.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	cs := m.StartChat()
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		cs.History = append(cs.History, &genai.Content{Role: msg.Role, Parts: toParts(msg)})
	}

	resp, err := cs.SendMessage(ctx, toParts(last)...)
	if err != nil {
		return nil, llm.Unavailable(req.Model, err)
	}
	text, calls := splitResponse(resp)
	return &llm.ConverseResponse{Text: text, ToolCalls: calls}, nil
}

// Close releases the underlying client.
func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

func toParts(msg llm.Message) []genai.Part {
	var parts []genai.Part
	if msg.Text != "" {
		parts = append(parts, genai.Text(msg.Text))
	}
	for _, call := range msg.ToolCalls {
		parts = append(parts, genai.FunctionCall{Name: call.Name, Args: call.Arguments})
	}
	for _, res := range msg.ToolResults {
		parts = append(parts, genai.FunctionResponse{Name: res.Name, Response: responseMap(res)})
	}
	return parts
}

// responseMap shapes a tool result as the JSON object Gemini expects.
func responseMap(res llm.ToolResult) map[string]any {
	if res.Error != "" {
		return map[string]any{"error": res.Error}
	}
	data, err := json.Marshal(res.Payload)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("failed to encode result: %v", err)}
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil && obj != nil {
		return obj
	}
	var anyVal any
	_ = json.Unmarshal(data, &anyVal)
	return map[string]any{"result": anyVal}
}

func splitResponse(resp *genai.GenerateContentResponse) (string, []llm.ToolCall) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var b strings.Builder
	var calls []llm.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			b.WriteString(string(p))
		case genai.FunctionCall:
			calls = append(calls, llm.ToolCall{ID: uuid.NewString(), Name: p.Name, Arguments: p.Args})
		case *genai.FunctionCall:
			calls = append(calls, llm.ToolCall{ID: uuid.NewString(), Name: p.Name, Arguments: p.Args})
		}
	}
	return strings.TrimSpace(b.String()), calls
}

// toSchema converts a JSON-schema object into the genai schema type.
func toSchema(in map[string]any) *genai.Schema {
	if in == nil {
		return nil
	}
	s := &genai.Schema{}
	switch in["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "string":
		s.Type = genai.TypeString
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	}
	if d, ok := in["description"].(string); ok {
		s.Description = d
	}
	if props, ok := in["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
			}
		}
	}
	if items, ok := in["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	switch req := in["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	switch enum := in["enum"].(type) {
	case []string:
		s.Enum = enum
	case []any:
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return s
}
