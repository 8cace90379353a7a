// Package llm defines the model inference contract used by extraction and chat.
// Transports live elsewhere (see internal/gcp); this package holds only the
// provider-agnostic request and response shapes.
package llm

import (
	"context"
)

// Roles used in a conversation.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// CompletionRequest is a single-shot prompt.
type CompletionRequest struct {
	// Model is the transport-specific model identifier.
	Model  string
	System string
	Prompt string

	// Temperature nil uses the transport default.
	Temperature *float32
	MaxTokens   int

	// JSON asks the transport to constrain output to a JSON document.
	JSON bool
}

// ToolDefinition describes a callable tool with a JSON-schema parameter object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult answers one ToolCall. Exactly one of Payload or Error is set.
type ToolResult struct {
	CallID  string
	Name    string
	Payload any
	Error   string
}

// Message is one conversation turn. A model turn carries either Text or ToolCalls;
// a user turn carries either Text or ToolResults.
type Message struct {
	Role        string
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ConverseRequest is one tool-calling round trip.
type ConverseRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature *float32
	MaxTokens   int
}

// ConverseResponse is the model's reply: plain text, tool calls, or both.
type ConverseResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// Completer is the plain-completion transport.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ToolCaller is the tool-calling transport.
type ToolCaller interface {
	Converse(ctx context.Context, req ConverseRequest) (*ConverseResponse, error)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
