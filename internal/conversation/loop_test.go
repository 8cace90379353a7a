package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoicesession/internal/llm"
	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/similarity"
	"github.com/Lllllllleong/invoicesession/internal/tools"
)

type stubCaller struct {
	mu       sync.Mutex
	requests []llm.ConverseRequest
	respond  func(ctx context.Context, n int, req llm.ConverseRequest) (*llm.ConverseResponse, error)
}

func (s *stubCaller) Converse(ctx context.Context, req llm.ConverseRequest) (*llm.ConverseResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	s.mu.Unlock()
	return s.respond(ctx, n, req)
}

func (s *stubCaller) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubCompleter struct {
	text   string
	err    error
	prompt string
}

func (s *stubCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	s.prompt = req.Prompt
	return s.text, s.err
}

func session() *models.Session {
	docs := []models.Document{
		{ID: "d1", Filename: "acme.pdf", Record: models.StructuredRecord{VendorName: models.Str("Acme Legal LLP"), TotalAmount: models.Float(950), InvoiceNumber: models.Str("A-1")}},
		{ID: "d2", Filename: "globex.pdf", Record: models.StructuredRecord{VendorName: models.Str("Globex"), TotalAmount: models.Float(1250.5),
			LineItems: []models.LineItem{{Description: "Cloud migration", Quantity: models.Float(5), Rate: models.Float(250.1), Person: models.Str("R. Roe")}}}},
		{ID: "d3", Filename: "initech.pdf", Record: models.StructuredRecord{VendorName: models.Str("Initech")}},
	}
	texts := make([]string, len(docs))
	for i := range docs {
		docs[i].IndexedText = docs[i].SearchText()
		texts[i] = docs[i].IndexedText
	}
	ix := similarity.NewIndex(texts)
	for i := range docs {
		docs[i].Vector = ix.Vectors()[i]
	}
	return &models.Session{ID: "s1", Documents: docs, Vectorizer: ix.Vectorizer()}
}

func TestAskStopsAtRoundCap(t *testing.T) {
	caller := &stubCaller{respond: func(_ context.Context, n int, _ llm.ConverseRequest) (*llm.ConverseResponse, error) {
		return &llm.ConverseResponse{ToolCalls: []llm.ToolCall{{Name: tools.SessionSummaryTool}}}, nil
	}}
	loop := NewLoop(caller, nil, Config{Model: "chat"})

	ans := loop.Ask(context.Background(), session(), "summarise everything")

	assert.Equal(t, 3, caller.calls())
	assert.Equal(t, CappedMessage, ans.Text)
	assert.Equal(t, models.AnswerModeTools, ans.Mode)
	assert.Equal(t, 3, ans.Rounds)
}

func TestAskFeedsToolResultsBack(t *testing.T) {
	caller := &stubCaller{respond: func(_ context.Context, n int, req llm.ConverseRequest) (*llm.ConverseResponse, error) {
		if n == 1 {
			return &llm.ConverseResponse{ToolCalls: []llm.ToolCall{
				{ID: "agg", Name: tools.AggregateTool, Arguments: map[string]any{"group_by": "vendor", "operation": "sum"}},
				{ID: "bad", Name: "drop_tables"},
				{Name: tools.VendorSummaryTool},
			}}, nil
		}
		return &llm.ConverseResponse{Text: "Globex charged the most."}, nil
	}}
	loop := NewLoop(caller, nil, Config{Model: "chat"})

	ans := loop.Ask(context.Background(), session(), "who charged the most?")

	require.Equal(t, 2, caller.calls())
	assert.Equal(t, "Globex charged the most.", ans.Text)
	assert.Equal(t, 1, ans.Rounds)
	assert.Len(t, ans.Sources, 3)

	second := caller.requests[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, llm.RoleModel, second.Messages[1].Role)
	results := second.Messages[2].ToolResults
	require.Len(t, results, 3)
	assert.Equal(t, "agg", results[0].CallID)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "bad", results[1].CallID)
	assert.Contains(t, results[1].Error, "unknown tool")
	assert.Equal(t, "call_1_2", results[2].CallID)
	assert.Equal(t, tools.VendorSummaryTool, results[2].Name)
	assert.Equal(t, SystemPrompt, second.System)
	assert.Len(t, second.Tools, len(tools.Definitions()))
}

func TestAskDegradesToFallbackCompletion(t *testing.T) {
	caller := &stubCaller{respond: func(context.Context, int, llm.ConverseRequest) (*llm.ConverseResponse, error) {
		return nil, llm.Unavailable("chat", errors.New("503"))
	}}
	completer := &stubCompleter{text: "Globex charged $1,250.50."}
	loop := NewLoop(caller, completer, Config{Model: "chat"})

	ans := loop.Ask(context.Background(), session(), "what did globex charge for cloud migration?")

	assert.Equal(t, models.AnswerModeFallback, ans.Mode)
	assert.Equal(t, "Globex charged $1,250.50.", ans.Text)
	assert.Contains(t, completer.prompt, "Cloud migration")
	assert.Contains(t, completer.prompt, "Person: R. Roe")
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "globex.pdf", ans.Sources[0].Filename)
}

func TestAskTemplatedAnswers(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"Which vendor charged the most?", "Globex charged the most at $1,250.50."},
		{"What is the total amount spent?", "The total amount across all invoices is $2,200.50 from 2 document(s)."},
		{"How many vendors are there?", "I found 3 unique vendors: Acme Legal LLP, Globex, Initech"},
		{"Tell me something", "I found an invoice from Acme Legal LLP for $950.00."},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			loop := NewLoop(nil, &stubCompleter{err: errors.New("down")}, Config{})
			ans := loop.Ask(context.Background(), session(), tt.question)
			assert.Equal(t, models.AnswerModeTemplate, ans.Mode)
			assert.Equal(t, tt.want, ans.Text)
		})
	}
}

func TestAskEmptySession(t *testing.T) {
	caller := &stubCaller{respond: func(context.Context, int, llm.ConverseRequest) (*llm.ConverseResponse, error) {
		return &llm.ConverseResponse{Text: "hello"}, nil
	}}
	ans := NewLoop(caller, nil, Config{}).Ask(context.Background(), &models.Session{ID: "empty"}, "anything?")
	assert.Equal(t, EmptySessionMessage, ans.Text)
	assert.Equal(t, models.AnswerModeEmpty, ans.Mode)
	assert.Zero(t, caller.calls())
}

func TestAskTimesOutModelCall(t *testing.T) {
	caller := &stubCaller{respond: func(ctx context.Context, _ int, _ llm.ConverseRequest) (*llm.ConverseResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	loop := NewLoop(caller, nil, Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	ans := loop.Ask(context.Background(), session(), "who charged the most")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.AnswerModeTemplate, ans.Mode)
	assert.Equal(t, 1, caller.calls())
}

func TestAskEmptyModelReplyFallsBack(t *testing.T) {
	caller := &stubCaller{respond: func(context.Context, int, llm.ConverseRequest) (*llm.ConverseResponse, error) {
		return &llm.ConverseResponse{Text: "   "}, nil
	}}
	ans := NewLoop(caller, nil, Config{}).Ask(context.Background(), session(), "total amount?")
	assert.Equal(t, models.AnswerModeTemplate, ans.Mode)
}

func TestRenderContextIsBounded(t *testing.T) {
	views := make([]tools.DocumentView, 50)
	for i := range views {
		views[i] = tools.DocumentView{Filename: strings.Repeat("x", 200), Data: models.StructuredRecord{VendorName: models.Str("V")}}
	}
	out := renderContext(views, 1000)
	assert.LessOrEqual(t, len(out), 1000)
	assert.True(t, strings.HasPrefix(out, "Invoice data:\n"))
}
