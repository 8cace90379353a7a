// Package conversation answers questions about a session's documents with a
// bounded tool-calling loop, degrading to a single-shot completion over
// retrieved context and finally to templated answers.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/invoicesession/internal/llm"
	"github.com/Lllllllleong/invoicesession/internal/metrics"
	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/tools"
)

const (
	// DefaultMaxRounds caps the tool-invocation rounds of one question.
	DefaultMaxRounds = 3
	// DefaultModelTimeout bounds each model invocation.
	DefaultModelTimeout = 60 * time.Second

	// CappedMessage is returned when the model is still requesting tools after
	// the last permitted round.
	CappedMessage = "I couldn't complete the request within the allowed number of steps. Please try a more specific question."
	// EmptySessionMessage is returned for a session without documents.
	EmptySessionMessage = "I don't have any documents uploaded yet. Please upload some invoices first and I'll be happy to help analyze them!"

	toolConcurrency = 4
)

// ErrEmptyResponse is returned when the model answers with neither text nor tool calls.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Config configures a Loop.
type Config struct {
	Model     string
	Timeout   time.Duration
	MaxRounds int
}

// Loop drives one question at a time; it holds no per-question state and is
// safe for concurrent use.
type Loop struct {
	caller    llm.ToolCaller
	completer llm.Completer
	model     string
	timeout   time.Duration
	maxRounds int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithMetrics records answers and tool calls on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lp *Loop) { lp.metrics = m }
}

// NewLoop creates a Loop. Either transport may be nil: without a caller the
// loop always answers in fallback mode, without a completer the fallback is
// templated.
func NewLoop(caller llm.ToolCaller, completer llm.Completer, cfg Config, opts ...Option) *Loop {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultModelTimeout
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	l := &Loop{
		caller:    caller,
		completer: completer,
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		maxRounds: cfg.MaxRounds,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ask answers question from sess. It always produces an answer.
func (l *Loop) Ask(ctx context.Context, sess *models.Session, question string) models.Answer {
	logCtx := l.logger.With("sessionId", sess.ID)

	var ans models.Answer
	switch {
	case len(sess.Documents) == 0:
		ans = models.Answer{Text: EmptySessionMessage, Mode: models.AnswerModeEmpty}
	case l.caller != nil:
		var err error
		ans, err = l.askWithTools(ctx, sess, question)
		if err != nil {
			logCtx.Warn("Tool-calling conversation failed, using fallback mode", "error", err)
			ans = l.fallback(ctx, sess, question)
		}
	default:
		ans = l.fallback(ctx, sess, question)
	}

	l.metrics.ChatAnswer(ans.Mode)
	logCtx.Info("Question answered", "mode", ans.Mode, "rounds", ans.Rounds)
	return ans
}

func (l *Loop) askWithTools(ctx context.Context, sess *models.Session, question string) (models.Answer, error) {
	registry := tools.NewRegistry(sess, l.logger, l.metrics)
	req := llm.ConverseRequest{
		Model:       l.model,
		System:      SystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Text: question}},
		Tools:       registry.Definitions(),
		Temperature: llm.Ptr[float32](0.2),
		MaxTokens:   1024,
	}
	sources := allSources(sess.Documents)

	for round := 1; round <= l.maxRounds; round++ {
		resp, err := l.converse(ctx, req)
		if err != nil {
			return models.Answer{}, fmt.Errorf("round %d: %w", round, err)
		}
		if len(resp.ToolCalls) == 0 {
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				return models.Answer{}, ErrEmptyResponse
			}
			return models.Answer{Text: text, Sources: sources, Mode: models.AnswerModeTools, Rounds: round - 1}, nil
		}

		calls := make([]llm.ToolCall, len(resp.ToolCalls))
		for i, c := range resp.ToolCalls {
			if c.ID == "" {
				c.ID = fmt.Sprintf("call_%d_%d", round, i)
			}
			calls[i] = c
		}
		results := l.executeRound(ctx, registry, calls)
		req.Messages = append(req.Messages,
			llm.Message{Role: llm.RoleModel, Text: resp.Text, ToolCalls: calls},
			llm.Message{Role: llm.RoleUser, ToolResults: results},
		)
	}

	l.logger.Warn("Tool round cap reached", "sessionId", sess.ID, "rounds", l.maxRounds)
	return models.Answer{Text: CappedMessage, Sources: sources, Mode: models.AnswerModeTools, Rounds: l.maxRounds}, nil
}

func (l *Loop) converse(ctx context.Context, req llm.ConverseRequest) (*llm.ConverseResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.caller.Converse(ctx, req)
}

// executeRound runs one round's calls concurrently. Results keep request order.
func (l *Loop) executeRound(ctx context.Context, registry *tools.Registry, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(toolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = registry.Dispatch(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func allSources(docs []models.Document) []models.Source {
	out := make([]models.Source, len(docs))
	for i, d := range docs {
		out[i] = models.Source{DocumentID: d.ID, Filename: d.Filename}
	}
	return out
}
