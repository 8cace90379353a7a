// Package tools exposes read-only query operations over one session's
// documents to a tool-calling language model.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/invoicesession/internal/llm"
	"github.com/Lllllllleong/invoicesession/internal/metrics"
	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/similarity"
)

// Tool names.
const (
	SearchSimilarTool  = "search_similar"
	FilterTool         = "filter"
	AggregateTool      = "aggregate"
	SessionSummaryTool = "session_summary"
	VendorSummaryTool  = "vendor_summary"
	InvoiceDetailsTool = "invoice_details"
)

// ErrToolDispatch marks a call that could not be executed: unknown tool name,
// undecodable arguments or arguments outside the schema.
var ErrToolDispatch = errors.New("tool dispatch failed")

type handler func(ctx context.Context, args json.RawMessage) (any, error)

// Registry dispatches tool calls against a fixed session snapshot. It is safe
// for concurrent use because it never mutates the snapshot.
type Registry struct {
	session  *models.Session
	handlers map[string]handler
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRegistry binds the tools to sess.
func NewRegistry(sess *models.Session, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{session: sess, logger: logger, metrics: m}
	r.handlers = map[string]handler{
		SearchSimilarTool:  r.searchSimilar,
		FilterTool:         r.filter,
		AggregateTool:      r.aggregate,
		SessionSummaryTool: r.sessionSummary,
		VendorSummaryTool:  r.vendorSummary,
		InvoiceDetailsTool: r.invoiceDetails,
	}
	return r
}

// Definitions returns the schemas advertised to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	return Definitions()
}

// Dispatch executes one call. Failures are reported in the result, never
// returned, so one bad call cannot abort a round.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	res := llm.ToolResult{CallID: call.ID, Name: call.Name}
	logCtx := r.logger.With("tool", call.Name, "callId", call.ID)

	h, ok := r.handlers[call.Name]
	if !ok {
		r.metrics.ToolCall(call.Name, "unknown")
		logCtx.Warn("Model requested an unknown tool")
		res.Error = fmt.Errorf("%w: unknown tool %q", ErrToolDispatch, call.Name).Error()
		return res
	}

	args, err := json.Marshal(call.Arguments)
	if err != nil {
		r.metrics.ToolCall(call.Name, "error")
		res.Error = fmt.Errorf("%w: failed to encode arguments: %v", ErrToolDispatch, err).Error()
		return res
	}

	payload, err := h(ctx, args)
	if err != nil {
		r.metrics.ToolCall(call.Name, "error")
		logCtx.Warn("Tool call failed", "error", err)
		res.Error = fmt.Errorf("%w: %s: %w", ErrToolDispatch, call.Name, err).Error()
		return res
	}
	r.metrics.ToolCall(call.Name, "ok")
	res.Payload = payload
	return res
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

func (r *Registry) searchSimilar(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}
	if args.Limit <= 0 {
		args.Limit = DefaultSearchLimit
	}
	if args.Limit > maxSearchLimit {
		args.Limit = maxSearchLimit
	}
	return SearchSimilar(r.session, args.Query, args.Limit, similarity.SearchThreshold), nil
}

func (r *Registry) filter(_ context.Context, raw json.RawMessage) (any, error) {
	var c Criteria
	if err := decodeArgs(raw, &c); err != nil {
		return nil, err
	}
	docs, err := Filter(r.session.Documents, c)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(docs), "invoices": docs}, nil
}

func (r *Registry) aggregate(_ context.Context, raw json.RawMessage) (any, error) {
	args := struct {
		GroupBy   string `json:"group_by"`
		Operation string `json:"operation"`
	}{GroupBy: GroupByVendor, Operation: OpSum}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return Aggregate(r.session.Documents, args.GroupBy, args.Operation)
}

func (r *Registry) sessionSummary(_ context.Context, _ json.RawMessage) (any, error) {
	return Summarize(r.session.Documents)
}

func (r *Registry) vendorSummary(_ context.Context, _ json.RawMessage) (any, error) {
	return SummarizeVendors(r.session.Documents), nil
}

func (r *Registry) invoiceDetails(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		InvoiceNumber string `json:"invoice_number"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	view, ok := FindInvoice(r.session.Documents, args.InvoiceNumber)
	if !ok {
		return nil, fmt.Errorf("%w: no invoice numbered %q", ErrInvalidArgument, args.InvoiceNumber)
	}
	return view, nil
}
