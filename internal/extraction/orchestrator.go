// Package extraction turns raw document text into a StructuredRecord by running
// a cascade of tiers, each gated by a quality check, ending in a deterministic
// regex tier that always produces a result.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/invoicesession/internal/metrics"
	"github.com/Lllllllleong/invoicesession/internal/models"
)

// Attempt outcomes recorded per tier.
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Orchestrator runs the tiers in order and returns the first acceptable record.
type Orchestrator struct {
	tiers    []Tier
	fallback Tier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for tier failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records tier attempts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator builds a cascade over tiers followed by the regex tier.
func NewOrchestrator(tiers []Tier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tiers:    tiers,
		fallback: RegexTier{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Extract never fails. The returned record's ModelUsed names the tier that
// produced it.
func (o *Orchestrator) Extract(ctx context.Context, text, docType string) *models.StructuredRecord {
	logCtx := o.logger.With("docType", docType, "textLength", len(text))

	for _, tier := range o.tiers {
		if ctx.Err() != nil {
			logCtx.Warn("Context done, skipping remaining model tiers", "error", ctx.Err())
			break
		}
		rec, err := runTier(ctx, tier, text, docType)
		if err != nil {
			o.metrics.Extraction(tier.Name(), outcomeError)
			if errors.Is(err, ErrInsufficientContent) {
				logCtx.Info("Text too short for model extraction", "tier", tier.Name())
			} else {
				logCtx.Warn("Extraction tier failed", "tier", tier.Name(), "error", err)
			}
			continue
		}
		if !IsAcceptable(rec) {
			o.metrics.Extraction(tier.Name(), outcomeRejected)
			logCtx.Info("Extraction tier output rejected by quality gate", "tier", tier.Name())
			continue
		}
		o.metrics.Extraction(tier.Name(), outcomeAccepted)
		rec.ModelUsed = tier.Name()
		logCtx.Info("Extraction accepted", "tier", tier.Name(), "lineItems", len(rec.LineItems))
		return rec
	}

	rec, err := runTier(ctx, o.fallback, text, docType)
	if err != nil || rec == nil {
		rec = &models.StructuredRecord{}
	}
	rec.ModelUsed = o.fallback.Name()
	if rec.Empty() {
		o.metrics.Extraction(o.fallback.Name(), outcomeRejected)
		logCtx.Warn("All extraction tiers exhausted", "error", ErrExtractionFailed)
	} else {
		o.metrics.Extraction(o.fallback.Name(), outcomeAccepted)
	}
	return rec
}

// runTier reports a panicking tier as an error.
func runTier(ctx context.Context, tier Tier, text, docType string) (rec *models.StructuredRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, fmt.Errorf("tier %s panicked: %v", tier.Name(), r)
		}
	}()
	return tier.Extract(ctx, text, docType)
}
