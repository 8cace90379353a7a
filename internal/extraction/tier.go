package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Lllllllleong/invoicesession/internal/llm"
	"github.com/Lllllllleong/invoicesession/internal/models"
)

// MinContentLength is the shortest trimmed text a model tier will accept.
const MinContentLength = 10

// Tier names used for provenance.
const (
	TierFast     = "fast"
	TierAccurate = "accurate"
	TierManual   = "manual-fallback"
)

var (
	// ErrInsufficientContent is returned before invoking a model on text too short to extract from.
	ErrInsufficientContent = errors.New("insufficient text content for extraction")
	// ErrMalformedOutput is returned when a model reply holds no parseable JSON object.
	ErrMalformedOutput = errors.New("model output is not a JSON object")
	// ErrRefused is returned when a model reply reads as a refusal.
	ErrRefused = errors.New("model refused the request")
	// ErrExtractionFailed reports that every tier ran and nothing was extracted.
	ErrExtractionFailed = errors.New("extraction produced no fields")
)

// Tier is one extraction strategy in the fallback cascade.
type Tier interface {
	Name() string
	Extract(ctx context.Context, text, docType string) (*models.StructuredRecord, error)
}

// Prompt is a system instruction plus a user template taking the document
// type (%[1]s) and the text (%[2]s).
type Prompt struct {
	System string
	User   string
}

// ModelTier extracts a record by prompting a language model.
type ModelTier struct {
	name      string
	model     string
	prompt    Prompt
	completer llm.Completer
	timeout   time.Duration
	maxTokens int
}

// NewModelTier creates a model-backed tier. A zero timeout disables the per-call deadline.
func NewModelTier(name, model string, prompt Prompt, completer llm.Completer, timeout time.Duration, maxTokens int) *ModelTier {
	return &ModelTier{
		name:      name,
		model:     model,
		prompt:    prompt,
		completer: completer,
		timeout:   timeout,
		maxTokens: maxTokens,
	}
}

// FastTier is the cheap first attempt.
func FastTier(model string, completer llm.Completer, timeout time.Duration) *ModelTier {
	return NewModelTier(TierFast, model, Prompt{System: FastSystemPrompt, User: FastUserPrompt}, completer, timeout, 1000)
}

// AccurateTier is the expensive second attempt.
func AccurateTier(model string, completer llm.Completer, timeout time.Duration) *ModelTier {
	return NewModelTier(TierAccurate, model, Prompt{System: AccurateSystemPrompt, User: AccurateUserPrompt}, completer, timeout, 2000)
}

// Name implements Tier.
func (t *ModelTier) Name() string { return t.name }

// Extract implements Tier.
func (t *ModelTier) Extract(ctx context.Context, text, docType string) (*models.StructuredRecord, error) {
	if len(strings.TrimSpace(text)) < MinContentLength {
		return nil, ErrInsufficientContent
	}
	if docType == "" {
		docType = "invoice"
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	resp, err := t.completer.Complete(ctx, llm.CompletionRequest{
		Model:       t.model,
		System:      t.prompt.System,
		Prompt:      fmt.Sprintf(t.prompt.User, docType, text),
		Temperature: llm.Ptr[float32](0.1),
		MaxTokens:   t.maxTokens,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s tier: %w", t.name, err)
	}
	return parseRecord(resp)
}

func parseRecord(resp string) (*models.StructuredRecord, error) {
	if llm.IsRefusal(resp) {
		return nil, ErrRefused
	}
	raw := llm.ExtractJSONObject(resp)
	if raw == "" {
		return nil, ErrMalformedOutput
	}
	var rec models.StructuredRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return &rec, nil
}

var (
	totalAmountPattern = regexp.MustCompile(`(?i)\btotal\b[^$\n]{0,40}\$\s*([\d,]+(?:\.\d+)?)`)
	anyAmountPattern   = regexp.MustCompile(`\$\s*([\d,]+(?:\.\d+)?)`)
	invoiceNoPattern   = regexp.MustCompile(`(?i)\binv(?:oice)?\b\.?\s*(?:number|num|no)?\.?\s*[#:]?\s*([A-Za-z0-9-]*\d[A-Za-z0-9-]*)`)
)

// RegexTier is the deterministic last resort. It never fails; unmatched fields
// stay absent.
type RegexTier struct{}

// Name implements Tier.
func (RegexTier) Name() string { return TierManual }

// Extract implements Tier.
func (RegexTier) Extract(_ context.Context, text, _ string) (*models.StructuredRecord, error) {
	rec := &models.StructuredRecord{}

	m := totalAmountPattern.FindStringSubmatch(text)
	if m == nil {
		m = anyAmountPattern.FindStringSubmatch(text)
	}
	if m != nil {
		if amount, ok := models.ParseAmount(m[1]); ok {
			rec.TotalAmount = &amount
		}
	}

	if m := invoiceNoPattern.FindStringSubmatch(text); m != nil {
		rec.InvoiceNumber = models.Str(m[1])
	}
	return rec, nil
}
