package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/invoicesession/internal/llm"
	"github.com/Lllllllleong/invoicesession/internal/models"
)

const validationTextLimit = 4000

// Validator asks a model to cross-check a record against its source text.
type Validator struct {
	completer llm.Completer
	model     string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewValidator creates a Validator using model.
func NewValidator(completer llm.Completer, model string, timeout time.Duration) *Validator {
	return &Validator{completer: completer, model: model, timeout: timeout, logger: slog.Default()}
}

// Validate never fails; problems with the validation call itself are reported
// as warnings on an invalid report.
func (v *Validator) Validate(ctx context.Context, rec models.StructuredRecord, rawText string) models.ValidationReport {
	report, err := v.validate(ctx, rec, rawText)
	if err != nil {
		v.logger.Warn("Validation unavailable", "error", err)
		return models.ValidationReport{
			IsValid:  false,
			Warnings: []string{fmt.Sprintf("validation failed: %v", err)},
		}
	}
	return report
}

func (v *Validator) validate(ctx context.Context, rec models.StructuredRecord, rawText string) (models.ValidationReport, error) {
	recJSON, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return models.ValidationReport{}, fmt.Errorf("failed to encode record: %w", err)
	}
	if len(rawText) > validationTextLimit {
		rawText = rawText[:validationTextLimit]
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	resp, err := v.completer.Complete(ctx, llm.CompletionRequest{
		Model:       v.model,
		System:      ValidationSystemPrompt,
		Prompt:      fmt.Sprintf(ValidationUserPrompt, recJSON, rawText),
		Temperature: llm.Ptr[float32](0.1),
		MaxTokens:   1000,
		JSON:        true,
	})
	if err != nil {
		return models.ValidationReport{}, err
	}

	raw := llm.ExtractJSONObject(resp)
	if raw == "" {
		return models.ValidationReport{}, ErrMalformedOutput
	}
	var out struct {
		IsValid         any            `json:"is_valid"`
		ConfidenceScore any            `json:"confidence_score"`
		Corrections     map[string]any `json:"corrections"`
		Warnings        []any          `json:"warnings"`
		Suggestions     []any          `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return models.ValidationReport{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	report := models.ValidationReport{
		Corrections: out.Corrections,
		Warnings:    stringList(out.Warnings),
		Suggestions: stringList(out.Suggestions),
	}
	switch b := out.IsValid.(type) {
	case bool:
		report.IsValid = b
	case string:
		report.IsValid = b == "true"
	}
	switch c := out.ConfidenceScore.(type) {
	case float64:
		report.ConfidenceScore = clamp01(c)
	case string:
		if f, ok := models.ParseAmount(c); ok {
			report.ConfidenceScore = clamp01(f)
		}
	}
	return report, nil
}

func stringList(in []any) []string {
	var out []string
	for _, v := range in {
		switch t := v.(type) {
		case string:
			if t != "" {
				out = append(out, t)
			}
		case nil:
		default:
			b, _ := json.Marshal(t)
			out = append(out, string(b))
		}
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
