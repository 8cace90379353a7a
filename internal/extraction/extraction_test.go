package extraction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoicesession/internal/llm"
	"github.com/Lllllllleong/invoicesession/internal/metrics"
	"github.com/Lllllllleong/invoicesession/internal/models"
)

const sampleInvoice = `Acme Legal LLP
Invoice Number: INV-2023-001
Date: April 18, 2023
Professional services rendered
Total Amount Due: $27,531.83
Payable in 90 days`

type reply struct {
	text string
	err  error
}

// fakeCompleter answers by model id and records every request.
type fakeCompleter struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   []llm.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	r, ok := f.replies[req.Model]
	if !ok {
		return "", errors.New("no reply configured")
	}
	return r.text, r.err
}

func (f *fakeCompleter) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Model
	}
	return out
}

func attempts(t *testing.T, m *metrics.Metrics, tier, outcome string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "invoice_extraction_attempts_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["tier"] == tier && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func newCascade(f *fakeCompleter, m *metrics.Metrics) *Orchestrator {
	return NewOrchestrator([]Tier{
		FastTier("fast-model", f, 0),
		AccurateTier("accurate-model", f, 0),
	}, WithMetrics(m))
}

func TestExtractAcceptsFastTier(t *testing.T) {
	f := &fakeCompleter{replies: map[string]reply{
		"fast-model": {text: "```json\n{\"vendor_name\": \"Acme Legal LLP\", \"total_amount\": \"$27,531.83\",}\n```"},
	}}
	m := metrics.New()

	rec := newCascade(f, m).Extract(context.Background(), sampleInvoice, "invoice")

	require.NotNil(t, rec)
	assert.Equal(t, "Acme Legal LLP", rec.Vendor())
	amount, ok := rec.Amount()
	require.True(t, ok)
	assert.InDelta(t, 27531.83, amount, 1e-9)
	assert.Equal(t, TierFast, rec.ModelUsed)
	assert.Equal(t, []string{"fast-model"}, f.models())
}

func TestExtractEscalatesOnRejectedOutput(t *testing.T) {
	f := &fakeCompleter{replies: map[string]reply{
		"fast-model":     {text: `{"vendor_name": "Not Found"}`},
		"accurate-model": {text: `{"vendor_name": "Acme Legal LLP", "line_items": [{"description": "Review", "quantity": 2.5, "person": "J. Doe"}]}`},
	}}
	m := metrics.New()

	rec := newCascade(f, m).Extract(context.Background(), sampleInvoice, "invoice")

	assert.Equal(t, TierAccurate, rec.ModelUsed)
	require.Len(t, rec.LineItems, 1)
	assert.Equal(t, "J. Doe", *rec.LineItems[0].Person)
	assert.Equal(t, []string{"fast-model", "accurate-model"}, f.models())
	assert.Equal(t, 1.0, attempts(t, m, TierFast, outcomeRejected))
	assert.Equal(t, 1.0, attempts(t, m, TierAccurate, outcomeAccepted))
}

func TestExtractFallsBackToRegex(t *testing.T) {
	f := &fakeCompleter{replies: map[string]reply{
		"fast-model":     {err: errors.New("connection reset")},
		"accurate-model": {text: "I am unable to process this document."},
	}}

	rec := newCascade(f, nil).Extract(context.Background(), sampleInvoice, "invoice")

	assert.Equal(t, TierManual, rec.ModelUsed)
	assert.Equal(t, "INV-2023-001", rec.Invoice())
	amount, ok := rec.Amount()
	require.True(t, ok)
	assert.InDelta(t, 27531.83, amount, 1e-9)
}

func TestExtractMalformedJSONEscalates(t *testing.T) {
	f := &fakeCompleter{replies: map[string]reply{
		"fast-model":     {text: "vendor is Acme"},
		"accurate-model": {text: `{"vendor_name": "Acme", "total_amount": `},
	}}

	rec := newCascade(f, nil).Extract(context.Background(), sampleInvoice, "invoice")
	assert.Equal(t, TierManual, rec.ModelUsed)
}

func TestExtractShortTextSkipsModels(t *testing.T) {
	f := &fakeCompleter{replies: map[string]reply{}}

	rec := newCascade(f, nil).Extract(context.Background(), "  $5  ", "invoice")

	assert.Empty(t, f.models())
	assert.Equal(t, TierManual, rec.ModelUsed)
	amount, ok := rec.Amount()
	require.True(t, ok)
	assert.Equal(t, 5.0, amount)
}

func TestExtractNothingFound(t *testing.T) {
	f := &fakeCompleter{replies: map[string]reply{
		"fast-model":     {text: `{}`},
		"accurate-model": {text: `{"vendor_name": "unknown"}`},
	}}

	rec := newCascade(f, nil).Extract(context.Background(), "a letter about nothing in particular", "invoice")

	assert.Equal(t, TierManual, rec.ModelUsed)
	assert.True(t, rec.Empty())
}

type panicTier struct{}

func (panicTier) Name() string { return "broken" }
func (panicTier) Extract(context.Context, string, string) (*models.StructuredRecord, error) {
	panic("boom")
}

func TestExtractSurvivesPanickingTier(t *testing.T) {
	o := NewOrchestrator([]Tier{panicTier{}})
	rec := o.Extract(context.Background(), sampleInvoice, "invoice")
	assert.Equal(t, TierManual, rec.ModelUsed)
}

func TestModelTierInsufficientContent(t *testing.T) {
	f := &fakeCompleter{}
	_, err := FastTier("fast-model", f, 0).Extract(context.Background(), " short ", "invoice")
	assert.ErrorIs(t, err, ErrInsufficientContent)
	assert.Empty(t, f.models())
}

func TestModelTierPromptCarriesText(t *testing.T) {
	f := &fakeCompleter{replies: map[string]reply{"m": {text: `{"vendor_name": "Acme"}`}}}
	_, err := AccurateTier("m", f, 0).Extract(context.Background(), sampleInvoice, "")
	require.NoError(t, err)
	require.Len(t, f.calls, 1)
	assert.Contains(t, f.calls[0].Prompt, "Total Amount Due: $27,531.83")
	assert.Contains(t, f.calls[0].Prompt, "invoice text")
	assert.True(t, f.calls[0].JSON)
}

func TestIsAcceptable(t *testing.T) {
	tests := []struct {
		name string
		rec  *models.StructuredRecord
		want bool
	}{
		{"nil", nil, false},
		{"empty", &models.StructuredRecord{}, false},
		{"vendor", &models.StructuredRecord{VendorName: models.Str("Acme")}, true},
		{"placeholder vendor", &models.StructuredRecord{VendorName: models.Str(" N/A ")}, false},
		{"total only", &models.StructuredRecord{TotalAmount: models.Float(0)}, true},
		{"placeholder vendor with total", &models.StructuredRecord{VendorName: models.Str("Unknown"), TotalAmount: models.Float(10)}, true},
		{"invoice number only", &models.StructuredRecord{InvoiceNumber: models.Str("42")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAcceptable(tt.rec))
		})
	}
}

func TestRegexTier(t *testing.T) {
	tests := []struct {
		text    string
		invoice string
		amount  float64
		hasAmt  bool
	}{
		{"Invoice #4521 subtotal $10.00 Total: $1,250.50", "4521", 1250.50, true},
		{"INV 7781 paid", "7781", 0, false},
		{"Invoice Date 2023-01-01 amount $99", "", 99, true},
		{"no numbers here", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			rec, err := RegexTier{}.Extract(context.Background(), tt.text, "")
			require.NoError(t, err)
			assert.Equal(t, tt.invoice, rec.Invoice())
			amount, ok := rec.Amount()
			assert.Equal(t, tt.hasAmt, ok)
			if tt.hasAmt {
				assert.InDelta(t, tt.amount, amount, 1e-9)
			}
		})
	}
}

func TestValidator(t *testing.T) {
	rec := models.StructuredRecord{VendorName: models.Str("Acme"), TotalAmount: models.Float(100)}

	t.Run("report", func(t *testing.T) {
		f := &fakeCompleter{replies: map[string]reply{"v": {text: `{"is_valid": true, "confidence_score": "0.85", "corrections": {"total_amount": 110}, "warnings": ["date missing"], "suggestions": []}`}}}
		got := NewValidator(f, "v", 0).Validate(context.Background(), rec, sampleInvoice)
		assert.True(t, got.IsValid)
		assert.InDelta(t, 0.85, got.ConfidenceScore, 1e-9)
		assert.Equal(t, 110.0, got.Corrections["total_amount"])
		assert.Equal(t, []string{"date missing"}, got.Warnings)
		assert.Empty(t, got.Suggestions)
	})

	t.Run("upstream failure becomes a warning", func(t *testing.T) {
		f := &fakeCompleter{replies: map[string]reply{"v": {err: errors.New("quota exceeded")}}}
		got := NewValidator(f, "v", 0).Validate(context.Background(), rec, sampleInvoice)
		assert.False(t, got.IsValid)
		require.Len(t, got.Warnings, 1)
		assert.True(t, strings.Contains(got.Warnings[0], "quota exceeded"))
	})
}
