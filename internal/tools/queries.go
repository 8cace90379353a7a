package tools

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/similarity"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"

	// DefaultSearchLimit is used when search_similar is called without a limit.
	DefaultSearchLimit = 5
	maxSearchLimit     = 20
	snippetLength      = 200

	unknownKey     = "Unknown"
	unknownDateKey = "Unknown Date"
)

// Aggregation keys and operations.
const (
	GroupByVendor       = "vendor"
	GroupByDate         = "date"
	GroupByPaymentTerms = "payment_terms"

	OpSum   = "sum"
	OpAvg   = "avg"
	OpCount = "count"
	OpMax   = "max"
	OpMin   = "min"
)

var (
	// ErrNoDocuments is returned by summaries over an empty session.
	ErrNoDocuments = errors.New("no invoices in session")
	// ErrInvalidArgument is returned for argument values outside a tool's schema.
	ErrInvalidArgument = errors.New("invalid argument")
)

// DocumentView is the read-only projection of a document returned to the model.
type DocumentView struct {
	DocumentID string                  `json:"document_id"`
	Filename   string                  `json:"document_name"`
	Data       models.StructuredRecord `json:"data"`
}

func viewOf(d models.Document) DocumentView {
	return DocumentView{DocumentID: d.ID, Filename: d.Filename, Data: d.Record}
}

// SearchHit is one similarity match.
type SearchHit struct {
	Invoice    DocumentView `json:"invoice"`
	Similarity float64      `json:"similarity"`
	Snippet    string       `json:"snippet"`
}

// SearchSimilar ranks the session's documents against query and keeps the
// matches scoring above threshold.
func SearchSimilar(sess *models.Session, query string, limit int, threshold float64) []SearchHit {
	if len(sess.Documents) == 0 || sess.Vectorizer.Empty() {
		return []SearchHit{}
	}
	candidates := make([]similarity.Vector, len(sess.Documents))
	for i := range sess.Documents {
		candidates[i] = sess.Documents[i].Vector
	}

	matches := similarity.Search(sess.Vectorizer.Transform(query), candidates, limit, threshold)
	hits := make([]SearchHit, 0, len(matches))
	for _, m := range matches {
		d := sess.Documents[m.Index]
		hits = append(hits, SearchHit{
			Invoice:    viewOf(d),
			Similarity: m.Score,
			Snippet:    snippet(d.IndexedText),
		})
	}
	return hits
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= snippetLength {
		return text
	}
	return string(r[:snippetLength]) + "..."
}

// Criteria selects documents. Zero-valued fields do not filter.
type Criteria struct {
	Vendor       string   `json:"vendor,omitempty"`
	AmountMin    *float64 `json:"amount_min,omitempty"`
	AmountMax    *float64 `json:"amount_max,omitempty"`
	DateStart    string   `json:"date_start,omitempty"`
	DateEnd      string   `json:"date_end,omitempty"`
	PaymentTerms string   `json:"payment_terms,omitempty"`
}

// Filter returns the documents matching every set criterion, in session order.
// Vendor and payment terms match case-insensitively by substring. Documents
// without an amount or a parseable date are excluded by the corresponding filter.
func Filter(docs []models.Document, c Criteria) ([]DocumentView, error) {
	var start, end time.Time
	var err error
	if c.DateStart != "" {
		if start, err = time.Parse(dateLayout, c.DateStart); err != nil {
			return nil, fmt.Errorf("%w: date_start %q is not YYYY-MM-DD", ErrInvalidArgument, c.DateStart)
		}
	}
	if c.DateEnd != "" {
		if end, err = time.Parse(dateLayout, c.DateEnd); err != nil {
			return nil, fmt.Errorf("%w: date_end %q is not YYYY-MM-DD", ErrInvalidArgument, c.DateEnd)
		}
	}
	vendor := strings.ToLower(strings.TrimSpace(c.Vendor))
	terms := strings.ToLower(strings.TrimSpace(c.PaymentTerms))

	out := []DocumentView{}
	for _, d := range docs {
		r := d.Record
		if vendor != "" && !strings.Contains(strings.ToLower(r.Vendor()), vendor) {
			continue
		}
		if terms != "" && !strings.Contains(strings.ToLower(r.Terms()), terms) {
			continue
		}
		if c.AmountMin != nil || c.AmountMax != nil {
			amount, ok := r.Amount()
			if !ok || (c.AmountMin != nil && amount < *c.AmountMin) || (c.AmountMax != nil && amount > *c.AmountMax) {
				continue
			}
		}
		if !start.IsZero() || !end.IsZero() {
			date, err := time.Parse(dateLayout, r.DateString())
			if err != nil || (!start.IsZero() && date.Before(start)) || (!end.IsZero() && date.After(end)) {
				continue
			}
		}
		out = append(out, viewOf(d))
	}
	return out, nil
}

// Group is one bucket of an aggregation.
type Group struct {
	Value   float64   `json:"value"`
	Count   int       `json:"count"`
	Amounts []float64 `json:"amounts"`
}

// AggregateSummary totals an aggregation across all groups.
type AggregateSummary struct {
	TotalAmount   float64 `json:"total_amount"`
	TotalInvoices int     `json:"total_invoices"`
	AverageAmount float64 `json:"average_amount"`
	GroupBy       string  `json:"group_by"`
	Operation     string  `json:"operation"`
}

// AggregateResult is the output of Aggregate.
type AggregateResult struct {
	GroupedResults map[string]Group `json:"grouped_results"`
	Summary        AggregateSummary `json:"summary"`
}

// Aggregate groups documents with a numeric total and applies op per group.
// Values are rounded to cents.
func Aggregate(docs []models.Document, groupBy, op string) (*AggregateResult, error) {
	switch groupBy {
	case GroupByVendor, GroupByDate, GroupByPaymentTerms:
	default:
		return nil, fmt.Errorf("%w: group_by %q", ErrInvalidArgument, groupBy)
	}
	switch op {
	case OpSum, OpAvg, OpCount, OpMax, OpMin:
	default:
		return nil, fmt.Errorf("%w: operation %q", ErrInvalidArgument, op)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	groups := make(map[string][]float64)
	for _, d := range docs {
		amount, ok := d.Record.Amount()
		if !ok {
			continue
		}
		key := groupKey(d.Record, groupBy)
		groups[key] = append(groups[key], amount)
	}

	res := &AggregateResult{
		GroupedResults: make(map[string]Group, len(groups)),
		Summary:        AggregateSummary{GroupBy: groupBy, Operation: op},
	}
	total := 0.0
	for key, amounts := range groups {
		res.GroupedResults[key] = Group{
			Value:   round2(apply(op, amounts)),
			Count:   len(amounts),
			Amounts: amounts,
		}
		total += sum(amounts)
		res.Summary.TotalInvoices += len(amounts)
	}
	res.Summary.TotalAmount = round2(total)
	if res.Summary.TotalInvoices > 0 {
		res.Summary.AverageAmount = round2(total / float64(res.Summary.TotalInvoices))
	}
	return res, nil
}

func groupKey(r models.StructuredRecord, groupBy string) string {
	switch groupBy {
	case GroupByDate:
		t, err := time.Parse(dateLayout, r.DateString())
		if err != nil {
			return unknownDateKey
		}
		return t.Format(monthLayout)
	case GroupByPaymentTerms:
		return orUnknown(r.Terms())
	default:
		return orUnknown(r.Vendor())
	}
}

func apply(op string, amounts []float64) float64 {
	switch op {
	case OpAvg:
		return sum(amounts) / float64(len(amounts))
	case OpCount:
		return float64(len(amounts))
	case OpMax:
		m := amounts[0]
		for _, a := range amounts[1:] {
			m = math.Max(m, a)
		}
		return m
	case OpMin:
		m := amounts[0]
		for _, a := range amounts[1:] {
			m = math.Min(m, a)
		}
		return m
	default:
		return sum(amounts)
	}
}

// SessionSummary is the overall picture of a session's documents.
type SessionSummary struct {
	TotalInvoices         int            `json:"total_invoices"`
	TotalAmount           float64        `json:"total_amount"`
	AverageAmount         float64        `json:"average_amount"`
	UniqueVendors         int            `json:"unique_vendors"`
	VendorList            []string       `json:"vendor_list"`
	PaymentTermsBreakdown map[string]int `json:"payment_terms_breakdown"`
	DateRange             *DateRange     `json:"date_range,omitempty"`
}

// DateRange bounds the parseable invoice dates of a session.
type DateRange struct {
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
}

// Summarize computes the SessionSummary. Documents without an amount count
// towards totals as zero.
func Summarize(docs []models.Document) (*SessionSummary, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	out := &SessionSummary{
		TotalInvoices:         len(docs),
		VendorList:            []string{},
		PaymentTermsBreakdown: map[string]int{},
	}
	vendors := map[string]struct{}{}
	var earliest, latest time.Time
	total := 0.0
	for _, d := range docs {
		r := d.Record
		if amount, ok := r.Amount(); ok {
			total += amount
		}
		if v := r.Vendor(); v != "" {
			vendors[v] = struct{}{}
		}
		if t, err := time.Parse(dateLayout, r.DateString()); err == nil {
			if earliest.IsZero() || t.Before(earliest) {
				earliest = t
			}
			if latest.IsZero() || t.After(latest) {
				latest = t
			}
		}
		out.PaymentTermsBreakdown[orUnknown(r.Terms())]++
	}
	for v := range vendors {
		out.VendorList = append(out.VendorList, v)
	}
	sort.Strings(out.VendorList)
	out.UniqueVendors = len(out.VendorList)
	out.TotalAmount = round2(total)
	out.AverageAmount = round2(total / float64(len(docs)))
	if !earliest.IsZero() {
		out.DateRange = &DateRange{Earliest: earliest.Format(dateLayout), Latest: latest.Format(dateLayout)}
	}
	return out, nil
}

// VendorStats summarises one vendor's invoices.
type VendorStats struct {
	Count       int      `json:"count"`
	TotalAmount float64  `json:"total_amount"`
	AvgAmount   float64  `json:"avg_amount"`
	Invoices    []string `json:"invoices"`
}

// SummarizeVendors breaks spending down by vendor.
func SummarizeVendors(docs []models.Document) map[string]VendorStats {
	out := map[string]VendorStats{}
	for _, d := range docs {
		key := orUnknown(d.Record.Vendor())
		s := out[key]
		s.Count++
		if amount, ok := d.Record.Amount(); ok {
			s.TotalAmount += amount
		}
		label := d.Record.Invoice()
		if label == "" {
			label = d.Filename
		}
		s.Invoices = append(s.Invoices, label)
		out[key] = s
	}
	for k, s := range out {
		s.TotalAmount = round2(s.TotalAmount)
		s.AvgAmount = round2(s.TotalAmount / float64(s.Count))
		out[k] = s
	}
	return out
}

// FindInvoice returns the document whose invoice number matches, ignoring
// case and surrounding space.
func FindInvoice(docs []models.Document, number string) (DocumentView, bool) {
	want := strings.TrimSpace(number)
	for _, d := range docs {
		if want != "" && strings.EqualFold(strings.TrimSpace(d.Record.Invoice()), want) {
			return viewOf(d), true
		}
	}
	return DocumentView{}, false
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknownKey
	}
	return s
}

func sum(xs []float64) float64 {
	t := 0.0
	for _, x := range xs {
		t += x
	}
	return t
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
