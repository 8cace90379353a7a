package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// StructuredRecord is the normalised field set extracted from a document.
// A nil field is absent; it is never filled with a guess.
type StructuredRecord struct {
	VendorName    *string    `json:"vendor_name,omitempty" firestore:"vendorName,omitempty"`
	InvoiceNumber *string    `json:"invoice_number,omitempty" firestore:"invoiceNumber,omitempty"`
	TotalAmount   *float64   `json:"total_amount,omitempty" firestore:"totalAmount,omitempty"`
	Date          *string    `json:"date,omitempty" firestore:"date,omitempty"`
	PaymentTerms  *string    `json:"payment_terms,omitempty" firestore:"paymentTerms,omitempty"`
	LineItems     []LineItem `json:"line_items,omitempty" firestore:"lineItems,omitempty"`
	ModelUsed     string     `json:"model_used,omitempty" firestore:"modelUsed,omitempty"`
}

// LineItem is one billed entry of an invoice.
type LineItem struct {
	Description string   `json:"description" firestore:"description"`
	Quantity    *float64 `json:"quantity,omitempty" firestore:"quantity,omitempty"`
	Rate        *float64 `json:"rate,omitempty" firestore:"rate,omitempty"`
	Amount      *float64 `json:"amount,omitempty" firestore:"amount,omitempty"`
	Person      *string  `json:"person,omitempty" firestore:"person,omitempty"`
	Date        *string  `json:"date,omitempty" firestore:"date,omitempty"`
}

// Str returns a pointer to s.
func Str(s string) *string { return &s }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Vendor returns the vendor name, or "" when absent.
func (r StructuredRecord) Vendor() string { return deref(r.VendorName) }

// Terms returns the payment terms, or "" when absent.
func (r StructuredRecord) Terms() string { return deref(r.PaymentTerms) }

// DateString returns the invoice date, or "" when absent.
func (r StructuredRecord) DateString() string { return deref(r.Date) }

// Invoice returns the invoice number, or "" when absent.
func (r StructuredRecord) Invoice() string { return deref(r.InvoiceNumber) }

// Amount returns the total amount and whether it is present.
func (r StructuredRecord) Amount() (float64, bool) {
	if r.TotalAmount == nil {
		return 0, false
	}
	return *r.TotalAmount, true
}

// Empty reports whether no field was extracted at all.
func (r StructuredRecord) Empty() bool {
	return r.VendorName == nil && r.InvoiceNumber == nil && r.TotalAmount == nil &&
		r.Date == nil && r.PaymentTerms == nil && len(r.LineItems) == 0
}

// Clone returns a deep copy of the record.
func (r StructuredRecord) Clone() StructuredRecord {
	out := StructuredRecord{
		VendorName:    cloneStr(r.VendorName),
		InvoiceNumber: cloneStr(r.InvoiceNumber),
		TotalAmount:   cloneFloat(r.TotalAmount),
		Date:          cloneStr(r.Date),
		PaymentTerms:  cloneStr(r.PaymentTerms),
		ModelUsed:     r.ModelUsed,
	}
	if r.LineItems != nil {
		out.LineItems = make([]LineItem, len(r.LineItems))
		for i, it := range r.LineItems {
			out.LineItems[i] = LineItem{
				Description: it.Description,
				Quantity:    cloneFloat(it.Quantity),
				Rate:        cloneFloat(it.Rate),
				Amount:      cloneFloat(it.Amount),
				Person:      cloneStr(it.Person),
				Date:        cloneStr(it.Date),
			}
		}
	}
	return out
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// UnmarshalJSON decodes a record leniently. Model output routinely carries amounts
// as currency strings ("$1,250.00") or invoice numbers as bare numbers; these are
// normalised, and any value that cannot be normalised is left absent.
func (r *StructuredRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		VendorName    any             `json:"vendor_name"`
		InvoiceNumber any             `json:"invoice_number"`
		TotalAmount   any             `json:"total_amount"`
		Date          any             `json:"date"`
		PaymentTerms  any             `json:"payment_terms"`
		LineItems     json.RawMessage `json:"line_items"`
		ModelUsed     string          `json:"model_used"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = StructuredRecord{
		VendorName:    textField(raw.VendorName),
		InvoiceNumber: textField(raw.InvoiceNumber),
		TotalAmount:   numberField(raw.TotalAmount),
		Date:          textField(raw.Date),
		PaymentTerms:  textField(raw.PaymentTerms),
		ModelUsed:     raw.ModelUsed,
	}

	var items []json.RawMessage
	if len(raw.LineItems) > 0 && json.Unmarshal(raw.LineItems, &items) == nil {
		for _, itemData := range items {
			var item LineItem
			if err := json.Unmarshal(itemData, &item); err != nil {
				continue
			}
			r.LineItems = append(r.LineItems, item)
		}
	}
	return nil
}

// UnmarshalJSON decodes a line item with the same leniency as StructuredRecord.
func (li *LineItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Description any `json:"description"`
		Quantity    any `json:"quantity"`
		Rate        any `json:"rate"`
		Amount      any `json:"amount"`
		Person      any `json:"person"`
		Date        any `json:"date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*li = LineItem{
		Description: deref(textField(raw.Description)),
		Quantity:    numberField(raw.Quantity),
		Rate:        numberField(raw.Rate),
		Amount:      numberField(raw.Amount),
		Person:      textField(raw.Person),
		Date:        textField(raw.Date),
	}
	return nil
}

func textField(v any) *string {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return nil
		}
		return &t
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	}
	return nil
}

var amountCleaner = strings.NewReplacer("$", "", ",", "", "USD", "", "usd", "", " ", "")

// ParseAmount converts a currency-formatted string into a number.
func ParseAmount(s string) (float64, bool) {
	cleaned := amountCleaner.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numberField(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		if f, ok := ParseAmount(t); ok {
			return &f
		}
	}
	return nil
}
