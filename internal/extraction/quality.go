package extraction

import (
	"strings"

	"github.com/Lllllllleong/invoicesession/internal/models"
)

var vendorPlaceholders = map[string]struct{}{
	"not found": {},
	"unknown":   {},
	"n/a":       {},
	"na":        {},
	"none":      {},
	"null":      {},
	"vendor":    {},
	"firm name": {},
}

// IsAcceptable is the quality gate between tiers: a record passes with a real
// vendor name or a numeric total. It is deliberately permissive.
func IsAcceptable(rec *models.StructuredRecord) bool {
	if rec == nil {
		return false
	}
	if _, ok := rec.Amount(); ok {
		return true
	}
	vendor := strings.ToLower(strings.TrimSpace(rec.Vendor()))
	if vendor == "" {
		return false
	}
	_, placeholder := vendorPlaceholders[vendor]
	return !placeholder
}
