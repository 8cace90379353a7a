package tools

import "github.com/Lllllllleong/invoicesession/internal/llm"

// Definitions returns the JSON-schema tool definitions in a fixed order.
func Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        SearchSimilarTool,
			Description: "Find invoices similar to a text query using semantic search",
			Parameters: object(map[string]any{
				"query": prop("string", "Search query to find similar invoices"),
				"limit": prop("integer", "Maximum number of results to return (default 5)"),
			}, "query"),
		},
		{
			Name:        AggregateTool,
			Description: "Calculate aggregated amounts grouped by vendor, month, or payment terms",
			Parameters: object(map[string]any{
				"group_by":  enum("Field to group by", GroupByVendor, GroupByDate, GroupByPaymentTerms),
				"operation": enum("Aggregation operation", OpSum, OpAvg, OpCount, OpMax, OpMin),
			}, "group_by", "operation"),
		},
		{
			Name:        FilterTool,
			Description: "Filter invoices by vendor, amount range, date range, or payment terms",
			Parameters: object(map[string]any{
				"vendor":        prop("string", "Vendor name, partial and case-insensitive match"),
				"amount_min":    prop("number", "Minimum total amount"),
				"amount_max":    prop("number", "Maximum total amount"),
				"date_start":    prop("string", "Earliest invoice date (YYYY-MM-DD)"),
				"date_end":      prop("string", "Latest invoice date (YYYY-MM-DD)"),
				"payment_terms": prop("string", "Payment terms, partial match"),
			}),
		},
		{
			Name:        SessionSummaryTool,
			Description: "Get overall summary statistics for all invoices in the current session",
			Parameters:  object(map[string]any{}),
		},
		{
			Name:        VendorSummaryTool,
			Description: "Get a breakdown of spending by vendor",
			Parameters:  object(map[string]any{}),
		},
		{
			Name:        InvoiceDetailsTool,
			Description: "Get the full extracted details of one invoice by its invoice number",
			Parameters: object(map[string]any{
				"invoice_number": prop("string", "Invoice number exactly as shown on the invoice"),
			}, "invoice_number"),
		},
	}
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}
