package extraction

// --- Fast Tier Prompts ---
const FastSystemPrompt = "You extract billing data from business documents. You answer with a single JSON object and nothing else."
const FastUserPrompt = `You are extracting data from a %[1]s. Work through it step by step.

STEP 1: Read the text below.
%[2]s

STEP 2: Find the header fields:
- vendor_name: the firm or company issuing the document (letterhead, names ending in "LLP", "LLC", "Inc")
- invoice_number: the value after "Invoice Number:", "Invoice #", "Matter Number:" or similar
- total_amount: the final amount due, as a number without currency symbols
- date: the invoice date formatted as YYYY-MM-DD
- payment_terms: text such as "Net 30" or "Payable in 90 days"

STEP 3: Find the line items. For each entry capture description, quantity (hours or units),
rate, amount and, when present, the person who performed the work. Numbers only for numeric fields.

STEP 4: Return ONLY this JSON structure, leaving out fields you cannot find:
{
  "vendor_name": "firm name",
  "invoice_number": "number",
  "total_amount": 27531.83,
  "date": "2023-04-18",
  "payment_terms": "terms",
  "line_items": [
    {"description": "brief description", "quantity": 2.5, "rate": 1000.00, "amount": 2500.00, "person": "Attorney Name"}
  ]
}`

// --- Accurate Tier Prompts ---
const AccurateSystemPrompt = "You are an expert at extracting structured billing data from complex documents, especially legal invoices with detailed time entries. You answer with valid JSON only."
const AccurateUserPrompt = `Analyze this %[1]s text and extract comprehensive billing information.

%[2]s

1. BASIC INFORMATION
   - vendor_name: the law firm or company name (letterhead, "LLP", "LLC")
   - invoice_number: invoice or matter number
   - total_amount: final total due as a number ("Total Amount Due", "Total", "Balance Due")
   - date: invoice date in YYYY-MM-DD format
   - payment_terms: e.g. "Net 30", "Payable in 90 days"

2. DETAILED LINE ITEMS
   - every time entry with its date, attorney or staff name, description and hours
   - rate summaries with name, total hours, hourly rate and amount
   - disbursements and other costs

Return ONLY valid JSON with this structure, omitting anything that is not in the text:
{
  "vendor_name": "Law Firm Name",
  "invoice_number": "12345",
  "total_amount": 27531.83,
  "date": "2023-04-18",
  "payment_terms": "Payable in 90 days",
  "line_items": [
    {"description": "Legal services description", "quantity": 2.5, "rate": 1000.00, "amount": 2500.00, "person": "Attorney Name", "date": "2023-03-08"}
  ]
}`

// --- Validation Prompts ---
const ValidationSystemPrompt = "You review extracted invoice data against its source text. You answer with valid JSON only."
const ValidationUserPrompt = `Review this extracted data against the original text.

Extracted Data:
%[1]s

Original Text:
%[2]s

Return a JSON object with:
- is_valid: boolean, whether the extraction looks correct
- confidence_score: overall confidence between 0 and 1
- corrections: object mapping field names to corrected values
- warnings: array of potential issues
- suggestions: array of improvement suggestions`
