package models

import "time"

// These structs define the JSON payloads exchanged with the request-routing layer.

// CreateSessionRequest is the input for the create-session function.
type CreateSessionRequest struct {
	Invoices []SeedDocument `json:"invoices"`
}

// CreateSessionResponse is the output of the create-session function.
type CreateSessionResponse struct {
	Success      bool   `json:"success"`
	SessionID    string `json:"session_id"`
	InvoiceCount int    `json:"invoice_count"`
}

// SessionStatus describes a live session.
type SessionStatus struct {
	SessionID string    `json:"session_id"`
	DocCount  int       `json:"invoice_count"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

// SessionStats is the observability payload for the session store.
type SessionStats struct {
	ActiveSessions int `json:"active_sessions"`
}

// ProcessDocumentRequest is the input for the process-document function.
// FileData carries the base64 encoded document bytes.
type ProcessDocumentRequest struct {
	FileData     string `json:"file_data"`
	FileName     string `json:"file_name"`
	DocumentType string `json:"document_type"`
	SessionID    string `json:"session_id,omitempty"`
	Validate     bool   `json:"validate,omitempty"`
}

// ProcessDocumentResponse is the output of the process-document function.
type ProcessDocumentResponse struct {
	Success    bool              `json:"success"`
	DocumentID string            `json:"document_id"`
	SessionID  string            `json:"session_id"`
	Record     StructuredRecord  `json:"structured_data"`
	RawText    string            `json:"raw_text,omitempty"`
	Duplicate  bool              `json:"duplicate,omitempty"`
	Validation *ValidationReport `json:"validation,omitempty"`
}

// UpdateDocumentRequest replaces the structured record of a stored document.
type UpdateDocumentRequest struct {
	SessionID  string           `json:"session_id"`
	DocumentID string           `json:"document_id"`
	Record     StructuredRecord `json:"structured_data"`
}

// ChatRequest is the input for the chat function.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse is the output of the chat function.
type ChatResponse struct {
	Success   bool     `json:"success"`
	Response  string   `json:"response"`
	Sources   []Source `json:"sources,omitempty"`
	SessionID string   `json:"session_id"`
}

// ErrorResponse is returned by every function on failure.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Source identifies a document an answer was drawn from.
type Source struct {
	DocumentID string `json:"document_id,omitempty"`
	Filename   string `json:"filename"`
}

// Answer modes.
const (
	AnswerModeTools    = "tools"
	AnswerModeFallback = "fallback"
	AnswerModeTemplate = "template"
	AnswerModeEmpty    = "empty"
)

// Answer is the outcome of one question against a session.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources,omitempty"`
	Mode    string   `json:"mode"`
	Rounds  int      `json:"rounds"`
}

// ValidationReport is the result of cross-checking a record against its raw text.
type ValidationReport struct {
	IsValid         bool           `json:"is_valid"`
	ConfidenceScore float64        `json:"confidence_score"`
	Corrections     map[string]any `json:"corrections,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	Suggestions     []string       `json:"suggestions,omitempty"`
}

// StorageObjectEvent is the data of a Cloud Storage object.finalized CloudEvent.
type StorageObjectEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
}
