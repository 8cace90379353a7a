package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/invoicesession/internal/similarity"
)

// Session is a time-boxed scope grouping the documents uploaded by one user interaction.
// ExpiresAt is fixed at creation; LastAccessed is informational only.
type Session struct {
	ID           string     `json:"id" firestore:"id"`
	CreatedAt    time.Time  `json:"created_at" firestore:"createdAt"`
	ExpiresAt    time.Time  `json:"expires_at" firestore:"expiresAt"`
	LastAccessed time.Time  `json:"last_accessed" firestore:"lastAccessed"`
	Documents    []Document `json:"documents,omitempty" firestore:"-"`

	// Vectorizer is immutable once fitted and shared between snapshots.
	Vectorizer *similarity.Vectorizer `json:"-" firestore:"-"`
}

// Expired reports whether the session is past its expiry at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a deep copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	out := *s
	out.Documents = make([]Document, len(s.Documents))
	for i, d := range s.Documents {
		out.Documents[i] = d.Clone()
	}
	return &out
}

// Document is one uploaded file plus its extracted text and structured record.
// SessionID is a back-reference; the owning Session holds the document.
type Document struct {
	ID          string           `json:"id" firestore:"id"`
	SessionID   string           `json:"session_id" firestore:"sessionId"`
	Filename    string           `json:"filename" firestore:"filename"`
	DocType     string           `json:"doc_type,omitempty" firestore:"docType,omitempty"`
	RawText     string           `json:"raw_text" firestore:"rawText"`
	Record      StructuredRecord `json:"structured_data" firestore:"structuredData"`
	ObjectKey   string           `json:"object_key,omitempty" firestore:"objectKey,omitempty"`
	ContentHash string           `json:"content_hash,omitempty" firestore:"contentHash,omitempty"`
	StoredAt    time.Time        `json:"stored_at" firestore:"storedAt"`
	UpdatedAt   time.Time        `json:"updated_at,omitempty" firestore:"updatedAt,omitempty"`

	// Seq is the position in upload order. It is persisted so restored
	// sessions keep their order when StoredAt ties.
	Seq int `json:"seq" firestore:"seq"`

	// IndexedText is frozen when the document is first stored, so replacing the
	// record later never changes what the document is retrieved by.
	IndexedText string            `json:"indexed_text,omitempty" firestore:"indexedText,omitempty"`
	Vector      similarity.Vector `json:"-" firestore:"-"`
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	d.Record = d.Record.Clone()
	if d.Vector != nil {
		v := make(similarity.Vector, len(d.Vector))
		for k, w := range d.Vector {
			v[k] = w
		}
		d.Vector = v
	}
	return d
}

// SearchText builds the text a document is indexed under: the structured fields
// first, then the leading part of the raw text and the filename.
func (d Document) SearchText() string {
	const rawTextLimit = 1000

	parts := make([]string, 0, 8)
	r := d.Record
	parts = append(parts,
		"Vendor "+r.Vendor(),
		"Invoice "+deref(r.InvoiceNumber),
	)
	if amount, ok := r.Amount(); ok {
		parts = append(parts, fmt.Sprintf("Amount %.2f dollars", amount))
	}
	parts = append(parts,
		"Date "+deref(r.Date),
		"Terms "+deref(r.PaymentTerms),
	)
	for _, item := range r.LineItems {
		if item.Description != "" {
			parts = append(parts, "Item "+item.Description)
		}
	}

	if d.RawText != "" {
		clean := strings.NewReplacer("\r", " ", "\n", " ").Replace(d.RawText)
		if len(clean) > rawTextLimit {
			clean = clean[:rawTextLimit]
		}
		parts = append(parts, clean)
	}
	if d.Filename != "" {
		parts = append(parts, "Document "+d.Filename)
	}

	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		name := d.Filename
		if name == "" {
			name = "Unknown"
		}
		return "Document " + name + " invoice data"
	}
	return text
}

// SeedDocument is a pre-extracted document supplied when a session is created.
type SeedDocument struct {
	Filename string           `json:"document_name"`
	RawText  string           `json:"raw_text,omitempty"`
	Record   StructuredRecord `json:"structured_data"`
}
