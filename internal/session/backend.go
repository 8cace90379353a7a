package session

import (
	"context"
	"sort"

	"github.com/Lllllllleong/invoicesession/internal/models"
)

// Backend persists sessions beyond the process. The in-memory map in Store is
// authoritative; a Backend is written behind it and read only by Restore.
type Backend interface {
	// SaveSession upserts the session metadata and every document it holds.
	SaveSession(ctx context.Context, s *models.Session) error
	// SaveDocument upserts one document of an existing session.
	SaveDocument(ctx context.Context, sessionID string, doc models.Document) error
	// DeleteSession removes a session and its documents. Deleting a missing
	// session is not an error.
	DeleteSession(ctx context.Context, id string) error
	// LoadSessions returns every persisted session with its documents.
	LoadSessions(ctx context.Context) ([]*models.Session, error)
	Close() error
}

// MemoryBackend persists nothing.
type MemoryBackend struct{}

// SaveSession implements Backend.
func (MemoryBackend) SaveSession(context.Context, *models.Session) error {
	return nil
}

// SaveDocument implements Backend.
func (MemoryBackend) SaveDocument(context.Context, string, models.Document) error {
	return nil
}

// DeleteSession implements Backend.
func (MemoryBackend) DeleteSession(context.Context, string) error {
	return nil
}

// LoadSessions implements Backend.
func (MemoryBackend) LoadSessions(context.Context) ([]*models.Session, error) {
	return nil, nil
}

// Close implements Backend.
func (MemoryBackend) Close() error {
	return nil
}

// SortDocuments puts loaded documents back in upload order: by Seq, then by
// StoredAt for records persisted without a sequence number.
func SortDocuments(docs []models.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Seq != docs[j].Seq {
			return docs[i].Seq < docs[j].Seq
		}
		return docs[i].StoredAt.Before(docs[j].StoredAt)
	})
}
