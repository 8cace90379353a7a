package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/session"
)

const documentsCollection = "documents"

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreBackend persists sessions as documents of a collection, each with a
// "documents" subcollection. Similarity vectors are not stored; they are
// recomputed when sessions are restored.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreBackend creates a session backend over collection.
func NewFirestoreBackend(ctx context.Context, projectID, collection string) (*FirestoreBackend, error) {
	client, err := NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if collection == "" {
		collection = "sessions"
	}
	return &FirestoreBackend{client: client, collection: collection}, nil
}

func (b *FirestoreBackend) sessionRef(id string) *firestore.DocumentRef {
	return b.client.Collection(b.collection).Doc(id)
}

// SaveSession writes the session metadata and its documents.
func (b *FirestoreBackend) SaveSession(ctx context.Context, s *models.Session) error {
	ref := b.sessionRef(s.ID)
	if _, err := ref.Set(ctx, s); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	for _, d := range s.Documents {
		if _, err := ref.Collection(documentsCollection).Doc(d.ID).Set(ctx, d); err != nil {
			return fmt.Errorf("failed to save document %s: %w", d.ID, err)
		}
	}
	return nil
}

// SaveDocument upserts one document of a session.
func (b *FirestoreBackend) SaveDocument(ctx context.Context, sessionID string, doc models.Document) error {
	_, err := b.sessionRef(sessionID).Collection(documentsCollection).Doc(doc.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteSession removes the documents subcollection, then the session itself.
func (b *FirestoreBackend) DeleteSession(ctx context.Context, id string) error {
	ref := b.sessionRef(id)
	iter := ref.Collection(documentsCollection).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list documents of session %s: %w", id, err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", snap.Ref.ID, err)
		}
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// LoadSessions reads every session with its documents in upload order.
func (b *FirestoreBackend) LoadSessions(ctx context.Context) ([]*models.Session, error) {
	var out []*models.Session
	iter := b.client.Collection(b.collection).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		var sess models.Session
		if err := snap.DataTo(&sess); err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", snap.Ref.ID, err)
		}
		sess.ID = snap.Ref.ID

		docs := snap.Ref.Collection(documentsCollection).Documents(ctx)
		for {
			dsnap, err := docs.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				docs.Stop()
				return nil, fmt.Errorf("failed to list documents of session %s: %w", sess.ID, err)
			}
			var d models.Document
			if err := dsnap.DataTo(&d); err != nil {
				docs.Stop()
				return nil, fmt.Errorf("failed to decode document %s: %w", dsnap.Ref.ID, err)
			}
			sess.Documents = append(sess.Documents, d)
		}
		docs.Stop()
		session.SortDocuments(sess.Documents)
		out = append(out, &sess)
	}
	return out, nil
}

// Close releases the Firestore client.
func (b *FirestoreBackend) Close() error {
	return b.client.Close()
}
