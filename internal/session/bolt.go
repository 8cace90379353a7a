package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Lllllllleong/invoicesession/internal/models"
)

var (
	bucketSessions  = []byte("sessions")
	bucketDocuments = []byte("documents")
	keyMeta         = []byte("meta")
)

// BoltBackend persists sessions in a single bbolt file. Each session is a
// nested bucket holding its metadata under "meta" and its documents in a
// "documents" sub-bucket keyed by document id.
type BoltBackend struct {
	db *bbolt.DB
}

// NewBoltBackend opens (or creates) the database at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise session database: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

// SaveSession implements Backend.
func (b *BoltBackend) SaveSession(_ context.Context, s *models.Session) error {
	meta := *s
	meta.Documents = nil
	metaData, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		sb, err := tx.Bucket(bucketSessions).CreateBucketIfNotExists([]byte(s.ID))
		if err != nil {
			return err
		}
		if err := sb.Put(keyMeta, metaData); err != nil {
			return err
		}
		docs, err := sb.CreateBucketIfNotExists(bucketDocuments)
		if err != nil {
			return err
		}
		for _, d := range s.Documents {
			if err := putDocument(docs, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveDocument implements Backend. The session must have been saved first.
func (b *BoltBackend) SaveDocument(_ context.Context, sessionID string, doc models.Document) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		sb := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if sb == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		docs, err := sb.CreateBucketIfNotExists(bucketDocuments)
		if err != nil {
			return err
		}
		return putDocument(docs, doc)
	})
}

// DeleteSession implements Backend.
func (b *BoltBackend) DeleteSession(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketSessions)
		if root.Bucket([]byte(id)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(id))
	})
}

// LoadSessions implements Backend. Documents come back in stored order.
func (b *BoltBackend) LoadSessions(_ context.Context) ([]*models.Session, error) {
	var out []*models.Session
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketSessions)
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			sb := root.Bucket(k)
			metaData := sb.Get(keyMeta)
			if metaData == nil {
				return nil
			}
			var sess models.Session
			if err := json.Unmarshal(metaData, &sess); err != nil {
				return fmt.Errorf("failed to decode session %s: %w", k, err)
			}
			if docs := sb.Bucket(bucketDocuments); docs != nil {
				err := docs.ForEach(func(_, data []byte) error {
					var d models.Document
					if err := json.Unmarshal(data, &d); err != nil {
						return fmt.Errorf("failed to decode document in session %s: %w", k, err)
					}
					sess.Documents = append(sess.Documents, d)
					return nil
				})
				if err != nil {
					return err
				}
			}
			SortDocuments(sess.Documents)
			out = append(out, &sess)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

func putDocument(bucket *bbolt.Bucket, d models.Document) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", d.ID, err)
	}
	return bucket.Put([]byte(d.ID), data)
}
