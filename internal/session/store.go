// Package session owns the lifecycle of sessions and their documents: creation,
// snapshot reads, document insertion with re-indexing, explicit deletion and a
// background reaper that evicts sessions past their expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/invoicesession/internal/metrics"
	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/similarity"
)

const (
	DefaultTTL          = 2 * time.Hour
	DefaultReapInterval = 5 * time.Minute

	backendTimeout = 10 * time.Second
)

var (
	// ErrNotFound is returned for a session that never existed, was deleted or
	// has expired. It is also wrapped for unknown document ids.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when mutating a session past its expiry that the
	// reaper has not evicted yet.
	ErrExpired = errors.New("session expired")
	// ErrDuplicate is returned by AddDocument, together with the existing
	// document id, when the session already holds a document with the same
	// content hash.
	ErrDuplicate = errors.New("duplicate document")
)

// Config controls session lifetime. Zero values take the defaults; a negative
// ReapInterval disables the background reaper.
type Config struct {
	TTL          time.Duration
	ReapInterval time.Duration
	Clock        func() time.Time
}

type entry struct {
	mu        sync.Mutex
	expiresAt time.Time
	session   *models.Session
	deleted   bool
}

// Store is the authoritative in-memory session map. The map lock is held only
// for lookup, insert and delete; each session carries its own lock, so
// operations on one session are serialised while different sessions proceed in
// parallel. Backend writes happen after all locks are released.
type Store struct {
	ttl          time.Duration
	reapInterval time.Duration
	now          func() time.Time

	backend        Backend
	logger         *slog.Logger
	metrics        *metrics.Metrics
	vectorizerOpts []similarity.Option

	mu       sync.RWMutex
	sessions map[string]*entry

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics records store operations and the live session gauge on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithVectorizerOptions passes options to every vocabulary fit.
func WithVectorizerOptions(opts ...similarity.Option) Option {
	return func(s *Store) { s.vectorizerOpts = opts }
}

// NewStore creates a store and starts its reaper. A nil backend persists nothing.
func NewStore(cfg Config, backend Backend, opts ...Option) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if backend == nil {
		backend = MemoryBackend{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		ttl:          cfg.TTL,
		reapInterval: cfg.ReapInterval,
		now:          cfg.Clock,
		backend:      backend,
		logger:       slog.Default(),
		sessions:     make(map[string]*entry),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.RegisterSessionGauge(s.Count)

	if s.reapInterval > 0 {
		go s.reapLoop(ctx)
	} else {
		close(s.done)
	}
	return s
}

// CreateSession allocates a session, seeds it with docs and indexes them.
func (s *Store) CreateSession(ctx context.Context, docs ...models.Document) (string, error) {
	now := s.now()
	id := uuid.NewString()
	sess := &models.Session{
		ID:           id,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastAccessed: now,
		Documents:    make([]models.Document, 0, len(docs)),
	}
	for i, d := range docs {
		sess.Documents = append(sess.Documents, s.prepare(d.Clone(), id, i, now))
	}
	s.reindex(sess)
	snapshot := sess.Clone()

	s.mu.Lock()
	s.sessions[id] = &entry{expiresAt: sess.ExpiresAt, session: sess}
	s.mu.Unlock()

	s.metrics.StoreOperation("create", "ok")
	s.logger.Info("Session created", "sessionId", id, "documents", len(docs), "expiresAt", sess.ExpiresAt)

	s.persist(ctx, "save_session", func(ctx context.Context) error {
		return s.backend.SaveSession(ctx, snapshot)
	})
	return id, nil
}

// GetSession returns a deep-copied snapshot and records the access time.
// Sessions past their expiry are reported as not found even before eviction.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	e := s.lookup(id)
	if e == nil {
		s.metrics.StoreOperation("get", "not_found")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := s.now()
	if e.deleted || e.session.Expired(now) {
		s.metrics.StoreOperation("get", "not_found")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.session.LastAccessed = now
	s.metrics.StoreOperation("get", "ok")
	return e.session.Clone(), nil
}

// AddDocument appends doc to a live session and re-indexes the session so all
// vectors share one vocabulary. It returns the document id. A document whose
// ContentHash is already present is not added; the existing id is returned
// with ErrDuplicate.
func (s *Store) AddDocument(ctx context.Context, sessionID string, doc models.Document) (string, error) {
	e := s.lookup(sessionID)
	if e == nil {
		s.metrics.StoreOperation("add_document", "not_found")
		return "", fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	e.mu.Lock()
	now := s.now()
	if e.deleted {
		e.mu.Unlock()
		s.metrics.StoreOperation("add_document", "not_found")
		return "", fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if e.session.Expired(now) {
		e.mu.Unlock()
		s.metrics.StoreOperation("add_document", "expired")
		return "", fmt.Errorf("%w: %s", ErrExpired, sessionID)
	}
	if doc.ContentHash != "" {
		for _, existing := range e.session.Documents {
			if existing.ContentHash == doc.ContentHash {
				e.mu.Unlock()
				s.metrics.StoreOperation("add_document", "duplicate")
				return existing.ID, fmt.Errorf("%w: %s in session %s", ErrDuplicate, existing.ID, sessionID)
			}
		}
	}
	doc = s.prepare(doc.Clone(), sessionID, nextSeq(e.session.Documents), now)
	e.session.Documents = append(e.session.Documents, doc)
	s.reindex(e.session)
	stored := e.session.Documents[len(e.session.Documents)-1].Clone()
	e.mu.Unlock()

	s.metrics.StoreOperation("add_document", "ok")
	s.logger.Info("Document added", "sessionId", sessionID, "documentId", stored.ID, "filename", stored.Filename)

	s.persist(ctx, "save_document", func(ctx context.Context) error {
		return s.backend.SaveDocument(ctx, sessionID, stored)
	})
	return stored.ID, nil
}

// UpdateRecord replaces a document's structured record. The document keeps
// its indexed text and vector.
func (s *Store) UpdateRecord(ctx context.Context, sessionID, docID string, rec models.StructuredRecord) error {
	e := s.lookup(sessionID)
	if e == nil {
		s.metrics.StoreOperation("update_record", "not_found")
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	e.mu.Lock()
	now := s.now()
	if e.deleted {
		e.mu.Unlock()
		s.metrics.StoreOperation("update_record", "not_found")
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if e.session.Expired(now) {
		e.mu.Unlock()
		s.metrics.StoreOperation("update_record", "expired")
		return fmt.Errorf("%w: %s", ErrExpired, sessionID)
	}
	idx := -1
	for i := range e.session.Documents {
		if e.session.Documents[i].ID == docID {
			idx = i
			break
		}
	}
	if idx == -1 {
		e.mu.Unlock()
		s.metrics.StoreOperation("update_record", "not_found")
		return fmt.Errorf("%w: document %s in session %s", ErrNotFound, docID, sessionID)
	}
	d := &e.session.Documents[idx]
	d.Record = rec.Clone()
	d.UpdatedAt = now
	stored := d.Clone()
	e.mu.Unlock()

	s.metrics.StoreOperation("update_record", "ok")
	s.persist(ctx, "save_document", func(ctx context.Context) error {
		return s.backend.SaveDocument(ctx, sessionID, stored)
	})
	return nil
}

// DeleteSession removes a session and its documents. It reports whether a
// session was removed; deleting an unknown id is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	if !s.evict(id, false) {
		s.metrics.StoreOperation("delete", "not_found")
		return false, nil
	}
	s.metrics.StoreOperation("delete", "ok")
	s.logger.Info("Session deleted", "sessionId", id)
	s.persist(ctx, "delete_session", func(ctx context.Context) error {
		return s.backend.DeleteSession(ctx, id)
	})
	return true, nil
}

// Count returns the number of sessions that have not expired.
func (s *Store) Count() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.sessions {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// Restore loads live sessions from the backend into an empty or partially
// filled store. Expired sessions are removed from the backend instead.
func (s *Store) Restore(ctx context.Context) (int, error) {
	loaded, err := s.backend.LoadSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load sessions: %w", err)
	}

	now := s.now()
	restored := 0
	for _, sess := range loaded {
		if sess.Expired(now) {
			if err := s.backend.DeleteSession(ctx, sess.ID); err != nil {
				s.logger.Warn("Failed to drop expired session from backend", "sessionId", sess.ID, "error", err)
			}
			continue
		}
		for i := range sess.Documents {
			sess.Documents[i].SessionID = sess.ID
			if sess.Documents[i].IndexedText == "" {
				sess.Documents[i].IndexedText = sess.Documents[i].SearchText()
			}
		}
		s.reindex(sess)

		s.mu.Lock()
		if _, exists := s.sessions[sess.ID]; !exists {
			s.sessions[sess.ID] = &entry{expiresAt: sess.ExpiresAt, session: sess}
			restored++
		}
		s.mu.Unlock()
	}
	s.logger.Info("Sessions restored", "count", restored, "loaded", len(loaded))
	return restored, nil
}

// Reap evicts every expired session and returns how many were removed.
func (s *Store) Reap(ctx context.Context) int {
	now := s.now()

	s.mu.RLock()
	expired := make([]string, 0)
	for id, e := range s.sessions {
		if now.After(e.expiresAt) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		if !s.evict(id, true) {
			continue
		}
		removed++
		if err := s.backendCall(ctx, func(ctx context.Context) error {
			return s.backend.DeleteSession(ctx, id)
		}); err != nil {
			s.metrics.StoreOperation("delete_session", "error")
			s.logger.Warn("Failed to delete expired session from backend", "sessionId", id, "error", err)
		}
	}
	if removed > 0 {
		s.metrics.StoreOperation("reap", "ok")
		s.logger.Info("Expired sessions reaped", "count", removed)
	}
	return removed
}

// Close stops the reaper, waits for it to exit and closes the backend.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err = s.backend.Close()
	})
	return err
}

func (s *Store) reapLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap(ctx)
		}
	}
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// evict removes id from the map and tombstones its entry. With onlyExpired it
// re-checks expiry first, so a sweep never removes a session that is live.
func (s *Store) evict(id string, onlyExpired bool) bool {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok || (onlyExpired && !s.now().After(e.expiresAt)) {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	e.mu.Lock()
	wasLive := !e.deleted
	e.deleted = true
	e.session = &models.Session{ID: id}
	e.mu.Unlock()
	return wasLive
}

func (s *Store) prepare(doc models.Document, sessionID string, seq int, now time.Time) models.Document {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.SessionID = sessionID
	doc.Seq = seq
	if doc.StoredAt.IsZero() {
		doc.StoredAt = now
	}
	if doc.IndexedText == "" {
		doc.IndexedText = doc.SearchText()
	}
	return doc
}

// nextSeq is one past the highest sequence number in docs. Sequence numbers
// are never reused, so persisted order survives gaps.
func nextSeq(docs []models.Document) int {
	next := 0
	for _, d := range docs {
		if d.Seq >= next {
			next = d.Seq + 1
		}
	}
	return next
}

// reindex refits the session vocabulary over every document and recomputes
// all vectors against it.
func (s *Store) reindex(sess *models.Session) {
	texts := make([]string, len(sess.Documents))
	for i := range sess.Documents {
		texts[i] = sess.Documents[i].IndexedText
	}
	ix := similarity.NewIndex(texts, s.vectorizerOpts...)
	vectors := ix.Vectors()
	for i := range sess.Documents {
		sess.Documents[i].Vector = vectors[i]
	}
	sess.Vectorizer = ix.Vectorizer()
}

// persist runs a backend write outside every store lock. Failures are logged
// and counted; the in-memory state stays authoritative.
func (s *Store) persist(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if err := s.backendCall(ctx, fn); err != nil {
		s.metrics.StoreOperation(op, "error")
		s.logger.Error("Session backend write failed", "op", op, "error", err)
	}
}

func (s *Store) backendCall(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backendTimeout)
	defer cancel()
	return fn(ctx)
}
