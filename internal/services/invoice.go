// Package services exposes the invoice session operations consumed by the
// function entry points and the CLI.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/invoicesession/internal/config"
	"github.com/Lllllllleong/invoicesession/internal/conversation"
	"github.com/Lllllllleong/invoicesession/internal/extraction"
	"github.com/Lllllllleong/invoicesession/internal/gcp"
	"github.com/Lllllllleong/invoicesession/internal/llm"
	"github.com/Lllllllleong/invoicesession/internal/metrics"
	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/session"
	"github.com/Lllllllleong/invoicesession/internal/textextract"
)

var (
	// ErrStorage wraps object store failures.
	ErrStorage = errors.New("storage error")
	// ErrInvalidInput marks requests rejected before any work is done.
	ErrInvalidInput = errors.New("invalid input")
)

const seedConcurrency = 4

// WorkflowStarter hands a stored document to downstream processing.
type WorkflowStarter interface {
	DocumentStored(ctx context.Context, sessionID, documentID string) error
}

// Dependencies are the collaborators of an InvoiceService. Objects, Validator
// and Workflow are optional.
type Dependencies struct {
	Store        *session.Store
	Extractor    textextract.Extractor
	Orchestrator *extraction.Orchestrator
	Chat         *conversation.Loop
	Objects      ObjectStore
	Validator    *extraction.Validator
	Workflow     WorkflowStarter
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	// ValidateAll validates every upload, not only those that ask for it.
	ValidateAll bool

	// Closers are released by Close in reverse order.
	Closers []io.Closer
}

// InvoiceService implements session creation, document upload and chat.
type InvoiceService struct {
	deps    Dependencies
	logger  *slog.Logger
	closers []io.Closer
}

// UploadRequest is one document to extract and store.
type UploadRequest struct {
	SessionID string
	Filename  string
	Data      []byte
	DocType   string
	Validate  bool
}

// UploadResponse describes the stored document.
type UploadResponse struct {
	DocumentID string
	SessionID  string
	Record     models.StructuredRecord
	RawText    string
	Duplicate  bool
	Validation *models.ValidationReport
}

// NewInvoiceService wires a service from explicit dependencies.
func NewInvoiceService(deps Dependencies) *InvoiceService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Extractor == nil {
		deps.Extractor = textextract.NewLocal()
	}
	if deps.Orchestrator == nil {
		deps.Orchestrator = extraction.NewOrchestrator(nil, extraction.WithLogger(deps.Logger), extraction.WithMetrics(deps.Metrics))
	}
	if deps.Chat == nil {
		deps.Chat = conversation.NewLoop(nil, nil, conversation.Config{}, conversation.WithLogger(deps.Logger), conversation.WithMetrics(deps.Metrics))
	}
	return &InvoiceService{deps: deps, logger: deps.Logger, closers: deps.Closers}
}

// New builds the production service from cfg: Vertex AI for extraction and
// chat, the configured session backend, and GCS when a bucket is set.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*InvoiceService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	var closers []io.Closer
	fail := func(err error) (*InvoiceService, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	vertex, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return fail(fmt.Errorf("failed to create vertex client: %w", err))
	}
	closers = append(closers, vertex)

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	store := session.NewStore(session.Config{
		TTL:          cfg.Session.TTL,
		ReapInterval: cfg.Session.ReapInterval,
	}, backend, session.WithMetrics(m))
	closers = append(closers, store)
	if restored, err := store.Restore(ctx); err != nil {
		slog.Warn("Could not restore sessions from backend", "backend", cfg.Session.Backend, "error", err)
	} else if restored > 0 {
		slog.Info("Restored sessions from backend", "backend", cfg.Session.Backend, "sessions", restored)
	}

	deps := Dependencies{
		Store: store,
		Orchestrator: extraction.NewOrchestrator([]extraction.Tier{
			extraction.FastTier(cfg.Models.Fast, vertex, cfg.Models.Timeout),
			extraction.AccurateTier(cfg.Models.Accurate, vertex, cfg.Models.Timeout),
		}, extraction.WithMetrics(m)),
		Chat: conversation.NewLoop(vertex, vertex, conversation.Config{
			Model:   cfg.Models.Chat,
			Timeout: cfg.Models.Timeout,
		}, conversation.WithMetrics(m)),
		Validator:   extraction.NewValidator(vertex, cfg.Models.Accurate, cfg.Models.Timeout),
		Metrics:     m,
		ValidateAll: cfg.ValidateExtractions,
	}

	if cfg.DocumentBucket != "" {
		objects, err := gcp.NewGCSObjectStore(ctx, cfg.DocumentBucket)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, objects)
		deps.Objects = objects
	} else {
		slog.Warn("DOCUMENT_BUCKET not set, keeping documents in memory only")
		deps.Objects = NewMemoryObjectStore()
	}

	if cfg.Workflow.ID != "" {
		trigger, err := gcp.NewWorkflowTrigger(ctx, cfg.ProjectID, cfg.Workflow.Location, cfg.Workflow.ID)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, trigger)
		deps.Workflow = trigger
	}

	deps.Closers = closers
	svc := NewInvoiceService(deps)
	slog.Info("Invoice service initialized.",
		"backend", cfg.Session.Backend,
		"fastModel", cfg.Models.Fast,
		"accurateModel", cfg.Models.Accurate,
		"chatModel", cfg.Models.Chat,
	)
	return svc, nil
}

func newBackend(ctx context.Context, cfg *config.Config) (session.Backend, error) {
	switch cfg.Session.Backend {
	case config.BackendBolt:
		b, err := session.NewBoltBackend(cfg.Session.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open session db: %w", err)
		}
		return b, nil
	case config.BackendFirestore:
		b, err := gcp.NewFirestoreBackend(ctx, cfg.ProjectID, cfg.Session.FirestoreCollection)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore backend: %w", err)
		}
		return b, nil
	default:
		return session.MemoryBackend{}, nil
	}
}

// Close releases every client the service created, in reverse order.
func (s *InvoiceService) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateSession starts a session seeded with pre-extracted documents. Seeds
// that carry raw text but no record are extracted first.
func (s *InvoiceService) CreateSession(ctx context.Context, seeds []models.SeedDocument) (string, error) {
	docs := make([]models.Document, len(seeds))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(seedConcurrency)
	for i, seed := range seeds {
		docs[i] = models.Document{
			Filename: seed.Filename,
			RawText:  seed.RawText,
			Record:   seed.Record.Clone(),
		}
		if !seed.Record.Empty() || strings.TrimSpace(seed.RawText) == "" {
			continue
		}
		eg.Go(func() error {
			docs[i].Record = *s.deps.Orchestrator.Extract(gctx, seed.RawText, "invoice")
			return nil
		})
	}
	_ = eg.Wait()

	id, err := s.deps.Store.CreateSession(ctx, docs...)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// GetSessionStatus describes a live session.
func (s *InvoiceService) GetSessionStatus(ctx context.Context, id string) (*models.SessionStatus, error) {
	sess, err := s.deps.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.SessionStatus{
		SessionID: sess.ID,
		DocCount:  len(sess.Documents),
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
		Active:    true,
	}, nil
}

// DeleteSession reports whether a session was removed.
func (s *InvoiceService) DeleteSession(ctx context.Context, id string) (bool, error) {
	return s.deps.Store.DeleteSession(ctx, id)
}

// UploadDocument extracts text and a structured record from req.Data, stores
// the file and its metadata, and adds the document to the session. A new
// session is created when req.SessionID is empty. Uploading content already in
// the session returns the existing document.
func (s *InvoiceService) UploadDocument(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	filename := path.Base(strings.TrimSpace(req.Filename))
	if filename == "" || filename == "." || filename == "/" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: file data is empty", ErrInvalidInput)
	}
	docType := req.DocType
	if docType == "" {
		docType = "invoice"
	}

	sum := sha256.Sum256(req.Data)
	contentHash := hex.EncodeToString(sum[:])
	logCtx := s.logger.With("filename", filename, "contentHash", contentHash)

	sessionID := req.SessionID
	if sessionID == "" {
		id, err := s.deps.Store.CreateSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = id
	} else {
		sess, err := s.deps.Store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if d, ok := findByHash(sess, contentHash); ok {
			logCtx.Info("Duplicate file detected. Skipping.", "sessionId", sessionID, "existingDocId", d.ID)
			return duplicateResponse(sessionID, d), nil
		}
	}
	logCtx = logCtx.With("sessionId", sessionID)

	extracted, err := s.deps.Extractor.Extract(ctx, req.Data, filename)
	if err != nil {
		if errors.Is(err, textextract.ErrUnsupportedType) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		logCtx.Error("Failed to extract text", "error", err)
		return nil, fmt.Errorf("failed to extract text from %s: %w", filename, err)
	}

	rec := s.deps.Orchestrator.Extract(ctx, extracted.Text, docType)
	if rec.Empty() {
		logCtx.Warn("Storing document without structured data", "error", extraction.ErrExtractionFailed)
	}

	var report *models.ValidationReport
	if s.deps.Validator != nil && (req.Validate || s.deps.ValidateAll) {
		r := s.deps.Validator.Validate(ctx, *rec, extracted.Text)
		report = &r
	}

	doc := models.Document{
		ID:          uuid.NewString(),
		Filename:    filename,
		DocType:     docType,
		RawText:     extracted.Text,
		Record:      *rec,
		ContentHash: contentHash,
	}
	if s.deps.Objects != nil {
		doc.ObjectKey = DocumentKey(sessionID, doc.ID, filename)
		if err := s.deps.Objects.Put(ctx, doc.ObjectKey, req.Data, contentType(filename)); err != nil {
			logCtx.Error("Failed to store document", "error", err)
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	docID, err := s.deps.Store.AddDocument(ctx, sessionID, doc)
	if errors.Is(err, session.ErrDuplicate) {
		// A concurrent upload of the same bytes won; its object stays authoritative.
		logCtx.Info("Duplicate file stored concurrently. Skipping.", "existingDocId", docID, "orphanedKey", doc.ObjectKey)
		sess, getErr := s.deps.Store.GetSession(ctx, sessionID)
		if getErr != nil {
			return nil, getErr
		}
		if d, ok := findByHash(sess, contentHash); ok {
			return duplicateResponse(sessionID, d), nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	logCtx = logCtx.With("documentId", docID)

	if err := s.putMetadata(ctx, sessionID, docID, filename, *rec); err != nil {
		logCtx.Error("Failed to store document metadata", "error", err)
		return nil, err
	}

	if s.deps.Workflow != nil {
		if err := s.deps.Workflow.DocumentStored(ctx, sessionID, docID); err != nil {
			logCtx.Warn("Workflow hand-off failed", "error", err)
		}
	}

	logCtx.Info("Document processed.", "modelUsed", rec.ModelUsed)
	return &UploadResponse{
		DocumentID: docID,
		SessionID:  sessionID,
		Record:     *rec,
		RawText:    extracted.Text,
		Validation: report,
	}, nil
}

// IngestUpload processes an object written under sessions/<sid>/uploads/.
func (s *InvoiceService) IngestUpload(ctx context.Context, key string) (*UploadResponse, error) {
	sessionID, filename, ok := ParseUploadKey(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a session upload", ErrInvalidInput, key)
	}
	if s.deps.Objects == nil {
		return nil, fmt.Errorf("%w: no object store configured", ErrStorage)
	}
	data, err := s.deps.Objects.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return s.UploadDocument(ctx, UploadRequest{SessionID: sessionID, Filename: filename, Data: data})
}

// UpdateDocument replaces a document's structured record.
func (s *InvoiceService) UpdateDocument(ctx context.Context, sessionID, documentID string, rec models.StructuredRecord) error {
	if sessionID == "" || documentID == "" {
		return fmt.Errorf("%w: session_id and document_id are required", ErrInvalidInput)
	}
	if err := s.deps.Store.UpdateRecord(ctx, sessionID, documentID, rec); err != nil {
		return err
	}
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, d := range sess.Documents {
		if d.ID == documentID {
			if err := s.putMetadata(ctx, sessionID, documentID, d.Filename, d.Record); err != nil {
				s.logger.Warn("Failed to rewrite document metadata", "sessionId", sessionID, "documentId", documentID, "error", err)
			}
			break
		}
	}
	return nil
}

// Ask answers a question about the documents of a session.
func (s *InvoiceService) Ask(ctx context.Context, sessionID, message string) (*models.Answer, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ans := s.deps.Chat.Ask(ctx, sess, message)
	return &ans, nil
}

// Stats reports store-level counts.
func (s *InvoiceService) Stats() models.SessionStats {
	return models.SessionStats{ActiveSessions: s.deps.Store.Count()}
}

// Metrics returns the registry the service records on, possibly nil.
func (s *InvoiceService) Metrics() *metrics.Metrics {
	return s.deps.Metrics
}

func (s *InvoiceService) putMetadata(ctx context.Context, sessionID, documentID, filename string, rec models.StructuredRecord) error {
	if s.deps.Objects == nil {
		return nil
	}
	body, err := json.Marshal(struct {
		DocumentID string                  `json:"document_id"`
		SessionID  string                  `json:"session_id"`
		Filename   string                  `json:"filename"`
		Record     models.StructuredRecord `json:"structured_data"`
	}{documentID, sessionID, filename, rec})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := s.deps.Objects.Put(ctx, MetadataKey(sessionID, documentID), body, "application/json"); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func findByHash(sess *models.Session, contentHash string) (models.Document, bool) {
	for _, d := range sess.Documents {
		if d.ContentHash == contentHash {
			return d, true
		}
	}
	return models.Document{}, false
}

func duplicateResponse(sessionID string, d models.Document) *UploadResponse {
	return &UploadResponse{
		DocumentID: d.ID,
		SessionID:  sessionID,
		Record:     d.Record,
		RawText:    d.RawText,
		Duplicate:  true,
	}
}

func contentType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}

var _ llm.Completer = (*gcp.VertexClient)(nil)
var _ llm.ToolCaller = (*gcp.VertexClient)(nil)
var _ ObjectStore = (*gcp.GCSObjectStore)(nil)
var _ session.Backend = (*gcp.FirestoreBackend)(nil)
