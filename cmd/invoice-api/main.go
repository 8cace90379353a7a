package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/joho/godotenv"

	"github.com/Lllllllleong/invoicesession/internal/config"
	"github.com/Lllllllleong/invoicesession/internal/gcp"
	"github.com/Lllllllleong/invoicesession/internal/metrics"
	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/services"
	"github.com/Lllllllleong/invoicesession/internal/session"
)

var (
	invoiceService *services.InvoiceService
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("CreateSession", handleCreateSession)
	functions.HTTP("SessionStatus", handleSessionStatus)
	functions.HTTP("DeleteSession", handleDeleteSession)
	functions.HTTP("ProcessDocument", handleProcessDocument)
	functions.HTTP("UpdateDocument", handleUpdateDocument)
	functions.HTTP("Chat", handleChat)
	functions.HTTP("SessionStats", handleSessionStats)
	functions.HTTP("Metrics", handleMetrics)
	functions.CloudEvent("IngestUploadedDocument", ingestUploadedDocument)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not load .env file", "error", err)
	}
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("Functions framework stopped", "error", err)
		os.Exit(1)
	}
}

func service() (*services.InvoiceService, error) {
	once.Do(func() {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			initErr = err
			return
		}
		invoiceService, initErr = services.New(context.Background(), cfg, metrics.New())
	})
	return invoiceService, initErr
}

// withService resolves the shared service or answers 500.
func withService(w http.ResponseWriter) *services.InvoiceService {
	svc, err := service()
	if err != nil {
		slog.Error("Critical: invoice service initialization failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "failed to initialize service"})
		return nil
	}
	return svc
}

func handleCreateSession(w http.ResponseWriter, r *http.Request) {
	svc := withService(w)
	if svc == nil {
		return
	}
	var req models.CreateSessionRequest
	if r.ContentLength != 0 {
		if !decode(w, r, &req) {
			return
		}
	}
	id, err := svc.CreateSession(r.Context(), req.Invoices)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CreateSessionResponse{Success: true, SessionID: id, InvoiceCount: len(req.Invoices)})
}

func handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	svc := withService(w)
	if svc == nil {
		return
	}
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	status, err := svc.GetSessionStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	svc := withService(w)
	if svc == nil {
		return
	}
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	removed, err := svc.DeleteSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeError(w, fmt.Errorf("%w: %s", session.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session_id": id})
}

func handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	svc := withService(w)
	if svc == nil {
		return
	}
	var req models.ProcessDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.FileData)
	if err != nil {
		writeError(w, fmt.Errorf("%w: file_data is not valid base64", services.ErrInvalidInput))
		return
	}
	res, err := svc.UploadDocument(r.Context(), services.UploadRequest{
		SessionID: req.SessionID,
		Filename:  req.FileName,
		Data:      data,
		DocType:   req.DocumentType,
		Validate:  req.Validate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ProcessDocumentResponse{
		Success:    true,
		DocumentID: res.DocumentID,
		SessionID:  res.SessionID,
		Record:     res.Record,
		RawText:    res.RawText,
		Duplicate:  res.Duplicate,
		Validation: res.Validation,
	})
}

func handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	svc := withService(w)
	if svc == nil {
		return
	}
	var req models.UpdateDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	if err := svc.UpdateDocument(r.Context(), req.SessionID, req.DocumentID, req.Record); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "document_id": req.DocumentID})
}

func handleChat(w http.ResponseWriter, r *http.Request) {
	svc := withService(w)
	if svc == nil {
		return
	}
	var req models.ChatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, fmt.Errorf("%w: session_id is required", services.ErrInvalidInput))
		return
	}
	ans, err := svc.Ask(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ChatResponse{
		Success:   true,
		Response:  ans.Text,
		Sources:   ans.Sources,
		SessionID: req.SessionID,
	})
}

func handleSessionStats(w http.ResponseWriter, r *http.Request) {
	svc := withService(w)
	if svc == nil {
		return
	}
	writeJSON(w, http.StatusOK, svc.Stats())
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	svc := withService(w)
	if svc == nil {
		return
	}
	svc.Metrics().Handler().ServeHTTP(w, r)
}

// ingestUploadedDocument processes objects finalized under sessions/<sid>/uploads/.
// Other objects in the bucket, including the service's own writes, are ignored.
func ingestUploadedDocument(ctx context.Context, e cloudevents.Event) error {
	svc, err := service()
	if err != nil {
		slog.Error("Critical error during function initialization", "error", err)
		return err
	}

	var obj models.StorageObjectEvent
	if err := json.Unmarshal(e.Data(), &obj); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	logCtx := slog.With("gcsBucket", obj.Bucket, "gcsObject", obj.Name, "eventId", e.ID())
	if _, _, ok := services.ParseUploadKey(obj.Name); !ok {
		logCtx.Debug("Ignoring object outside the upload prefix")
		return nil
	}

	res, err := svc.IngestUpload(ctx, obj.Name)
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired), errors.Is(err, services.ErrInvalidInput):
		// Retrying cannot succeed.
		logCtx.Warn("Dropping uploaded document", "error", err)
		return nil
	case err != nil:
		logCtx.Error("Failed to ingest uploaded document", "error", err)
		return err
	}
	logCtx.Info("Ingested uploaded document", "sessionId", res.SessionID, "documentId", res.DocumentID, "duplicate", res.Duplicate)
	return nil
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		writeError(w, fmt.Errorf("%w: session_id query parameter is required", services.ErrInvalidInput))
		return "", false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "could not parse JSON"})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrExpired):
		return http.StatusGone
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		msg = "processing failed"
	}
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
