package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoicesession/internal/metrics"
	"github.com/Lllllllleong/invoicesession/internal/models"
	"github.com/Lllllllleong/invoicesession/internal/services"
	"github.com/Lllllllleong/invoicesession/internal/session"
)

// TestMain installs an in-memory service in place of the cloud-backed one.
func TestMain(m *testing.M) {
	reg := metrics.New()
	store := session.NewStore(session.Config{TTL: time.Hour, ReapInterval: -1}, session.MemoryBackend{}, session.WithMetrics(reg))
	once.Do(func() {
		invoiceService = services.NewInvoiceService(services.Dependencies{
			Store:   store,
			Objects: services.NewMemoryObjectStore(),
			Metrics: reg,
		})
	})
	m.Run()
	store.Close()
}

func call(t *testing.T, h http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", session.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", session.ErrExpired), http.StatusGone},
		{fmt.Errorf("x: %w", services.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", services.ErrStorage), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	rec := call(t, handleCreateSession, http.MethodPost, "/", models.CreateSessionRequest{
		Invoices: []models.SeedDocument{
			{Filename: "a.pdf", Record: models.StructuredRecord{VendorName: models.Str("Acme"), TotalAmount: models.Float(100)}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var created models.CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.Equal(t, 1, created.InvoiceCount)

	rec = call(t, handleSessionStatus, http.MethodGet, "/?session_id="+created.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.DocCount)

	rec = call(t, handleProcessDocument, http.MethodPost, "/", models.ProcessDocumentRequest{
		FileData:  base64.StdEncoding.EncodeToString([]byte("Invoice INV-42\nBeta Consulting\nTotal: $250.50")),
		FileName:  "beta.txt",
		SessionID: created.SessionID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var processed models.ProcessDocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &processed))
	amount, ok := processed.Record.Amount()
	require.True(t, ok)
	assert.InDelta(t, 250.5, amount, 1e-9)
	assert.Equal(t, "INV-42", processed.Record.Invoice())

	rec = call(t, handleChat, http.MethodPost, "/", models.ChatRequest{SessionID: created.SessionID, Message: "What is the total amount?"})
	require.Equal(t, http.StatusOK, rec.Code)
	var chat models.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Contains(t, chat.Response, "$350.50")

	rec = call(t, handleDeleteSession, http.MethodDelete, "/?session_id="+created.SessionID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, handleDeleteSession, http.MethodDelete, "/?session_id="+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = call(t, handleSessionStatus, http.MethodGet, "/?session_id="+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlersRejectBadInput(t *testing.T) {
	rec := call(t, handleSessionStatus, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, handleProcessDocument, http.MethodPost, "/", models.ProcessDocumentRequest{FileData: "%%%", FileName: "a.txt"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, handleChat, http.MethodPost, "/", models.ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	handleUpdateDocument(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
}

func TestMetricsEndpoint(t *testing.T) {
	call(t, handleCreateSession, http.MethodPost, "/", models.CreateSessionRequest{})
	rec := call(t, handleMetrics, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "invoice_sessions_active")
}
