// Package textextract turns uploaded document bytes into plain text.
package textextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrUnsupportedType is returned for file extensions without a handler.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrUnreadable is returned for documents that cannot be parsed.
	ErrUnreadable = errors.New("document could not be read")
)

var plainTextExtensions = map[string]struct{}{
	".txt":  {},
	".py":   {},
	".json": {},
	".md":   {},
	".csv":  {},
}

// SupportedExtensions lists every accepted extension.
func SupportedExtensions() []string {
	return []string{".pdf", ".txt", ".py", ".json", ".md", ".csv"}
}

// Result is the extracted text plus metadata about the source document.
type Result struct {
	Text     string
	Metadata map[string]any
}

// Extractor converts document bytes to text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (*Result, error)
}

// Local extracts text in-process: PDFs through pdfcpu, text formats directly.
type Local struct {
	conf   *model.Configuration
	logger *slog.Logger
}

// NewLocal creates a Local extractor with relaxed PDF validation.
func NewLocal() *Local {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Local{conf: conf, logger: slog.Default()}
}

// Extract implements Extractor.
func (l *Local) Extract(ctx context.Context, data []byte, filename string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	logCtx := l.logger.With("filename", filename, "bytes", len(data))

	if ext == ".pdf" {
		res, err := l.extractPDF(ctx, data)
		if err != nil {
			logCtx.Warn("PDF text extraction failed", "error", err)
			return nil, err
		}
		logCtx.Info("Extracted PDF text", "pages", res.Metadata["pages"], "chars", len(res.Text))
		return res, nil
	}
	if _, ok := plainTextExtensions[ext]; ok {
		text := string(data)
		if !utf8.ValidString(text) {
			text = strings.ToValidUTF8(text, "�")
		}
		return &Result{Text: text, Metadata: map[string]any{"file_type": ext, "char_count": len(text)}}, nil
	}
	return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedType, ext, strings.Join(SupportedExtensions(), ", "))
}

func (l *Local) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	pdfCtx, err := api.ReadContext(bytes.NewReader(data), l.conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var b strings.Builder
	for page := 1; page <= pdfCtx.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := pdfcpu.ExtractPageContent(pdfCtx, page)
		if err != nil {
			l.logger.Warn("Skipping unreadable page content", "page", page, "error", err)
			continue
		}
		if r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read content of page %d: %w", page, err)
		}
		if text := strings.TrimSpace(ShowText(content)); text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	}

	text := strings.TrimSpace(b.String())
	return &Result{
		Text: text,
		Metadata: map[string]any{
			"file_type":  ".pdf",
			"pages":      pdfCtx.PageCount,
			"char_count": len(text),
		},
	}, nil
}
