package textextract

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalPDF builds a one-page PDF whose content stream is content.
func minimalPDF(content string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}

func TestExtractPDF(t *testing.T) {
	content := "BT /F1 12 Tf 72 712 Td (Acme Legal LLP) Tj 0 -14 Td (Invoice #4521) Tj 0 -14 Td [(Total ) -50 (Due: $1,250.00)] TJ ET"
	res, err := NewLocal().Extract(context.Background(), minimalPDF(content), "invoice.PDF")
	require.NoError(t, err)

	assert.Equal(t, "Acme Legal LLP\nInvoice #4521\nTotal Due: $1,250.00", res.Text)
	assert.Equal(t, 1, res.Metadata["pages"])
}

func TestExtractCorruptPDF(t *testing.T) {
	_, err := NewLocal().Extract(context.Background(), []byte("not a pdf at all"), "broken.pdf")
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestExtractPlainText(t *testing.T) {
	for _, name := range []string{"notes.txt", "data.csv", "README.md", "x.json", "script.py"} {
		res, err := NewLocal().Extract(context.Background(), []byte("Vendor: Acme\nTotal: $10"), name)
		require.NoError(t, err, name)
		assert.Equal(t, "Vendor: Acme\nTotal: $10", res.Text)
	}

	res, err := NewLocal().Extract(context.Background(), []byte{'o', 'k', 0xff}, "bad.txt")
	require.NoError(t, err)
	assert.Equal(t, "ok�", res.Text)
}

func TestExtractUnsupported(t *testing.T) {
	_, err := NewLocal().Extract(context.Background(), []byte("PK"), "invoice.docx")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestShowText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"escapes", `BT (Line \(one\)\nnext) Tj ET`, "Line (one)\nnext"},
		{"octal", `BT (caf\351) Tj ET`, "café"},
		{"hex", `BT <48656C6C6F> Tj ET`, "Hello"},
		{"kerning", `BT [(Hello) -300 (World) 20 (!)] TJ ET`, "Hello World!"},
		{"quote operators", `BT (first) Tj (second) ' 1 2 (third) " ET`, "first\nsecond\nthird"},
		{"ignores non text", `q 1 0 0 1 0 0 cm /Im1 Do Q % comment (hidden) Tj`, ""},
		{"dictionaries", `/P << /MCID 0 >> BDC BT (x) Tj ET EMC`, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShowText([]byte(tt.content)))
		})
	}
}
