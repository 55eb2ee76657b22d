package analyzer

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// onePagePDF renders lines of Helvetica text on a single page with a valid
// cross-reference table.
func onePagePDF(lines ...string) []byte {
	var content strings.Builder
	content.WriteString("BT\n/F1 12 Tf\n72 720 Td\n")
	for i, l := range lines {
		if i > 0 {
			content.WriteString("0 -16 Td\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", l)
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
	}

	var b bytes.Buffer
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
	return b.Bytes()
}

func TestPDFText(t *testing.T) {
	text, cut, err := pdfText(onePagePDF("PT Maju Jaya", "Total aset 1500000"), 0)
	require.NoError(t, err)
	assert.False(t, cut)
	assert.Contains(t, text, "PT Maju Jaya")
	assert.Contains(t, text, "Total aset 1500000")
}

func TestPDFTextCut(t *testing.T) {
	text, cut, err := pdfText(onePagePDF("abcdefghij"), 4)
	require.NoError(t, err)
	assert.True(t, cut)
	assert.Equal(t, "abcd", text)
}

func TestPDFTextUnreadable(t *testing.T) {
	for name, data := range map[string][]byte{
		"not a pdf":     []byte("hello, world"),
		"no text layer": onePagePDF(),
		"truncated":     onePagePDF("PT Maju")[:40],
	} {
		_, _, err := pdfText(data, 0)
		assert.ErrorIs(t, err, ErrUnreadableDocument, name)
	}
}

func TestNewDocumentContentType(t *testing.T) {
	pdfBytes := onePagePDF("x")
	tests := []struct {
		name     string
		recorded string
		stored   string
		data     []byte
		want     string
	}{
		{"recorded wins", "image/png", "application/octet-stream", pngHeader, "image/png"},
		{"stored when recorded is generic", "application/octet-stream", "application/pdf", pdfBytes, "application/pdf"},
		{"sniffed when both are generic", "", "binary/octet-stream", pdfBytes, "application/pdf"},
		{"parameters dropped", "application/pdf; charset=binary", "", pdfBytes, "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument("f", tt.recorded, tt.stored, tt.data)
			assert.Equal(t, tt.want, doc.ContentType)
		})
	}
}

func TestDocumentDataURL(t *testing.T) {
	doc := Document{ContentType: "image/png", Data: []byte("png")}
	assert.True(t, doc.IsImage())
	assert.Equal(t, "data:image/png;base64,cG5n", doc.DataURL())
}
