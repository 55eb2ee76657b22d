package analyzer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/b4its/next-kepin/internal/models"
)

// DefaultMaxDocumentChars caps the extracted PDF text sent to the model.
const DefaultMaxDocumentChars = 60000

// ErrUnreadableDocument means the stored file has nothing the model can read,
// such as a scanned PDF without a text layer.
var ErrUnreadableDocument = errors.New("document has no readable content")

// Document is the stored file the model is asked to read.
type Document struct {
	FileName    string
	ContentType string
	Data        []byte
}

// NewDocument builds a Document, falling back to the object's own content
// type and then to sniffing when the recorded type is not specific.
func NewDocument(fileName, recorded, stored string, data []byte) Document {
	ct := recorded
	for _, candidate := range []string{recorded, stored, http.DetectContentType(data)} {
		if isPDF(candidate) || models.IsImage(candidate) {
			ct = candidate
			break
		}
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return Document{FileName: fileName, ContentType: ct, Data: data}
}

func (d Document) IsImage() bool { return models.IsImage(d.ContentType) }

// DataURL inlines the document as a base64 data URL.
func (d Document) DataURL() string {
	return "data:" + d.ContentType + ";base64," + base64.StdEncoding.EncodeToString(d.Data)
}

func isPDF(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "application/pdf")
}

// pdfText returns the text layer of a PDF cut to maxChars runes, and whether
// it was cut.
func pdfText(data []byte, maxChars int) (text string, cut bool, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text, cut, err = "", false, fmt.Errorf("%w: %v", ErrUnreadableDocument, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}

	text = strings.TrimSpace(string(b))
	if text == "" {
		return "", false, fmt.Errorf("%w: pdf has no text layer, upload it as an image", ErrUnreadableDocument)
	}
	if runes := []rune(text); maxChars > 0 && len(runes) > maxChars {
		return string(runes[:maxChars]), true, nil
	}
	return text, false, nil
}
