// ABOUTME: Text extraction for uploaded files
// ABOUTME: Passes plain text through, reads PDFs with ledongthuc/pdf, rejects other binaries

package uploads

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".tsv":  true,
	".json": true,
	".log":  true,
}

// Extractor turns uploaded bytes into text for the model.
type Extractor struct {
	maxBytes int
}

// NewExtractor caps extracted text at maxBytes. maxBytes <= 0 means no cap.
func NewExtractor(maxBytes int) *Extractor {
	return &Extractor{maxBytes: maxBytes}
}

// Extract returns the text of a file and whether its type is supported.
func (e *Extractor) Extract(name string, data []byte) (string, bool) {
	ext := strings.ToLower(path.Ext(name))

	switch {
	case ext == ".pdf" || bytes.HasPrefix(data, []byte("%PDF-")):
		text, err := pdfText(data)
		if err != nil {
			return "", false
		}
		return e.limit(text), true
	case textExtensions[ext], isText(data):
		return e.limit(string(data)), true
	default:
		return "", false
	}
}

func (e *Extractor) limit(s string) string {
	if e.maxBytes <= 0 || len(s) <= e.maxBytes {
		return s
	}
	cut := e.maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isText(data []byte) bool {
	return utf8.Valid(data) && bytes.IndexByte(data, 0) < 0
}

// pdfText returns the plain text of a PDF. The reader panics on some
// malformed files, so panics are returned as errors.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("reading pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
