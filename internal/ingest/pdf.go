package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a PDF has no extractable text layer. Scanned
// documents need OCR before they can be imported.
var ErrNoText = errors.New("pdf has no text layer")

const maxPDFSize = 10 << 20 // 10MB

// ExtractPDFText reads the text layer of the PDF at path.
func ExtractPDFText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading pdf: %w", err)
	}
	return ExtractPDFBytes(data)
}

// ExtractPDFBytes reads the text layer of an in-memory PDF.
func ExtractPDFBytes(data []byte) (text string, err error) {
	if len(data) > maxPDFSize {
		return "", fmt.Errorf("pdf is %d bytes, limit is %d", len(data), maxPDFSize)
	}
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parsing pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	text = strings.TrimSpace(string(b))
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}
