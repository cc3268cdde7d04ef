// Package extraction turns stored document bytes into plain text. Extraction
// failures are permanent: a document whose bytes cannot be read will not read
// any better on redelivery.
package extraction

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"docflow/internal/services"
)

const component = "extraction"

// pdfMagic is the header every PDF file starts with.
var pdfMagic = []byte("%PDF-")

// Extractor converts raw document bytes into text.
type Extractor struct{}

// New returns a ready Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract produces plain text from document bytes, dispatching on content
// type with a sniff fallback. Empty or undecodable content is a permanent
// failure.
func (e *Extractor) Extract(data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", services.Wrap(services.ErrPermanent, component, "extract", "document is empty", nil)
	}

	var (
		text string
		err  error
	)
	if isPDF(data, contentType) {
		text, err = extractPDF(data)
	} else {
		text, err = extractText(data)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", services.Wrap(services.ErrPermanent, component, "extract", "no text could be extracted", nil)
	}
	return text, nil
}

// PageCount reports the number of pages for PDF documents. Non-PDF content
// returns zero with no error.
func PageCount(data []byte, contentType string) (int, error) {
	if !isPDF(data, contentType) {
		return 0, nil
	}
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, services.Wrap(services.ErrPermanent, component, "page count", "unreadable pdf", err)
	}
	return count, nil
}

func isPDF(data []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "pdf") {
		return true
	}
	return bytes.HasPrefix(data, pdfMagic)
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, component, "parse pdf", "unreadable pdf", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, component, "extract pdf text", "", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", services.Wrap(services.ErrPermanent, component, "read pdf text", "", err)
	}
	return buf.String(), nil
}

func extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", services.Wrap(services.ErrPermanent, component, "decode text", "content is not valid utf-8", nil)
	}
	return string(data), nil
}
