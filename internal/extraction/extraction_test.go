package extraction_test

import (
	"testing"

	"docflow/internal/extraction"
	"docflow/internal/services"
)

func TestExtractPlainText(t *testing.T) {
	e := extraction.New()

	text, err := e.Extract([]byte("  Invoice #42\nTotal: $500  "), "text/plain")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if text != "Invoice #42\nTotal: $500" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractEmptyIsPermanent(t *testing.T) {
	e := extraction.New()

	_, err := e.Extract(nil, "text/plain")
	if err == nil {
		t.Fatal("expected error for empty document")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("empty document must be a permanent failure, got %v", err)
	}

	_, err = e.Extract([]byte("   \n\t  "), "text/plain")
	if err == nil {
		t.Fatal("expected error for whitespace-only document")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("whitespace-only document must be a permanent failure, got %v", err)
	}
}

func TestExtractInvalidEncodingIsPermanent(t *testing.T) {
	e := extraction.New()

	_, err := e.Extract([]byte{0xff, 0xfe, 0x00, 0x80}, "text/plain")
	if err == nil {
		t.Fatal("expected error for undecodable content")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("undecodable content must be a permanent failure, got %v", err)
	}
}

func TestExtractCorruptPDFIsPermanent(t *testing.T) {
	e := extraction.New()

	_, err := e.Extract([]byte("%PDF-1.7 garbage"), "application/pdf")
	if err == nil {
		t.Fatal("expected error for corrupt pdf")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("corrupt pdf must be a permanent failure, got %v", err)
	}
}

func TestPageCountNonPDF(t *testing.T) {
	count, err := extraction.PageCount([]byte("plain text"), "text/plain")
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero pages for non-pdf, got %d", count)
	}
}
