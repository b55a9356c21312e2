package pdftext

import (
	"context"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestParseRejectsEmptyInput(t *testing.T) {
	_, err := NewParser(nil).Parse(context.Background(), []byte("  \n"))
	if !domain.IsKind(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestParseRejectsNonPDF(t *testing.T) {
	_, err := NewParser(nil).Parse(context.Background(), []byte("this is a plain text file, not a pdf"))
	if !domain.IsKind(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestParseRejectsTruncatedPDF(t *testing.T) {
	_, err := NewParser(nil).Parse(context.Background(), []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog"))
	if !domain.IsKind(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestNormalizeText(t *testing.T) {
	got := normalizeText("  Invoice   No 42 \r\n\r\n\tTotal:  10.00  \n")
	if got != "Invoice No 42\nTotal: 10.00" {
		t.Fatalf("normalizeText() = %q", got)
	}
}

func TestNormalizeRotation(t *testing.T) {
	cases := map[int]int{0: 0, 90: 90, 450: 90, -90: 270, 360: 0}
	for in, want := range cases {
		if got := normalizeRotation(in); got != want {
			t.Fatalf("normalizeRotation(%d) = %d, want %d", in, got, want)
		}
	}
}
