package xlsx

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestExportWritesRowsErrorsAndSummary(t *testing.T) {
	session := &domain.ExtractionSession{
		ID: "s1",
		Results: []domain.FileResult{
			{
				Index:    0,
				Filename: "a.pdf",
				Status:   domain.FilePartial,
				Strategy: domain.StrategyPageSplit,
				Payload: &domain.ExtractedPayload{
					Rows: []domain.Row{
						{"description": "Widget", "amount": 10.5},
						{"description": "Gadget", "amount": 3.0},
					},
					Fields: map[string]any{"invoice_number": "INV-7"},
				},
				ErrorSpans: []domain.ErrorSpan{{StartPage: 6, EndPage: 10, Kind: domain.FailureTimeout, Reason: "deadline"}},
			},
			{Index: 1, Filename: "b.pdf", Status: domain.FileFailed, Error: "unreadable document"},
		},
	}

	var buf bytes.Buffer
	if err := NewExporter(nil).Export(&buf, session); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetRows)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "file" || rows[0][1] != "amount" || rows[0][2] != "description" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "a.pdf" || rows[1][2] != "Widget" {
		t.Fatalf("unexpected data row %v", rows[1])
	}

	errorsRows, _ := f.GetRows(sheetErrors)
	if len(errorsRows) != 3 || errorsRows[1][3] != "timeout" || errorsRows[2][0] != "b.pdf" {
		t.Fatalf("unexpected error rows %v", errorsRows)
	}

	summary, _ := f.GetRows(sheetSummary)
	if len(summary) != 3 || summary[2][1] != "failed" {
		t.Fatalf("unexpected summary %v", summary)
	}

	fields, _ := f.GetRows(sheetFields)
	if len(fields) != 2 || fields[1][2] != "INV-7" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestExportRejectsNilSession(t *testing.T) {
	if err := NewExporter(nil).Export(&bytes.Buffer{}, nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
