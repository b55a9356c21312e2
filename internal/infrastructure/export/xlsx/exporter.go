package xlsx

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const (
	sheetRows    = "Rows"
	sheetFields  = "Fields"
	sheetErrors  = "Errors"
	sheetSummary = "Summary"
)

// Exporter renders merged session results as an XLSX workbook.
type Exporter struct {
	logger *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

func (e *Exporter) Export(w io.Writer, session *domain.ExtractionSession) error {
	if session == nil {
		return domain.WrapError(domain.ErrInvalidInput, "export xlsx", fmt.Errorf("nil session"))
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	for _, sheet := range []string{sheetRows, sheetFields, sheetErrors, sheetSummary} {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("new sheet %s: %w", sheet, err)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	rowsIndex, _ := f.GetSheetIndex(sheetRows)
	f.SetActiveSheet(rowsIndex)

	if err := writeRows(f, session.Results); err != nil {
		return err
	}
	if err := writeFields(f, session.Results); err != nil {
		return err
	}
	if err := writeErrors(f, session.Results); err != nil {
		return err
	}
	if err := writeSummary(f, session.Results); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	e.logger.Debug("session_exported", "session_id", session.ID, "files", len(session.Results))
	return nil
}

func writeRows(f *excelize.File, results []domain.FileResult) error {
	columns := rowColumns(results)
	header := make([]any, 0, len(columns)+1)
	header = append(header, "file")
	for _, col := range columns {
		header = append(header, col)
	}
	if err := setRow(f, sheetRows, 1, header); err != nil {
		return err
	}

	line := 2
	for _, result := range results {
		if result.Payload == nil {
			continue
		}
		for _, row := range result.Payload.Rows {
			values := make([]any, 0, len(columns)+1)
			values = append(values, result.Filename)
			for _, col := range columns {
				values = append(values, cellValue(row[col]))
			}
			if err := setRow(f, sheetRows, line, values); err != nil {
				return err
			}
			line++
		}
	}
	_ = f.SetColWidth(sheetRows, "A", "A", 28)
	return nil
}

func writeFields(f *excelize.File, results []domain.FileResult) error {
	if err := setRow(f, sheetFields, 1, []any{"file", "field", "value"}); err != nil {
		return err
	}
	line := 2
	for _, result := range results {
		if result.Payload == nil {
			continue
		}
		names := make([]string, 0, len(result.Payload.Fields))
		for name := range result.Payload.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := setRow(f, sheetFields, line, []any{result.Filename, name, cellValue(result.Payload.Fields[name])}); err != nil {
				return err
			}
			line++
		}
	}
	return nil
}

func writeErrors(f *excelize.File, results []domain.FileResult) error {
	if err := setRow(f, sheetErrors, 1, []any{"file", "start_page", "end_page", "kind", "reason"}); err != nil {
		return err
	}
	line := 2
	for _, result := range results {
		if len(result.ErrorSpans) == 0 && result.Status == domain.FileFailed {
			if err := setRow(f, sheetErrors, line, []any{result.Filename, "", "", string(domain.FailureParse), result.Error}); err != nil {
				return err
			}
			line++
			continue
		}
		for _, span := range result.ErrorSpans {
			if err := setRow(f, sheetErrors, line, []any{result.Filename, span.StartPage, span.EndPage, string(span.Kind), span.Reason}); err != nil {
				return err
			}
			line++
		}
	}
	_ = f.SetColWidth(sheetErrors, "E", "E", 60)
	return nil
}

func writeSummary(f *excelize.File, results []domain.FileResult) error {
	header := []any{"file", "status", "strategy", "chunks", "estimated_tokens", "actual_tokens", "error"}
	if err := setRow(f, sheetSummary, 1, header); err != nil {
		return err
	}
	for i, result := range results {
		values := []any{
			result.Filename,
			string(result.Status),
			string(result.Strategy),
			len(result.Chunks),
			result.EstimatedTokens,
			result.ActualTokens,
			result.Error,
		}
		if err := setRow(f, sheetSummary, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

// rowColumns is the union of row keys in first-seen order.
func rowColumns(results []domain.FileResult) []string {
	seen := make(map[string]struct{})
	columns := make([]string, 0)
	for _, result := range results {
		if result.Payload == nil {
			continue
		}
		for _, row := range result.Payload.Rows {
			keys := make([]string, 0, len(row))
			for key := range row {
				if _, ok := seen[key]; !ok {
					keys = append(keys, key)
				}
			}
			sort.Strings(keys)
			for _, key := range keys {
				seen[key] = struct{}{}
				columns = append(columns, key)
			}
		}
	}
	return columns
}

func cellValue(v any) any {
	switch typed := v.(type) {
	case nil:
		return ""
	case string, bool, float64, float32, int, int64:
		return typed
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func setRow(f *excelize.File, sheet string, line int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("set %s row %d: %w", sheet, line, err)
	}
	return nil
}
