package merging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// Merger recombines the chunk results of one file. It never mutates its input.
type Merger struct {
	logger *slog.Logger
}

func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{logger: logger}
}

func (m *Merger) Merge(index int, filename string, results []domain.ChunkResult) domain.FileResult {
	out := domain.FileResult{Index: index, Filename: filename}
	if len(results) == 0 {
		out.Status = domain.FileFailed
		out.Error = "no chunks were dispatched"
		return out
	}

	ordered := make([]domain.ChunkResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Plan.StartPage != ordered[j].Plan.StartPage {
			return ordered[i].Plan.StartPage < ordered[j].Plan.StartPage
		}
		return ordered[i].Plan.Index < ordered[j].Plan.Index
	})
	out.Strategy = ordered[0].Plan.Strategy

	payload := &domain.ExtractedPayload{Rows: []domain.Row{}, Fields: map[string]any{}}
	rowKeys := make([][]string, len(ordered))
	failed := 0

	for i, result := range ordered {
		out.Chunks = append(out.Chunks, provenance(result))
		out.EstimatedTokens += result.Plan.EstimatedTokens.TotalTokens
		out.ActualTokens += result.ActualTokens

		if !result.Succeeded() {
			failed++
			out.ErrorSpans = append(out.ErrorSpans, errorSpan(result))
			continue
		}

		keys := make([]string, len(result.Payload.Rows))
		for k, row := range result.Payload.Rows {
			keys[k] = rowKey(row)
		}
		rowKeys[i] = keys

		skip := 0
		if prev := previousOverlap(ordered, rowKeys, i); prev >= 0 {
			skip = seamLength(rowKeys[prev], keys)
		}
		payload.Rows = append(payload.Rows, result.Payload.Rows[skip:]...)
		m.mergeFields(filename, payload.Fields, result)
	}

	switch {
	case failed == 0:
		out.Status = domain.FileSuccess
	case failed == len(ordered):
		out.Status = domain.FileFailed
		out.Error = fmt.Sprintf("all %d chunks failed", failed)
		return out
	default:
		out.Status = domain.FilePartial
		out.Error = fmt.Sprintf("%d of %d chunks failed", failed, len(ordered))
	}
	out.Payload = payload
	return out
}

// previousOverlap returns the nearest earlier successful chunk sharing pages with chunk i, or -1.
func previousOverlap(ordered []domain.ChunkResult, rowKeys [][]string, i int) int {
	for j := i - 1; j >= 0; j-- {
		if rowKeys[j] != nil && ordered[j].Plan.Overlaps(ordered[i].Plan) {
			return j
		}
	}
	return -1
}

// seamLength is the longest run of rows ending prev that also starts cur:
// the rows both chunks read from their shared pages.
func seamLength(prev, cur []string) int {
	for n := min(len(prev), len(cur)); n > 0; n-- {
		if slices.Equal(prev[len(prev)-n:], cur[:n]) {
			return n
		}
	}
	return 0
}

func (m *Merger) mergeFields(filename string, fields map[string]any, result domain.ChunkResult) {
	keys := make([]string, 0, len(result.Payload.Fields))
	for key := range result.Payload.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := result.Payload.Fields[key]
		existing, ok := fields[key]
		if !ok {
			fields[key] = value
			continue
		}
		if canonical(existing) != canonical(value) {
			m.logger.Warn(
				"merge_conflict",
				"filename", filename,
				"field", key,
				"start_page", result.Plan.StartPage,
				"end_page", result.Plan.EndPage,
				"error", domain.ErrMergeConflict.Error(),
			)
		}
	}
}

func provenance(result domain.ChunkResult) domain.ChunkProvenance {
	return domain.ChunkProvenance{
		StartPage:       result.Plan.StartPage,
		EndPage:         result.Plan.EndPage,
		Strategy:        result.Plan.Strategy,
		Succeeded:       result.Succeeded(),
		EstimatedTokens: result.Plan.EstimatedTokens.TotalTokens,
		ActualTokens:    result.ActualTokens,
		Oversized:       result.Plan.Oversized,
	}
}

func errorSpan(result domain.ChunkResult) domain.ErrorSpan {
	span := domain.ErrorSpan{
		StartPage: result.Plan.StartPage,
		EndPage:   result.Plan.EndPage,
		Kind:      domain.FailureOther,
		Reason:    "chunk produced no payload",
	}
	if result.Failure != nil {
		span.Kind = result.Failure.Kind
		span.Reason = result.Failure.Reason
	}
	return span
}

// rowKey is the canonical JSON of a row; encoding/json sorts map keys.
func rowKey(row domain.Row) string {
	return canonical(map[string]any(row))
}

func canonical(value any) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return fmt.Sprintf("%#v", value)
	}
	return buf.String()
}
