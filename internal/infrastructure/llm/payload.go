package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
)

type wirePayload struct {
	Rows   *[]map[string]any `json:"rows"`
	Fields map[string]any    `json:"fields"`
}

// ParsePayload decodes a completion response into rows and fields.
// A bare JSON array is accepted as the rows list.
func ParsePayload(raw string) (domain.ExtractedPayload, error) {
	body := extractJSON(raw)
	if body == "" {
		return domain.ExtractedPayload{}, domain.NewCompletionError(domain.CompletionMalformed, errors.New("response contains no JSON"))
	}

	if strings.HasPrefix(body, "[") {
		var rows []map[string]any
		if err := json.Unmarshal([]byte(body), &rows); err != nil {
			return domain.ExtractedPayload{}, domain.NewCompletionError(domain.CompletionMalformed, fmt.Errorf("decode rows array: %w", err))
		}
		return domain.ExtractedPayload{Rows: toRows(rows)}, nil
	}

	var wire wirePayload
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return domain.ExtractedPayload{}, domain.NewCompletionError(domain.CompletionMalformed, fmt.Errorf("decode payload: %w", err))
	}
	if wire.Rows == nil {
		return domain.ExtractedPayload{}, domain.NewCompletionError(domain.CompletionMalformed, errors.New(`payload has no "rows" array`))
	}
	return domain.ExtractedPayload{Rows: toRows(*wire.Rows), Fields: wire.Fields}, nil
}

func toRows(in []map[string]any) []domain.Row {
	rows := make([]domain.Row, 0, len(in))
	for _, row := range in {
		if row == nil {
			continue
		}
		rows = append(rows, domain.Row(row))
	}
	return rows
}

// extractJSON strips markdown fences and surrounding prose.
func extractJSON(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	objStart, objEnd := strings.Index(text, "{"), strings.LastIndex(text, "}")
	arrStart, arrEnd := strings.Index(text, "["), strings.LastIndex(text, "]")

	switch {
	case arrStart >= 0 && arrEnd > arrStart && (objStart < 0 || arrStart < objStart):
		return text[arrStart : arrEnd+1]
	case objStart >= 0 && objEnd > objStart:
		return text[objStart : objEnd+1]
	default:
		return ""
	}
}
