package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/templates"
)

// SystemPrompt describes the extraction task and the payload contract for tmpl.
func SystemPrompt(tmpl domain.Template) string {
	var b strings.Builder
	b.WriteString("You are a document data extractor. Return ONLY a JSON object that matches the JSON Schema below.\n")
	b.WriteString(`The object has "rows" (array, one object per extracted record) and "fields" (object with document-level values).` + "\n")
	b.WriteString("Never invent values. Use null for values that are not present. Dates are YYYY-MM-DD. Numbers are plain JSON numbers.\n")
	if strings.TrimSpace(tmpl.Instructions) != "" {
		b.WriteString("\nTask: ")
		b.WriteString(strings.TrimSpace(tmpl.Instructions))
		b.WriteString("\n")
	}
	writeFields(&b, "Row fields", tmpl.RowFields)
	writeFields(&b, "Document fields", tmpl.DocumentFields)

	b.WriteString("\nJSON Schema:\n")
	b.WriteString(mustJSON(templates.BuildJSONSchema(tmpl)))
	return b.String()
}

func writeFields(b *strings.Builder, title string, fields []domain.FieldSpec) {
	if len(fields) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(title)
	b.WriteString(":\n")
	for _, field := range fields {
		line := fmt.Sprintf("- %s (%s", field.Name, fieldTypeLabel(field))
		if field.Required {
			line += ", required"
		}
		line += ")"
		if field.Description != "" {
			line += ": " + field.Description
		}
		if len(field.Enum) > 0 {
			line += " one of [" + strings.Join(field.Enum, ", ") + "]"
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
}

func fieldTypeLabel(field domain.FieldSpec) string {
	if strings.TrimSpace(field.Type) == "" {
		return "string"
	}
	return strings.ToLower(field.Type)
}

// UserPrompt packs page texts with explicit page markers so rows keep page order.
func UserPrompt(pages []domain.Page) string {
	var b strings.Builder
	if len(pages) > 0 {
		fmt.Fprintf(&b, "Pages %d-%d of the document follow.\n", pages[0].Number, pages[len(pages)-1].Number)
	}
	for _, page := range pages {
		fmt.Fprintf(&b, "\n--- page %d ---\n", page.Number)
		b.WriteString(strings.TrimSpace(page.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// BuildPrompt is the single-message form used by backends without a system role.
func BuildPrompt(tmpl domain.Template, pages []domain.Page) string {
	return SystemPrompt(tmpl) + "\n\n" + UserPrompt(pages)
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
