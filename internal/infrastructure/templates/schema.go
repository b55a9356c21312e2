package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// BuildJSONSchema returns the JSON schema of a completion payload for tmpl as a generic map.
// The same map is sent to completion backends that support structured output.
func BuildJSONSchema(tmpl domain.Template) map[string]any {
	rowProps, rowRequired := objectProperties(tmpl.RowFields)
	docProps, docRequired := objectProperties(tmpl.DocumentFields)

	rowSchema := map[string]any{"type": "object", "properties": rowProps}
	if len(rowRequired) > 0 {
		rowSchema["required"] = rowRequired
	}
	fieldsSchema := map[string]any{"type": "object", "properties": docProps}
	if len(docRequired) > 0 {
		fieldsSchema["required"] = docRequired
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rows":   map[string]any{"type": "array", "items": rowSchema},
			"fields": fieldsSchema,
		},
		"required": []string{"rows"},
	}
}

func objectProperties(fields []domain.FieldSpec) (map[string]any, []string) {
	props := make(map[string]any, len(fields))
	required := make([]string, 0)
	for _, field := range fields {
		props[field.Name] = fieldSchema(field)
		if field.Required {
			required = append(required, field.Name)
		}
	}
	return props, required
}

func fieldSchema(field domain.FieldSpec) map[string]any {
	var prop map[string]any
	switch fieldType(field) {
	case "date":
		prop = map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`}
	default:
		prop = map[string]any{"type": fieldType(field)}
	}
	if len(field.Enum) > 0 {
		prop["enum"] = field.Enum
	}
	if !field.Required {
		// optional values may come back as null
		prop["type"] = []any{prop["type"], "null"}
		if enum, ok := prop["enum"].([]string); ok {
			withNull := make([]any, 0, len(enum)+1)
			for _, v := range enum {
				withNull = append(withNull, v)
			}
			prop["enum"] = append(withNull, nil)
		}
	}
	if field.Description != "" {
		prop["description"] = field.Description
	}
	return prop
}

// Validator checks completion payloads against their template schema.
// Compiled schemas are cached per template name.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

func (v *Validator) Validate(tmpl domain.Template, payload domain.ExtractedPayload) error {
	schema, err := v.schemaFor(tmpl)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.NewCompletionError(domain.CompletionMalformed, fmt.Errorf("marshal payload: %w", err))
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.NewCompletionError(domain.CompletionMalformed, fmt.Errorf("unmarshal payload: %w", err))
	}
	if err := schema.Validate(doc); err != nil {
		return domain.NewCompletionError(domain.CompletionMalformed, fmt.Errorf("payload does not match template %q: %w", tmpl.Name, err))
	}
	return nil
}

func (v *Validator) schemaFor(tmpl domain.Template) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if schema, ok := v.compiled[tmpl.Name]; ok {
		return schema, nil
	}

	raw, err := json.Marshal(BuildJSONSchema(tmpl))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := "template_" + tmpl.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if tmpl.Name != "" {
		v.compiled[tmpl.Name] = schema
	}
	return schema, nil
}
