package templates

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docextract/internal/core/domain"
)

var supportedTypes = map[string]struct{}{
	"string":  {},
	"number":  {},
	"integer": {},
	"boolean": {},
	"date":    {},
}

type fileFormat struct {
	Templates []domain.Template `yaml:"templates"`
}

// Registry holds extraction templates keyed by name.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]domain.Template
}

func NewRegistry(templates ...domain.Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]domain.Template, len(templates))}
	for _, tmpl := range templates {
		if err := r.Add(tmpl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Load returns the built-in templates, overridden and extended by the YAML file at path
// when path is non-empty.
func Load(path string) (*Registry, error) {
	r, err := NewRegistry(Defaults()...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return r, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}
	parsed, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	for _, tmpl := range parsed {
		if err := r.Add(tmpl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func Parse(raw []byte) ([]domain.Template, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse templates", err)
	}
	return doc.Templates, nil
}

func (r *Registry) Add(tmpl domain.Template) error {
	tmpl.Name = strings.TrimSpace(tmpl.Name)
	if err := validateTemplate(tmpl); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tmpl.Name] = tmpl
	return nil
}

func (r *Registry) Get(name string) (domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[strings.TrimSpace(name)]
	if !ok {
		return domain.Template{}, domain.WrapError(domain.ErrTemplateNotFound, "get template", fmt.Errorf("name=%q", name))
	}
	return tmpl, nil
}

func (r *Registry) List() []domain.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Template, 0, len(r.templates))
	for _, tmpl := range r.templates {
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func validateTemplate(tmpl domain.Template) error {
	if tmpl.Name == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate template", errors.New("template name is required"))
	}
	if len(tmpl.RowFields) == 0 && len(tmpl.DocumentFields) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate template", fmt.Errorf("template %q declares no fields", tmpl.Name))
	}
	for _, group := range [][]domain.FieldSpec{tmpl.RowFields, tmpl.DocumentFields} {
		seen := make(map[string]struct{}, len(group))
		for _, field := range group {
			if strings.TrimSpace(field.Name) == "" {
				return domain.WrapError(domain.ErrInvalidInput, "validate template", fmt.Errorf("template %q has an unnamed field", tmpl.Name))
			}
			if _, dup := seen[field.Name]; dup {
				return domain.WrapError(domain.ErrInvalidInput, "validate template", fmt.Errorf("template %q repeats field %q", tmpl.Name, field.Name))
			}
			seen[field.Name] = struct{}{}
			if _, ok := supportedTypes[fieldType(field)]; !ok {
				return domain.WrapError(domain.ErrInvalidInput, "validate template", fmt.Errorf("field %q has unsupported type %q", field.Name, field.Type))
			}
		}
	}
	return nil
}

func fieldType(field domain.FieldSpec) string {
	t := strings.ToLower(strings.TrimSpace(field.Type))
	if t == "" {
		return "string"
	}
	return t
}

// Defaults are available without a templates file.
func Defaults() []domain.Template {
	return []domain.Template{
		{
			Name:         "invoice",
			Description:  "Invoice header and line items.",
			Instructions: "Extract one row per invoice line item. Amounts are plain decimal numbers without currency symbols.",
			RowFields: []domain.FieldSpec{
				{Name: "description", Type: "string", Required: true},
				{Name: "quantity", Type: "number"},
				{Name: "unit_price", Type: "number"},
				{Name: "amount", Type: "number", Required: true},
			},
			DocumentFields: []domain.FieldSpec{
				{Name: "invoice_number", Type: "string"},
				{Name: "vendor", Type: "string"},
				{Name: "invoice_date", Type: "date"},
				{Name: "currency", Type: "string", Description: "ISO 4217 code"},
				{Name: "total", Type: "number"},
			},
		},
		{
			Name:         "bank_statement",
			Description:  "Bank statement transactions.",
			Instructions: "Extract one row per transaction. Debits are negative amounts.",
			RowFields: []domain.FieldSpec{
				{Name: "date", Type: "date", Required: true},
				{Name: "description", Type: "string", Required: true},
				{Name: "amount", Type: "number", Required: true},
				{Name: "balance", Type: "number"},
			},
			DocumentFields: []domain.FieldSpec{
				{Name: "account_number", Type: "string"},
				{Name: "period_start", Type: "date"},
				{Name: "period_end", Type: "date"},
				{Name: "opening_balance", Type: "number"},
				{Name: "closing_balance", Type: "number"},
			},
		},
		{
			Name:         "generic_table",
			Description:  "Any tabular data, one row per table line.",
			Instructions: "Extract every table row. Use the column header, lowercased with underscores, as the key in the values object.",
			RowFields: []domain.FieldSpec{
				{Name: "table", Type: "string", Description: "Table title or caption"},
				{Name: "values", Type: "string", Description: "Row cells joined with ' | '", Required: true},
			},
		},
	}
}
