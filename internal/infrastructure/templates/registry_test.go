package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const customTemplates = `
templates:
  - name: receipts
    description: Shop receipts
    row_fields:
      - name: item
        type: string
        required: true
      - name: price
        type: number
    document_fields:
      - name: merchant
        type: string
      - name: paid_with
        type: string
        enum: [cash, card]
  - name: invoice
    row_fields:
      - name: amount
        type: number
        required: true
`

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte(customTemplates), 0o600); err != nil {
		t.Fatalf("write templates: %v", err)
	}

	registry, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	receipts, err := registry.Get("receipts")
	if err != nil {
		t.Fatalf("Get(receipts) error = %v", err)
	}
	if receipts.Complexity() != 4 {
		t.Fatalf("expected complexity 4, got %d", receipts.Complexity())
	}
	if got := receipts.DocumentFields[1].Enum; len(got) != 2 || got[1] != "card" {
		t.Fatalf("enum not parsed: %v", got)
	}

	invoice, err := registry.Get("invoice")
	if err != nil {
		t.Fatalf("Get(invoice) error = %v", err)
	}
	if len(invoice.RowFields) != 1 || len(invoice.DocumentFields) != 0 {
		t.Fatalf("file template should replace the built-in one, got %+v", invoice)
	}

	names := make([]string, 0)
	for _, tmpl := range registry.List() {
		names = append(names, tmpl.Name)
	}
	want := []string{"bank_statement", "generic_table", "invoice", "receipts"}
	if len(names) != len(want) {
		t.Fatalf("unexpected templates: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected sorted names %v, got %v", want, names)
		}
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	registry, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(registry.List()) != len(Defaults()) {
		t.Fatalf("expected built-in templates only")
	}
}

func TestGetUnknownTemplate(t *testing.T) {
	registry, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := registry.Get("missing"); !domain.IsKind(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestAddRejectsInvalidTemplates(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	cases := []domain.Template{
		{Name: "", RowFields: []domain.FieldSpec{{Name: "a"}}},
		{Name: "empty"},
		{Name: "dup", RowFields: []domain.FieldSpec{{Name: "a"}, {Name: "a"}}},
		{Name: "badtype", RowFields: []domain.FieldSpec{{Name: "a", Type: "blob"}}},
	}
	for _, tmpl := range cases {
		if err := registry.Add(tmpl); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", tmpl, err)
		}
	}
}

func TestParseRejectsBrokenYAML(t *testing.T) {
	if _, err := Parse([]byte("templates: [")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
