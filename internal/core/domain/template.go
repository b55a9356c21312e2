package domain

// FieldSpec describes one value the completion service must extract.
type FieldSpec struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Enum        []string `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// Template is an extraction template: row fields repeated per record plus document-level fields.
type Template struct {
	Name           string      `yaml:"name" json:"name"`
	Description    string      `yaml:"description,omitempty" json:"description,omitempty"`
	Instructions   string      `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	RowFields      []FieldSpec `yaml:"row_fields" json:"row_fields"`
	DocumentFields []FieldSpec `yaml:"document_fields,omitempty" json:"document_fields,omitempty"`
}

// Complexity is the schema size indicator consumed by the token estimator.
func (t Template) Complexity() int {
	return len(t.RowFields) + len(t.DocumentFields)
}
