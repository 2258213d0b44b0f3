package record

import (
	"fmt"
	"strings"
)

// SemanticType is how a column is interpreted during normalization.
type SemanticType string

const (
	TypeString  SemanticType = "string"
	TypeText    SemanticType = "text"
	TypeAddress SemanticType = "address"
	TypeNumber  SemanticType = "number"
	TypeDate    SemanticType = "date"
)

// ParseSemanticType accepts the config spelling of a type.
func ParseSemanticType(s string) (SemanticType, error) {
	switch t := SemanticType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeString, TypeText, TypeAddress, TypeNumber, TypeDate:
		return t, nil
	case "numeric", "float", "int":
		return TypeNumber, nil
	case "datetime", "timestamp":
		return TypeDate, nil
	}
	return "", fmt.Errorf("unknown semantic type %q", s)
}

// IsTextual reports whether values of this type are kept as strings.
func (t SemanticType) IsTextual() bool {
	return t == TypeString || t == TypeText || t == TypeAddress
}

// Field is a named, typed column.
type Field struct {
	Name string
	Type SemanticType
}

// Schema is an ordered set of fields with name lookup.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema. Duplicate names are rejected.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has an empty name", i)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema is NewSchema for static schemas in tests and defaults.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the fields in column order.
func (s *Schema) Fields() []Field {
	cp := make([]Field, len(s.fields))
	copy(cp, s.fields)
	return cp
}

func (s *Schema) Field(i int) Field { return s.fields[i] }

// Index returns the column position of name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// WithTypes returns a copy of the schema with the given columns retyped.
// Unknown names are ignored; callers validate references separately.
func (s *Schema) WithTypes(types map[string]SemanticType) *Schema {
	fields := s.Fields()
	for i := range fields {
		if t, ok := types[fields[i].Name]; ok {
			fields[i].Type = t
		}
	}
	return MustSchema(fields...)
}

// Select returns a schema restricted to the named columns, in schema order.
func (s *Schema) Select(keep map[string]bool) *Schema {
	var fields []Field
	for _, f := range s.fields {
		if keep[f.Name] {
			fields = append(fields, f)
		}
	}
	return MustSchema(fields...)
}
