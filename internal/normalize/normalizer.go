// Package normalize turns raw listing values into comparable form.
//
// Every field gets two normalized values: Clean, which is what gets written
// out (trimmed, whitespace collapsed, numbers and dates typed), and
// Canonical, which is what duplicate detection compares (additionally case
// folded, accent stripped and, for addresses, reordered into fixed
// segments). Missing and blank values become record.Absent in both.
package normalize

import (
	"errors"
	"fmt"
	"math"

	"github.com/listings-etl/internal/etlerr"
	"github.com/listings-etl/internal/record"
)

// NormalizedRecord is a record with its clean and canonical values, both
// aligned with the schema the Normalizer was built for.
type NormalizedRecord struct {
	Raw       record.Record
	Clean     []record.Value
	Canonical []record.Value
	Absent    int
}

// Ordinal is the position of the record in the source dataset.
func (n NormalizedRecord) Ordinal() int { return n.Raw.Ordinal }

// CleanRecord returns the output form of the record.
func (n NormalizedRecord) CleanRecord() record.Record {
	return record.New(n.Raw.Ordinal, n.Clean)
}

// Reject is a record that failed normalization.
type Reject struct {
	Record record.Record
	Err    *etlerr.MalformedRecordError
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithAddressParser replaces the default address parser.
func WithAddressParser(p AddressParser) Option {
	return func(n *Normalizer) {
		if p != nil {
			n.parser = p
		}
	}
}

// WithDateLayouts replaces the default date layouts. An empty list keeps
// the defaults.
func WithDateLayouts(layouts []string) Option {
	return func(n *Normalizer) {
		if len(layouts) > 0 {
			n.layouts = append([]string(nil), layouts...)
		}
	}
}

// WithCoercedFields makes values of the named fields that fail to parse
// absent instead of rejecting the record. It is meant for columns whose
// type was guessed rather than declared.
func WithCoercedFields(names ...string) Option {
	return func(n *Normalizer) {
		for _, name := range names {
			n.coerced[name] = true
		}
	}
}

// Normalizer normalizes records of one schema. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	schema  *record.Schema
	parser  AddressParser
	layouts []string
	coerced map[string]bool
}

// New returns a Normalizer for schema.
func New(schema *record.Schema, opts ...Option) *Normalizer {
	n := &Normalizer{
		schema:  schema,
		parser:  defaultParser,
		layouts: DefaultDateLayouts,
		coerced: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Schema returns the schema records are normalized against.
func (n *Normalizer) Schema() *record.Schema { return n.schema }

// Normalize returns the normalized form of rec. The first field, in schema
// order, that cannot be coerced to its semantic type fails the whole record
// with a *etlerr.MalformedRecordError, unless the field was registered with
// WithCoercedFields, in which case the value becomes absent.
func (n *Normalizer) Normalize(rec record.Record) (NormalizedRecord, error) {
	width := n.schema.Len()
	out := NormalizedRecord{
		Raw:       rec,
		Clean:     make([]record.Value, width),
		Canonical: make([]record.Value, width),
	}

	for i := 0; i < width; i++ {
		field := n.schema.Field(i)
		raw := rec.At(i)

		clean, canonical, err := n.value(field.Type, raw)
		if err != nil && n.coerced[field.Name] {
			clean, canonical, err = record.Absent(), record.Absent(), nil
		}
		if err != nil {
			return NormalizedRecord{}, &etlerr.MalformedRecordError{
				Ordinal: rec.Ordinal,
				Field:   field.Name,
				Value:   raw.Text(),
				Reason:  err.Error(),
			}
		}
		out.Clean[i] = clean
		out.Canonical[i] = canonical
		if clean.IsAbsent() {
			out.Absent++
		}
	}
	return out, nil
}

// Partition normalizes every record, splitting accepted records from
// rejects. Both keep input order.
func (n *Normalizer) Partition(records []record.Record) ([]NormalizedRecord, []Reject) {
	accepted := make([]NormalizedRecord, 0, len(records))
	var rejects []Reject
	for _, rec := range records {
		nr, err := n.Normalize(rec)
		var malformed *etlerr.MalformedRecordError
		if errors.As(err, &malformed) {
			rejects = append(rejects, Reject{Record: rec, Err: malformed})
			continue
		}
		accepted = append(accepted, nr)
	}
	return accepted, rejects
}

func (n *Normalizer) value(t record.SemanticType, v record.Value) (clean, canonical record.Value, err error) {
	if v.IsAbsent() {
		return record.Absent(), record.Absent(), nil
	}
	if s, ok := v.Str(); ok && IsBlank(s) {
		return record.Absent(), record.Absent(), nil
	}
	if f, ok := v.Num(); ok && math.IsNaN(f) {
		return record.Absent(), record.Absent(), nil
	}

	switch t {
	case record.TypeNumber:
		clean, err = n.number(v)
		return clean, clean, err
	case record.TypeDate:
		clean, err = n.date(v)
		return clean, clean, err
	case record.TypeAddress:
		text := CollapseSpace(v.Text())
		canon := n.parser.Parse(text).Canonical()
		if canon == "" {
			return record.String(text), record.Absent(), nil
		}
		return record.String(text), record.String(canon), nil
	default:
		text := CollapseSpace(v.Text())
		return record.String(text), record.String(Fold(text)), nil
	}
}

func (n *Normalizer) number(v record.Value) (record.Value, error) {
	switch v.Kind() {
	case record.KindNumber:
		return v, nil
	case record.KindString:
		s, _ := v.Str()
		f, err := ParseNumber(s)
		if err != nil {
			return record.Absent(), err
		}
		return record.Number(f), nil
	}
	return record.Absent(), fmt.Errorf("%s value where a number is expected", v.Kind())
}

func (n *Normalizer) date(v record.Value) (record.Value, error) {
	switch v.Kind() {
	case record.KindTime:
		return v, nil
	case record.KindString:
		s, _ := v.Str()
		t, err := ParseDate(s, n.layouts)
		if err != nil {
			return record.Absent(), err
		}
		return record.Time(t), nil
	}
	return record.Absent(), fmt.Errorf("%s value where a date is expected", v.Kind())
}
