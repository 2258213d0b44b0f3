package record

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the dynamic type held by a Value.
type Kind int

const (
	KindAbsent Kind = iota
	KindString
	KindNumber
	KindTime
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindTime:
		return "time"
	case KindBool:
		return "bool"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a single field value. The zero Value is Absent, which is never
// equal to an empty string or a zero number.
type Value struct {
	kind Kind
	s    string
	f    float64
	t    time.Time
	b    bool
}

// Absent returns the missing value.
func Absent() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, f: f} }

// Time returns a time value, normalized to UTC.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the payload kind.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is missing.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Str returns the string payload; ok is false for other kinds.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Num returns the numeric payload; ok is false for other kinds.
func (v Value) Num() (float64, bool) { return v.f, v.kind == KindNumber }

// Time returns the time payload; ok is false for other kinds.
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindTime }

// Bool returns the boolean payload; ok is false for other kinds.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Text renders the value as text. Absent renders as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.f == o.f
	case KindTime:
		return v.t.Equal(o.t)
	case KindBool:
		return v.b == o.b
	}
	return true
}

func (v Value) String() string {
	if v.kind == KindAbsent {
		return "<absent>"
	}
	return v.Text()
}

// Record is one listing row. Values are aligned with the owning Schema and
// Ordinal is the zero-based position in the source dataset.
type Record struct {
	Ordinal int
	values  []Value
}

// New builds a record, copying values so callers cannot mutate it later.
func New(ordinal int, values []Value) Record {
	cp := make([]Value, len(values))
	copy(cp, values)
	return Record{Ordinal: ordinal, values: cp}
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.values) }

// At returns the value at position i, or Absent when out of range.
func (r Record) At(i int) Value {
	if i < 0 || i >= len(r.values) {
		return Absent()
	}
	return r.values[i]
}

// Values returns a copy of the record's values.
func (r Record) Values() []Value {
	cp := make([]Value, len(r.values))
	copy(cp, r.values)
	return cp
}

// AbsentCount counts absent fields.
func (r Record) AbsentCount() int {
	n := 0
	for _, v := range r.values {
		if v.IsAbsent() {
			n++
		}
	}
	return n
}

// Dataset is an ordered sequence of records sharing one schema.
type Dataset struct {
	Schema  *Schema
	Records []Record
}

// Len returns the number of records.
func (d *Dataset) Len() int { return len(d.Records) }
