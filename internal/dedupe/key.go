package dedupe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/listings-etl/internal/normalize"
	"github.com/listings-etl/internal/record"
)

// Keyer builds DuplicateKeys from the canonical values of the key fields.
type Keyer struct {
	schema *record.Schema
	fields []int
}

// NewKeyer resolves the key field names against schema.
func NewKeyer(schema *record.Schema, names []string) (*Keyer, error) {
	k := &Keyer{schema: schema}
	for _, name := range names {
		idx, ok := schema.Index(name)
		if !ok {
			return nil, fmt.Errorf("key field %q is not in the schema", name)
		}
		k.fields = append(k.fields, idx)
	}
	return k, nil
}

// Key returns the DuplicateKey of rec. Absent values are encoded with a
// marker that no present value can produce. A record whose key fields are
// all absent is keyed on its whole row instead, so records that carry no
// key data are only merged when they are identical.
func (k *Keyer) Key(rec normalize.NormalizedRecord) string {
	var b strings.Builder
	b.WriteString("k")
	allAbsent := true
	for _, idx := range k.fields {
		v := rec.Canonical[idx]
		if !v.IsAbsent() {
			allAbsent = false
		}
		encodeValue(&b, v)
	}
	if !allAbsent {
		return b.String()
	}

	b.Reset()
	b.WriteString("r")
	for _, v := range rec.Canonical {
		encodeValue(&b, v)
	}
	return b.String()
}

// EmptyColumns returns the key fields that are absent in every record.
func (k *Keyer) EmptyColumns(records []normalize.NormalizedRecord) []string {
	var empty []string
	for _, idx := range k.fields {
		seen := false
		for _, rec := range records {
			if !rec.Canonical[idx].IsAbsent() {
				seen = true
				break
			}
		}
		if !seen {
			empty = append(empty, k.schema.Field(idx).Name)
		}
	}
	return empty
}

// encodeValue writes a kind tag and a length-prefixed payload, which keeps
// the encoding unambiguous whatever the values contain.
func encodeValue(b *strings.Builder, v record.Value) {
	var tag byte
	var payload string
	switch v.Kind() {
	case record.KindAbsent:
		b.WriteString("|-")
		return
	case record.KindString:
		tag = 's'
		payload, _ = v.Str()
	case record.KindNumber:
		tag = 'n'
		f, _ := v.Num()
		payload = strconv.FormatFloat(f, 'g', -1, 64)
	case record.KindTime:
		tag = 't'
		t, _ := v.Time()
		payload = strconv.FormatInt(t.UnixNano(), 10)
	case record.KindBool:
		tag = 'b'
		payload = v.Text()
	}
	b.WriteByte('|')
	b.WriteByte(tag)
	b.WriteString(strconv.Itoa(len(payload)))
	b.WriteByte(':')
	b.WriteString(payload)
}
