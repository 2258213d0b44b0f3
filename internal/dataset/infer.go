package dataset

import (
	"github.com/listings-etl/internal/normalize"
	"github.com/listings-etl/internal/record"
)

// ApplyTypes returns ds with declared types applied and the remaining
// string columns checked for dates. A string column becomes a date column
// when the first sample non-absent values all parse as dates; a column with
// no values stays a string. Records are shared, not copied.
//
// inferred names the columns typed by sampling rather than by declaration,
// in schema order. Values in them that later fail to parse are coerced to
// absent, not rejected.
func ApplyTypes(ds *record.Dataset, declared map[string]record.SemanticType, sample int) (typed *record.Dataset, inferred []string) {
	types := make(map[string]record.SemanticType, ds.Schema.Len())
	for i, f := range ds.Schema.Fields() {
		if t, ok := declared[f.Name]; ok {
			types[f.Name] = t
			continue
		}
		if f.Type == record.TypeString && looksLikeDates(ds.Records, i, sample) {
			types[f.Name] = record.TypeDate
			inferred = append(inferred, f.Name)
		}
	}
	return &record.Dataset{Schema: ds.Schema.WithTypes(types), Records: ds.Records}, inferred
}

func looksLikeDates(records []record.Record, col, sample int) bool {
	if sample <= 0 {
		return false
	}
	seen := 0
	for _, rec := range records {
		v := rec.At(col)
		s, ok := v.Str()
		if !ok {
			if v.IsAbsent() {
				continue
			}
			return false
		}
		if normalize.IsBlank(s) {
			continue
		}
		if !normalize.LooksLikeDate(s) {
			return false
		}
		if seen++; seen >= sample {
			break
		}
	}
	return seen > 0
}

// DropEmptyColumns removes every column that is absent in all records.
func DropEmptyColumns(ds *record.Dataset) *record.Dataset {
	keep := make(map[string]bool, ds.Schema.Len())
	var cols []int
	for i, f := range ds.Schema.Fields() {
		for _, rec := range ds.Records {
			if !rec.At(i).IsAbsent() {
				keep[f.Name] = true
				cols = append(cols, i)
				break
			}
		}
	}
	if len(cols) == ds.Schema.Len() {
		return ds
	}

	out := &record.Dataset{Schema: ds.Schema.Select(keep), Records: make([]record.Record, len(ds.Records))}
	for r, rec := range ds.Records {
		values := make([]record.Value, len(cols))
		for j, i := range cols {
			values[j] = rec.At(i)
		}
		out.Records[r] = record.New(rec.Ordinal, values)
	}
	return out
}
