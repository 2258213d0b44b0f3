package pipeline

import (
	"fmt"

	"github.com/listings-etl/internal/normalize"
	"github.com/listings-etl/internal/record"
)

// Reject columns appended to the input columns in the rejects output.
const (
	RejectFieldColumn  = "_reject_field"
	RejectReasonColumn = "_reject_reason"
)

// RejectsDataset lays rejected records out with their raw values as text
// and the failing field and reason in two extra columns.
func RejectsDataset(schema *record.Schema, rejects []normalize.Reject) (*record.Dataset, error) {
	fields := schema.Fields()
	for i := range fields {
		fields[i].Type = record.TypeString
	}
	fields = append(fields,
		record.Field{Name: RejectFieldColumn, Type: record.TypeString},
		record.Field{Name: RejectReasonColumn, Type: record.TypeString},
	)
	out, err := record.NewSchema(fields...)
	if err != nil {
		return nil, fmt.Errorf("rejects schema: %w", err)
	}

	ds := &record.Dataset{Schema: out, Records: make([]record.Record, len(rejects))}
	width := schema.Len()
	for i, r := range rejects {
		values := make([]record.Value, width+2)
		for c := 0; c < width; c++ {
			if v := r.Record.At(c); !v.IsAbsent() {
				values[c] = record.String(v.Text())
			}
		}
		values[width] = record.String(r.Err.Field)
		values[width+1] = record.String(r.Err.Reason)
		ds.Records[i] = record.New(r.Record.Ordinal, values)
	}
	return ds, nil
}
