package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/deprecated"

	"github.com/listings-etl/internal/record"
)

// Parquet reads flat Parquet files and writes one optional column per
// field: strings as UTF8 byte arrays, numbers as doubles and dates as
// millisecond timestamps. Columns are written in name order.
type Parquet struct{}

const parquetBatch = 512

func (Parquet) Name() string { return "parquet" }

type columnReader struct {
	name  string
	typ   record.SemanticType
	value func(parquet.Value) record.Value
}

// Read implements Format.
func (Parquet) Read(path string) (*record.Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	columns, err := parquetColumns(pf.Schema())
	if err != nil {
		return nil, err
	}
	fields := make([]record.Field, len(columns))
	for i, c := range columns {
		fields[i] = record.Field{Name: c.name, Type: c.typ}
	}
	schema, err := record.NewSchema(fields...)
	if err != nil {
		return nil, err
	}

	ds := &record.Dataset{Schema: schema}
	buf := make([]parquet.Row, parquetBatch)
	for _, rg := range pf.RowGroups() {
		if err := readRowGroup(rg, columns, buf, ds); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func readRowGroup(rg parquet.RowGroup, columns []columnReader, buf []parquet.Row, ds *record.Dataset) error {
	rows := rg.Rows()
	defer rows.Close()

	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			values := make([]record.Value, len(columns))
			for _, v := range row {
				if c := v.Column(); c >= 0 && c < len(columns) {
					values[c] = columns[c].value(v)
				}
			}
			ds.Records = append(ds.Records, record.New(len(ds.Records), values))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rows: %w", err)
		}
	}
}

// parquetColumns maps the leaf columns of a flat schema to value readers.
func parquetColumns(schema *parquet.Schema) ([]columnReader, error) {
	var columns []columnReader
	for _, f := range schema.Fields() {
		if !f.Leaf() || f.Repeated() {
			return nil, fmt.Errorf("column %q: nested and repeated columns are not supported", f.Name())
		}
		c, err := leafReader(f)
		if err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	return columns, nil
}

func leafReader(f parquet.Field) (columnReader, error) {
	c := columnReader{name: f.Name()}
	t := f.Type()
	lt := t.LogicalType()

	switch {
	case lt != nil && lt.Decimal != nil:
		return c, fmt.Errorf("column %q: decimal columns are not supported", f.Name())
	case lt != nil && lt.Timestamp != nil:
		unit := time.Millisecond
		switch {
		case lt.Timestamp.Unit.Micros != nil:
			unit = time.Microsecond
		case lt.Timestamp.Unit.Nanos != nil:
			unit = time.Nanosecond
		}
		c.typ = record.TypeDate
		c.value = nullable(func(v parquet.Value) record.Value {
			return record.Time(time.Unix(0, 0).Add(time.Duration(v.Int64()) * unit))
		})
		return c, nil
	case lt != nil && lt.Date != nil:
		c.typ = record.TypeDate
		c.value = nullable(func(v parquet.Value) record.Value {
			return record.Time(time.Unix(int64(v.Int32())*86400, 0))
		})
		return c, nil
	}

	switch t.Kind() {
	case parquet.Boolean:
		c.typ = record.TypeString
		c.value = nullable(func(v parquet.Value) record.Value { return record.Bool(v.Boolean()) })
	case parquet.Int32:
		c.typ = record.TypeNumber
		c.value = nullable(func(v parquet.Value) record.Value { return record.Number(float64(v.Int32())) })
	case parquet.Int64:
		c.typ = record.TypeNumber
		c.value = nullable(func(v parquet.Value) record.Value { return record.Number(float64(v.Int64())) })
	case parquet.Int96:
		c.typ = record.TypeDate
		c.value = nullable(func(v parquet.Value) record.Value { return record.Time(int96Time(v.Int96())) })
	case parquet.Float:
		c.typ = record.TypeNumber
		c.value = nullable(func(v parquet.Value) record.Value { return record.Number(float64(v.Float())) })
	case parquet.Double:
		c.typ = record.TypeNumber
		c.value = nullable(func(v parquet.Value) record.Value { return record.Number(v.Double()) })
	default:
		c.typ = record.TypeString
		c.value = nullable(func(v parquet.Value) record.Value { return record.String(string(v.ByteArray())) })
	}
	return c, nil
}

func nullable(fn func(parquet.Value) record.Value) func(parquet.Value) record.Value {
	return func(v parquet.Value) record.Value {
		if v.IsNull() {
			return record.Absent()
		}
		return fn(v)
	}
}

// int96Time decodes the legacy Impala timestamp: nanoseconds of the day in
// the low 64 bits and the Julian day in the high 32.
func int96Time(v deprecated.Int96) time.Time {
	const unixEpochJulianDay = 2440588
	nanos := int64(uint64(v[1])<<32 | uint64(v[0]))
	days := int64(v[2]) - unixEpochJulianDay
	return time.Unix(days*86400, nanos)
}

// Encode implements Format.
func (Parquet) Encode(w io.Writer, ds *record.Dataset) error {
	group := parquet.Group{}
	for _, f := range ds.Schema.Fields() {
		group[f.Name] = parquet.Optional(parquetNode(f.Type))
	}
	schema := parquet.NewSchema("listing", group)

	// Group orders its fields by name; map each written column back to its
	// position in the dataset schema.
	written := schema.Fields()
	source := make([]int, len(written))
	types := make([]record.SemanticType, len(written))
	for i, f := range written {
		idx, _ := ds.Schema.Index(f.Name())
		source[i] = idx
		types[i] = ds.Schema.Field(idx).Type
	}

	writer := parquet.NewWriter(w, schema)
	rows := make([]parquet.Row, 0, parquetBatch)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := writer.WriteRows(rows); err != nil {
			return err
		}
		rows = rows[:0]
		return nil
	}

	for _, rec := range ds.Records {
		row := make(parquet.Row, len(written))
		for col := range written {
			v, err := parquetValue(types[col], rec.At(source[col]))
			if err != nil {
				return fmt.Errorf("record %d column %q: %w", rec.Ordinal, written[col].Name(), err)
			}
			row[col] = v.Level(0, definitionLevel(v), col)
		}
		rows = append(rows, row)
		if len(rows) == cap(rows) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return writer.Close()
}

func parquetNode(t record.SemanticType) parquet.Node {
	switch t {
	case record.TypeNumber:
		return parquet.Leaf(parquet.DoubleType)
	case record.TypeDate:
		return parquet.Timestamp(parquet.Millisecond)
	}
	return parquet.String()
}

func parquetValue(t record.SemanticType, v record.Value) (parquet.Value, error) {
	if v.IsAbsent() {
		return parquet.Value{}, nil
	}
	switch t {
	case record.TypeNumber:
		f, ok := v.Num()
		if !ok {
			return parquet.Value{}, fmt.Errorf("%s value in a number column", v.Kind())
		}
		return parquet.DoubleValue(f), nil
	case record.TypeDate:
		ts, ok := v.Time()
		if !ok {
			return parquet.Value{}, fmt.Errorf("%s value in a date column", v.Kind())
		}
		return parquet.Int64Value(ts.UnixMilli()), nil
	}
	return parquet.ByteArrayValue([]byte(v.Text())), nil
}

func definitionLevel(v parquet.Value) int {
	if v.IsNull() {
		return 0
	}
	return 1
}
