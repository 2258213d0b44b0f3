package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/listings-etl/internal/record"
)

// CSV is a comma-separated file with a header row. Every column is read
// as a string and empty cells are absent.
type CSV struct{}

func (CSV) Name() string { return "csv" }

// Read implements Format.
func (CSV) Read(path string) (*record.Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	fields := make([]record.Field, len(header))
	for i, name := range header {
		fields[i] = record.Field{Name: strings.TrimSpace(name), Type: record.TypeString}
	}
	schema, err := record.NewSchema(fields...)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	ds := &record.Dataset{Schema: schema}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(ds.Records)+1, err)
		}

		values := make([]record.Value, len(row))
		for i, cell := range row {
			if cell == "" {
				values[i] = record.Absent()
				continue
			}
			values[i] = record.String(cell)
		}
		ds.Records = append(ds.Records, record.New(len(ds.Records), values))
	}
	return ds, nil
}

// Encode implements Format. Absent values are written as empty cells.
func (CSV) Encode(w io.Writer, ds *record.Dataset) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ds.Schema.Names()); err != nil {
		return err
	}

	row := make([]string, ds.Schema.Len())
	for _, rec := range ds.Records {
		for i := range row {
			row[i] = csvCell(rec.At(i))
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func csvCell(v record.Value) string {
	switch v.Kind() {
	case record.KindNumber:
		f, _ := v.Num()
		return strconv.FormatFloat(f, 'f', -1, 64)
	case record.KindTime:
		t, _ := v.Time()
		return t.Format(time.RFC3339)
	}
	return v.Text()
}
