package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/listings-etl/internal/dataset"
	"github.com/listings-etl/internal/etlerr"
)

// Shape describes a written dataset.
type Shape struct {
	Path    string   `json:"path"`
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
}

// Verify checks that the dataset at output exists and is readable and,
// when reportPath is set, that its row count and the report's stats agree.
func Verify(output, reportPath string) (Shape, error) {
	if !dataset.Exists(output) {
		return Shape{}, &etlerr.IOError{Op: "verify", Path: output, Err: os.ErrNotExist}
	}
	ds, err := dataset.Read(output)
	if err != nil {
		return Shape{}, err
	}
	shape := Shape{Path: output, Rows: ds.Len(), Columns: ds.Schema.Names()}
	if reportPath == "" {
		return shape, nil
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		return shape, &etlerr.IOError{Op: "read", Path: reportPath, Err: err}
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return shape, fmt.Errorf("decode report %s: %w", reportPath, err)
	}
	if err := report.Stats.Check(); err != nil {
		return shape, fmt.Errorf("report %s: %w", reportPath, err)
	}
	if report.Stats.Output != shape.Rows {
		return shape, fmt.Errorf("report %s lists %d output records, %s has %d",
			reportPath, report.Stats.Output, output, shape.Rows)
	}

	removed := 0
	for _, c := range report.Clusters {
		removed += len(c.DiscardedOrdinals)
	}
	if want := report.Stats.ExactDuplicatesRemoved + report.Stats.NearDuplicatesRemoved; removed != want {
		return shape, fmt.Errorf("report %s: clusters discard %d records, stats say %d", reportPath, removed, want)
	}
	return shape, nil
}
