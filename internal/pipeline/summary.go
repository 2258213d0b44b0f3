package pipeline

import (
	"fmt"
	"time"

	"github.com/listings-etl/internal/resolve"
)

// Stats are the per-stage record counts of a run.
type Stats struct {
	Input                  int `json:"input"`
	Rejected               int `json:"rejected"`
	ExactDuplicatesRemoved int `json:"exact_duplicates_removed"`
	NearDuplicatesRemoved  int `json:"near_duplicates_removed"`
	Output                 int `json:"output"`
	ExactClusters          int `json:"exact_clusters"`
	NearClusters           int `json:"near_clusters"`
}

// Check verifies that every input record is accounted for.
func (s Stats) Check() error {
	if got := s.Output + s.ExactDuplicatesRemoved + s.NearDuplicatesRemoved + s.Rejected; got != s.Input {
		return fmt.Errorf("record count mismatch: input %d, accounted %d (output %d, exact %d, near %d, rejected %d)",
			s.Input, got, s.Output, s.ExactDuplicatesRemoved, s.NearDuplicatesRemoved, s.Rejected)
	}
	return nil
}

// RunSummary describes one completed run.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	InputPath  string        `json:"input_path"`
	OutputPath string        `json:"output_path"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Threshold  float64       `json:"threshold"`
	Stats
}

// Report is the dedup report document. It carries no run identifiers or
// timings, so identical runs write identical reports.
type Report struct {
	Clusters []resolve.Entry `json:"clusters"`
	Stats    Stats           `json:"stats"`
}
