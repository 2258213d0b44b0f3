// Package pipeline runs the listing transform: read, normalize, remove
// exact duplicates, cluster near duplicates, resolve survivors and write the
// cleaned dataset with its rejects and dedup report.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/listings-etl/internal/config"
	"github.com/listings-etl/internal/dataset"
	"github.com/listings-etl/internal/dedupe"
	"github.com/listings-etl/internal/normalize"
	"github.com/listings-etl/internal/record"
	"github.com/listings-etl/internal/resolve"
	"github.com/listings-etl/internal/similarity"
)

// Recorder persists the outcome of a successful run.
type Recorder interface {
	RecordRun(ctx context.Context, summary RunSummary, clusters []resolve.Entry) error
}

// Driver sequences the transform stages.
type Driver struct {
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithRecorder stores each successful run with r.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// NewDriver returns a Driver logging to logger.
func NewDriver(logger *zap.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{logger: logger.Named("pipeline"), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run transforms the dataset at input and writes the result to output.
//
// Configuration and schema problems abort before any record is processed;
// malformed records are routed to the rejects output and counted. Nothing
// is written unless every stage succeeds, and each file is replaced
// atomically. Output files depend only on the input and cfg, so rerunning
// with the same arguments reproduces them.
func (d *Driver) Run(ctx context.Context, input, output string, cfg *config.Config) (RunSummary, error) {
	summary := RunSummary{
		RunID:      uuid.NewString(),
		InputPath:  input,
		OutputPath: output,
		StartedAt:  d.now().UTC(),
		Threshold:  cfg.Similarity.Threshold,
	}
	log := d.logger.With(zap.String("run_id", summary.RunID))

	result, err := d.execute(ctx, log, input, cfg)
	if result != nil {
		summary.Stats = result.stats
	}
	if err != nil {
		return summary, err
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if err := d.write(log, output, cfg, result); err != nil {
		return summary, err
	}

	summary.Duration = d.now().Sub(summary.StartedAt)
	log.Info("run complete",
		zap.Int("input", summary.Input),
		zap.Int("rejected", summary.Rejected),
		zap.Int("exact_duplicates_removed", summary.ExactDuplicatesRemoved),
		zap.Int("near_duplicates_removed", summary.NearDuplicatesRemoved),
		zap.Int("output", summary.Output),
		zap.Duration("duration", summary.Duration),
	)

	if d.recorder != nil {
		if err := d.recorder.RecordRun(ctx, summary, result.entries); err != nil {
			return summary, fmt.Errorf("record run: %w", err)
		}
	}
	return summary, nil
}

// DryRun performs every stage of Run except writing and recording, and
// returns the counts a real run would produce.
func (d *Driver) DryRun(ctx context.Context, input string, cfg *config.Config) (Stats, error) {
	log := d.logger.With(zap.Bool("dry_run", true))
	result, err := d.execute(ctx, log, input, cfg)
	if err != nil {
		return Stats{}, err
	}
	return result.stats, nil
}

// execute validates cfg, reads input and runs the transform stages.
func (d *Driver) execute(ctx context.Context, log *zap.Logger, input string, cfg *config.Config) (*result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	types, err := cfg.SemanticTypes()
	if err != nil {
		return nil, err
	}

	log.Info("reading input", zap.String("path", input))
	raw, err := dataset.Read(input)
	if err != nil {
		return nil, err
	}
	ds, inferred := dataset.ApplyTypes(raw, types, cfg.Schema.InferSample)
	if len(inferred) > 0 {
		log.Info("inferred date columns", zap.Strings("columns", inferred))
	}
	if err := cfg.CheckSchema(ds.Schema, input); err != nil {
		return nil, err
	}
	log.Info("input loaded", zap.Int("records", ds.Len()), zap.Strings("columns", ds.Schema.Names()))

	result, err := d.transform(ctx, log, ds, inferred, cfg)
	if err != nil {
		return nil, err
	}
	result.stats.Input = ds.Len()
	if err := result.stats.Check(); err != nil {
		return result, err
	}
	return result, nil
}

type result struct {
	schema  *record.Schema
	kept    []normalize.NormalizedRecord
	rejects []normalize.Reject
	entries []resolve.Entry
	stats   Stats
}

func (d *Driver) transform(ctx context.Context, log *zap.Logger, ds *record.Dataset, inferred []string, cfg *config.Config) (*result, error) {
	res := &result{schema: ds.Schema}

	normalizer := normalize.New(ds.Schema,
		normalize.WithDateLayouts(cfg.Schema.DateLayouts),
		normalize.WithCoercedFields(inferred...),
	)
	accepted, rejects := normalizer.Partition(ds.Records)
	for _, r := range rejects {
		log.Debug("record rejected",
			zap.Int("ordinal", r.Err.Ordinal),
			zap.String("field", r.Err.Field),
			zap.String("reason", r.Err.Reason),
		)
	}
	res.rejects = rejects
	res.stats.Rejected = len(rejects)
	log.Info("normalized", zap.Int("accepted", len(accepted)), zap.Int("rejected", len(rejects)))

	policy, err := resolve.NewPolicy(ds.Schema, cfg.Resolve.TimestampField)
	if err != nil {
		return nil, err
	}
	keyer, err := dedupe.NewKeyer(ds.Schema, cfg.Dedupe.KeyFields)
	if err != nil {
		return nil, err
	}
	if empty := keyer.EmptyColumns(accepted); len(empty) > 0 {
		log.Warn("key fields are empty in every record", zap.Strings("fields", empty))
	}

	survivors, exact := dedupe.EliminateExact(accepted, keyer, policy)
	res.stats.ExactClusters = len(exact)
	res.stats.ExactDuplicatesRemoved = len(accepted) - len(survivors)
	log.Info("exact duplicates removed",
		zap.Int("clusters", len(exact)),
		zap.Int("removed", res.stats.ExactDuplicatesRemoved),
	)

	kept := survivors
	var near []dedupe.Cluster
	if cfg.Similarity.Enabled {
		detector, err := similarity.NewDetector(ds.Schema, cfg.Similarity, log)
		if err != nil {
			return nil, err
		}
		clusters, err := detector.Detect(ctx, survivors)
		if err != nil {
			return nil, err
		}
		log.Debug("near duplicate clusters found",
			zap.Float64("threshold", detector.Threshold()),
			zap.Int("clusters", len(clusters)),
		)
		kept, near, err = policy.Resolve(clusters, survivors)
		if err != nil {
			return nil, err
		}
	}
	res.stats.NearClusters = len(near)
	res.stats.NearDuplicatesRemoved = len(survivors) - len(kept)
	log.Info("near duplicates removed",
		zap.Bool("enabled", cfg.Similarity.Enabled),
		zap.Int("clusters", len(near)),
		zap.Int("removed", res.stats.NearDuplicatesRemoved),
	)

	ids := resolve.NewIDs(ds.Schema, cfg.IDField, accepted)
	res.entries = resolve.Entries(append(exact, near...), ids)
	res.kept = kept
	res.stats.Output = len(kept)
	return res, nil
}

// write stores the dataset, then the rejects, then the report. A failure
// part way leaves no report, so a report on disk always describes the
// dataset beside it.
func (d *Driver) write(log *zap.Logger, output string, cfg *config.Config, res *result) error {
	out := &record.Dataset{Schema: res.schema, Records: make([]record.Record, len(res.kept))}
	for i, nr := range res.kept {
		out.Records[i] = nr.CleanRecord()
	}
	if cfg.Output.DropEmptyColumns {
		out = dataset.DropEmptyColumns(out)
	}
	if err := dataset.Write(output, out); err != nil {
		return err
	}
	log.Info("output written", zap.String("path", output), zap.Int("records", out.Len()))

	if cfg.RejectsPath != "" {
		rejects, err := RejectsDataset(res.schema, res.rejects)
		if err != nil {
			return err
		}
		if err := dataset.Write(cfg.RejectsPath, rejects); err != nil {
			return err
		}
		log.Info("rejects written", zap.String("path", cfg.RejectsPath), zap.Int("records", rejects.Len()))
	}

	// The report goes last: its presence marks a completed run.
	if cfg.ReportPath != "" {
		report := Report{Clusters: res.entries, Stats: res.stats}
		if err := dataset.WriteJSON(cfg.ReportPath, report); err != nil {
			return err
		}
		log.Info("dedup report written", zap.String("path", cfg.ReportPath), zap.Int("clusters", len(res.entries)))
	}
	return nil
}
