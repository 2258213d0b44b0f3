// Package audit stores run summaries and dedup clusters in PostgreSQL.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/listings-etl/internal/pipeline"
	"github.com/listings-etl/internal/resolve"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS etl_run (
	run_id                   uuid PRIMARY KEY,
	input_path               text NOT NULL,
	output_path              text NOT NULL,
	started_at               timestamptz NOT NULL,
	duration_ms              bigint NOT NULL,
	threshold                double precision NOT NULL,
	input_count              integer NOT NULL,
	rejected_count           integer NOT NULL,
	exact_removed            integer NOT NULL,
	near_removed             integer NOT NULL,
	output_count             integer NOT NULL,
	stats_json               jsonb NOT NULL,
	recorded_at              timestamptz DEFAULT now()
);

CREATE TABLE IF NOT EXISTS etl_dedup_cluster (
	run_id             uuid NOT NULL REFERENCES etl_run(run_id) ON DELETE CASCADE,
	cluster_id         text NOT NULL,
	reason             text NOT NULL,
	survivor_id        text NOT NULL,
	discarded_ids      text[] NOT NULL,
	score              double precision,
	PRIMARY KEY (run_id, cluster_id)
);
`

// Tracker records pipeline runs. It implements pipeline.Recorder.
type Tracker struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTracker creates a new audit tracker
func NewTracker(db *sql.DB, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{db: db, logger: logger.Named("audit")}
}

// EnsureSchema creates the audit tables if they do not exist.
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create audit tables: %w", err)
	}
	return nil
}

// RecordRun saves the summary and every cluster of a run in one
// transaction.
func (t *Tracker) RecordRun(ctx context.Context, summary pipeline.RunSummary, clusters []resolve.Entry) error {
	statsJSON, err := json.Marshal(summary.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO etl_run (
			run_id, input_path, output_path, started_at, duration_ms, threshold,
			input_count, rejected_count, exact_removed, near_removed, output_count, stats_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, summary.RunID, summary.InputPath, summary.OutputPath, summary.StartedAt,
		summary.Duration.Milliseconds(), summary.Threshold,
		summary.Input, summary.Rejected, summary.ExactDuplicatesRemoved,
		summary.NearDuplicatesRemoved, summary.Output, statsJSON)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO etl_dedup_cluster (run_id, cluster_id, reason, survivor_id, discarded_ids, score)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cluster insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range clusters {
		var score sql.NullFloat64
		if c.Score != nil {
			score = sql.NullFloat64{Float64: *c.Score, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, summary.RunID, c.ClusterID, c.Reason, c.SurvivorID,
			pq.Array(c.DiscardedIDs), score); err != nil {
			return fmt.Errorf("failed to insert cluster %s: %w", c.ClusterID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.logger.Info("run recorded",
		zap.String("run_id", summary.RunID),
		zap.Int("clusters", len(clusters)),
	)
	return nil
}

// RunRecord is one stored run.
type RunRecord struct {
	RunID      string         `json:"run_id"`
	InputPath  string         `json:"input_path"`
	OutputPath string         `json:"output_path"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
	Threshold  float64        `json:"threshold"`
	Stats      pipeline.Stats `json:"stats"`
}

// RecentRuns returns up to limit runs, newest first.
func (t *Tracker) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT run_id, input_path, output_path, started_at, duration_ms, threshold, stats_json
		FROM etl_run
		ORDER BY started_at DESC, run_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var statsJSON []byte
		if err := rows.Scan(&r.RunID, &r.InputPath, &r.OutputPath, &r.StartedAt,
			&r.DurationMS, &r.Threshold, &statsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode stats of run %s: %w", r.RunID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Clusters returns the dedup clusters stored for a run.
func (t *Tracker) Clusters(ctx context.Context, runID string) ([]resolve.Entry, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT cluster_id, reason, survivor_id, discarded_ids, score
		FROM etl_dedup_cluster
		WHERE run_id = $1
		ORDER BY cluster_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var entries []resolve.Entry
	for rows.Next() {
		var e resolve.Entry
		var score sql.NullFloat64
		if err := rows.Scan(&e.ClusterID, &e.Reason, &e.SurvivorID, pq.Array(&e.DiscardedIDs), &score); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		if score.Valid {
			s := score.Float64
			e.Score = &s
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
