// Package similarity finds near-duplicate listings. Records are vectorised
// per comparison group, scored pairwise with a weighted cosine, linked when
// the score reaches the threshold and clustered by transitive closure.
package similarity

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/listings-etl/internal/config"
	"github.com/listings-etl/internal/dedupe"
	"github.com/listings-etl/internal/normalize"
	"github.com/listings-etl/internal/record"
)

// rowsPerBatch is how many outer-loop rows one worker task scores.
const rowsPerBatch = 64

// Link is a scored pair of candidate indexes with A < B.
type Link struct {
	A, B  int
	Score float64
}

// Detector clusters near-duplicate records.
type Detector struct {
	threshold float64
	groups    []Group
	guards    []int
	blocker   Blocker
	workers   int
	logger    *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithBlocker restricts comparisons to records in the same block.
func WithBlocker(b Blocker) Option {
	return func(d *Detector) {
		if b != nil {
			d.blocker = b
		}
	}
}

// WithWorkers sets the number of scoring goroutines. Zero or less uses one
// per CPU.
func WithWorkers(n int) Option {
	return func(d *Detector) { d.workers = n }
}

// NewDetector builds a Detector for schema from the similarity config.
func NewDetector(schema *record.Schema, cfg config.SimilarityConfig, logger *zap.Logger, opts ...Option) (*Detector, error) {
	if math.IsNaN(cfg.Threshold) || cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v is outside [0,1]", cfg.Threshold)
	}
	groups, err := ResolveGroups(schema, cfg.Groups)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Detector{
		threshold: cfg.Threshold,
		groups:    groups,
		blocker:   allInOne{},
		workers:   cfg.Workers,
		logger:    logger.Named("similarity"),
	}
	for _, name := range cfg.GuardFields {
		idx, ok := schema.Index(name)
		if !ok {
			return nil, fmt.Errorf("guard field %q is not in the schema", name)
		}
		d.guards = append(d.guards, idx)
	}
	if cfg.BlockingField != "" {
		idx, ok := schema.Index(cfg.BlockingField)
		if !ok {
			return nil, fmt.Errorf("blocking field %q is not in the schema", cfg.BlockingField)
		}
		d.blocker = FieldBlocker{Column: idx}
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = runtime.NumCPU()
	}
	return d, nil
}

// Threshold returns the link threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Detect returns the near-duplicate clusters among records. Members are
// ordinals. Each cluster's Score is its weakest link. Clusters are ordered
// by first member and Survivor is left at -1 for the resolver.
func (d *Detector) Detect(ctx context.Context, records []normalize.NormalizedRecord) ([]dedupe.Cluster, error) {
	links, err := d.Links(ctx, records)
	if err != nil {
		return nil, err
	}

	uf := dedupe.NewUnionFind(len(records))
	for _, l := range links {
		uf.Union(l.A, l.B)
	}

	weakest := make(map[int]float64)
	for _, l := range links {
		root := uf.Find(l.A)
		if s, ok := weakest[root]; !ok || l.Score < s {
			weakest[root] = l.Score
		}
	}

	var clusters []dedupe.Cluster
	for _, group := range uf.Groups() {
		members := make([]int, len(group))
		for i, idx := range group {
			members[i] = records[idx].Ordinal()
		}
		sort.Ints(members)
		clusters = append(clusters, dedupe.Cluster{
			ID:       fmt.Sprintf("near-%d", len(clusters)+1),
			Reason:   dedupe.ReasonNear,
			Members:  members,
			Score:    weakest[uf.Find(group[0])],
			Survivor: -1,
		})
	}
	return clusters, nil
}

// Links scores every candidate pair once and returns those scoring above the
// threshold, ordered by (A, B). The result does not depend on the worker
// count.
func (d *Detector) Links(ctx context.Context, records []normalize.NormalizedRecord) ([]Link, error) {
	start := time.Now()
	scorer := NewScorer(d.groups, records)

	blocks := d.blocks(records, scorer)
	type row struct {
		block []int
		pos   int
	}
	var rows []row
	for _, b := range blocks {
		for pos := 0; pos < len(b)-1; pos++ {
			rows = append(rows, row{block: b, pos: pos})
		}
	}

	batches := (len(rows) + rowsPerBatch - 1) / rowsPerBatch
	results := make([][]Link, batches)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for bi := 0; bi < batches; bi++ {
		g.Go(func() error {
			end := (bi + 1) * rowsPerBatch
			if end > len(rows) {
				end = len(rows)
			}
			var local []Link
			for _, r := range rows[bi*rowsPerBatch : end] {
				if err := ctx.Err(); err != nil {
					return err
				}
				i := r.block[r.pos]
				for _, j := range r.block[r.pos+1:] {
					if !d.guardsAgree(records[i], records[j]) {
						continue
					}
					if s := scorer.Score(i, j); s > d.threshold {
						local = append(local, Link{A: i, B: j, Score: s})
					}
				}
			}
			results[bi] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("score pairs: %w", err)
	}

	var links []Link
	for _, r := range results {
		links = append(links, r...)
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].A != links[j].A {
			return links[i].A < links[j].A
		}
		return links[i].B < links[j].B
	})

	d.logger.Debug("scored candidate pairs",
		zap.Int("records", len(records)),
		zap.Int("blocks", len(blocks)),
		zap.Int("links", len(links)),
		zap.Int("workers", d.workers),
		zap.Duration("elapsed", time.Since(start)),
	)
	return links, nil
}

// blocks groups the comparable records by block key. Index lists are
// ascending and blocks are ordered by first index.
func (d *Detector) blocks(records []normalize.NormalizedRecord, scorer *Scorer) [][]int {
	byKey := make(map[string]int)
	var blocks [][]int
	for i, rec := range records {
		if !scorer.Comparable(i) {
			continue
		}
		key, ok := d.blocker.BlockKey(rec)
		if !ok {
			continue
		}
		b, seen := byKey[key]
		if !seen {
			b = len(blocks)
			byKey[key] = b
			blocks = append(blocks, nil)
		}
		blocks[b] = append(blocks[b], i)
	}
	return blocks
}

// guardsAgree is false when both records carry different values for any
// guard field, such as two house numbers on the same street.
func (d *Detector) guardsAgree(a, b normalize.NormalizedRecord) bool {
	for _, idx := range d.guards {
		va, vb := a.Canonical[idx], b.Canonical[idx]
		if !va.IsAbsent() && !vb.IsAbsent() && !va.Equal(vb) {
			return false
		}
	}
	return true
}
