// Package resolve picks one survivor per duplicate cluster and records
// every decision.
//
// Survivors are chosen by a total order: the record with the fewest absent
// fields wins, then the most recently observed one (by the configured
// timestamp field, where a present timestamp beats an absent one), then the
// lowest ordinal.
package resolve

import (
	"fmt"
	"sort"

	"github.com/listings-etl/internal/dedupe"
	"github.com/listings-etl/internal/normalize"
	"github.com/listings-etl/internal/record"
)

// Policy is the survivor tie-break. The zero Policy has no timestamp field.
type Policy struct {
	timestamp int
	hasTime   bool
}

// NewPolicy resolves the timestamp field, which may be empty.
func NewPolicy(schema *record.Schema, timestampField string) (Policy, error) {
	if timestampField == "" {
		return Policy{}, nil
	}
	idx, ok := schema.Index(timestampField)
	if !ok {
		return Policy{}, fmt.Errorf("timestamp field %q is not in the schema", timestampField)
	}
	return Policy{timestamp: idx, hasTime: true}, nil
}

// Prefer reports whether a should survive over b.
func (p Policy) Prefer(a, b normalize.NormalizedRecord) bool {
	if a.Absent != b.Absent {
		return a.Absent < b.Absent
	}
	if p.hasTime {
		if c := compareObserved(a.Clean[p.timestamp], b.Clean[p.timestamp]); c != 0 {
			return c > 0
		}
	}
	return a.Ordinal() < b.Ordinal()
}

// Choose implements dedupe.Chooser.
func (p Policy) Choose(members []normalize.NormalizedRecord) int {
	best := 0
	for i := 1; i < len(members); i++ {
		if p.Prefer(members[i], members[best]) {
			best = i
		}
	}
	return best
}

// compareObserved orders timestamps: later is greater, and any present
// value is greater than an absent one. Numbers are read as epoch values.
func compareObserved(a, b record.Value) int {
	switch {
	case a.IsAbsent() && b.IsAbsent():
		return 0
	case a.IsAbsent():
		return -1
	case b.IsAbsent():
		return 1
	}

	if ta, ok := a.Time(); ok {
		if tb, ok := b.Time(); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := a.Num(); ok {
		if fb, ok := b.Num(); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
		}
	}
	return 0
}

// Resolve settles every cluster over records and returns the records that
// remain, in input order, with the settled clusters. Every member must be
// among records and no record may sit in two clusters.
func (p Policy) Resolve(clusters []dedupe.Cluster, records []normalize.NormalizedRecord) ([]normalize.NormalizedRecord, []dedupe.Cluster, error) {
	byOrdinal := make(map[int]int, len(records))
	for i, rec := range records {
		byOrdinal[rec.Ordinal()] = i
	}

	drop := make(map[int]bool)
	seen := make(map[int]string)
	settled := make([]dedupe.Cluster, len(clusters))
	for ci, c := range clusters {
		members := make([]normalize.NormalizedRecord, 0, len(c.Members))
		for _, ord := range c.Members {
			i, ok := byOrdinal[ord]
			if !ok {
				return nil, nil, fmt.Errorf("cluster %s: record %d is not in the candidate set", c.ID, ord)
			}
			if other, dup := seen[ord]; dup {
				return nil, nil, fmt.Errorf("record %d is in clusters %s and %s", ord, other, c.ID)
			}
			seen[ord] = c.ID
			members = append(members, records[i])
		}
		sort.SliceStable(members, func(a, b int) bool { return members[a].Ordinal() < members[b].Ordinal() })

		c.Members = append([]int(nil), c.Members...)
		sort.Ints(c.Members)
		c.Discarded = nil
		c.Settle(members, p.Choose(members))
		for _, ord := range c.Discarded {
			drop[ord] = true
		}
		settled[ci] = c
	}

	kept := make([]normalize.NormalizedRecord, 0, len(records)-len(drop))
	for _, rec := range records {
		if !drop[rec.Ordinal()] {
			kept = append(kept, rec)
		}
	}
	return kept, settled, nil
}
