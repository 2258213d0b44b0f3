// Package dedupe groups duplicate listings. Exact duplicates are found by a
// single hash-grouping pass over the DuplicateKey; near duplicates are
// clustered elsewhere and share the Cluster type and UnionFind defined here.
package dedupe

import (
	"sort"

	"github.com/listings-etl/internal/normalize"
)

// Reason says how a cluster was formed.
type Reason string

const (
	ReasonExact Reason = "exact"
	ReasonNear  Reason = "near"
)

// Cluster is a set of records judged to be the same listing. Members are
// ordinals in ascending order. Survivor is -1 until a Chooser has picked
// one; Discarded then holds the other members.
type Cluster struct {
	ID        string
	Reason    Reason
	Members   []int
	Score     float64
	Survivor  int
	Discarded []int
}

// Chooser picks the survivor of a cluster and returns its index in members.
type Chooser interface {
	Choose(members []normalize.NormalizedRecord) int
}

// Settle records the survivor at members[idx] and the discards.
func (c *Cluster) Settle(members []normalize.NormalizedRecord, idx int) {
	c.Survivor = members[idx].Ordinal()
	c.Discarded = c.Discarded[:0]
	for i, m := range members {
		if i != idx {
			c.Discarded = append(c.Discarded, m.Ordinal())
		}
	}
	sort.Ints(c.Discarded)
}
