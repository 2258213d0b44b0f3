package resolve

import (
	"strconv"

	"github.com/listings-etl/internal/dedupe"
	"github.com/listings-etl/internal/normalize"
	"github.com/listings-etl/internal/record"
)

// Entry is one audited cluster decision.
type Entry struct {
	ClusterID         string   `json:"cluster_id"`
	Reason            string   `json:"reason"`
	SurvivorID        string   `json:"survivor_id"`
	DiscardedIDs      []string `json:"discarded_ids"`
	SurvivorOrdinal   int      `json:"survivor_ordinal"`
	DiscardedOrdinals []int    `json:"discarded_ordinals"`
	Score             *float64 `json:"score,omitempty"`
}

// IDs names records in the report.
type IDs struct {
	byOrdinal map[int]string
}

// NewIDs reads listing identifiers from the clean value of idField. Records
// without one, or every record when idField is empty, are named
// "#<ordinal>".
func NewIDs(schema *record.Schema, idField string, records []normalize.NormalizedRecord) IDs {
	ids := IDs{byOrdinal: make(map[int]string)}
	idx, ok := schema.Index(idField)
	if idField == "" || !ok {
		return ids
	}
	for _, rec := range records {
		if v := rec.Clean[idx]; !v.IsAbsent() {
			ids.byOrdinal[rec.Ordinal()] = v.Text()
		}
	}
	return ids
}

// Of returns the identifier of the record at ordinal.
func (ids IDs) Of(ordinal int) string {
	if id, ok := ids.byOrdinal[ordinal]; ok {
		return id
	}
	return "#" + strconv.Itoa(ordinal)
}

// Entries turns settled clusters into report entries, in cluster order.
// Scores are only reported for near-duplicate clusters.
func Entries(clusters []dedupe.Cluster, ids IDs) []Entry {
	entries := make([]Entry, 0, len(clusters))
	for _, c := range clusters {
		e := Entry{
			ClusterID:         c.ID,
			Reason:            string(c.Reason),
			SurvivorID:        ids.Of(c.Survivor),
			DiscardedIDs:      make([]string, len(c.Discarded)),
			SurvivorOrdinal:   c.Survivor,
			DiscardedOrdinals: append([]int(nil), c.Discarded...),
		}
		for i, ord := range c.Discarded {
			e.DiscardedIDs[i] = ids.Of(ord)
		}
		if c.Reason == dedupe.ReasonNear {
			score := c.Score
			e.Score = &score
		}
		entries = append(entries, e)
	}
	return entries
}
