package dedupe

import (
	"fmt"
	"sort"

	"github.com/listings-etl/internal/normalize"
)

// EliminateExact groups records by DuplicateKey in one pass. Every group of
// two or more becomes one exact Cluster whose survivor is picked by chooser;
// the other members are dropped. Survivors keep input order and clusters are
// ordered by their first member.
func EliminateExact(records []normalize.NormalizedRecord, keyer *Keyer, chooser Chooser) ([]normalize.NormalizedRecord, []Cluster) {
	groups := make(map[string][]int, len(records))
	var order []string
	for i, rec := range records {
		key := keyer.Key(rec)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	keep := make([]bool, len(records))
	var clusters []Cluster
	for _, key := range order {
		idx := groups[key]
		if len(idx) == 1 {
			keep[idx[0]] = true
			continue
		}

		members := make([]normalize.NormalizedRecord, len(idx))
		for j, i := range idx {
			members[j] = records[i]
		}
		sort.SliceStable(members, func(a, b int) bool { return members[a].Ordinal() < members[b].Ordinal() })

		c := Cluster{
			ID:      fmt.Sprintf("exact-%d", len(clusters)+1),
			Reason:  ReasonExact,
			Members: ordinals(members),
			Score:   1,
		}
		s := chooser.Choose(members)
		c.Settle(members, s)
		clusters = append(clusters, c)

		for _, i := range idx {
			if records[i].Ordinal() == c.Survivor {
				keep[i] = true
			}
		}
	}

	survivors := make([]normalize.NormalizedRecord, 0, len(order))
	for i, rec := range records {
		if keep[i] {
			survivors = append(survivors, rec)
		}
	}
	return survivors, clusters
}

func ordinals(members []normalize.NormalizedRecord) []int {
	out := make([]int, len(members))
	for i, m := range members {
		out[i] = m.Ordinal()
	}
	return out
}
