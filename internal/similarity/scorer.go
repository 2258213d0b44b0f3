package similarity

import (
	"fmt"
	"math"
	"strings"

	"github.com/listings-etl/internal/config"
	"github.com/listings-etl/internal/normalize"
	"github.com/listings-etl/internal/record"
)

// Group is a weighted set of columns compared as one text.
type Group struct {
	Name    string
	Kind    string
	Columns []int
	Weight  float64
}

// ResolveGroups maps configured groups onto schema column positions.
func ResolveGroups(schema *record.Schema, groups []config.GroupConfig) ([]Group, error) {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		rg := Group{Name: g.Name, Kind: g.Kind, Weight: g.Weight}
		for _, name := range g.Columns {
			idx, ok := schema.Index(name)
			if !ok {
				return nil, fmt.Errorf("group %q: column %q is not in the schema", g.Name, name)
			}
			rg.Columns = append(rg.Columns, idx)
		}
		out = append(out, rg)
	}
	return out, nil
}

// Scorer holds the feature vectors of one candidate set. Text groups are
// TF-IDF weighted over that set, so a Scorer is only meaningful for the
// records it was built from.
type Scorer struct {
	groups  []Group
	vectors [][]Vector // [record][group]
}

// NewScorer vectorises every record for every group.
func NewScorer(groups []Group, records []normalize.NormalizedRecord) *Scorer {
	s := &Scorer{
		groups:  groups,
		vectors: make([][]Vector, len(records)),
	}
	for i := range s.vectors {
		s.vectors[i] = make([]Vector, len(groups))
	}

	for g, group := range groups {
		switch group.Kind {
		case config.KindAddress:
			for i, rec := range records {
				s.vectors[i][g] = newVector(addressFeatures(groupText(rec, group)))
			}
		default:
			s.vectorizeText(g, group, records)
		}
	}
	return s
}

func (s *Scorer) vectorizeText(g int, group Group, records []normalize.NormalizedRecord) {
	tf := make([]map[string]float64, len(records))
	df := make(map[string]int)
	for i, rec := range records {
		counts := make(map[string]float64)
		for _, term := range textTerms(groupText(rec, group)) {
			counts[term]++
		}
		for term := range counts {
			df[term]++
		}
		tf[i] = counts
	}

	for i, counts := range tf {
		for term, c := range counts {
			counts[term] = c * idf(len(records), df[term])
		}
		s.vectors[i][g] = newVector(counts)
	}
}

// groupText joins the canonical values of the group's columns.
func groupText(rec normalize.NormalizedRecord, group Group) string {
	var parts []string
	for _, idx := range group.Columns {
		if v := rec.Canonical[idx]; !v.IsAbsent() {
			parts = append(parts, v.Text())
		}
	}
	return strings.Join(parts, " ")
}

// Comparable reports whether record i has any text to compare.
func (s *Scorer) Comparable(i int) bool {
	for _, v := range s.vectors[i] {
		if !v.Empty() {
			return true
		}
	}
	return false
}

// Score returns the weighted mean cosine of records i and j over the groups
// both of them populate, or 0 when they share none. It is symmetric and a
// comparable record scores 1 against itself.
func (s *Scorer) Score(i, j int) float64 {
	if i == j && s.Comparable(i) {
		return 1
	}

	var sum, weights float64
	for g, group := range s.groups {
		a, b := s.vectors[i][g], s.vectors[j][g]
		if a.Empty() || b.Empty() {
			continue
		}
		sum += group.Weight * a.Dot(b)
		weights += group.Weight
	}
	if weights == 0 {
		return 0
	}
	return round(clamp01(sum / weights))
}

// round drops floating-point noise below 1e-9 so identical texts score
// exactly 1 and weighted sums land on the values they were built from.
func round(x float64) float64 {
	return math.Round(x*1e9) / 1e9
}
