package similarity

import (
	"math"
	"sort"
)

// Vector is a sparse feature vector with terms in sorted order. Sorted
// storage makes Dot visit terms in the same order whichever side it is
// called on, so scores are exactly symmetric.
type Vector struct {
	terms   []string
	weights []float64
}

// newVector builds an L2-normalised vector from raw term weights. Terms
// with non-positive weight are dropped.
func newVector(raw map[string]float64) Vector {
	terms := make([]string, 0, len(raw))
	for t, w := range raw {
		if w > 0 {
			terms = append(terms, t)
		}
	}
	sort.Strings(terms)

	var norm float64
	for _, t := range terms {
		norm += raw[t] * raw[t]
	}
	norm = math.Sqrt(norm)

	v := Vector{terms: terms, weights: make([]float64, len(terms))}
	for i, t := range terms {
		v.weights[i] = raw[t] / norm
	}
	return v
}

// Empty reports whether the vector has no terms.
func (v Vector) Empty() bool { return len(v.terms) == 0 }

// Len returns the number of terms.
func (v Vector) Len() int { return len(v.terms) }

// Dot returns the cosine of two normalised vectors, clamped to [0,1].
func (v Vector) Dot(o Vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v.terms) && j < len(o.terms) {
		switch {
		case v.terms[i] < o.terms[j]:
			i++
		case v.terms[i] > o.terms[j]:
			j++
		default:
			sum += v.weights[i] * o.weights[j]
			i++
			j++
		}
	}
	return clamp01(sum)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
