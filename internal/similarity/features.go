package similarity

import (
	"math"
	"strings"

	"github.com/kljensen/snowball"

	"github.com/listings-etl/internal/normalize"
)

// stopWords are dropped from free text before stemming.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "was": true,
	"with": true, "very": true, "our": true, "your": true, "we": true,
	"der": true, "die": true, "das": true, "und": true, "mit": true, "im": true,
	"ein": true, "eine": true, "zu": true, "von": true, "den": true, "ist": true,
}

// phoneticWeight scales phonetic features against the trigrams of the
// same address.
const phoneticWeight = 2.0

// addressFeatures returns trigram and phonetic term counts for a canonical
// address. Each token is padded so short tokens such as house numbers still
// yield trigrams that mark their boundaries.
func addressFeatures(canonical string) map[string]float64 {
	features := make(map[string]float64)
	for _, tok := range strings.Fields(canonical) {
		padded := "#" + tok + "#"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			features["g:"+string(runes[i:i+3])]++
		}
	}
	for _, key := range normalize.PhoneticTokens(canonical) {
		features["p:"+key] += phoneticWeight
	}
	return features
}

// textTerms returns the stemmed, stop-word-free word tokens of folded text.
func textTerms(canonical string) []string {
	var terms []string
	for _, tok := range strings.Fields(normalize.StripPunct(canonical)) {
		if len(tok) < 2 || stopWords[tok] {
			continue
		}
		stemmed, err := snowball.Stem(tok, "english", true)
		if err != nil || stemmed == "" {
			stemmed = tok
		}
		terms = append(terms, stemmed)
	}
	return terms
}

// idf is the smoothed inverse document frequency ln((1+N)/(1+df))+1.
func idf(n, df int) float64 {
	return math.Log(float64(1+n)/float64(1+df)) + 1
}
