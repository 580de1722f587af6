package skills

import (
	"math"
	"regexp"
	"strings"
)

var tokenRE = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(s string) []string {
	return tokenRE.FindAllString(strings.ToLower(s), -1)
}

// tfidfScores scores each skill's description+tags against the message's
// tokens. Document frequency is computed over the candidate skill set
// itself (there is no larger corpus to draw idf from), matching the
// "TF-IDF-style" qualifier in spec §4.5 rather than a textbook TF-IDF.
func tfidfScores(message string, candidates []Skill) []float64 {
	queryTokens := tokenize(message)
	if len(queryTokens) == 0 || len(candidates) == 0 {
		return make([]float64, len(candidates))
	}

	docs := make([][]string, len(candidates))
	df := map[string]int{}
	for i, s := range candidates {
		doc := tokenize(s.Description + " " + strings.Join(s.Tags, " "))
		docs[i] = doc
		seen := map[string]bool{}
		for _, tok := range doc {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}

	n := float64(len(candidates))
	scores := make([]float64, len(candidates))
	for i, doc := range docs {
		tf := map[string]int{}
		for _, tok := range doc {
			tf[tok]++
		}
		var score float64
		for _, qt := range queryTokens {
			count, ok := tf[qt]
			if !ok {
				continue
			}
			idf := math.Log(1+n/float64(df[qt])) + 1
			score += float64(count) * idf
		}
		if len(doc) > 0 {
			score /= math.Sqrt(float64(len(doc)))
		}
		scores[i] = score
	}
	return scores
}
