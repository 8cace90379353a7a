package similarity

import (
	"math"
	"sort"
)

const (
	// SearchThreshold is the minimum score for search-style queries.
	SearchThreshold = 0.1
	// ContextThreshold is used when retrieving chat context, where recall matters
	// more than precision.
	ContextThreshold = 0.0
)

// Match is one ranked candidate.
type Match struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Cosine returns dot(a,b)/(|a||b|), or 0 when either vector has zero magnitude.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	dot := 0.0
	for idx, w := range small {
		dot += w * large[idx]
	}
	na, nb := magnitude(a), magnitude(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

func magnitude(v Vector) float64 {
	sum := 0.0
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// Search ranks candidates by cosine similarity to query and returns at most k
// matches scoring strictly above threshold. Equal scores keep candidate order.
func Search(query Vector, candidates []Vector, k int, threshold float64) []Match {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		matches = append(matches, Match{Index: i, Score: Cosine(query, c)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	out := make([]Match, 0, k)
	for _, m := range matches {
		if len(out) == k {
			break
		}
		if m.Score > threshold {
			out = append(out, m)
		}
	}
	return out
}

// Index pairs a fitted vectorizer with the vectors of one corpus.
type Index struct {
	vectorizer *Vectorizer
	vectors    []Vector
}

// NewIndex fits a vectorizer over texts and transforms each of them.
func NewIndex(texts []string, opts ...Option) *Index {
	vz := Fit(texts, opts...)
	vectors := make([]Vector, len(texts))
	for i, t := range texts {
		vectors[i] = vz.Transform(t)
	}
	return &Index{vectorizer: vz, vectors: vectors}
}

// Vectorizer returns the fitted vectorizer.
func (ix *Index) Vectorizer() *Vectorizer { return ix.vectorizer }

// Vectors returns the corpus vectors in input order.
func (ix *Index) Vectors() []Vector { return ix.vectors }

// Query transforms text and ranks the corpus against it.
func (ix *Index) Query(text string, k int, threshold float64) []Match {
	return Search(ix.vectorizer.Transform(text), ix.vectors, k, threshold)
}
