// Package similarity implements the TF-IDF vectorizer and cosine ranking used to
// retrieve a session's documents for a free-text query.
package similarity

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultMaxFeatures caps the vocabulary size.
	DefaultMaxFeatures = 500
	// DefaultMaxDF drops terms present in more than this fraction of documents.
	DefaultMaxDF = 0.9
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Vector is a sparse vector keyed by vocabulary index.
type Vector map[int]float64

// Vectorizer maps text onto a fixed vocabulary with TF-IDF weights.
// The zero value and an unfitted vectorizer map every text to an empty vector.
type Vectorizer struct {
	vocabulary  map[string]int
	idf         []float64
	maxFeatures int
	maxDF       float64
	minDF       int
}

// Option configures Fit.
type Option func(*Vectorizer)

// WithMaxFeatures overrides DefaultMaxFeatures.
func WithMaxFeatures(n int) Option {
	return func(v *Vectorizer) { v.maxFeatures = n }
}

// WithMaxDF overrides DefaultMaxDF.
func WithMaxDF(f float64) Option {
	return func(v *Vectorizer) { v.maxDF = f }
}

// Fit builds a vocabulary over texts. It never fails: a corpus without usable
// tokens yields an empty vectorizer.
func Fit(texts []string, opts ...Option) *Vectorizer {
	v := &Vectorizer{
		vocabulary:  map[string]int{},
		maxFeatures: DefaultMaxFeatures,
		maxDF:       DefaultMaxDF,
		minDF:       1,
	}
	for _, opt := range opts {
		opt(v)
	}

	docs := 0
	df := make(map[string]int)
	tf := make(map[string]int)
	for _, text := range texts {
		tokens := tokenize(text)
		if len(tokens) == 0 {
			continue
		}
		docs++
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if docs == 0 {
		return v
	}

	// The upper document-frequency bound only makes sense once there is more
	// than one document to compare against.
	maxCount := docs
	if docs > 1 {
		maxCount = int(math.Floor(v.maxDF * float64(docs)))
	}

	terms := make([]string, 0, len(df))
	for term, count := range df {
		if count < v.minDF || count > maxCount {
			continue
		}
		terms = append(terms, term)
	}
	if v.maxFeatures > 0 && len(terms) > v.maxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			if tf[terms[i]] != tf[terms[j]] {
				return tf[terms[i]] > tf[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:v.maxFeatures]
	}
	sort.Strings(terms)

	n := float64(docs)
	v.idf = make([]float64, len(terms))
	for i, term := range terms {
		v.vocabulary[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return v
}

// Dimension is the vocabulary size.
func (v *Vectorizer) Dimension() int {
	if v == nil {
		return 0
	}
	return len(v.idf)
}

// Empty reports whether the vectorizer has no vocabulary.
func (v *Vectorizer) Empty() bool { return v.Dimension() == 0 }

// Transform maps text to an L2-normalised TF-IDF vector. Out-of-vocabulary terms
// are dropped.
func (v *Vectorizer) Transform(text string) Vector {
	vec := Vector{}
	if v.Empty() {
		return vec
	}
	for _, tok := range tokenize(text) {
		if idx, ok := v.vocabulary[tok]; ok {
			vec[idx]++
		}
	}
	norm := 0.0
	for idx, count := range vec {
		w := count * v.idf[idx]
		vec[idx] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range vec {
			vec[idx] /= norm
		}
	}
	return vec
}

// Terms returns the vocabulary in index order.
func (v *Vectorizer) Terms() []string {
	out := make([]string, v.Dimension())
	if v == nil {
		return out
	}
	for term, idx := range v.vocabulary {
		out[idx] = term
	}
	return out
}

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}
