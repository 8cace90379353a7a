package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invoices = []string{
	"Acme Legal LLP invoice 1001 litigation support deposition review",
	"Globex Consulting invoice 2002 cloud migration architecture workshop",
	"Initech Services invoice 3003 printer maintenance toner replacement",
}

func TestFitBuildsBoundedVocabulary(t *testing.T) {
	vz := Fit(invoices, WithMaxFeatures(5))
	assert.Equal(t, 5, vz.Dimension())

	for _, term := range vz.Terms() {
		assert.NotEqual(t, "invoice", term, "terms present in every document are pruned")
	}
}

func TestFitDropsStopwordsAndFoldsCase(t *testing.T) {
	vz := Fit([]string{"The ACME and the Globex"})
	assert.ElementsMatch(t, []string{"acme", "globex"}, vz.Terms())
}

func TestFitWithoutContentIsEmpty(t *testing.T) {
	for _, corpus := range [][]string{nil, {""}, {"the and of", "   "}} {
		vz := Fit(corpus)
		require.True(t, vz.Empty())
		assert.Empty(t, vz.Transform("acme invoice"))
	}
}

func TestTransformDropsOutOfVocabulary(t *testing.T) {
	vz := Fit(invoices)
	assert.Empty(t, vz.Transform("zebra quokka"))
	assert.NotEmpty(t, vz.Transform("deposition zebra"))
}

func TestCosineZeroMagnitude(t *testing.T) {
	assert.Equal(t, 0.0, Cosine(Vector{}, Vector{0: 1}))
	assert.Equal(t, 0.0, Cosine(Vector{0: 0}, Vector{0: 1}))
	assert.InDelta(t, 1.0, Cosine(Vector{0: 3, 1: 4}, Vector{0: 3, 1: 4}), 1e-9)
}

func TestSelfSimilarityIsMaximal(t *testing.T) {
	ix := NewIndex(invoices)
	for i, text := range invoices {
		matches := Search(ix.Vectorizer().Transform(text), ix.Vectors(), len(invoices), -1)
		require.NotEmpty(t, matches)
		assert.Equal(t, i, matches[0].Index)
		for _, m := range matches[1:] {
			assert.LessOrEqual(t, m.Score, matches[0].Score)
		}
	}
}

func TestSearchThresholdAndLimit(t *testing.T) {
	ix := NewIndex(invoices)

	matches := ix.Query("deposition review", 5, SearchThreshold)
	require.Len(t, matches, 1)
	assert.Equal(t, 0, matches[0].Index)

	assert.Empty(t, ix.Query("unrelated words", 5, SearchThreshold))
	assert.Len(t, ix.Query("invoice", 2, -1), 2)
}

func TestSearchTiesKeepInsertionOrder(t *testing.T) {
	candidates := []Vector{{0: 1}, {0: 1}, {0: 1}}
	matches := Search(Vector{0: 1}, candidates, 3, 0)
	require.Len(t, matches, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{matches[0].Index, matches[1].Index, matches[2].Index})
}

func TestSearchDegenerateCorpora(t *testing.T) {
	assert.Empty(t, Search(Vector{0: 1}, nil, 5, 0))

	single := NewIndex([]string{"Acme Legal deposition"})
	matches := single.Query("deposition", 5, SearchThreshold)
	require.Len(t, matches, 1)
	assert.Empty(t, single.Query("printer", 5, SearchThreshold))
}
