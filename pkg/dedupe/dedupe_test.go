package dedupe

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const licenseText = "this dataset is distributed for research purposes under a permissive " +
	"license and may be redistributed with attribution to the original authors"

func TestDetector_ExactDuplicate(t *testing.T) {
	for name, d := range map[string]*Detector{
		"lsh":     NewDetector(Config{}),
		"jaccard": NewDetector(Config{}, WithJaccardBackend()),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, d.Add("doc-1", licenseText))

			res := d.Query(licenseText)
			assert.True(t, res.IsDuplicate)
			assert.Equal(t, "doc-1", res.MatchID)
			assert.InDelta(t, 1.0, res.Score, 0.01)
		})
	}
}

func TestDetector_NearDuplicate(t *testing.T) {
	d := NewDetector(Config{Threshold: 0.8}, WithJaccardBackend())
	require.NoError(t, d.Add("doc-1", licenseText))

	// One word swapped out of a long text stays above the threshold.
	near := strings.Replace(licenseText, "permissive", "liberal", 1)
	res := d.Query(near)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "doc-1", res.MatchID)

	distinct := "completely unrelated record about particle physics cross sections measured at the collider"
	res = d.Query(distinct)
	assert.False(t, res.IsDuplicate)
	assert.Empty(t, res.MatchID)
}

func TestDetector_BackendNames(t *testing.T) {
	assert.Equal(t, "minhash_lsh", NewDetector(Config{}).Query("x").Backend)
	assert.Equal(t, "jaccard", NewDetector(Config{}, WithJaccardBackend()).Query("x").Backend)
}

func TestDetector_StorePersistsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedupe.sqlite")

	store, err := OpenStore(path)
	require.NoError(t, err)
	first := NewDetector(Config{}, WithJaccardBackend(), WithStore(store))
	require.NoError(t, first.Add("doc-1", licenseText))
	require.NoError(t, store.Close())

	store, err = OpenStore(path)
	require.NoError(t, err)
	defer store.Close()
	second := NewDetector(Config{}, WithJaccardBackend(), WithStore(store))
	require.NoError(t, second.LoadStore())

	res := second.Query(licenseText)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "doc-1", res.MatchID)
}

// Identical texts are always duplicates of themselves, whatever the corpus.
func TestDetector_SelfDuplicateProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("query(t) after add(t) is a duplicate", prop.ForAll(
		func(words []string) bool {
			if len(words) < 5 {
				return true
			}
			text := strings.Join(words, " ")
			d := NewDetector(Config{}, WithJaccardBackend())
			if err := d.Add("self", text); err != nil {
				return false
			}
			return d.Query(text).IsDuplicate
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}

func TestJaccard(t *testing.T) {
	set := func(words ...string) map[string]bool {
		s := map[string]bool{}
		for _, w := range words {
			s[w] = true
		}
		return s
	}
	assert.Equal(t, 1.0, jaccard(set("a", "b"), set("a", "b")))
	assert.Equal(t, 0.0, jaccard(set("a"), set("b")))
	assert.InDelta(t, 1.0/3.0, jaccard(set("a", "b"), set("b", "c")), 1e-9)
	assert.Equal(t, 0.0, jaccard(nil, nil))
}

func TestLSH_ScalesPastCandidateCap(t *testing.T) {
	d := NewDetector(Config{MaxCandidates: 5})
	for i := 0; i < 50; i++ {
		require.NoError(t, d.Add(fmt.Sprintf("doc-%d", i),
			fmt.Sprintf("record number %d about topic %d with shared boilerplate text fragment", i, i%7)))
	}
	require.NoError(t, d.Add("needle", licenseText))
	res := d.Query(licenseText)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "needle", res.MatchID)
}
