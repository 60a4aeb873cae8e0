package exemplar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsmith/internal/types"
)

func TestSelectRanksByTagOverlap(t *testing.T) {
	sel := NewSelector(nil)
	req := types.GenerationRequest{
		Prompt: "when a webhook fires post a slack alert to the channel",
	}
	got := sel.Select(req, 1, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "ex-webhook-slack", got[0].ID)
}

func TestSelectDiversity(t *testing.T) {
	sel := NewSelector(nil)
	// Both notification exemplars overlap the prompt; diversity keeps one.
	req := types.GenerationRequest{
		Prompt: "webhook form email slack notify alert message autoresponder",
	}
	got := sel.Select(req, 1, 3)
	require.Len(t, got, 3)

	seen := map[string]int{}
	for _, ex := range got {
		seen[ex.Category]++
	}
	for cat, n := range seen {
		assert.Equal(t, 1, n, "category %q picked more than once", cat)
	}
}

func TestSelectDiversityRelaxedWhenFewCategories(t *testing.T) {
	corpus := []Exemplar{
		{ID: "a", Category: "notification", Bucket: 1, Tags: []string{"slack"}},
		{ID: "b", Category: "notification", Bucket: 1, Tags: []string{"email"}},
		{ID: "c", Category: "data-sync", Bucket: 2, Tags: []string{"sync"}},
	}
	sel := NewSelector(corpus)
	got := sel.Select(types.GenerationRequest{Prompt: "slack email sync"}, 1, 3)
	require.Len(t, got, 3)
}

func TestSelectBucketProximity(t *testing.T) {
	sel := NewSelector(nil)
	// No tag overlap at all: ranking falls back to bucket proximity.
	req := types.GenerationRequest{Prompt: "do the thing"}
	got := sel.Select(req, 3, 2)
	require.NotEmpty(t, got)
	assert.Equal(t, 3, got[0].Bucket)
}

func TestSelectStableTieBreak(t *testing.T) {
	sel := NewSelector(nil)
	req := types.GenerationRequest{Prompt: "do the thing"}
	first := sel.Select(req, 2, 3)
	second := sel.Select(req, 2, 3)
	assert.Equal(t, first, second)
}

func TestSelectHintsContribute(t *testing.T) {
	sel := NewSelector(nil)
	req := types.GenerationRequest{
		Prompt: "keep systems in agreement",
		Hints:  []string{"use sheets and hubspot", "dedupe rows"},
	}
	got := sel.Select(req, 2, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "ex-sheet-crm-sync", got[0].ID)
}

func TestSelectEmptyCorpus(t *testing.T) {
	sel := NewSelector([]Exemplar{})
	assert.Nil(t, sel.Select(types.GenerationRequest{Prompt: "anything"}, 1, 3))
}

func TestSelectZeroK(t *testing.T) {
	sel := NewSelector(nil)
	assert.Nil(t, sel.Select(types.GenerationRequest{Prompt: "anything"}, 1, 0))
}
