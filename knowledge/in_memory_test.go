package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat/core"
)

func TestBase_AddGet(t *testing.T) {
	b := NewBase()
	b.Add(Entry{Name: "Shadow", Description: "first"})
	b.Add(Entry{Name: "shadow", Description: "second"})

	e, ok := b.Get("SHADOW")
	require.True(t, ok)
	assert.Equal(t, "second", e.Description)
	assert.Equal(t, 1, b.Len())

	_, ok = b.Get("missing")
	assert.False(t, ok)
}

func TestBase_ConceptsRankedAndLimited(t *testing.T) {
	b := NewSampleBase()

	concepts, err := b.Concepts(context.Background(), "What is the shadow archetype?", 3)
	require.NoError(t, err)
	require.NotEmpty(t, concepts)
	assert.LessOrEqual(t, len(concepts), 3)
	assert.Equal(t, "Shadow", concepts[0].Name)
}

func TestBase_ConceptsNoTerms(t *testing.T) {
	concepts, err := NewSampleBase().Concepts(context.Background(), "a ?", 3)
	require.NoError(t, err)
	assert.Empty(t, concepts)
}

func TestBase_QueryConfidence(t *testing.T) {
	b := NewBase()
	b.Add(Entry{Name: "Persona", Category: "Archetype", Description: "social mask", References: []core.Reference{{Title: "Two Essays"}}})

	results, err := b.Query(context.Background(), "persona mask dream", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Persona", results[0].Title)
	assert.Equal(t, []string{"Two Essays"}, results[0].References)
	assert.InDelta(t, 2.0/3.0, results[0].Confidence, 1e-9)
}

func TestBase_ReferencesDeduplicated(t *testing.T) {
	b := NewSampleBase()

	refs, err := b.References(context.Background(), "Meeting the Shadow is the first step of individuation.", 10)
	require.NoError(t, err)

	titles := make([]string, 0, len(refs))
	for _, r := range refs {
		titles = append(titles, r.Title)
	}
	assert.ElementsMatch(t, []string{
		"The Relations between the Ego and the Unconscious",
		"Psychology and Alchemy",
		"Aion",
	}, titles)

	limited, err := b.References(context.Background(), "shadow and individuation", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestBase_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSampleBase().Concepts(ctx, "shadow", 3)
	assert.ErrorIs(t, err, context.Canceled)
}
