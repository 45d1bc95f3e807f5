package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFixture = `
branches:
  - id: austin-tx
    city: Austin
    state: TX
  - id: tulsa-ok
    city: Tulsa
    state: OK
feeds:
  - branch: austin-tx
    url: https://news.example/rss
    title: City news
`

func TestParseFixture(t *testing.T) {
	fx, err := parseFixture(strings.NewReader(sampleFixture))
	require.NoError(t, err)
	require.Len(t, fx.Branches, 2)
	assert.Equal(t, "Tulsa", fx.Branches[1].City)
	require.Len(t, fx.Feeds, 1)
	assert.Equal(t, "City news", fx.Feeds[0].Title)

	_, err = parseFixture(strings.NewReader("branches:\n  - id: x\n    city: X\n"))
	assert.ErrorContains(t, err, "branch 1")

	_, err = parseFixture(strings.NewReader("regions: []\n"))
	assert.Error(t, err, "unknown keys are rejected")

	empty, err := parseFixture(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.Branches)
}

func TestApplyFixtureIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store, err := database.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	fx, err := parseFixture(strings.NewReader(sampleFixture))
	require.NoError(t, err)

	res, err := applyFixture(ctx, store, fx)
	require.NoError(t, err)
	assert.Equal(t, seedResult{Branches: 2, Feeds: 1}, res)

	res, err = applyFixture(ctx, store, fx)
	require.NoError(t, err)
	assert.Equal(t, seedResult{}, res)

	branches, err := store.ListBranches(ctx, "")
	require.NoError(t, err)
	assert.Len(t, branches, 2)
}

func TestApplyFixtureRejectsUnknownFeedBranch(t *testing.T) {
	ctx := context.Background()
	store, err := database.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	fx, err := parseFixture(strings.NewReader("feeds:\n  - branch: nowhere\n    url: https://x.example/rss\n"))
	require.NoError(t, err)
	_, err = applyFixture(ctx, store, fx)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
