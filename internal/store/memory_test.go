package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-city-sync/internal/weather"
)

func TestMemoryStoreStagesUntilCommit(t *testing.T) {
	ctx := context.Background()
	paris := weather.NewCity("Paris", "FR", 48.85, 2.35)
	s := NewMemoryStore(paris)

	cities, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, cities, 1)
	assert.Equal(t, "Paris", cities[0].Name)

	temp := 10.0
	cities[0].Temperature = &temp
	s.Insert(weather.NewCity("Rome", "IT", 41.9, 12.5))

	// Working set sees staged changes; committed state does not.
	working, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, working, 2)
	assert.Same(t, cities[0], working[0])
	committed := s.Committed()
	require.Len(t, committed, 1)
	assert.Nil(t, committed[0].Temperature)

	require.NoError(t, s.Commit(ctx))
	committed = s.Committed()
	require.Len(t, committed, 2)
	require.NotNil(t, committed[0].Temperature)
	assert.Equal(t, 10.0, *committed[0].Temperature)
	assert.Equal(t, "Rome", committed[1].Name)
	assert.Equal(t, 1, s.Commits())
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	paris := weather.NewCity("Paris", "FR", 48.85, 2.35)
	rome := weather.NewCity("Rome", "IT", 41.9, 12.5)
	s := NewMemoryStore(paris, rome)

	require.NoError(t, s.Delete(paris.ID))
	assert.ErrorIs(t, s.Delete("missing"), ErrNotFound)
	assert.Len(t, s.Committed(), 2)

	require.NoError(t, s.Commit(ctx))
	committed := s.Committed()
	require.Len(t, committed, 1)
	assert.Equal(t, rome.ID, committed[0].ID)
}

func TestMemoryStoreFavorites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ids, err := s.FavoriteIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	input := []int{2643743, 5128581}
	require.NoError(t, s.SaveFavoriteIDs(ctx, input))
	input[0] = 0

	ids, err = s.FavoriteIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2643743, 5128581}, ids)
}
