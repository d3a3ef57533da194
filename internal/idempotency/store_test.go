package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndMark(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "processed.json"))
	require.NoError(t, err)

	assert.False(t, store.CheckAndMark("evt-1", time.Hour))
	assert.True(t, store.CheckAndMark("evt-1", time.Hour))
	assert.False(t, store.CheckAndMark("evt-2", time.Hour))
}

func TestExpiredKeyCanBeReprocessed(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "processed.json"))
	require.NoError(t, err)

	assert.False(t, store.CheckAndMark("evt-1", -time.Second))
	assert.False(t, store.CheckAndMark("evt-1", time.Hour))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")

	store, err := NewStore(path)
	require.NoError(t, err)
	store.CheckAndMark("evt-1", time.Hour)
	require.NoError(t, store.Save())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	assert.True(t, reopened.CheckAndMark("evt-1", time.Hour))
}

func TestPruneRemovesOnlyExpired(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "processed.json"))
	require.NoError(t, err)

	store.CheckAndMark("old", -time.Minute)
	store.CheckAndMark("fresh", time.Hour)

	assert.Equal(t, 1, store.Prune())
	assert.True(t, store.CheckAndMark("fresh", time.Hour))
	assert.False(t, store.CheckAndMark("old", time.Hour))
}
