package memory

import (
	"context"
	"testing"

	"github.com/soratobu/jeeves/internal/config"
	"github.com/soratobu/jeeves/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRouter hands out fixed unit vectors so similarity ordering is
// deterministic without a real embedding model.
type stubRouter struct {
	vectors map[string][]float32
}

func (s *stubRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return &contract.CompletionResponse{}, nil
}

func (s *stubRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubRouter) ListModels() []string { return nil }

func (s *stubRouter) Health(ctx context.Context) error { return nil }

func TestRecallEmptyStore(t *testing.T) {
	m, err := NewManager(config.MemoryConfig{}, &stubRouter{}, "embed")
	require.NoError(t, err)

	facts, err := m.Recall(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestRememberThenRecall(t *testing.T) {
	router := &stubRouter{vectors: map[string][]float32{
		"User: what is the capital of France?\nAssistant: Paris.": {1, 0, 0},
		"User: favourite color?\nAssistant: Blue.":                {0, 1, 0},
		"capital city question":                                   {1, 0, 0},
	}}

	m, err := NewManager(config.MemoryConfig{TopK: 1}, router, "embed")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Remember(ctx, "s1", "what is the capital of France?", "Paris."))
	require.NoError(t, m.Remember(ctx, "s1", "favourite color?", "Blue."))

	facts, err := m.Recall(ctx, "capital city question")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Contains(t, facts[0], "Paris")
}

func TestRecallFiltersLowSimilarity(t *testing.T) {
	router := &stubRouter{vectors: map[string][]float32{
		"User: a\nAssistant: b": {0, 1, 0},
		"orthogonal query":      {1, 0, 0},
	}}

	m, err := NewManager(config.MemoryConfig{TopK: 5, MinSimilarity: 0.5}, router, "embed")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Remember(ctx, "s1", "a", "b"))

	facts, err := m.Recall(ctx, "orthogonal query")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestPersistentStore(t *testing.T) {
	dir := t.TempDir()
	router := &stubRouter{}

	m, err := NewManager(config.MemoryConfig{Path: dir}, router, "embed")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Remember(ctx, "s1", "hello", "world"))

	m2, err := NewManager(config.MemoryConfig{Path: dir, TopK: 1}, router, "embed")
	require.NoError(t, err)

	facts, err := m2.Recall(ctx, "hello")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Contains(t, facts[0], "world")
}
