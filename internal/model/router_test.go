package model

import (
	"context"
	"errors"
	"testing"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"
	"github.com/soratobu/jeeves/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name      string
	resp      *contract.CompletionResponse
	err       error
	embedding []float32
	embedErr  error
	calls     int
}

func (f *fakeProvider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	f.calls++
	return f.resp, f.err
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.embedding, f.embedErr
}

func (f *fakeProvider) Name() string                    { return f.name }
func (f *fakeProvider) Type() string                    { return "fake" }
func (f *fakeProvider) Health(ctx context.Context) error { return nil }

func newTestRouter(cfg config.ModelsConfig, providers map[string]Provider) *DefaultModelRouter {
	return &DefaultModelRouter{cfg: cfg, providers: providers}
}

func TestRouteDispatchesToRegisteredModel(t *testing.T) {
	primary := &fakeProvider{name: "primary", resp: &contract.CompletionResponse{Content: "hello"}}
	r := newTestRouter(config.ModelsConfig{}, map[string]Provider{"primary": primary})

	resp, err := r.Route(context.Background(), "primary", contract.CompletionRequest{Model: "primary"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, primary.calls)
}

func TestRouteUnknownModelWithoutFallback(t *testing.T) {
	r := newTestRouter(config.ModelsConfig{}, map[string]Provider{})

	_, err := r.Route(context.Background(), "missing", contract.CompletionRequest{})
	assert.ErrorIs(t, err, jerrors.ErrNotFound)
}

func TestRouteFallsBackOnFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("boom")}
	backup := &fakeProvider{name: "backup", resp: &contract.CompletionResponse{Content: "rescued"}}
	cfg := config.ModelsConfig{Fallback: "backup", MaxFallbackAttempts: 2}
	r := newTestRouter(cfg, map[string]Provider{"primary": primary, "backup": backup})

	resp, err := r.Route(context.Background(), "primary", contract.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "rescued", resp.Content)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestRouteFallbackAlsoFails(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("boom")}
	backup := &fakeProvider{name: "backup", err: errors.New("also boom")}
	cfg := config.ModelsConfig{Fallback: "backup", MaxFallbackAttempts: 2}
	r := newTestRouter(cfg, map[string]Provider{"primary": primary, "backup": backup})

	_, err := r.Route(context.Background(), "primary", contract.CompletionRequest{})
	assert.ErrorIs(t, err, jerrors.ErrTransport)
}

func TestRouteEmbeddingSkipsUnsupportedProviders(t *testing.T) {
	noEmbed := &fakeProvider{name: "a", embedErr: errors.New("embedding not supported by provider")}
	withEmbed := &fakeProvider{name: "b", embedding: []float32{0.1, 0.2}}
	r := newTestRouter(config.ModelsConfig{}, map[string]Provider{"a": noEmbed, "b": withEmbed})

	vec, err := r.RouteEmbedding(context.Background(), "a", "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
}

func TestRouteEmbeddingNoCapableModel(t *testing.T) {
	noEmbed := &fakeProvider{name: "a", embedErr: errors.New("embedding not supported by provider")}
	r := newTestRouter(config.ModelsConfig{}, map[string]Provider{"a": noEmbed})

	_, err := r.RouteEmbedding(context.Background(), "a", "text")
	assert.ErrorIs(t, err, jerrors.ErrNotFound)
}

func TestListModels(t *testing.T) {
	r := newTestRouter(config.ModelsConfig{}, map[string]Provider{
		"one": &fakeProvider{name: "one"},
		"two": &fakeProvider{name: "two"},
	})
	assert.ElementsMatch(t, []string{"one", "two"}, r.ListModels())
}

func TestInitProvidersSkipsBrokenEntries(t *testing.T) {
	cfg := config.ModelsConfig{
		Registry: []config.ModelRegistry{
			{Name: "good-local", Provider: "ollama"},
			{Name: "broken", Provider: "nonexistent"},
		},
	}
	r, err := NewModelRouter(cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"good-local"}, r.ListModels())
}

func TestInitProvidersAllBroken(t *testing.T) {
	cfg := config.ModelsConfig{
		Registry: []config.ModelRegistry{
			{Name: "broken", Provider: "nonexistent"},
		},
	}
	_, err := NewModelRouter(cfg)
	assert.ErrorIs(t, err, jerrors.ErrInternal)
}
