package agent

import (
	"context"

	"github.com/soratobu/jeeves/internal/model"
	"github.com/soratobu/jeeves/internal/model/contract"
)

// RoutedLLM binds the model router and a default model name to the LLM
// interface consumed by the executor.
type RoutedLLM struct {
	router model.ModelRouter
	model  string
}

func NewRoutedLLM(router model.ModelRouter, modelName string) *RoutedLLM {
	return &RoutedLLM{router: router, model: modelName}
}

func (l *RoutedLLM) Complete(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	req.Model = l.model
	return l.router.Route(ctx, l.model, req)
}
