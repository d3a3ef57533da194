package main

import (
	"context"
	"log/slog"

	"github.com/soratobu/jeeves/internal/agent"
	"github.com/soratobu/jeeves/internal/config"
	"github.com/soratobu/jeeves/internal/errors"
	"github.com/soratobu/jeeves/internal/history"
	"github.com/soratobu/jeeves/internal/mcp"
	"github.com/soratobu/jeeves/internal/memory"
	"github.com/soratobu/jeeves/internal/model"
)

// runtime bundles everything a command needs to serve requests.
type runtime struct {
	executor *agent.Executor
	tools    *agent.ToolRouter
	store    history.Store
}

func (r *runtime) Close() {
	r.tools.Close()
	if err := r.store.Close(); err != nil {
		slog.Warn("Failed to close history store", "error", err)
	}
}

// buildRuntime assembles the model router, tool connections, history store,
// optional semantic memory, and the executor on top of them.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	modelRouter, err := model.NewModelRouter(cfg.Models)
	if err != nil {
		return nil, errors.Wrap(err, "init model router")
	}

	clients := make([]mcp.Client, 0, len(cfg.MCPServers))
	for _, serverCfg := range cfg.MCPServers {
		client, err := mcp.New(serverCfg)
		if err != nil {
			slog.Warn("Skipping misconfigured tool server", "connection", serverCfg.Name, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	tools := agent.BuildToolRouter(ctx, clients)

	store := history.NewStore(cfg.History)

	llmTimeout, err := config.DurationOrDefault(cfg.Agent.LLMTimeout, config.DefaultAgentLLMTimeout)
	if err != nil {
		return nil, errors.Config("parse agent llm_timeout: %v", err)
	}
	toolTimeout, err := config.DurationOrDefault(cfg.Agent.ToolTimeout, config.DefaultAgentToolTimeout)
	if err != nil {
		return nil, errors.Config("parse agent tool_timeout: %v", err)
	}

	opts := agent.Options{
		SystemPrompt:         cfg.Agent.SystemPrompt,
		MaxTurns:             cfg.Agent.MaxTurns,
		DriverIterationLimit: cfg.Agent.DriverIterationLimit,
		LLMTimeout:           llmTimeout,
		ToolTimeout:          toolTimeout,
	}

	if cfg.Memory.Enabled {
		recall, err := memory.NewManager(cfg.Memory, modelRouter, cfg.Models.Embedding)
		if err != nil {
			slog.Warn("Semantic memory unavailable, continuing without it", "error", err)
		} else {
			opts.Recall = recall
		}
	}

	llm := agent.NewRoutedLLM(modelRouter, cfg.Models.Default)
	executor := agent.NewExecutor(llm, tools, store, opts)

	return &runtime{executor: executor, tools: tools, store: store}, nil
}
