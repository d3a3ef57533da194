package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/soratobu/jeeves/internal/mcp"
	"github.com/soratobu/jeeves/internal/model/contract"
)

// ToolRouter aggregates the tool catalogs of every configured tool server
// into one name-to-connection map. It is built once at start-up and is
// read-mostly afterwards; the only supported mutation is an explicit
// connection removal.
type ToolRouter struct {
	mu        sync.RWMutex
	conns     map[string]mcp.Client
	routes    map[string]string // tool name -> connection name
	tools     []contract.ToolDef
	fragments []string
}

// BuildToolRouter initializes every client and merges its catalog. A
// connection that fails handshake or catalog listing is excluded with a
// warning; the router still starts with the remaining connections. Name
// collisions resolve to the connection registered last.
func BuildToolRouter(ctx context.Context, clients []mcp.Client) *ToolRouter {
	r := &ToolRouter{
		conns:  make(map[string]mcp.Client),
		routes: make(map[string]string),
	}

	for _, client := range clients {
		name := client.Name()

		initResp, err := client.Initialize(ctx)
		if err != nil {
			slog.Warn("Tool server handshake failed, excluding connection", "connection", name, "error", err)
			_ = client.Close()
			continue
		}

		tools, err := client.ListTools(ctx)
		if err != nil {
			slog.Warn("Tool catalog listing failed, excluding connection", "connection", name, "error", err)
			_ = client.Close()
			continue
		}

		if previous, ok := r.conns[name]; ok {
			slog.Warn("Connection name collision, last registration wins", "connection", name)
			_ = previous.Close()
		}
		r.conns[name] = client
		for _, tool := range tools {
			if existing, ok := r.routes[tool.Name]; ok {
				slog.Warn("Tool name collision, last registration wins",
					"tool", tool.Name, "previous", existing, "winner", name)
				r.replaceTool(tool)
			} else {
				r.tools = append(r.tools, toToolDef(tool))
			}
			r.routes[tool.Name] = name
		}

		if initResp.Capabilities.Prompts != nil {
			r.fragments = append(r.fragments, discoverPromptFragments(ctx, client)...)
		}

		slog.Info("Tool server registered", "connection", name, "tools", len(tools))
	}

	return r
}

// discoverPromptFragments fetches every zero-argument prompt whose first
// assistant-authored message is plain text. These become system-prompt
// fragments appended after the configured base prompt.
func discoverPromptFragments(ctx context.Context, client mcp.Client) []string {
	prompts, err := client.ListPrompts(ctx)
	if err != nil {
		slog.Warn("Prompt listing failed, skipping prompt discovery", "connection", client.Name(), "error", err)
		return nil
	}

	var fragments []string
	for _, prompt := range prompts {
		if len(prompt.Arguments) > 0 {
			continue
		}

		resp, err := client.GetPrompt(ctx, mcp.GetPromptRequest{Name: prompt.Name})
		if err != nil {
			slog.Warn("Prompt fetch failed", "connection", client.Name(), "prompt", prompt.Name, "error", err)
			continue
		}

		for _, msg := range resp.Messages {
			if msg.Role == "assistant" && msg.Content.Type == "text" && msg.Content.Text != "" {
				fragments = append(fragments, msg.Content.Text)
				break
			}
		}
	}
	return fragments
}

func toToolDef(tool mcp.Tool) contract.ToolDef {
	def := contract.ToolDef{Name: tool.Name, Description: tool.Description}
	if len(tool.InputSchema) > 0 {
		var params map[string]interface{}
		if err := json.Unmarshal(tool.InputSchema, &params); err == nil {
			def.Parameters = params
		}
	}
	return def
}

func (r *ToolRouter) replaceTool(tool mcp.Tool) {
	for i := range r.tools {
		if r.tools[i].Name == tool.Name {
			r.tools[i] = toToolDef(tool)
			return
		}
	}
	r.tools = append(r.tools, toToolDef(tool))
}

// Tools returns the aggregated catalog in registration order.
func (r *ToolRouter) Tools() []contract.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contract.ToolDef, len(r.tools))
	copy(out, r.tools)
	return out
}

// SystemPromptFragments returns the prompt texts discovered at start-up,
// in discovery order.
func (r *ToolRouter) SystemPromptFragments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.fragments))
	copy(out, r.fragments)
	return out
}

// Resolve maps a tool name to its connection name.
func (r *ToolRouter) Resolve(toolName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.routes[toolName]
	return conn, ok
}

// Execute dispatches a tool call and always returns a result: routing
// misses and transport failures come back as is_error text results so the
// conversation can continue.
func (r *ToolRouter) Execute(ctx context.Context, toolName, argumentsJSON string) mcp.ToolCallResponse {
	r.mu.RLock()
	connName, routed := r.routes[toolName]
	var client mcp.Client
	if routed {
		client = r.conns[connName]
	}
	available := r.availableNamesLocked()
	r.mu.RUnlock()

	if !routed {
		return errorResult("no client mapping for tool '%s'; available: %s", toolName, available)
	}
	if client == nil {
		return errorResult("connection '%s' for tool '%s' is no longer available", connName, toolName)
	}

	var args map[string]interface{}
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return errorResult("invalid arguments for tool '%s': %v", toolName, err)
		}
	}

	resp, err := client.CallTool(ctx, mcp.ToolCallRequest{Name: toolName, Arguments: args})
	if err != nil {
		slog.Warn("Tool call failed", "tool", toolName, "connection", connName, "error", err)
		return errorResult("tool '%s' failed: %v", toolName, err)
	}
	return *resp
}

func (r *ToolRouter) availableNamesLocked() string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func errorResult(format string, args ...interface{}) mcp.ToolCallResponse {
	return mcp.ToolCallResponse{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent(fmt.Sprintf(format, args...))},
	}
}

// Remove closes and detaches a connection. Routes pointing at it are kept
// so later calls degrade to an is_error result naming the connection.
func (r *ToolRouter) Remove(connName string) {
	r.mu.Lock()
	client, ok := r.conns[connName]
	delete(r.conns, connName)
	r.mu.Unlock()

	if ok {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close tool server connection", "connection", connName, "error", err)
		}
	}
}

// Close shuts down every remaining connection.
func (r *ToolRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, client := range r.conns {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close tool server connection", "connection", name, "error", err)
		}
	}
	r.conns = make(map[string]mcp.Client)
}
