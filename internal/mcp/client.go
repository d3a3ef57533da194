package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"
)

const clientName = "jeeves"
const clientVersion = "0.1.0"

// Client talks to one MCP tool server. Initialize must succeed before any
// other call.
type Client interface {
	Name() string
	Initialize(ctx context.Context) (*InitializeResponse, error)
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)
	GetPrompt(ctx context.Context, req GetPromptRequest) (*GetPromptResponse, error)
	Close() error
}

// transport carries one JSON-RPC exchange. Implementations are stdio,
// HTTP/SSE, and streamable-HTTP.
type transport interface {
	send(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	close() error
}

type client struct {
	name      string
	transport transport
	timeout   time.Duration

	mu          sync.Mutex
	initialized bool
}

// New builds a client for the given server configuration. The transport
// field selects the wiring; the connection is not dialed until Initialize.
func New(cfg config.MCPServerConfig) (Client, error) {
	timeout, err := config.DurationOrDefault(cfg.RequestTimeout, config.DefaultMCPRequestTimeout)
	if err != nil {
		return nil, jerrors.Config("mcp server %s: invalid request_timeout: %v", cfg.Name, err)
	}

	var tr transport
	switch cfg.Transport {
	case "stdio", "":
		tr, err = newStdioTransport(cfg)
	case "sse":
		tr, err = newSSETransport(cfg)
	case "streamable_http":
		tr, err = newStreamableHTTPTransport(cfg)
	default:
		return nil, jerrors.Config("mcp server %s: unknown transport %q", cfg.Name, cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	return &client{name: cfg.Name, transport: tr, timeout: timeout}, nil
}

func (c *client) Name() string {
	return c.name
}

func (c *client) Initialize(ctx context.Context) (*InitializeResponse, error) {
	req := InitializeRequest{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{Roots: &RootsCapability{ListChanged: false}},
		ClientInfo:      Implementation{Name: clientName, Version: clientVersion},
	}

	var resp InitializeResponse
	if err := c.call(ctx, "initialize", req, &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	return &resp, nil
}

func (c *client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}

	var result toolsListResult
	if err := c.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (c *client) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}

	var resp ToolCallResponse
	if err := c.call(ctx, "tools/call", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}

	var result promptsListResult
	if err := c.call(ctx, "prompts/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

func (c *client) GetPrompt(ctx context.Context, req GetPromptRequest) (*GetPromptResponse, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}

	var resp GetPromptResponse
	if err := c.call(ctx, "prompts/get", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) Close() error {
	return c.transport.close()
}

func (c *client) requireInitialized() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return jerrors.Protocol(nil, "client %s not initialized", c.name)
	}
	return nil
}

func (c *client) call(ctx context.Context, method string, params, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := c.transport.send(ctx, method, params)
	if err != nil {
		return jerrors.Wrapf(err, "%s %s", c.name, method)
	}

	if err := json.Unmarshal(result, out); err != nil {
		return jerrors.Protocol(err, "%s %s: decode result", c.name, method)
	}
	return nil
}
