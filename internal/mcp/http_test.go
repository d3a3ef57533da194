package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcHandler(t *testing.T, handle func(method string, params json.RawMessage) (any, *rpcError)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func initResult() any {
	return InitializeResponse{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		ServerInfo:      &Implementation{Name: "test-server", Version: "1.0"},
	}
}

func TestSSEClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(method string, params json.RawMessage) (any, *rpcError) {
		switch method {
		case "initialize":
			return initResult(), nil
		case "tools/list":
			return toolsListResult{Tools: []Tool{
				{Name: "add", Description: "adds numbers", InputSchema: json.RawMessage(`{"type":"object"}`)},
			}}, nil
		case "tools/call":
			var req ToolCallRequest
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, &rpcError{Code: -32602, Message: "bad params"}
			}
			return ToolCallResponse{Content: []Content{TextContent(fmt.Sprintf("called %s", req.Name))}}, nil
		case "prompts/list":
			return promptsListResult{Prompts: []Prompt{{Name: "style", Description: "persona"}}}, nil
		case "prompts/get":
			return GetPromptResponse{Messages: []PromptMessage{{Role: "user", Content: TextContent("be brief")}}}, nil
		default:
			return nil, &rpcError{Code: -32601, Message: "method not found"}
		}
	}))
	defer srv.Close()

	c, err := New(config.MCPServerConfig{Name: "remote", Transport: "sse", URL: srv.URL})
	require.NoError(t, err)
	defer c.Close()

	initResp, err := c.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-server", initResp.ServerInfo.Name)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].Name)

	callResp, err := c.CallTool(context.Background(), ToolCallRequest{Name: "add", Arguments: map[string]interface{}{"a": 1}})
	require.NoError(t, err)
	require.Len(t, callResp.Content, 1)
	assert.Equal(t, "called add", callResp.Content[0].Text)
	assert.False(t, callResp.IsError)

	prompts, err := c.ListPrompts(context.Background())
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "style", prompts[0].Name)

	prompt, err := c.GetPrompt(context.Background(), GetPromptRequest{Name: "style"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "be brief", prompt.Messages[0].Content.Text)
}

func TestCallBeforeInitialize(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return initResult(), nil
	}))
	defer srv.Close()

	c, err := New(config.MCPServerConfig{Name: "remote", Transport: "sse", URL: srv.URL})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ListTools(context.Background())
	assert.ErrorIs(t, err, jerrors.ErrProtocol)
}

func TestServerErrorMember(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(method string, params json.RawMessage) (any, *rpcError) {
		if method == "initialize" {
			return initResult(), nil
		}
		return nil, &rpcError{Code: -32000, Message: "tool exploded"}
	}))
	defer srv.Close()

	c, err := New(config.MCPServerConfig{Name: "remote", Transport: "sse", URL: srv.URL})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Initialize(context.Background())
	require.NoError(t, err)

	_, err = c.CallTool(context.Background(), ToolCallRequest{Name: "boom"})
	assert.ErrorIs(t, err, jerrors.ErrProtocol)
	assert.Contains(t, err.Error(), "tool exploded")
}

func TestMissingResultIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1}`)
	}))
	defer srv.Close()

	c, err := New(config.MCPServerConfig{Name: "remote", Transport: "sse", URL: srv.URL})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Initialize(context.Background())
	assert.ErrorIs(t, err, jerrors.ErrProtocol)
}

func TestHTTPStatusErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(config.MCPServerConfig{Name: "remote", Transport: "sse", URL: srv.URL})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Initialize(context.Background())
	assert.ErrorIs(t, err, jerrors.ErrTransport)
}

func TestStreamableHTTPSessionPersistence(t *testing.T) {
	var sessionSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionSeen = append(sessionSeen, r.Header.Get("Mcp-Session-Id"))

		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Method == "initialize" {
			w.Header().Set("Mcp-Session-Id", "sess-42")
		}

		var result any
		switch req.Method {
		case "initialize":
			result = initResult()
		case "tools/list":
			result = toolsListResult{Tools: []Tool{{Name: "echo"}}}
		default:
			result = map[string]any{}
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID, "result": result,
		}))
	}))
	defer srv.Close()

	c, err := New(config.MCPServerConfig{Name: "remote", Transport: "streamable_http", URL: srv.URL})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Initialize(context.Background())
	require.NoError(t, err)

	_, err = c.ListTools(context.Background())
	require.NoError(t, err)

	require.Len(t, sessionSeen, 2)
	assert.Empty(t, sessionSeen[0])
	assert.Equal(t, "sess-42", sessionSeen[1])
}

func TestStreamableHTTPEventStreamResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "text/event-stream")
		body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": initResult()})
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
	}))
	defer srv.Close()

	c, err := New(config.MCPServerConfig{Name: "remote", Transport: "streamable_http", URL: srv.URL})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProtocolVersion, resp.ProtocolVersion)
}

func TestCustomHeadersForwarded(t *testing.T) {
	var auth string
	srv := httptest.NewServer(rpcHandler(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return initResult(), nil
	}))
	wrapped := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		srv.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()
	defer wrapped.Close()

	c, err := New(config.MCPServerConfig{
		Name:      "remote",
		Transport: "sse",
		URL:       wrapped.URL,
		Headers:   map[string]string{"Authorization": "Bearer tok"},
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.MCPServerConfig{Name: "x", Transport: "sse"})
	assert.ErrorIs(t, err, jerrors.ErrConfig)

	_, err = New(config.MCPServerConfig{Name: "x", Transport: "streamable_http"})
	assert.ErrorIs(t, err, jerrors.ErrConfig)

	_, err = New(config.MCPServerConfig{Name: "x", Transport: "carrier-pigeon", URL: "http://localhost"})
	assert.ErrorIs(t, err, jerrors.ErrConfig)

	_, err = New(config.MCPServerConfig{Name: "x", Transport: "stdio"})
	assert.ErrorIs(t, err, jerrors.ErrConfig)
}
