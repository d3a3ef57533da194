package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"
)

// streamableHTTPTransport is the single-endpoint HTTP transport. The
// server assigns a session during initialize via the Mcp-Session-Id
// response header; every subsequent request echoes it back.
type streamableHTTPTransport struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	session atomic.Value
	nextID  atomic.Int64
}

func newStreamableHTTPTransport(cfg config.MCPServerConfig) (*streamableHTTPTransport, error) {
	if cfg.URL == "" {
		return nil, jerrors.Config("mcp server %s: streamable_http transport requires url", cfg.Name)
	}
	return &streamableHTTPTransport{
		name:    cfg.Name,
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{},
	}, nil
}

func (t *streamableHTTPTransport) send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	resp, err := postRPC(ctx, t.client, t.url, t.headers, &t.session, t.nextID.Add(1), method, params)
	if err != nil {
		return nil, err
	}
	return resultOf(resp)
}

func (t *streamableHTTPTransport) close() error {
	t.client.CloseIdleConnections()
	return nil
}
