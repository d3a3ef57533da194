package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"
)

// sseTransport issues one HTTP POST per JSON-RPC call. The server may
// answer with a plain JSON body or a text/event-stream carrying the
// response in data lines.
type sseTransport struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	nextID  atomic.Int64
}

func newSSETransport(cfg config.MCPServerConfig) (*sseTransport, error) {
	if cfg.URL == "" {
		return nil, jerrors.Config("mcp server %s: sse transport requires url", cfg.Name)
	}
	return &sseTransport{
		name:    cfg.Name,
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{},
	}, nil
}

func (t *sseTransport) send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	resp, err := postRPC(ctx, t.client, t.url, t.headers, nil, t.nextID.Add(1), method, params)
	if err != nil {
		return nil, err
	}
	return resultOf(resp)
}

func (t *sseTransport) close() error {
	t.client.CloseIdleConnections()
	return nil
}

// postRPC performs one JSON-RPC exchange over HTTP and decodes the reply,
// which may arrive as application/json or text/event-stream. When
// sessionHeader is non-nil, a session id is attached to the request and
// refreshed from the response.
func postRPC(ctx context.Context, client *http.Client, url string, headers map[string]string, sessionHeader *atomic.Value, id int64, method string, params interface{}) (*rpcResponse, error) {
	payload, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return nil, jerrors.Internal("encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, jerrors.Transport(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if sessionHeader != nil {
		if session, _ := sessionHeader.Load().(string); session != "" {
			req.Header.Set("Mcp-Session-Id", session)
		}
	}

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, jerrors.Transport(err, "send request")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, jerrors.Transport(nil, "unexpected status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	if sessionHeader != nil {
		if session := httpResp.Header.Get("Mcp-Session-Id"); session != "" {
			sessionHeader.Store(session)
		}
	}

	contentType := httpResp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		return decodeEventStream(httpResp.Body)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, jerrors.Transport(err, "read response body")
	}
	return decodeResponse(body)
}
