package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	jerrors "github.com/soratobu/jeeves/internal/errors"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// isNotification reports whether the message is a server-initiated
// notification rather than a response to one of our requests.
func (r *rpcResponse) isNotification() bool {
	return r.ID == nil && r.Method != ""
}

func newRequest(id int64, method string, params interface{}) rpcRequest {
	return rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// resultOf validates a response envelope and returns its result payload.
// A present error member or a missing result is a protocol violation.
func resultOf(resp *rpcResponse) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, jerrors.Protocol(resp.Error, "server returned error")
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, jerrors.Protocol(nil, "response missing result field")
	}
	return resp.Result, nil
}

// decodeEventStream extracts the JSON-RPC response carried in the data
// lines of a text/event-stream body. Servers may interleave multiple
// events; the first complete response envelope wins.
func decodeEventStream(body io.Reader) (*rpcResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		}
		if line != "" {
			continue
		}
		// Blank line ends an event.
		if data.Len() == 0 {
			continue
		}
		resp, err := decodeResponse([]byte(data.String()))
		if err != nil {
			return nil, err
		}
		if resp.isNotification() {
			data.Reset()
			continue
		}
		return resp, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, jerrors.Transport(err, "read event stream")
	}
	if data.Len() > 0 {
		resp, err := decodeResponse([]byte(data.String()))
		if err != nil {
			return nil, err
		}
		if !resp.isNotification() {
			return resp, nil
		}
	}
	return nil, jerrors.Protocol(nil, "event stream ended without a response")
}

func decodeResponse(raw []byte) (*rpcResponse, error) {
	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, jerrors.Protocol(err, "parse response")
	}
	return &resp, nil
}
