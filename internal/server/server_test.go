package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"
)

type stubProcessor struct {
	lastSession string
	lastInput   string
	output      string
	err         error
}

func (s *stubProcessor) Process(_ context.Context, sessionID, input string) (string, error) {
	s.lastSession = sessionID
	s.lastInput = input
	return s.output, s.err
}

func newTestServer(t *testing.T, p Processor) *httptest.Server {
	t.Helper()
	srv, err := New(config.ServerConfig{Port: 0}, p)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestInferenceRoundTrip(t *testing.T) {
	proc := &stubProcessor{output: "the answer"}
	ts := newTestServer(t, proc)

	resp, body := postJSON(t, ts.URL+"/", `{"session_id": "sess-1", "input": "hello"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sess-1", body["session_id"])
	assert.Equal(t, "the answer", body["output"])
	assert.Equal(t, "sess-1", proc.lastSession)
	assert.Equal(t, "hello", proc.lastInput)
}

func TestInferenceGeneratesSessionID(t *testing.T) {
	proc := &stubProcessor{output: "ok"}
	ts := newTestServer(t, proc)

	resp, body := postJSON(t, ts.URL+"/", `{"input": "hello"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, body["session_id"], proc.lastSession)
}

func TestInferenceRejectsEmptyInput(t *testing.T) {
	ts := newTestServer(t, &stubProcessor{})

	resp, body := postJSON(t, ts.URL+"/", `{"input": "  "}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "input is required", body["error"])
}

func TestInferenceRejectsTraversalSessionID(t *testing.T) {
	proc := &stubProcessor{}
	ts := newTestServer(t, proc)

	resp, body := postJSON(t, ts.URL+"/", `{"session_id": "../../somewhere/x", "input": "hello"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid session_id", body["error"])
	assert.Empty(t, proc.lastInput)
}

func TestInferenceRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, &stubProcessor{})

	resp, body := postJSON(t, ts.URL+"/", `{"input": `)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", body["error"])
}

func TestInferenceRejectsWrongMethod(t *testing.T) {
	ts := newTestServer(t, &stubProcessor{})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestInferenceErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"max turns", &jerrors.MaxTurnsError{MaxTurns: 5}, http.StatusUnprocessableEntity},
		{"not found", jerrors.NotFound("model 'x' not registered"), http.StatusNotFound},
		{"transport", jerrors.Transport(nil, "upstream unreachable"), http.StatusBadGateway},
		{"internal", jerrors.Internal("driver iteration limit exceeded"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &stubProcessor{err: tc.err})

			resp, body := postJSON(t, ts.URL+"/", `{"input": "hello"}`)

			assert.Equal(t, tc.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubProcessor{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestUnknownPathReturnsNotFound(t *testing.T) {
	ts := newTestServer(t, &stubProcessor{})

	resp, body := postJSON(t, ts.URL+"/nope", `{"input": "hello"}`)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", body["error"])
}

func TestBadTimeoutConfigRejected(t *testing.T) {
	_, err := New(config.ServerConfig{Port: 0, ReadTimeout: "soon"}, &stubProcessor{})
	assert.ErrorIs(t, err, jerrors.ErrConfig)
}
