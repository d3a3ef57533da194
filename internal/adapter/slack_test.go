package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soratobu/jeeves/internal/config"
	"github.com/soratobu/jeeves/internal/idempotency"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func newTestDedupe(t *testing.T) *idempotency.Store {
	t.Helper()
	store, err := idempotency.NewStore(filepath.Join(t.TempDir(), "processed.json"))
	require.NoError(t, err)
	return store
}

type recordingProcessor struct {
	mu       sync.Mutex
	sessions []string
	inputs   []string
	output   string
}

func (p *recordingProcessor) Process(_ context.Context, sessionID, input string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, sessionID)
	p.inputs = append(p.inputs, input)
	return p.output, nil
}

func (p *recordingProcessor) calls() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sessions...), append([]string(nil), p.inputs...)
}

func signedRequest(t *testing.T, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)

	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func newSlackTestServer(t *testing.T, proc Processor) (*SlackAdapter, *httptest.Server) {
	t.Helper()
	a := NewSlackAdapter(config.SlackConfig{SigningSecret: testSigningSecret, BotToken: "xoxb-test"}, proc, newTestDedupe(t))
	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", a.handleEvents)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return a, ts
}

func TestSlackURLVerification(t *testing.T) {
	_, ts := newSlackTestServer(t, &recordingProcessor{})

	body := `{"type": "url_verification", "challenge": "abc123", "token": "tok"}`
	resp, err := http.DefaultClient.Do(signedRequest(t, ts.URL+"/slack/events", body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := make([]byte, 16)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "abc123", string(buf[:n]))
}

func TestSlackRejectsBadSignature(t *testing.T) {
	_, ts := newSlackTestServer(t, &recordingProcessor{})

	body := `{"type": "url_verification", "challenge": "abc123"}`
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/slack/events", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Slack-Request-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSlackMessageEventReachesProcessor(t *testing.T) {
	proc := &recordingProcessor{output: "hi there"}
	_, ts := newSlackTestServer(t, proc)

	body := `{
		"type": "event_callback",
		"event": {"type": "message", "channel": "C12345", "user": "U1", "text": "hello agent", "ts": "1720000000.000100"}
	}`
	resp, err := http.DefaultClient.Do(signedRequest(t, ts.URL+"/slack/events", body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		sessions, _ := proc.calls()
		return len(sessions) == 1
	}, time.Second, 10*time.Millisecond)

	sessions, inputs := proc.calls()
	assert.Equal(t, "slack:C12345", sessions[0])
	assert.Equal(t, "hello agent", inputs[0])
}

func TestSlackIgnoresBotMessages(t *testing.T) {
	proc := &recordingProcessor{}
	_, ts := newSlackTestServer(t, proc)

	body := `{
		"type": "event_callback",
		"event": {"type": "message", "channel": "C12345", "bot_id": "B99", "text": "I am a bot"}
	}`
	resp, err := http.DefaultClient.Do(signedRequest(t, ts.URL+"/slack/events", body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(50 * time.Millisecond)
	sessions, _ := proc.calls()
	assert.Empty(t, sessions)
}

func TestSlackDuplicateEventRunsOnce(t *testing.T) {
	proc := &recordingProcessor{output: "hi"}
	_, ts := newSlackTestServer(t, proc)

	body := `{
		"type": "event_callback",
		"event": {"type": "message", "channel": "C12345", "user": "U1", "text": "hello agent", "ts": "1720000000.000200"}
	}`
	for i := 0; i < 2; i++ {
		resp, err := http.DefaultClient.Do(signedRequest(t, ts.URL+"/slack/events", body))
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Eventually(t, func() bool {
		sessions, _ := proc.calls()
		return len(sessions) >= 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	sessions, _ := proc.calls()
	assert.Len(t, sessions, 1)
}

func TestTelegramAdapterDefaults(t *testing.T) {
	a := NewTelegramAdapter(config.TelegramConfig{BotToken: "123:abc"}, &recordingProcessor{}, newTestDedupe(t))

	assert.Equal(t, "telegram", a.Name())
	assert.Equal(t, config.DefaultTelegramUpdateTimeout, a.updateTimeout)
	assert.Error(t, a.Health(context.Background()))
}
