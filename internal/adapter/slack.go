package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/soratobu/jeeves/internal/concurrency"
	"github.com/soratobu/jeeves/internal/config"
	"github.com/soratobu/jeeves/internal/errors"
	"github.com/soratobu/jeeves/internal/idempotency"
)

// SlackAdapter serves the Slack Events API. Each channel message runs
// through the processor with the channel ID as the session ID, and the
// answer is posted back to the channel.
type SlackAdapter struct {
	signingSecret string
	processor     Processor
	dedupe        *idempotency.Store
	server        *http.Server
	port          int
	client        *slack.Client
}

func NewSlackAdapter(cfg config.SlackConfig, processor Processor, dedupe *idempotency.Store) *SlackAdapter {
	signingSecret := cfg.SigningSecret
	if signingSecret == "" {
		signingSecret = os.Getenv("SLACK_SIGNING_SECRET")
	}
	botToken := cfg.BotToken
	if botToken == "" {
		botToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	port := cfg.Port
	if port <= 0 {
		port = config.DefaultSlackPort
	}
	return &SlackAdapter{
		signingSecret: signingSecret,
		processor:     processor,
		dedupe:        dedupe,
		port:          port,
		client:        slack.New(botToken),
	}
}

func (s *SlackAdapter) Name() string {
	return "slack"
}

func (s *SlackAdapter) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", s.handleEvents)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		slog.Info("Slack adapter listening", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Slack server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()

	return nil
}

func (s *SlackAdapter) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *SlackAdapter) Health(ctx context.Context) error {
	if s.server == nil {
		return errors.Transient(nil, "slack server not started")
	}
	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return errors.Transient(err, "slack connection failed")
	}
	return nil
}

func (s *SlackAdapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sv, err := slack.NewSecretsVerifier(r.Header, s.signingSecret)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := sv.Write(body); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := sv.Ensure(); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	eventsAPIEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if eventsAPIEvent.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))
		return
	}

	if eventsAPIEvent.Type == slackevents.CallbackEvent {
		switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			// Ignore bot messages so the agent never answers itself.
			if ev.BotID != "" || ev.Text == "" {
				break
			}
			// Slack retries events on slow acks; channel+ts identifies one.
			if s.dedupe != nil && s.dedupe.CheckAndMark("slack:"+ev.Channel+":"+ev.TimeStamp, time.Hour) {
				break
			}
			// Slack requires a fast ack; the agent run happens after.
			concurrency.SafeGo(func() { s.handleMessage(ev.Channel, ev.Text) })
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (s *SlackAdapter) handleMessage(channel, text string) {
	ctx := context.Background()
	sessionID := "slack:" + channel

	output, err := s.processor.Process(ctx, sessionID, text)
	if err != nil {
		slog.Error("Slack message processing failed", "session_id", sessionID, "error", err)
		output = "Sorry, something went wrong handling that message."
	}

	if _, _, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(output, false)); err != nil {
		slog.Error("Failed to send slack reply", "channel", channel, "error", err)
	}
}
