// Package server exposes the agent over a small HTTP API: POST / runs one
// input through the executor, GET /health reports liveness.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"
	"github.com/soratobu/jeeves/internal/history"
	"github.com/soratobu/jeeves/internal/logger"
)

// Processor runs one user input to a final answer.
type Processor interface {
	Process(ctx context.Context, sessionID, input string) (string, error)
}

type InferenceRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Input     string `json:"input"`
}

type InferenceResponse struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	processor   Processor
	httpServer  *http.Server
	shutdownTTL time.Duration
}

func New(cfg config.ServerConfig, processor Processor) (*Server, error) {
	readTimeout, err := config.DurationOrDefault(cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return nil, jerrors.Config("parse server read_timeout: %v", err)
	}
	writeTimeout, err := config.DurationOrDefault(cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return nil, jerrors.Config("parse server write_timeout: %v", err)
	}
	idleTimeout, err := config.DurationOrDefault(cfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return nil, jerrors.Config("parse server idle_timeout: %v", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return nil, jerrors.Config("parse server shutdown_timeout: %v", err)
	}

	s := &Server{processor: processor, shutdownTTL: shutdownTimeout}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s, nil
}

// Handler returns the route table; exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleInference)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return jerrors.Transport(err, "http server")
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTTL)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req InferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = ulid.Make().String()
	} else if err := history.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	ctx := logger.WithTraceID(r.Context(), ulid.Make().String())
	output, err := s.processor.Process(ctx, sessionID, req.Input)
	if err != nil {
		logger.FromContext(ctx).Error("Inference failed", "session_id", sessionID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, InferenceResponse{SessionID: sessionID, Output: output})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps the error taxonomy onto HTTP status codes. FSM internals
// are never exposed beyond the error text.
func statusFor(err error) int {
	switch {
	case jerrors.IsMaxTurns(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, jerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jerrors.ErrTransport), errors.Is(err, jerrors.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
