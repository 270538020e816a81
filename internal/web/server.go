// Package web serves the operator endpoints: health, readiness, Prometheus
// metrics, and a server-sent-events stream of pipeline activity.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clippay/internal/events"
	"clippay/internal/submit"
)

// Submitter is the inbound submission surface exposed over HTTP for
// frontends that do not embed the service directly.
type Submitter interface {
	Submit(ctx context.Context, userID, taskID int64, rawURL string) (submit.Ack, error)
}

type Server struct {
	pool      *pgxpool.Pool
	addr      string
	token     string
	events    *events.Broker
	submitter Submitter
	logger    *slog.Logger
}

func NewServer(pool *pgxpool.Pool, addr, token string, broker *events.Broker, submitter Submitter, logger *slog.Logger) *Server {
	return &Server{
		pool:      pool,
		addr:      addr,
		token:     token,
		events:    broker,
		submitter: submitter,
		logger:    logger,
	}
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !s.allowGet(w, r) {
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.allowGet(w, r) || !s.authorize(w, r) {
			return
		}
		if err := s.pool.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !s.allowGet(w, r) || !s.authorize(w, r) {
			return
		}
		promhttp.Handler().ServeHTTP(w, r)
	})

	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/submit", s.handleSubmit)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("ops server shutdown error", "error", err)
		}
	}()

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) || !s.authorize(w, r) {
		return
	}
	if s.events == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("events not configured"))
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("streaming unsupported"))
		return
	}

	ch, cancel, snapshot := s.events.Subscribe()
	defer cancel()
	for _, event := range snapshot {
		if !filter.Matches(event) {
			continue
		}
		if err := writeEvent(w, event); err != nil {
			return
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-ch:
			if !filter.Matches(event) {
				continue
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

type submitRequest struct {
	UserID int64  `json:"user_id"`
	TaskID int64  `json:"task_id"`
	URL    string `json:"url"`
}

type submitResponse struct {
	Accepted bool   `json:"accepted"`
	JobID    int64  `json:"job_id,omitempty"`
	Message  string `json:"message"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}
	if s.submitter == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("submissions not configured"))
		return
	}

	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid request body"))
		return
	}
	if req.UserID == 0 || req.TaskID == 0 || req.URL == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("user_id, task_id and url are required"))
		return
	}

	ack, err := s.submitter.Submit(r.Context(), req.UserID, req.TaskID, req.URL)
	if err != nil {
		s.logger.Error("submission failed", "user_id", req.UserID, "task_id", req.TaskID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(submitResponse{
		Accepted: ack.Accepted,
		JobID:    ack.JobID,
		Message:  ack.Message,
	})
}

func writeEvent(w http.ResponseWriter, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func (s *Server) allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" {
		return true
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("bearer "):])
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1 {
			return true
		}
	}
	s.logger.Warn("unauthorized request",
		"path", r.URL.Path, "method", r.Method, "remote_addr", r.RemoteAddr)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte("unauthorized"))
	return false
}
