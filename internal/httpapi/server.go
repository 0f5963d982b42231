// Package httpapi serves the overlay-facing read-only surface: buffer
// snapshot, live update stream (SSE and WebSocket), room state, health
// and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/chatglass/internal/core"
	"github.com/you/chatglass/internal/pipeline"
	"github.com/you/chatglass/internal/version"
)

const sseHeartbeat = 25 * time.Second

type Options struct {
	Addr        string
	CORSOrigins []string
	RatePerSec  int
	RateBurst   int
	Metrics     bool
}

type Server struct {
	pipe *pipeline.Pipeline
	hub  *Hub
	opts Options
	http *http.Server
}

func New(pipe *pipeline.Pipeline, opts Options) *Server {
	s := &Server{
		pipe: pipe,
		hub:  NewHub(pipe),
		opts: opts,
	}

	r := chi.NewRouter()
	r.Use(accessLog)
	if limiter := newIPRateLimiter(opts.RatePerSec, opts.RateBurst); limiter != nil {
		r.Use(limiter.middleware)
	}
	r.Use(newCORSPolicy(opts.CORSOrigins).middleware)

	r.Get("/overlay/messages", s.handleMessages)
	r.Get("/overlay/state", s.handleState)
	r.Get("/overlay/stream", s.handleStream)
	r.Get("/overlay/ws", s.hub.ServeWS)
	r.Get("/healthz", s.handleHealthz)
	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is canceled, then drains with a short shutdown
// grace period.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", s.opts.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	snap := s.pipe.Snapshot()
	if snap == nil {
		snap = []core.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// statePayload is everything a freshly-loaded overlay needs besides the
// message snapshot.
type statePayload struct {
	RoomStates map[core.Platform]core.RoomState `json:"roomStates"`
	DeletedIDs []string                         `json:"deletedIds"`
	Status     map[core.Platform]bool           `json:"status"`
	Watermark  int64                            `json:"watermark"`
	Version    string                           `json:"version"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	deleted := s.pipe.DeletedIDs()
	if deleted == nil {
		deleted = []string{}
	}
	writeJSON(w, http.StatusOK, statePayload{
		RoomStates: s.pipe.RoomStates(),
		DeletedIDs: deleted,
		Status:     s.pipe.Status(),
		Watermark:  s.pipe.Watermark(),
		Version:    version.Version,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleStream is the SSE feed: one named event per pipeline update and
// a comment heartbeat to keep intermediaries from timing the stream out.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, cancel := s.pipe.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				slog.Error("sse update marshal", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Kind, payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", "err", err)
	}
}
