package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"relaybot/internal/bus"
	"relaybot/internal/metrics"
)

type ServerConfig struct {
	Host       string
	Port       int
	Aggregator *Aggregator
	Events     *bus.EventBus
	Metrics    bool
	// Feed, when set, is mounted at FeedPath.
	Feed     http.Handler
	FeedPath string
	Logger   *slog.Logger
}

// Server is the liveness HTTP endpoint.
type Server struct {
	addr   string
	agg    *Aggregator
	events *bus.EventBus
	logger *slog.Logger
	router *mux.Router
	server *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.FeedPath == "" {
		cfg.FeedPath = "/ws"
	}
	s := &Server{
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		agg:    cfg.Aggregator,
		events: cfg.Events,
		logger: cfg.Logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleStatus).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/health", s.handleStatus).Methods(http.MethodGet, http.MethodHead)
	if cfg.Events != nil {
		r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	}
	if cfg.Metrics {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	if cfg.Feed != nil {
		r.Handle(cfg.FeedPath, cfg.Feed).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string { return s.addr }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("status server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agg.Snapshot(r.Context()))
}

// handleEvents lists recent lifecycle events: ?type=message.lost&limit=20.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("type")
	if eventType == "" {
		eventType = "*"
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.events.Recent(eventType, limit)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
