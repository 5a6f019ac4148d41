package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/pkg/strata"
)

// Feed is a source of committed changes.
type Feed interface {
	Subscribe(buffer int, tables ...string) (<-chan strata.Change, func(), error)
}

// Config configures the HTTP transport.
type Config struct {
	Addr string

	// RequestRate is the number of requests per second admitted across
	// all clients. Zero disables limiting.
	RequestRate  float64
	RequestBurst int

	ShutdownTimeout time.Duration

	// MaxBodyBytes caps the size of a request. Defaults to 8MB.
	MaxBodyBytes int64

	// HeartbeatInterval is how often an idle change stream is pinged.
	HeartbeatInterval time.Duration
}

// Server serves a dispatcher over HTTP:
//
//	POST /rpc      one Request in, one Response out
//	GET  /changes  server-sent events, one per committed change
//	GET  /health   liveness and the exposed tables
type Server struct {
	dispatcher *Dispatcher
	tables     *Tables
	feed       Feed
	limiter    *rate.Limiter
	config     Config
	logger     *zap.Logger

	stopping  chan struct{}
	stopOnce  sync.Once
	startedAt time.Time
}

// NewServer creates a server. feed may be nil, which disables /changes.
func NewServer(tables *Tables, feed Feed, config Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 8 << 20
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 15 * time.Second
	}

	s := &Server{
		dispatcher: NewDispatcher(tables, logger),
		tables:     tables,
		feed:       feed,
		config:     config,
		logger:     logger.Named("server"),
		stopping:   make(chan struct{}),
		startedAt:  time.Now(),
	}
	if config.RequestRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.RequestRate), max(config.RequestBurst, 1))
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /rpc", s.limit(http.HandlerFunc(s.handleRPC)))
	mux.Handle("GET /changes", s.limit(http.HandlerFunc(s.handleChanges)))
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Run listens on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.stop)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()), zap.Strings("tables", s.tables.List()))

	select {
	case err := <-errCh:
		s.stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	return err
}

// stop ends the open change streams, which Shutdown does not wait out.
func (s *Server) stop() {
	s.stopOnce.Do(func() { close(s.stopping) })
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Warn("request rate limited", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusTooManyRequests, &Response{Error: &Error{Kind: "RateLimited", Message: "too many requests"}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &Response{Error: toError(fmt.Errorf("%w: %v", ErrBadRequest, err))})
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), &req)
	writeJSON(w, statusOf(resp.Error), resp)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if s.feed == nil {
		http.Error(w, "change feed is not enabled", http.StatusNotImplemented)
		return
	}
	tables := r.URL.Query()["table"]
	changes, cancel, err := s.feed.Subscribe(64, tables...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	s.logger.Debug("change stream opened", zap.Strings("tables", tables), zap.String("remote", r.RemoteAddr))
	defer s.logger.Debug("change stream closed", zap.String("remote", r.RemoteAddr))

	heartbeat := time.NewTicker(s.config.HeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.stopping:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case change, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				s.logger.Error("failed to encode change", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
		"tables": s.tables.List(),
	})
}

// statusOf maps an error kind onto an HTTP status.
func statusOf(e *Error) int {
	if e == nil {
		return http.StatusOK
	}
	switch core.Kind(e.Kind) {
	case kindBadRequest, core.KindQuery, core.KindType, core.KindIllegalArgument:
		if e.Code == core.ErrUniqueViolation.Code {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindSchema:
		return http.StatusConflict
	case core.KindTransaction:
		if e.Code == core.ErrReadOnly.Code {
			return http.StatusForbidden
		}
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
