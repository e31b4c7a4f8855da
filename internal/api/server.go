package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/actor"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/state"
)

const (
	serviceName  = "idpportal"
	devActor     = "dev-user"
	shutdownWait = 10 * time.Second
)

// Check reports whether a dependency is usable. Used by /api/v1/ready.
type Check func(ctx context.Context) error

// Options wires the server to the rest of the portal. Runner and Registry
// are required; everything else is optional.
type Options struct {
	Runner   orchestrator.Runner
	Registry *orchestrator.Registry
	Store    state.Store
	Checks   map[string]Check
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	DevMode  bool
}

// Server exposes the supervisor over HTTP.
type Server struct {
	runner      orchestrator.Runner
	emitter     *orchestrator.Emitter
	registry    *orchestrator.Registry
	store       state.Store
	checks      map[string]Check
	gatherer    prometheus.Gatherer
	logger      *zap.Logger
	devMode     bool
	provisioner *Provisioner
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		runner:      opts.Runner,
		emitter:     orchestrator.NewEmitter(opts.Runner, logger),
		registry:    opts.Registry,
		store:       opts.Store,
		checks:      opts.Checks,
		gatherer:    gatherer,
		logger:      logger,
		devMode:     opts.DevMode,
		provisioner: NewProvisioner(opts.Runner, logger),
	}
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/{$}", s.handleChat)
	mux.HandleFunc("POST /api/v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /api/v1/chat/ws", s.handleChatSocket)

	mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/v1/agents/{name}", s.handleGetAgent)
	mux.HandleFunc("GET /api/v1/agents/{name}/tools", s.handleAgentTools)

	mux.HandleFunc("GET /api/v1/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/v1/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", s.handleDeleteConversation)

	mux.HandleFunc("GET /api/v1/self-service/templates", s.handleListTemplates)
	mux.HandleFunc("GET /api/v1/self-service/templates/{name}", s.handleGetTemplate)
	mux.HandleFunc("POST /api/v1/self-service/provision", s.handleProvision)
	mux.HandleFunc("GET /api/v1/self-service/provision/{id}", s.handleProvisionStatus)

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return s.withActor(s.withLogging(mux))
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.provisioner.Wait()
		return nil
	case err := <-errCh:
		return err
	}
}

// withActor attaches the requesting user. In dev mode that is the X-User
// header, or dev-user when it is absent. Other requests carry no actor.
func (s *Server) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.devMode {
			id := r.Header.Get("X-User")
			if id == "" {
				id = devActor
			}
			r = r.WithContext(actor.WithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// statusRecorder keeps the written status. It passes Flush and Hijack
// through so SSE and websocket upgrades still work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
