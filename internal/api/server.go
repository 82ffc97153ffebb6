package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/latoulicious/tarulink/pkg/cron"
	"github.com/latoulicious/tarulink/pkg/database"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/metrics"
	"github.com/latoulicious/tarulink/pkg/player"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
	requestTimeout         = 30 * time.Second
)

type iJobRunner interface {
	Status() []cron.JobStatus
	RunNow(name string) error
}

type iSessionStore interface {
	List(ctx context.Context) ([]database.NodeSession, error)
	Delete(ctx context.Context, node string) error
}

type iMetricsSource interface {
	Snapshot() metrics.Snapshot
}

type Options struct {
	Addr   string
	Player *player.Player
	// Jobs, Sessions and Metrics are optional, their routes answer 404 when unset
	Jobs     iJobRunner
	Sessions iSessionStore
	Metrics  iMetricsSource
	Logger   logging.Logger
}

// Server is the admin HTTP API
type Server struct {
	player   *player.Player
	jobs     iJobRunner
	sessions iSessionStore
	metrics  iMetricsSource
	logger   logging.Logger

	addr       string
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NullLogger()
	}
	return &Server{
		player:   opts.Player,
		jobs:     opts.Jobs,
		sessions: opts.Sessions,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With(logging.String("component", "api")),
		addr:     opts.Addr,
	}
}

// Handler builds the chi router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)

	r.Route("/nodes", func(r chi.Router) {
		r.Get("/", s.handleNodes)
		r.Get("/{name}", s.handleNode)
		r.Post("/{name}/relocate", s.handleRelocate)
	})

	r.Route("/queues", func(r chi.Router) {
		r.Get("/", s.handleQueues)
		r.Get("/{guildID}", s.handleQueue)
		r.Delete("/{guildID}", s.handleDestroyQueue)
	})

	if s.metrics != nil {
		r.Get("/metrics", s.handleMetrics)
	}
	if s.jobs != nil {
		r.Get("/jobs", s.handleJobs)
		r.Post("/jobs/{name}/run", s.handleRunJob)
	}
	if s.sessions != nil {
		r.Get("/sessions", s.handleSessions)
		r.Delete("/sessions/{node}", s.handleDeleteSession)
	}

	return r
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", logging.Error(err))
		}
	}()

	s.logger.Info("HTTP server started", logging.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the address the server listens on, empty before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("duration", time.Since(start)),
			logging.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.player.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse(player.ErrNotInitialized.Error()))
		return
	}
	for _, n := range s.player.Nodes().All() {
		if n.Ready() {
			s.writeJSON(w, http.StatusOK, NewOKResponse())
			return
		}
	}
	s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse(player.ErrNoNodes.Error()))
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.player.Nodes()
	views := make([]NodeView, 0, nodes.Len())
	for _, n := range nodes.All() {
		views = append(views, newNodeView(n, nodes))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	nodes := s.player.Nodes()
	n := nodes.Get(chi.URLParam(r, "name"))
	if n == nil {
		s.writeError(w, http.StatusNotFound, player.ErrNodeNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, newNodeView(n, nodes))
}

func (s *Server) handleRelocate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.player.Nodes().Has(name) {
		s.writeError(w, http.StatusNotFound, player.ErrNodeNotFound)
		return
	}
	if err := s.player.Queues().Relocate(r.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, player.ErrNoOtherNodes) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleQueues(w http.ResponseWriter, _ *http.Request) {
	queues := s.player.Queues().All()
	views := make([]QueueView, 0, len(queues))
	for _, q := range queues {
		views = append(views, newQueueView(q, false))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	q := s.player.GetQueue(chi.URLParam(r, "guildID"))
	if q == nil {
		s.writeError(w, http.StatusNotFound, player.ErrNoQueue)
		return
	}
	s.writeJSON(w, http.StatusOK, newQueueView(q, true))
}

func (s *Server) handleDestroyQueue(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if !s.player.Queues().Has(guildID) {
		s.writeError(w, http.StatusNotFound, player.ErrNoQueue)
		return
	}
	if err := s.player.DestroyQueue(r.Context(), guildID, "destroyed through the admin API"); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.jobs.Status())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	err := s.jobs.RunNow(chi.URLParam(r, "name"))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, NewSuccessResponse())
	case errors.Is(err, cron.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, cron.ErrJobRunning):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]SessionView, 0, len(sessions))
	for _, ns := range sessions {
		views = append(views, SessionView{Node: ns.Node, SessionID: ns.SessionID, UpdatedAt: ns.UpdatedAt})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.sessions.Delete(r.Context(), chi.URLParam(r, "node"))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, NewSuccessResponse())
	case errors.Is(err, database.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}
