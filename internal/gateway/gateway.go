// Package gateway exposes the HTTP API and websocket rooms that front the
// orchestrator (spec.md S4.8, S6): it translates JSON requests into calls on
// the queue.Manager and the sessionengine.Registry, and relays eventbus
// events to subscribed clients. Grounded on the teacher's internal/web
// Server -- a stdlib net/http.ServeMux with method-patterned routes, a
// logging middleware, and graceful Shutdown -- with its SSE broadcast
// replaced by gorilla/websocket rooms, since multiple concurrent operators
// need independently-scoped event streams rather than one global feed.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgepilot/forgepilot/internal/config"
	"github.com/forgepilot/forgepilot/internal/eventbus"
	"github.com/forgepilot/forgepilot/internal/queue"
	"github.com/forgepilot/forgepilot/internal/sessionengine"
	"github.com/forgepilot/forgepilot/internal/store"
)

// Server is the orchestrator's HTTP + websocket front end.
type Server struct {
	store    *store.Store
	bus      *eventbus.Bus
	queue    *queue.Manager
	registry *sessionengine.Registry
	cfg      config.Config
	logger   *slog.Logger

	httpServer *http.Server
}

// Deps bundles the collaborators a Server routes requests to.
type Deps struct {
	Store    *store.Store
	Bus      *eventbus.Bus
	Queue    *queue.Manager
	Registry *sessionengine.Registry
	Config   config.Config
	Logger   *slog.Logger
}

// New constructs a Server ready to Start.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		store:    deps.Store,
		bus:      deps.Bus,
		queue:    deps.Queue,
		registry: deps.Registry,
		cfg:      deps.Config,
		logger:   deps.Logger,
	}
}

// Handler returns the server's routed http.Handler without starting a
// listener, for tests that want to drive it through httptest.Server.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/check-queue", s.handleCheckQueue)

	mux.HandleFunc("GET /api/sessions/{projectId}/{featureId}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{projectId}/{featureId}/plan", s.handleGetPlan)
	mux.HandleFunc("GET /api/sessions/{projectId}/{featureId}/questions", s.handleGetQuestions)
	mux.HandleFunc("GET /api/sessions/{projectId}/{featureId}/conversations", s.handleGetConversations)

	mux.HandleFunc("POST /api/sessions/{projectId}/{featureId}/questions/answers", s.handleAnswerQuestions)
	mux.HandleFunc("POST /api/sessions/{projectId}/{featureId}/plan/approve", s.handleApprovePlan)
	mux.HandleFunc("POST /api/sessions/{projectId}/{featureId}/plan/request-changes", s.handleRequestPlanChanges)
	mux.HandleFunc("POST /api/sessions/{projectId}/{featureId}/transition", s.handleForceTransition)
	mux.HandleFunc("POST /api/sessions/{projectId}/{featureId}/retry", s.handleRetry)
	mux.HandleFunc("POST /api/sessions/{projectId}/{featureId}/backout", s.handleBackout)
	mux.HandleFunc("POST /api/sessions/{projectId}/{featureId}/resume", s.handleResume)
	mux.HandleFunc("POST /api/sessions/{projectId}/{featureId}/re-review", s.handleReReview)
	mux.HandleFunc("POST /api/sessions/{projectId}/{featureId}/final-approval", s.handleFinalApproval)

	mux.HandleFunc("PUT /api/sessions/{projectId}/queue-order", s.handleReorder)

	mux.HandleFunc("GET /api/projects/{projectId}/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /api/projects/{projectId}/preferences", s.handlePutPreferences)

	mux.HandleFunc("GET /ws", s.handleWebsocket)

	return s.withLogging(mux)
}

// Start runs the HTTP server until ctx is cancelled or an unrecoverable
// listen error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
