package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/reviewapps-dev/azdeploy/internal/buildqueue"
	"github.com/reviewapps-dev/azdeploy/internal/config"
	"github.com/reviewapps-dev/azdeploy/internal/deploy"
	"github.com/reviewapps-dev/azdeploy/internal/logstream"
	"github.com/reviewapps-dev/azdeploy/internal/run"
)

// SpecFunc turns a workspace deploy target reference into a validated Spec.
type SpecFunc func(target string) (deploy.Spec, error)

// DeployFunc executes one run.
type DeployFunc func(ctx context.Context, runID string, spec deploy.Spec) (*deploy.Outcome, error)

type Server struct {
	cfg       *config.Config
	store     *run.Store
	queue     *buildqueue.Queue
	hub       *logstream.Hub
	httpSrv   *http.Server
	startTime time.Time
	specFn    SpecFunc
	deployFn  DeployFunc
}

func New(cfg *config.Config, store *run.Store, queue *buildqueue.Queue, hub *logstream.Hub) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		queue:     queue,
		hub:       hub,
		startTime: time.Now(),
	}
}

func (s *Server) SetSpecFunc(fn SpecFunc) {
	s.specFn = fn
}

func (s *Server) SetDeployFunc(fn DeployFunc) {
	s.deployFn = fn
}

// Record feeds a pipeline event into the run store and live subscribers.
// Register it with deploy.Pipeline.Observe.
func (s *Server) Record(ev deploy.Event) {
	switch ev.Type {
	case deploy.EventState:
		if err := s.store.UpdateState(ev.RunID, ev.State); err != nil {
			slog.Warn("server: record state", "run", ev.RunID, "err", err)
		}
	case deploy.EventLog:
		s.store.AppendLog(ev.RunID, ev.Line)
	}
	s.hub.Publish(ev)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated
	mux.HandleFunc("GET /health", s.handleHealth)

	// Authenticated routes
	authed := http.NewServeMux()
	authed.HandleFunc("GET /runs", s.handleListRuns)
	authed.HandleFunc("POST /runs", s.handleCreateRun)
	authed.HandleFunc("GET /runs/{run_id}", s.handleGetRun)

	mux.Handle("/runs", s.requireToken(false, authed))
	mux.Handle("/runs/", s.requireToken(false, authed))
	mux.Handle("GET /runs/{run_id}/events", s.requireToken(true, http.HandlerFunc(s.handleEventStream)))

	return recoverPanics(logRequests(mux))
}

func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Server.Listen,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams stay open for the whole run
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("azdeploy listening", "addr", s.cfg.Server.Listen)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
