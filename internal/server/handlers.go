package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/reviewapps-dev/azdeploy/internal/buildqueue"
	"github.com/reviewapps-dev/azdeploy/internal/deploy"
	"github.com/reviewapps-dev/azdeploy/internal/run"
	"github.com/reviewapps-dev/azdeploy/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tools := map[string]bool{}
	for _, bin := range []string{s.cfg.Azure.CLI, s.cfg.Git.CLI} {
		_, err := exec.LookPath(bin)
		tools[bin] = err == nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.Version,
		"commit":    version.Commit,
		"uptime":    time.Since(s.startTime).Seconds(),
		"run_count": s.store.Count(),
		"queued":    s.queue.Len(),
		"tools":     tools,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": s.store.List(),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if s.specFn == nil || s.deployFn == nil {
		writeError(w, http.StatusServiceUnavailable, "deployments are not configured")
		return
	}

	spec, err := s.specFn(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := s.store.Create(req.Target, spec.AppName)
	ok := s.queue.Enqueue(buildqueue.Job{
		RunID: rec.ID,
		Fn: func(ctx context.Context) error {
			return s.execute(ctx, rec.ID, spec)
		},
	})
	if !ok {
		s.store.Delete(rec.ID)
		writeError(w, http.StatusServiceUnavailable, "build queue full")
		return
	}

	writeJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:   rec.ID,
		Target:  rec.Target,
		AppName: rec.AppName,
		State:   string(rec.State),
	})
}

// execute runs a queued deployment and records its outcome. Subscribers
// are released once the record is terminal.
func (s *Server) execute(ctx context.Context, runID string, spec deploy.Spec) error {
	defer s.hub.Close(runID)

	out, err := s.deployFn(ctx, runID, spec)
	if out == nil {
		out = &deploy.Outcome{RunID: runID, State: deploy.StateFailed, Err: err}
		if err == nil {
			out.Err = errors.New("deploy returned no outcome")
		}
	}
	if ferr := s.store.Finish(runID, out); ferr != nil && !errors.Is(ferr, run.ErrNotFound) {
		slog.Warn("server: finish run", "run", runID, "err", ferr)
	}
	return err
}
