package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/reviewapps-dev/azdeploy/internal/deploy"
	"github.com/reviewapps-dev/azdeploy/internal/run"
)

// handleEventStream sends the run's log so far, then live events until the
// run ends or the client goes away. Each message is a JSON deploy.Event.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	// Subscribe first so we don't miss events published between reading
	// the backlog and subscribing.
	ch, unsub := s.hub.Subscribe(runID)
	defer unsub()

	rec, err := s.store.Get(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin (token auth is sufficient)
	})
	if err != nil {
		slog.Warn("ws: accept failed", "run", runID, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	s.streamRun(ctx, conn, rec, ch)
	conn.Close(websocket.StatusNormalClosure, "done")
}

func (s *Server) streamRun(ctx context.Context, conn *websocket.Conn, rec *run.Record, ch <-chan deploy.Event) {
	for _, line := range rec.Log {
		ev := deploy.Event{Type: deploy.EventLog, RunID: rec.ID, State: rec.State, Line: line, Time: rec.UpdatedAt}
		if err := writeEvent(ctx, conn, ev); err != nil {
			return
		}
	}

	if rec.State.Terminal() {
		writeEvent(ctx, conn, deploy.Event{Type: deploy.EventState, RunID: rec.ID, State: rec.State, Time: rec.UpdatedAt})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				// Channel closed, run finished
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev deploy.Event) error {
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}
