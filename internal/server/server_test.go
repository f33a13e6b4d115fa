package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/reviewapps-dev/azdeploy/internal/buildqueue"
	"github.com/reviewapps-dev/azdeploy/internal/config"
	"github.com/reviewapps-dev/azdeploy/internal/deploy"
	"github.com/reviewapps-dev/azdeploy/internal/logstream"
	"github.com/reviewapps-dev/azdeploy/internal/run"
)

const testToken = "s3cret"

type harness struct {
	srv   *Server
	store *run.Store
	queue *buildqueue.Queue
	http  *httptest.Server
}

func newHarness(t *testing.T, queueSize int) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Token = testToken

	store := run.NewStore("")
	queue := buildqueue.New(queueSize)
	hub := logstream.NewHub()
	srv := New(cfg, store, queue, hub)
	srv.SetSpecFunc(func(target string) (deploy.Spec, error) {
		if target != "api:deploy" {
			return deploy.Spec{}, errors.New("unknown target " + target)
		}
		return deploy.Spec{AppName: "myapp"}, nil
	})

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return &harness{srv: srv, store: store, queue: queue, http: ts}
}

func (h *harness) do(t *testing.T, method, path, body string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthUnauthenticated(t *testing.T) {
	h := newHarness(t, 4)
	resp := h.do(t, "GET", "/health", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["run_count"])
}

func TestRunsRequireToken(t *testing.T) {
	h := newHarness(t, 4)

	resp := h.do(t, "GET", "/runs", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest("GET", h.http.URL+"/runs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestCreateRunValidation(t *testing.T) {
	h := newHarness(t, 4)
	h.srv.SetDeployFunc(func(ctx context.Context, runID string, spec deploy.Spec) (*deploy.Outcome, error) {
		return &deploy.Outcome{RunID: runID, State: deploy.StateDone}, nil
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing target", `{}`, http.StatusBadRequest},
		{"unknown target", `{"target":"web:deploy"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, "POST", "/runs", tt.body, true)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, h.store.Count())
}

func TestCreateRunExecutes(t *testing.T) {
	h := newHarness(t, 4)
	h.srv.SetDeployFunc(func(ctx context.Context, runID string, spec deploy.Spec) (*deploy.Outcome, error) {
		return &deploy.Outcome{
			RunID:    runID,
			State:    deploy.StateDone,
			Hostname: spec.AppName + ".azurewebsites.net",
			URL:      "https://" + spec.AppName + ".azurewebsites.net",
		}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.queue.Start(ctx)
	defer h.queue.Stop()

	resp := h.do(t, "POST", "/runs", `{"target":"api:deploy"}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created CreateRunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.RunID)
	assert.Equal(t, "myapp", created.AppName)
	assert.Equal(t, string(deploy.StateIdle), created.State)

	require.Eventually(t, func() bool {
		rec, err := h.store.Get(created.RunID)
		return err == nil && rec.State == deploy.StateDone
	}, 2*time.Second, 10*time.Millisecond)

	get := h.do(t, "GET", "/runs/"+created.RunID, "", true)
	require.Equal(t, http.StatusOK, get.StatusCode)
	var rec run.Record
	require.NoError(t, json.NewDecoder(get.Body).Decode(&rec))
	assert.Equal(t, "myapp.azurewebsites.net", rec.Hostname)
	assert.NotNil(t, rec.FinishedAt)

	list := h.do(t, "GET", "/runs", "", true)
	var listed struct {
		Runs []run.Record `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&listed))
	require.Len(t, listed.Runs, 1)
	assert.Equal(t, created.RunID, listed.Runs[0].ID)
}

func TestCreateRunFailureRecorded(t *testing.T) {
	h := newHarness(t, 4)
	h.srv.SetDeployFunc(func(ctx context.Context, runID string, spec deploy.Spec) (*deploy.Outcome, error) {
		err := errors.New("push rejected")
		return &deploy.Outcome{RunID: runID, State: deploy.StateFailed, FailedIn: deploy.StatePublishing, Err: err}, err
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.queue.Start(ctx)
	defer h.queue.Stop()

	resp := h.do(t, "POST", "/runs", `{"target":"api:deploy"}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created CreateRunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	require.Eventually(t, func() bool {
		rec, err := h.store.Get(created.RunID)
		return err == nil && rec.State == deploy.StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := h.store.Get(created.RunID)
	require.NoError(t, err)
	assert.Equal(t, deploy.StatePublishing, rec.FailedIn)
	assert.Equal(t, "push rejected", rec.Error)
}

func TestCreateRunQueueFull(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.SetDeployFunc(func(ctx context.Context, runID string, spec deploy.Spec) (*deploy.Outcome, error) {
		return &deploy.Outcome{RunID: runID, State: deploy.StateDone}, nil
	})

	// Queue is not started, so the first job occupies the only slot.
	first := h.do(t, "POST", "/runs", `{"target":"api:deploy"}`, true)
	require.Equal(t, http.StatusAccepted, first.StatusCode)

	second := h.do(t, "POST", "/runs", `{"target":"api:deploy"}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, second.StatusCode)
	assert.Equal(t, 1, h.store.Count())
}

func TestGetRunNotFound(t *testing.T) {
	h := newHarness(t, 4)
	resp := h.do(t, "GET", "/runs/nope", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordUpdatesStoreAndHub(t *testing.T) {
	h := newHarness(t, 4)
	rec := h.store.Create("api:deploy", "myapp")

	ch, unsub := h.srv.hub.Subscribe(rec.ID)
	defer unsub()

	h.srv.Record(deploy.Event{Type: deploy.EventState, RunID: rec.ID, State: deploy.StatePublishing})
	h.srv.Record(deploy.Event{Type: deploy.EventLog, RunID: rec.ID, State: deploy.StatePublishing, Line: "[10:00:00] pushing"})

	got, err := h.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, deploy.StatePublishing, got.State)
	assert.Equal(t, []string{"[10:00:00] pushing"}, got.Log)

	assert.Equal(t, deploy.EventState, (<-ch).Type)
	assert.Equal(t, "[10:00:00] pushing", (<-ch).Line)
}

func wsURL(h *harness, runID string) string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + "/runs/" + runID + "/events?token=" + testToken
}

func TestEventStreamFinishedRun(t *testing.T) {
	h := newHarness(t, 4)
	rec := h.store.Create("api:deploy", "myapp")
	h.store.AppendLog(rec.ID, "[10:00:00] building api:build")
	require.NoError(t, h.store.Finish(rec.ID, &deploy.Outcome{RunID: rec.ID, State: deploy.StateDone}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(h, rec.ID), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var ev deploy.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, deploy.EventLog, ev.Type)
	assert.Equal(t, "[10:00:00] building api:build", ev.Line)

	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, deploy.EventState, ev.Type)
	assert.Equal(t, deploy.StateDone, ev.State)

	err = wsjson.Read(ctx, conn, &ev)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestEventStreamLive(t *testing.T) {
	h := newHarness(t, 4)
	rec := h.store.Create("api:deploy", "myapp")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(h, rec.ID), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// The subscription is registered before the upgrade completes.
	h.srv.Record(deploy.Event{Type: deploy.EventState, RunID: rec.ID, State: deploy.StateBackendBuilding})
	h.srv.hub.Close(rec.ID)

	var ev deploy.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, deploy.StateBackendBuilding, ev.State)

	err = wsjson.Read(ctx, conn, &ev)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestEventStreamRejectsBadToken(t *testing.T) {
	h := newHarness(t, 4)
	rec := h.store.Create("api:deploy", "myapp")

	resp := h.do(t, "GET", "/runs/"+rec.ID+"/events?token=wrong", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueryTokenOnlyForEventStream(t *testing.T) {
	h := newHarness(t, 4)
	resp := h.do(t, "GET", "/runs?token="+testToken, "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRecoverPanics(t *testing.T) {
	handler := recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}
