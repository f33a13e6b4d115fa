// Package deploy drives one deployment run through its states: build the
// backend, build the frontend, assemble the release, optionally create the
// web app, publish, and resolve the public host name. Any failing step moves
// the run to the absorbing failed state.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reviewapps-dev/azdeploy/internal/build"
	"github.com/reviewapps-dev/azdeploy/internal/callback"
	"github.com/reviewapps-dev/azdeploy/internal/config"
	"github.com/reviewapps-dev/azdeploy/internal/logging"
	"github.com/reviewapps-dev/azdeploy/internal/release"
)

// Notifier delivers terminal run status. *callback.Client implements it.
type Notifier interface {
	SendStatus(ctx context.Context, url string, payload callback.StatusPayload) error
	SendLogs(ctx context.Context, url string, payload callback.LogPayload) error
}

type EventType string

const (
	EventState EventType = "state"
	EventLog   EventType = "log"
)

// Event is delivered to observers on every state transition and log line.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	State State     `json:"state"`
	Line  string    `json:"line,omitempty"`
	Time  time.Time `json:"time"`
}

// Outcome is the single observable result of a run.
type Outcome struct {
	RunID    string
	State    State
	FailedIn State
	Hostname string
	URL      string
	Commit   string
	// ReleaseDir is set when the release directory is kept after the run.
	ReleaseDir string
	Err        error
}

type Pipeline struct {
	steps     []Step
	cfg       *config.Config
	builds    *build.Coordinator
	assembler *release.Assembler
	publisher Publisher
	notifier  Notifier

	mu        sync.Mutex
	observers []func(Event)
}

func NewPipeline(cfg *config.Config, builds *build.Coordinator, assembler *release.Assembler, publisher Publisher, notifier Notifier) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		builds:    builds,
		assembler: assembler,
		publisher: publisher,
		notifier:  notifier,
	}
}

// DefaultSteps is the standard deployment sequence.
func DefaultSteps() []Step {
	return []Step{
		&BuildBackendStep{},
		&BuildFrontendStep{},
		&AssembleStep{},
		&CreateAppStep{},
		&PublishStep{},
		&ResolveHostStep{},
		&HealthCheckStep{},
	}
}

func (p *Pipeline) AddStep(s Step) {
	p.steps = append(p.steps, s)
}

// Observe registers fn for every event of every run.
func (p *Pipeline) Observe(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

func (p *Pipeline) emit(ev Event) {
	p.mu.Lock()
	obs := append([]func(Event){}, p.observers...)
	p.mu.Unlock()
	for _, fn := range obs {
		fn(ev)
	}
}

// run holds the mutable state of one Run call.
type run struct {
	p       *Pipeline
	id      string
	mu      sync.Mutex
	state   State
	outcome *Outcome
}

func (r *run) current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *run) transition(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()
	r.p.emit(Event{Type: EventState, RunID: r.id, State: s, Time: time.Now()})
}

// Run executes one deployment. The returned Outcome is never nil; its Err
// is also returned as the error.
func (p *Pipeline) Run(ctx context.Context, runID string, spec Spec, env map[string]string) (*Outcome, error) {
	r := &run{p: p, id: runID, state: StateIdle, outcome: &Outcome{RunID: runID}}

	var logStreamer *logBatcher
	if p.cfg.Notify.URL != "" && p.notifier != nil {
		logStreamer = newLogBatcher(runID, callback.LogsURL(p.cfg.Notify.URL), p.notifier, 5*time.Second)
		logStreamer.start()
		defer logStreamer.stop()
	}

	logger := logging.NewDeployLogger(runID, func(id, line string) {
		p.emit(Event{Type: EventLog, RunID: id, State: r.current(), Line: line, Time: time.Now()})
		if logStreamer != nil {
			logStreamer.add(line)
		}
	})

	sc := &StepContext{
		RunID:     runID,
		Spec:      spec,
		Config:    p.cfg,
		Logger:    logger,
		Builds:    p.builds,
		Assembler: p.assembler,
		Publisher: p.publisher,
		Env:       env,
	}
	defer p.cleanup(sc, r.outcome)

	logger.Log("starting deploy of %s to %s", spec.BackendTarget, spec.AppName)

	if err := p.prepare(sc); err != nil {
		return p.fail(ctx, r, sc, "prepare", err)
	}

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, r, sc, step.Name(), fmt.Errorf("deploy cancelled: %w", err))
		}

		if opt, ok := step.(OptionalStep); ok && !opt.Enabled(sc) {
			logger.Log("step: %s (skipped)", step.Name())
			continue
		}

		r.transition(step.State())
		logger.Log("step: %s", step.Name())
		if err := step.Run(ctx, sc); err != nil {
			return p.fail(ctx, r, sc, step.Name(), err)
		}
	}

	r.transition(StateDone)
	logger.Log("deploy complete: %s", sc.URL)

	o := r.outcome
	o.State = StateDone
	o.Hostname = sc.Hostname
	o.URL = sc.URL
	if sc.Receipt != nil {
		o.Commit = sc.Receipt.Commit
	}
	p.notify(ctx, sc, o)
	return o, nil
}

// prepare validates the Spec and both build targets. Nothing external has
// happened when it fails.
func (p *Pipeline) prepare(sc *StepContext) error {
	if err := sc.Spec.Validate(); err != nil {
		return err
	}
	backend, err := p.builds.Prepare(sc.Spec.BackendTarget)
	if err != nil {
		return err
	}
	frontend, err := p.builds.Prepare(sc.Spec.FrontendTarget)
	if err != nil {
		return err
	}
	sc.Backend, sc.Frontend = backend, frontend
	return nil
}

func (p *Pipeline) fail(ctx context.Context, r *run, sc *StepContext, step string, err error) (*Outcome, error) {
	sc.Logger.Log("step %s failed: %v", step, err)

	o := r.outcome
	o.FailedIn = r.current()
	o.State = StateFailed
	o.Err = fmt.Errorf("step %s: %w", step, err)
	r.transition(StateFailed)

	var failed *build.FailedError
	if errors.As(err, &failed) && failed.Result.Message != "" {
		sc.Logger.Log("build output: %s", failed.Result.Message)
	}

	p.notify(ctx, sc, o)
	return o, o.Err
}

func (p *Pipeline) notify(ctx context.Context, sc *StepContext, o *Outcome) {
	if p.cfg.Notify.URL == "" || p.notifier == nil {
		return
	}
	payload := callback.StatusPayload{
		RunID:    o.RunID,
		Target:   sc.Spec.AppName,
		State:    string(o.State),
		Hostname: o.Hostname,
		URL:      o.URL,
		Commit:   o.Commit,
	}
	if o.Err != nil {
		payload.Error = o.Err.Error()
	}
	sc.Logger.Log("sending %s callback to %s", o.State, p.cfg.Notify.URL)
	// Notification outlives a cancelled run.
	p.notifier.SendStatus(context.WithoutCancel(ctx), p.cfg.Notify.URL, payload)
}

// cleanup stops builds still running and removes the release directory
// unless it is configured to be kept.
func (p *Pipeline) cleanup(sc *StepContext, o *Outcome) {
	sc.closeBuilds()
	if sc.Release == nil {
		return
	}
	if p.cfg.Release.Keep {
		o.ReleaseDir = sc.Release.Root
		return
	}
	if err := sc.Release.Cleanup(); err != nil {
		sc.Logger.Log("release cleanup: %v", err)
	}
}

// logBatcher collects log lines and sends them in batches to the logs URL.
type logBatcher struct {
	runID    string
	logsURL  string
	notifier Notifier
	lines    []string
	mu       sync.Mutex
	done     chan struct{}
	ticker   *time.Ticker
}

func newLogBatcher(runID, logsURL string, notifier Notifier, interval time.Duration) *logBatcher {
	return &logBatcher{
		runID:    runID,
		logsURL:  logsURL,
		notifier: notifier,
		done:     make(chan struct{}),
		ticker:   time.NewTicker(interval),
	}
}

func (b *logBatcher) add(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

func (b *logBatcher) flush() {
	b.mu.Lock()
	if len(b.lines) == 0 {
		b.mu.Unlock()
		return
	}
	lines := b.lines
	b.lines = nil
	b.mu.Unlock()

	b.notifier.SendLogs(context.Background(), b.logsURL, callback.LogPayload{
		RunID: b.runID,
		Lines: lines,
	})
}

func (b *logBatcher) start() {
	go func() {
		for {
			select {
			case <-b.ticker.C:
				b.flush()
			case <-b.done:
				return
			}
		}
	}()
}

func (b *logBatcher) stop() {
	b.ticker.Stop()
	close(b.done)
	b.flush()
}
