// Package build resolves workspace build targets, validates their options
// against the builder's CUE schema, and runs them asynchronously. A running
// build may emit any number of events; callers see only the first terminal one.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/reviewapps-dev/azdeploy/internal/workspace"
)

var (
	ErrUnknownBuilder = errors.New("unknown builder")
	ErrInvalidOptions = errors.New("invalid builder options")
)

// Event is emitted by a running builder. Only terminal events carry a result.
type Event struct {
	Terminal   bool
	Success    bool
	Message    string
	OutputPath string
}

// Invocation is what a builder receives: the resolved target and its
// validated, defaults-filled options (the value returned by NewOptions).
type Invocation struct {
	Target  *workspace.TargetConfig
	Options any
	Output  io.Writer
}

type Builder interface {
	Name() string
	// Schema is CUE source defining a closed #Options definition.
	Schema() string
	// NewOptions returns a pointer the validated options are decoded into.
	NewOptions() any
	// Run starts the build. The channel is closed when the builder is done.
	Run(ctx context.Context, inv Invocation) <-chan Event
}

// Result is the outcome of one build invocation.
type Result struct {
	Ref        workspace.Ref
	Success    bool
	OutputPath string
	SourceRoot string
	Message    string
}

// FailedError reports a build whose terminal result was not successful.
type FailedError struct {
	Result Result
}

func (e *FailedError) Error() string {
	if e.Result.Message != "" {
		return fmt.Sprintf("build %s failed: %s", e.Result.Ref, e.Result.Message)
	}
	return fmt.Sprintf("build %s failed", e.Result.Ref)
}

type Registry struct {
	builders map[string]Builder
}

func NewRegistry(builders ...Builder) *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	for _, b := range builders {
		r.Register(b)
	}
	return r
}

func (r *Registry) Register(b Builder) {
	r.builders[b.Name()] = b
}

func (r *Registry) Get(name string) (Builder, error) {
	b, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBuilder, name)
	}
	return b, nil
}

// Prepared is a target that passed validation and is ready to run.
type Prepared struct {
	Target  *workspace.TargetConfig
	Builder Builder
	Options any
}

type Coordinator struct {
	ws       *workspace.Workspace
	registry *Registry
}

func NewCoordinator(ws *workspace.Workspace, registry *Registry) *Coordinator {
	return &Coordinator{ws: ws, registry: registry}
}

// Prepare parses and resolves ref, then validates the target options. All
// input errors surface here, before any build work starts.
func (c *Coordinator) Prepare(ref string) (*Prepared, error) {
	tc, err := c.ws.ResolveString(ref)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	b, err := c.registry.Get(tc.Builder)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", tc.Ref, err)
	}

	opts := b.NewOptions()
	if err := ValidateOptions(b.Schema(), tc.Options, opts); err != nil {
		return nil, fmt.Errorf("build %s: %w", tc.Ref, err)
	}

	return &Prepared{Target: tc, Builder: b, Options: opts}, nil
}

// ValidateOptions unifies raw with the schema's #Options definition and
// decodes the result, defaults included, into dst.
func ValidateOptions(schema string, raw map[string]any, dst any) error {
	cctx := cuecontext.New()

	s := cctx.CompileString(schema)
	if err := s.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := s.LookupPath(cue.ParsePath("#Options"))
	if !def.Exists() {
		return fmt.Errorf("schema has no #Options definition")
	}

	if raw == nil {
		raw = map[string]any{}
	}
	v := def.Unify(cctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, cueerrors.Details(err, nil))
	}
	if err := v.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// Start runs a prepared target in the background.
func (c *Coordinator) Start(ctx context.Context, p *Prepared, out io.Writer) *Handle {
	if out == nil {
		out = io.Discard
	}
	bctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ref:        p.Target.Ref,
		sourceRoot: p.Target.SourceRoot,
		cancel:     cancel,
		done:       make(chan struct{}),
		drained:    make(chan struct{}),
	}

	events := p.Builder.Run(bctx, Invocation{Target: p.Target, Options: p.Options, Output: out})
	go h.watch(events)
	return h
}

// Handle observes one running build.
type Handle struct {
	ref        workspace.Ref
	sourceRoot string
	cancel     context.CancelFunc

	once    sync.Once
	done    chan struct{}
	drained chan struct{}
	result  Result
}

func (h *Handle) Ref() workspace.Ref { return h.ref }

// watch records the first terminal event and keeps draining the channel so
// the builder never blocks on send.
func (h *Handle) watch(events <-chan Event) {
	defer close(h.drained)
	for ev := range events {
		if ev.Terminal {
			h.finish(Result{
				Ref:        h.ref,
				Success:    ev.Success,
				OutputPath: ev.OutputPath,
				SourceRoot: h.sourceRoot,
				Message:    ev.Message,
			})
		}
	}
	h.finish(Result{Ref: h.ref, SourceRoot: h.sourceRoot, Message: "builder exited without a result"})
}

func (h *Handle) finish(r Result) {
	h.once.Do(func() {
		h.result = r
		close(h.done)
	})
}

// Result blocks until the first terminal event.
func (h *Handle) Result(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{Ref: h.ref}, ctx.Err()
	}
}

// Cancel stops the build. Its result, if any, is discarded by the caller.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the builder has closed its event channel. After Wait
// returns the builder no longer writes to its output.
func (h *Handle) Wait() {
	<-h.drained
}
