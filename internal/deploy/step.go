package deploy

import (
	"context"

	"github.com/reviewapps-dev/azdeploy/internal/build"
	"github.com/reviewapps-dev/azdeploy/internal/config"
	"github.com/reviewapps-dev/azdeploy/internal/logging"
	"github.com/reviewapps-dev/azdeploy/internal/publish"
	"github.com/reviewapps-dev/azdeploy/internal/release"
)

type Step interface {
	Name() string
	// State is entered when the step starts.
	State() State
	Run(ctx context.Context, sc *StepContext) error
}

// OptionalStep is a Step that may be skipped for a given run.
type OptionalStep interface {
	Step
	Enabled(sc *StepContext) bool
}

// Publisher provisions and publishes to the hosting web app.
type Publisher interface {
	CreateApp(ctx context.Context, name string) (*publish.App, error)
	Publish(ctx context.Context, rel *release.Release, app string, d publish.Descriptor) (*publish.Receipt, error)
	ResolveHostname(ctx context.Context, name string) (string, error)
}

type StepContext struct {
	RunID     string
	Spec      Spec
	Config    *config.Config
	Logger    *logging.DeployLogger
	Builds    *build.Coordinator
	Assembler *release.Assembler
	Publisher Publisher

	// Env is the explicit mapping inlined into the release entry file.
	Env map[string]string

	// Enriched during pipeline
	Backend        *build.Prepared
	Frontend       *build.Prepared
	BackendHandle  *build.Handle
	FrontendHandle *build.Handle
	BackendResult  build.Result
	FrontendResult build.Result
	Release        *release.Release
	App            *publish.App
	Receipt        *publish.Receipt
	Hostname       string
	URL            string

	outputs []*logging.LineWriter
}

func (sc *StepContext) buildOutput(label string) *logging.LineWriter {
	w := sc.Logger.Writer(label)
	sc.outputs = append(sc.outputs, w)
	return w
}

// closeBuilds cancels outstanding builds, waits for them to stop writing,
// and flushes their output.
func (sc *StepContext) closeBuilds() {
	handles := []*build.Handle{sc.BackendHandle, sc.FrontendHandle}
	for _, h := range handles {
		if h != nil {
			h.Cancel()
		}
	}
	for _, h := range handles {
		if h != nil {
			h.Wait()
		}
	}
	for _, w := range sc.outputs {
		w.Close()
	}
}
