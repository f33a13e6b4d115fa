package deploy

import (
	"context"
	"fmt"

	"github.com/reviewapps-dev/azdeploy/internal/build"
)

// BuildBackendStep starts the backend build and waits for its result. With
// parallel builds the frontend is launched alongside it, but its result is
// only read by BuildFrontendStep.
type BuildBackendStep struct{}

func (s *BuildBackendStep) Name() string { return "build-backend" }
func (s *BuildBackendStep) State() State { return StateBackendBuilding }

func (s *BuildBackendStep) Run(ctx context.Context, sc *StepContext) error {
	sc.Logger.Log("building %s", sc.Backend.Target.Ref)
	sc.BackendHandle = sc.Builds.Start(ctx, sc.Backend, sc.buildOutput("backend"))

	if sc.Config.Deploy.ParallelBuilds {
		sc.Logger.Log("building %s in parallel", sc.Frontend.Target.Ref)
		sc.FrontendHandle = sc.Builds.Start(ctx, sc.Frontend, sc.buildOutput("frontend"))
	}

	res, err := awaitBuild(ctx, sc.BackendHandle)
	if err != nil {
		return err
	}
	sc.BackendResult = res
	sc.Logger.Log("backend output: %s", res.OutputPath)
	return nil
}

type BuildFrontendStep struct{}

func (s *BuildFrontendStep) Name() string { return "build-frontend" }
func (s *BuildFrontendStep) State() State { return StateFrontendBuilding }

func (s *BuildFrontendStep) Run(ctx context.Context, sc *StepContext) error {
	if sc.FrontendHandle == nil {
		sc.Logger.Log("building %s", sc.Frontend.Target.Ref)
		sc.FrontendHandle = sc.Builds.Start(ctx, sc.Frontend, sc.buildOutput("frontend"))
	}

	res, err := awaitBuild(ctx, sc.FrontendHandle)
	if err != nil {
		return err
	}
	sc.FrontendResult = res
	sc.Logger.Log("frontend output: %s", res.OutputPath)
	return nil
}

func awaitBuild(ctx context.Context, h *build.Handle) (build.Result, error) {
	res, err := h.Result(ctx)
	if err != nil {
		return res, fmt.Errorf("build %s: %w", h.Ref(), err)
	}
	if !res.Success {
		return res, &build.FailedError{Result: res}
	}
	return res, nil
}
