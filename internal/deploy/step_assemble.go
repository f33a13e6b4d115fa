package deploy

import (
	"context"

	"github.com/reviewapps-dev/azdeploy/internal/release"
)

type AssembleStep struct{}

func (s *AssembleStep) Name() string { return "assemble" }
func (s *AssembleStep) State() State { return StateAssembling }

func (s *AssembleStep) Run(ctx context.Context, sc *StepContext) error {
	rel, err := sc.Assembler.Assemble(release.Input{
		BackendOutput:  sc.BackendResult.OutputPath,
		FrontendOutput: sc.FrontendResult.OutputPath,
		SourceRoot:     sc.BackendResult.SourceRoot,
		Environment:    sc.Backend.Target.Ref.Configuration,
		Env:            sc.Env,
	})
	if err != nil {
		return err
	}
	sc.Release = rel
	sc.Logger.Log("release folder %s", rel.AppDir)
	sc.Logger.Log("copied %d asset file(s)", len(rel.Assets))
	return nil
}
