package deploy

import (
	"context"

	"github.com/reviewapps-dev/azdeploy/internal/publish"
)

type PublishStep struct{}

func (s *PublishStep) Name() string { return "publish" }
func (s *PublishStep) State() State { return StatePublishing }

func (s *PublishStep) Run(ctx context.Context, sc *StepContext) error {
	d := sc.Spec.Publish
	// A freshly created app reports its own local-git endpoint.
	if d.Kind == publish.KindGit && d.Remote == "" && sc.App != nil && sc.App.GitURL != "" {
		d.Remote = sc.App.GitURL
	}

	receipt, err := sc.Publisher.Publish(ctx, sc.Release, sc.Spec.AppName, d)
	if err != nil {
		return err
	}
	sc.Receipt = receipt
	switch receipt.Kind {
	case publish.KindZip:
		sc.Logger.Log("uploaded zip package to %s", receipt.Target)
	default:
		sc.Logger.Log("force-pushed %s to %s", receipt.Commit, receipt.Remote)
	}
	return nil
}

type ResolveHostStep struct{}

func (s *ResolveHostStep) Name() string { return "resolve-host" }
func (s *ResolveHostStep) State() State { return StateResolving }

func (s *ResolveHostStep) Run(ctx context.Context, sc *StepContext) error {
	host, err := sc.Publisher.ResolveHostname(ctx, sc.Spec.AppName)
	if err != nil {
		return err
	}
	sc.Hostname = host
	sc.URL = "https://" + host
	sc.Logger.Log("you can access the deployed app at: %s", sc.URL)
	return nil
}
