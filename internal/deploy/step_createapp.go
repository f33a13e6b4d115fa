package deploy

import "context"

type CreateAppStep struct{}

func (s *CreateAppStep) Name() string                 { return "create-app" }
func (s *CreateAppStep) State() State                 { return StateAppCreating }
func (s *CreateAppStep) Enabled(sc *StepContext) bool { return sc.Spec.Create }

func (s *CreateAppStep) Run(ctx context.Context, sc *StepContext) error {
	app, err := sc.Publisher.CreateApp(ctx, sc.Spec.AppName)
	if err != nil {
		return err
	}
	sc.App = app
	if app.Created {
		sc.Logger.Log("created web app %s on plan %s (%s)", app.Name, app.Plan, app.ResourceGroup)
	} else {
		sc.Logger.Log("web app %s already exists", app.Name)
	}
	return nil
}
