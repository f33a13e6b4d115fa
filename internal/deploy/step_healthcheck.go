package deploy

import (
	"context"
	"time"

	"github.com/reviewapps-dev/azdeploy/internal/health"
)

// HealthCheckStep polls the deployed app until it answers.
type HealthCheckStep struct {
	// Check defaults to health.Check.
	Check    func(ctx context.Context, url string, timeout, interval time.Duration) error
	Interval time.Duration
}

func (s *HealthCheckStep) Name() string                 { return "health-check" }
func (s *HealthCheckStep) State() State                 { return StateResolving }
func (s *HealthCheckStep) Enabled(sc *StepContext) bool { return sc.Config.Deploy.Verify }

func (s *HealthCheckStep) Run(ctx context.Context, sc *StepContext) error {
	check := s.Check
	if check == nil {
		check = health.Check
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := sc.Config.Deploy.VerifyTimeoutDuration()

	sc.Logger.Log("waiting for %s (timeout=%s, interval=%s)", sc.URL, timeout, interval)
	if err := check(ctx, sc.URL, timeout, interval); err != nil {
		return err
	}
	sc.Logger.Log("app is responding")
	return nil
}
