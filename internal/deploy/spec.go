package deploy

import (
	"errors"
	"fmt"

	"github.com/reviewapps-dev/azdeploy/internal/build"
	"github.com/reviewapps-dev/azdeploy/internal/publish"
	"github.com/reviewapps-dev/azdeploy/internal/workspace"
)

// DeployBuilder is the workspace builder name that marks a deploy target.
const DeployBuilder = "azure-deploy"

var ErrInvalidSpec = errors.New("invalid deployment spec")

// Spec is the immutable input of one deployment run.
type Spec struct {
	BackendTarget  string
	FrontendTarget string
	AppName        string
	Create         bool
	Publish        publish.Descriptor
}

func (s Spec) Validate() error {
	if s.AppName == "" {
		return fmt.Errorf("%w: web app name is required", ErrInvalidSpec)
	}
	for _, ref := range []string{s.BackendTarget, s.FrontendTarget} {
		if _, err := workspace.ParseRef(ref); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
		}
	}
	if err := s.Publish.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return nil
}

const specSchema = `
#Options: {
	build_target:          string & !=""
	frontend_build_target: string & !=""
	web_app_name:          string & !=""
	create:                bool | *false
	deployment: {
		type:    *"git" | "zip"
		remote?: string
		target?: string
	}
}
`

type specOptions struct {
	BuildTarget         string `json:"build_target"`
	FrontendBuildTarget string `json:"frontend_build_target"`
	WebAppName          string `json:"web_app_name"`
	Create              bool   `json:"create"`
	Deployment          struct {
		Type   string `json:"type"`
		Remote string `json:"remote"`
		Target string `json:"target"`
	} `json:"deployment"`
}

// SpecFromTarget decodes a workspace deploy target into a validated Spec.
func SpecFromTarget(tc *workspace.TargetConfig) (Spec, error) {
	if tc.Builder != DeployBuilder {
		return Spec{}, fmt.Errorf("%w: %s uses builder %q, want %q", ErrInvalidSpec, tc.Ref, tc.Builder, DeployBuilder)
	}

	var opts specOptions
	if err := build.ValidateOptions(specSchema, tc.Options, &opts); err != nil {
		return Spec{}, fmt.Errorf("%w: %s: %w", ErrInvalidSpec, tc.Ref, err)
	}

	s := Spec{
		BackendTarget:  opts.BuildTarget,
		FrontendTarget: opts.FrontendBuildTarget,
		AppName:        opts.WebAppName,
		Create:         opts.Create,
		Publish: publish.Descriptor{
			Kind:   publish.Kind(opts.Deployment.Type),
			Remote: opts.Deployment.Remote,
			Target: opts.Deployment.Target,
		},
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}
