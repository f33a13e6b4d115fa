package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/azdeploy/internal/publish"
	"github.com/reviewapps-dev/azdeploy/internal/workspace"
)

func deployTarget(builder string, opts map[string]any) *workspace.TargetConfig {
	return &workspace.TargetConfig{
		Ref:     workspace.Ref{Project: "api", Target: "deploy"},
		Builder: builder,
		Options: opts,
	}
}

func TestSpecFromTarget(t *testing.T) {
	s, err := SpecFromTarget(deployTarget(DeployBuilder, map[string]any{
		"build_target":          "api:build:production",
		"frontend_build_target": "web:build:production",
		"web_app_name":          "myapp",
		"create":                true,
		"deployment": map[string]any{
			"type":   "git",
			"remote": "https://myapp.scm.azurewebsites.net:443/myapp.git",
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, Spec{
		BackendTarget:  "api:build:production",
		FrontendTarget: "web:build:production",
		AppName:        "myapp",
		Create:         true,
		Publish: publish.Descriptor{
			Kind:   publish.KindGit,
			Remote: "https://myapp.scm.azurewebsites.net:443/myapp.git",
		},
	}, s)
}

func TestSpecFromTargetDefaults(t *testing.T) {
	s, err := SpecFromTarget(deployTarget(DeployBuilder, map[string]any{
		"build_target":          "api:build",
		"frontend_build_target": "web:build",
		"web_app_name":          "myapp",
	}))
	require.NoError(t, err)
	assert.False(t, s.Create)
	assert.Equal(t, publish.Descriptor{Kind: publish.KindGit}, s.Publish)
}

func TestSpecFromTargetZip(t *testing.T) {
	s, err := SpecFromTarget(deployTarget(DeployBuilder, map[string]any{
		"build_target":          "api:build",
		"frontend_build_target": "web:build",
		"web_app_name":          "myapp",
		"deployment":            map[string]any{"type": "zip", "target": "myapp-staging"},
	}))
	require.NoError(t, err)
	assert.Equal(t, publish.Descriptor{Kind: publish.KindZip, Target: "myapp-staging"}, s.Publish)
}

func TestSpecFromTargetRejects(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"build_target":          "api:build",
			"frontend_build_target": "web:build",
			"web_app_name":          "myapp",
		}
	}

	tests := []struct {
		name    string
		builder string
		mutate  func(map[string]any)
	}{
		{"wrong builder", "command", func(map[string]any) {}},
		{"missing app", DeployBuilder, func(m map[string]any) { delete(m, "web_app_name") }},
		{"empty backend", DeployBuilder, func(m map[string]any) { m["build_target"] = "" }},
		{"malformed ref", DeployBuilder, func(m map[string]any) { m["frontend_build_target"] = "web" }},
		{"unknown key", DeployBuilder, func(m map[string]any) { m["region"] = "westeurope" }},
		{"unknown type", DeployBuilder, func(m map[string]any) { m["deployment"] = map[string]any{"type": "ftp"} }},
		{"zip with remote", DeployBuilder, func(m map[string]any) {
			m["deployment"] = map[string]any{"type": "zip", "remote": "https://x/y.git"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base()
			tt.mutate(opts)
			_, err := SpecFromTarget(deployTarget(tt.builder, opts))
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StatePublishing.Terminal())
	assert.False(t, StateIdle.Terminal())
}
