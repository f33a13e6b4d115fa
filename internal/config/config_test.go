package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "azdeploy.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Azure, cfg.Azure)
	assert.Equal(t, "master", cfg.Git.Branch)
	assert.True(t, cfg.Deploy.ParallelBuilds)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
[azure]
runtime = "node|12-lts"

[git]
backend = "go-git"
branch = "main"

[release]
keep = true

[deploy]
parallel_builds = false
verify = true
verify_timeout = 5

[notify]
url = "https://hooks.example.com/azdeploy"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node|12-lts", cfg.Azure.Runtime)
	assert.Equal(t, "az", cfg.Azure.CLI, "unset keys keep their defaults")
	assert.Equal(t, GitBackendGoGit, cfg.Git.Backend)
	assert.Equal(t, "main", cfg.Git.Branch)
	assert.Equal(t, "azure", cfg.Git.RemoteName)
	assert.True(t, cfg.Release.Keep)
	assert.False(t, cfg.Deploy.ParallelBuilds)
	assert.Equal(t, 5*time.Second, cfg.Deploy.VerifyTimeoutDuration())
	assert.Equal(t, "https://hooks.example.com/azdeploy", cfg.Notify.URL)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[git\nbackend = 1"},
		{"backend", "[git]\nbackend = \"svn\""},
		{"branch", "[git]\nbranch = \"\""},
		{"queue", "[server]\nqueue_size = 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestVerifyTimeoutDefault(t *testing.T) {
	assert.Equal(t, 60*time.Second, DeployConfig{}.VerifyTimeoutDuration())
}

func TestEnsureDirs(t *testing.T) {
	cfg := Default()
	cfg.Server.StateFile = filepath.Join(t.TempDir(), "state", "runs.json")
	require.NoError(t, cfg.EnsureDirs())
	assert.DirExists(t, filepath.Dir(cfg.Server.StateFile))
}
