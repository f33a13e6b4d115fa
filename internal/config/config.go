package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Workspace WorkspaceConfig `toml:"workspace"`
	Azure     AzureConfig     `toml:"azure"`
	Git       GitConfig       `toml:"git"`
	Release   ReleaseConfig   `toml:"release"`
	Deploy    DeployConfig    `toml:"deploy"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
}

type WorkspaceConfig struct {
	File    string `toml:"file"`
	EnvFile string `toml:"env_file"`
}

type AzureConfig struct {
	CLI              string `toml:"cli"`
	Runtime          string `toml:"runtime"`
	ConnectionPrefix string `toml:"connection_prefix"`
}

const (
	GitBackendCLI   = "cli"
	GitBackendGoGit = "go-git"
)

type GitConfig struct {
	CLI           string `toml:"cli"`
	Backend       string `toml:"backend"` // "cli" or "go-git"
	RemoteName    string `toml:"remote_name"`
	Branch        string `toml:"branch"`
	CommitMessage string `toml:"commit_message"`
	AuthorName    string `toml:"author_name"`
	AuthorEmail   string `toml:"author_email"`
	Username      string `toml:"username"`
	PasswordEnv   string `toml:"password_env"` // go-git only
}

type ReleaseConfig struct {
	EntryFile string `toml:"entry_file"`
	AssetsDir string `toml:"assets_dir"`
	PublicDir string `toml:"public_dir"`
	Keep      bool   `toml:"keep"`
}

type DeployConfig struct {
	ParallelBuilds bool `toml:"parallel_builds"`
	Verify         bool `toml:"verify"`
	VerifyTimeout  int  `toml:"verify_timeout"` // seconds
}

func (d DeployConfig) VerifyTimeoutDuration() time.Duration {
	if d.VerifyTimeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(d.VerifyTimeout) * time.Second
}

type ServerConfig struct {
	Listen    string `toml:"listen"`
	Token     string `toml:"token"`
	StateFile string `toml:"state_file"`
	QueueSize int    `toml:"queue_size"`
}

type NotifyConfig struct {
	URL string `toml:"url"`
}

func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace: WorkspaceConfig{
			File:    "workspace.yml",
			EnvFile: ".env",
		},
		Azure: AzureConfig{
			CLI:              "az",
			Runtime:          "node|10.6",
			ConnectionPrefix: "AZURE_MONGODB",
		},
		Git: GitConfig{
			CLI:           "git",
			Backend:       GitBackendCLI,
			RemoteName:    "azure",
			Branch:        "master",
			CommitMessage: "init",
			AuthorName:    "azdeploy",
			AuthorEmail:   "azdeploy@localhost",
			PasswordEnv:   "AZDEPLOY_GIT_PASSWORD",
		},
		Release: ReleaseConfig{
			EntryFile: "main.js",
			AssetsDir: "azure",
			PublicDir: "public",
		},
		Deploy: DeployConfig{
			ParallelBuilds: true,
			VerifyTimeout:  60,
		},
		Server: ServerConfig{
			Listen:    "localhost:7891",
			StateFile: filepath.Join(home, ".azdeploy", "runs.json"),
			QueueSize: 16,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Git.Backend {
	case GitBackendCLI, GitBackendGoGit:
	default:
		return fmt.Errorf("config: unknown git backend %q", c.Git.Backend)
	}
	if c.Git.Branch == "" {
		return fmt.Errorf("config: git branch must not be empty")
	}
	if c.Server.QueueSize < 1 {
		return fmt.Errorf("config: server queue_size must be positive")
	}
	return nil
}

func (c *Config) EnsureDirs() error {
	dir := filepath.Dir(c.Server.StateFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: create dir %s: %w", dir, err)
	}
	return nil
}
