package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/reviewapps-dev/azdeploy/internal/azcli"
	"github.com/reviewapps-dev/azdeploy/internal/build"
	"github.com/reviewapps-dev/azdeploy/internal/callback"
	"github.com/reviewapps-dev/azdeploy/internal/config"
	"github.com/reviewapps-dev/azdeploy/internal/credentials"
	"github.com/reviewapps-dev/azdeploy/internal/deploy"
	"github.com/reviewapps-dev/azdeploy/internal/executor"
	"github.com/reviewapps-dev/azdeploy/internal/git"
	"github.com/reviewapps-dev/azdeploy/internal/publish"
	"github.com/reviewapps-dev/azdeploy/internal/release"
	"github.com/reviewapps-dev/azdeploy/internal/workspace"
)

type commonFlags struct {
	configPath *string
	workspace  *string
	envFile    *string
	verbose    *bool
}

func registerCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "path to azdeploy.toml"),
		workspace:  fs.String("workspace", "", "override workspace file"),
		envFile:    fs.String("env-file", "", "override env file (relative to the workspace directory)"),
		verbose:    fs.Bool("v", false, "debug logging"),
	}
}

// environment is everything a command needs, built from config and flags.
type environment struct {
	cfg    *config.Config
	ws     *workspace.Workspace
	runner executor.Runner
	az     *azcli.Client
}

func setup(cf commonFlags) (*environment, error) {
	level := slog.LevelInfo
	if *cf.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*cf.configPath)
	if err != nil {
		return nil, err
	}
	if *cf.workspace != "" {
		cfg.Workspace.File = *cf.workspace
	}
	if *cf.envFile != "" {
		cfg.Workspace.EnvFile = *cf.envFile
	}

	ws, err := workspace.Load(cfg.Workspace.File)
	if err != nil {
		return nil, err
	}

	runner := executor.New()
	return &environment{
		cfg:    cfg,
		ws:     ws,
		runner: runner,
		az:     azcli.New(runner, cfg.Azure.CLI),
	}, nil
}

func (e *environment) spec(target string) (deploy.Spec, error) {
	tc, err := e.ws.ResolveString(target)
	if err != nil {
		return deploy.Spec{}, err
	}
	return deploy.SpecFromTarget(tc)
}

func (e *environment) envFilePath() string {
	return e.ws.Path(e.cfg.Workspace.EnvFile)
}

// envMapping reads the env file on each call. Variables in the process
// environment win over the file.
func (e *environment) envMapping() map[string]string {
	fileEnv, found, err := credentials.LoadEnvFile(e.envFilePath())
	if err != nil {
		slog.Warn("env file ignored", "err", err)
	} else if !found {
		slog.Debug("no env file", "path", e.envFilePath())
	}
	return credentials.Mapping(fileEnv, os.Environ(), e.cfg.Azure.ConnectionPrefix)
}

func (e *environment) vcs() git.Publisher {
	author := git.Identity{Name: e.cfg.Git.AuthorName, Email: e.cfg.Git.AuthorEmail}
	switch e.cfg.Git.Backend {
	case config.GitBackendGoGit:
		return &git.GoGit{
			Author:  author,
			Message: e.cfg.Git.CommitMessage,
			Auth:    git.BasicAuth(e.cfg.Git.Username, os.Getenv(e.cfg.Git.PasswordEnv)),
		}
	default:
		return &git.CLI{
			Runner:  e.runner,
			Bin:     e.cfg.Git.CLI,
			Author:  author,
			Message: e.cfg.Git.CommitMessage,
		}
	}
}

func (e *environment) pipeline() *deploy.Pipeline {
	builds := build.NewCoordinator(e.ws, build.DefaultRegistry(e.runner))
	assembler := release.NewAssembler(release.Options{
		EntryFile: e.cfg.Release.EntryFile,
		AssetsDir: e.cfg.Release.AssetsDir,
		PublicDir: e.cfg.Release.PublicDir,
		Prefix:    e.cfg.Azure.ConnectionPrefix,
	})
	publisher := publish.New(e.az, e.vcs(), publish.Options{
		Runtime:    e.cfg.Azure.Runtime,
		RemoteName: e.cfg.Git.RemoteName,
		Branch:     e.cfg.Git.Branch,
	}, slog.Default())

	p := deploy.NewPipeline(e.cfg, builds, assembler, publisher, callback.NewClient())
	for _, s := range deploy.DefaultSteps() {
		p.AddStep(s)
	}
	return p
}
