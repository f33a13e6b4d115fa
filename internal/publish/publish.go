// Package publish provisions the App Service web app and pushes an assembled
// release to it.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/reviewapps-dev/azdeploy/internal/azcli"
	"github.com/reviewapps-dev/azdeploy/internal/git"
	"github.com/reviewapps-dev/azdeploy/internal/release"
)

var ErrAppNotFound = errors.New("web app not found")

// Kind selects how a release reaches the web app.
type Kind string

const (
	KindGit Kind = "git"
	KindZip Kind = "zip"
)

// Descriptor is a tagged union: {git, Remote} or {zip, Target}.
type Descriptor struct {
	Kind Kind
	// Remote is the git URL to force-push to. Empty means the app's
	// local-git endpoint.
	Remote string
	// Target is the web app receiving a zip package. Empty means the
	// deployment's app.
	Target string
}

func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindGit:
		if d.Target != "" {
			return fmt.Errorf("publish: git deployment does not take a target")
		}
	case KindZip:
		if d.Remote != "" {
			return fmt.Errorf("publish: zip deployment does not take a remote")
		}
	default:
		return fmt.Errorf("publish: unknown deployment type %q", d.Kind)
	}
	return nil
}

// Cloud is the subset of the cloud CLI the publisher needs.
type Cloud interface {
	ListPlans(ctx context.Context) ([]azcli.Plan, error)
	ListWebApps(ctx context.Context) ([]azcli.WebApp, error)
	CreateWebApp(ctx context.Context, req azcli.CreateWebAppRequest) (*azcli.CreatedWebApp, error)
	DeployZip(ctx context.Context, name, resourceGroup, src string) error
}

type Options struct {
	Runtime    string
	RemoteName string
	Branch     string
}

func DefaultOptions() Options {
	return Options{
		Runtime:    "node|10.6",
		RemoteName: "azure",
		Branch:     "master",
	}
}

type Publisher struct {
	cloud Cloud
	vcs   git.Publisher
	opts  Options
	log   *slog.Logger
}

func New(cloud Cloud, vcs git.Publisher, opts Options, log *slog.Logger) *Publisher {
	d := DefaultOptions()
	if opts.Runtime == "" {
		opts.Runtime = d.Runtime
	}
	if opts.RemoteName == "" {
		opts.RemoteName = d.RemoteName
	}
	if opts.Branch == "" {
		opts.Branch = d.Branch
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{cloud: cloud, vcs: vcs, opts: opts, log: log}
}

// App describes the web app after CreateApp.
type App struct {
	Name          string
	Plan          string
	ResourceGroup string
	GitURL        string
	Created       bool
}

// CreateApp creates the web app on the first App Service plan. An app that
// already exists under the same name is left as is.
func (p *Publisher) CreateApp(ctx context.Context, name string) (*App, error) {
	apps, err := p.cloud.ListWebApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("create app: %w", err)
	}
	if existing := findApp(apps, name); existing != nil {
		p.log.Info("web app already exists, skipping creation", "app", name, "resource_group", existing.ResourceGroup)
		return &App{Name: name, ResourceGroup: existing.ResourceGroup}, nil
	}

	plans, err := p.cloud.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("create app: %w", err)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("create app: no app service plan: %w", azcli.ErrEmptyResult)
	}
	plan := plans[0]

	p.log.Info("creating web app", "app", name, "plan", plan.Name, "resource_group", plan.ResourceGroup, "runtime", p.opts.Runtime)
	created, err := p.cloud.CreateWebApp(ctx, azcli.CreateWebAppRequest{
		Name:          name,
		Plan:          plan.Name,
		ResourceGroup: plan.ResourceGroup,
		Runtime:       p.opts.Runtime,
	})
	if err != nil {
		return nil, fmt.Errorf("create app: %w", err)
	}

	return &App{
		Name:          name,
		Plan:          plan.Name,
		ResourceGroup: plan.ResourceGroup,
		GitURL:        created.DeploymentLocalGitURL,
		Created:       true,
	}, nil
}

// Receipt records what a publish did.
type Receipt struct {
	Kind   Kind
	Remote string
	Commit string
	Target string
}

// Publish pushes rel to app according to d.
func (p *Publisher) Publish(ctx context.Context, rel *release.Release, app string, d Descriptor) (*Receipt, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	switch d.Kind {
	case KindZip:
		return p.publishZip(ctx, rel, app, d)
	default:
		return p.publishGit(ctx, rel, app, d)
	}
}

func (p *Publisher) publishGit(ctx context.Context, rel *release.Release, app string, d Descriptor) (*Receipt, error) {
	url := d.Remote
	if url == "" {
		url = DefaultRemoteURL(app)
	}
	remote := git.Remote{Name: p.opts.RemoteName, URL: url, Branch: p.opts.Branch}

	p.log.Info("pushing release", "dir", rel.AppDir, "remote", remote.Name, "branch", remote.Branch)
	sha, err := p.vcs.Publish(ctx, rel.AppDir, remote)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	return &Receipt{Kind: KindGit, Remote: url, Commit: sha}, nil
}

func (p *Publisher) publishZip(ctx context.Context, rel *release.Release, app string, d Descriptor) (*Receipt, error) {
	target := d.Target
	if target == "" {
		target = app
	}

	apps, err := p.cloud.ListWebApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	found := findApp(apps, target)
	if found == nil {
		return nil, fmt.Errorf("publish: %w: %s", ErrAppNotFound, target)
	}

	archive := filepath.Join(rel.Root, filepath.Base(rel.AppDir)+".zip")
	if err := rel.Zip(archive); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	p.log.Info("uploading zip package", "app", target, "archive", archive)
	if err := p.cloud.DeployZip(ctx, target, found.ResourceGroup, archive); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	return &Receipt{Kind: KindZip, Target: target}, nil
}

// ResolveHostname returns the first public host name of the named web app.
func (p *Publisher) ResolveHostname(ctx context.Context, name string) (string, error) {
	apps, err := p.cloud.ListWebApps(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve hostname: %w", err)
	}
	app := findApp(apps, name)
	if app == nil {
		return "", fmt.Errorf("resolve hostname: %w: %s", ErrAppNotFound, name)
	}
	if len(app.HostNames) > 0 {
		return app.HostNames[0], nil
	}
	if app.DefaultHostName != "" {
		return app.DefaultHostName, nil
	}
	return "", fmt.Errorf("resolve hostname: %s: %w", name, azcli.ErrEmptyResult)
}

// DefaultRemoteURL is the App Service local-git endpoint for app.
func DefaultRemoteURL(app string) string {
	return fmt.Sprintf("https://%s.scm.azurewebsites.net:443/%s.git", app, app)
}

func findApp(apps []azcli.WebApp, name string) *azcli.WebApp {
	for i := range apps {
		if apps[i].Name == name {
			return &apps[i]
		}
	}
	return nil
}
