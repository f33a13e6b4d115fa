package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/azdeploy/internal/azcli"
	"github.com/reviewapps-dev/azdeploy/internal/git"
	"github.com/reviewapps-dev/azdeploy/internal/release"
)

type fakeCloud struct {
	plans   []azcli.Plan
	apps    []azcli.WebApp
	created []azcli.CreateWebAppRequest
	zips    []string
	err     error
}

func (f *fakeCloud) ListPlans(context.Context) ([]azcli.Plan, error) { return f.plans, f.err }
func (f *fakeCloud) ListWebApps(context.Context) ([]azcli.WebApp, error) {
	return f.apps, f.err
}

func (f *fakeCloud) CreateWebApp(_ context.Context, req azcli.CreateWebAppRequest) (*azcli.CreatedWebApp, error) {
	f.created = append(f.created, req)
	return &azcli.CreatedWebApp{
		WebApp:                azcli.WebApp{Name: req.Name},
		DeploymentLocalGitURL: "https://deployer@" + req.Name + ".scm.azurewebsites.net/" + req.Name + ".git",
	}, nil
}

func (f *fakeCloud) DeployZip(_ context.Context, name, rg, src string) error {
	f.zips = append(f.zips, name+" "+rg+" "+filepath.Base(src))
	_, err := os.Stat(src)
	return err
}

type fakeGit struct {
	pushes []git.Remote
	dirs   []string
	err    error
}

func (f *fakeGit) Publish(_ context.Context, dir string, remote git.Remote) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.pushes = append(f.pushes, remote)
	f.dirs = append(f.dirs, dir)
	return "deadbeef", nil
}

func testRelease(t *testing.T) *release.Release {
	t.Helper()
	root := t.TempDir()
	app := filepath.Join(root, "api")
	require.NoError(t, os.MkdirAll(filepath.Join(app, "public"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(app, "main.js"), []byte("x"), 0644))
	return &release.Release{Root: root, AppDir: app}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		ok   bool
	}{
		{"git with remote", Descriptor{Kind: KindGit, Remote: "https://x/y.git"}, true},
		{"git default remote", Descriptor{Kind: KindGit}, true},
		{"zip", Descriptor{Kind: KindZip, Target: "other"}, true},
		{"git with target", Descriptor{Kind: KindGit, Target: "x"}, false},
		{"zip with remote", Descriptor{Kind: KindZip, Remote: "x"}, false},
		{"unknown kind", Descriptor{Kind: "ftp"}, false},
		{"empty kind", Descriptor{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCreateApp(t *testing.T) {
	cloud := &fakeCloud{plans: []azcli.Plan{
		{Name: "plan-a", ResourceGroup: "rg-a"},
		{Name: "plan-b", ResourceGroup: "rg-b"},
	}}
	p := New(cloud, &fakeGit{}, Options{}, nil)

	app, err := p.CreateApp(context.Background(), "myapp")
	require.NoError(t, err)
	assert.True(t, app.Created)
	assert.Equal(t, "plan-a", app.Plan)
	assert.Equal(t, "rg-a", app.ResourceGroup)
	assert.Contains(t, app.GitURL, "myapp.scm.azurewebsites.net")

	require.Len(t, cloud.created, 1)
	assert.Equal(t, azcli.CreateWebAppRequest{
		Name:          "myapp",
		Plan:          "plan-a",
		ResourceGroup: "rg-a",
		Runtime:       "node|10.6",
	}, cloud.created[0])
}

func TestCreateAppExistingIsNoop(t *testing.T) {
	cloud := &fakeCloud{
		plans: []azcli.Plan{{Name: "plan-a", ResourceGroup: "rg-a"}},
		apps:  []azcli.WebApp{{Name: "myapp", ResourceGroup: "rg-x"}},
	}
	p := New(cloud, &fakeGit{}, Options{}, nil)

	app, err := p.CreateApp(context.Background(), "myapp")
	require.NoError(t, err)
	assert.False(t, app.Created)
	assert.Equal(t, "rg-x", app.ResourceGroup)
	assert.Empty(t, cloud.created)
}

func TestCreateAppNoPlans(t *testing.T) {
	cloud := &fakeCloud{}
	p := New(cloud, &fakeGit{}, Options{}, nil)

	_, err := p.CreateApp(context.Background(), "myapp")
	assert.ErrorIs(t, err, azcli.ErrEmptyResult)
	assert.Empty(t, cloud.created)
}

func TestPublishGit(t *testing.T) {
	vcs := &fakeGit{}
	p := New(&fakeCloud{}, vcs, Options{}, nil)
	rel := testRelease(t)

	receipt, err := p.Publish(context.Background(), rel, "myapp", Descriptor{Kind: KindGit, Remote: "https://example.com/repo.git"})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", receipt.Commit)
	assert.Equal(t, []git.Remote{{Name: "azure", URL: "https://example.com/repo.git", Branch: "master"}}, vcs.pushes)
	assert.Equal(t, []string{rel.AppDir}, vcs.dirs)
}

func TestPublishGitDefaultRemote(t *testing.T) {
	vcs := &fakeGit{}
	p := New(&fakeCloud{}, vcs, Options{RemoteName: "deploy", Branch: "main"}, nil)

	receipt, err := p.Publish(context.Background(), testRelease(t), "myapp", Descriptor{Kind: KindGit})
	require.NoError(t, err)
	assert.Equal(t, "https://myapp.scm.azurewebsites.net:443/myapp.git", receipt.Remote)
	require.Len(t, vcs.pushes, 1)
	assert.Equal(t, "deploy", vcs.pushes[0].Name)
	assert.Equal(t, "main", vcs.pushes[0].Branch)
}

func TestPublishGitFailure(t *testing.T) {
	boom := errors.New("push rejected")
	p := New(&fakeCloud{}, &fakeGit{err: boom}, Options{}, nil)

	_, err := p.Publish(context.Background(), testRelease(t), "myapp", Descriptor{Kind: KindGit})
	assert.ErrorIs(t, err, boom)
}

func TestPublishZip(t *testing.T) {
	cloud := &fakeCloud{apps: []azcli.WebApp{{Name: "myapp", ResourceGroup: "rg-a"}}}
	vcs := &fakeGit{}
	p := New(cloud, vcs, Options{}, nil)

	receipt, err := p.Publish(context.Background(), testRelease(t), "myapp", Descriptor{Kind: KindZip})
	require.NoError(t, err)
	assert.Equal(t, KindZip, receipt.Kind)
	assert.Equal(t, []string{"myapp rg-a api.zip"}, cloud.zips)
	assert.Empty(t, vcs.pushes)
}

func TestPublishZipUnknownTarget(t *testing.T) {
	cloud := &fakeCloud{apps: []azcli.WebApp{{Name: "myapp"}}}
	p := New(cloud, &fakeGit{}, Options{}, nil)

	_, err := p.Publish(context.Background(), testRelease(t), "myapp", Descriptor{Kind: KindZip, Target: "other"})
	assert.ErrorIs(t, err, ErrAppNotFound)
	assert.Empty(t, cloud.zips)
}

func TestResolveHostname(t *testing.T) {
	cloud := &fakeCloud{apps: []azcli.WebApp{
		{Name: "other", HostNames: []string{"other.azurewebsites.net"}},
		{Name: "myapp", HostNames: []string{"myapp.azurewebsites.net", "www.example.com"}},
		{Name: "bare", DefaultHostName: "bare.azurewebsites.net"},
	}}
	p := New(cloud, &fakeGit{}, Options{}, nil)

	host, err := p.ResolveHostname(context.Background(), "myapp")
	require.NoError(t, err)
	assert.Equal(t, "myapp.azurewebsites.net", host)

	host, err = p.ResolveHostname(context.Background(), "bare")
	require.NoError(t, err)
	assert.Equal(t, "bare.azurewebsites.net", host)

	_, err = p.ResolveHostname(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAppNotFound)
}

func TestResolveHostnameCloudError(t *testing.T) {
	boom := errors.New("az failed")
	p := New(&fakeCloud{err: boom}, &fakeGit{}, Options{}, nil)

	_, err := p.ResolveHostname(context.Background(), "myapp")
	assert.ErrorIs(t, err, boom)
}
