package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// GoGit publishes in-process with go-git, without a git binary.
type GoGit struct {
	Author   Identity
	Message  string
	Auth     transport.AuthMethod
	Progress io.Writer
}

// BasicAuth returns an AuthMethod for HTTPS remotes such as App Service
// local git. It returns nil when no password is set.
func BasicAuth(username, password string) transport.AuthMethod {
	if password == "" {
		return nil
	}
	return &http.BasicAuth{Username: username, Password: password}
}

func (g *GoGit) Publish(ctx context.Context, dir string, remote Remote) (string, error) {
	if err := resetRepo(dir); err != nil {
		return "", err
	}

	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		return "", fmt.Errorf("git init: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("git worktree: %w", err)
	}
	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("git add: %w", err)
	}

	hash, err := wt.Commit(g.Message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  g.Author.Name,
			Email: g.Author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("git head: %w", err)
	}

	if err := repo.DeleteRemote(remote.Name); err != nil && !errors.Is(err, gogit.ErrRemoteNotFound) {
		return "", fmt.Errorf("git remote: %w", err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{
		Name: remote.Name,
		URLs: []string{remote.URL},
	}); err != nil {
		return "", fmt.Errorf("git remote: %w", err)
	}

	spec := config.RefSpec(fmt.Sprintf("+%s:refs/heads/%s", head.Name(), remote.Branch))
	err = repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: remote.Name,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       g.Auth,
		Progress:   g.Progress,
		Force:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("git push: %w", err)
	}
	return hash.String(), nil
}
