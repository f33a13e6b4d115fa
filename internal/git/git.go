// Package git publishes a release directory as a single-commit repository,
// force-pushed to a deployment remote. Each publish replaces the remote
// branch history entirely.
package git

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/reviewapps-dev/azdeploy/internal/executor"
)

// Remote is where a release is pushed.
type Remote struct {
	Name   string
	URL    string
	Branch string
}

// Identity is the commit author.
type Identity struct {
	Name  string
	Email string
}

// Publisher turns dir into a fresh repository and force-pushes it. It returns
// the pushed commit hash.
type Publisher interface {
	Publish(ctx context.Context, dir string, remote Remote) (string, error)
}

// CLI publishes with the git binary.
type CLI struct {
	Runner  executor.Runner
	Bin     string
	Author  Identity
	Message string
	Output  io.Writer
}

func (c *CLI) Publish(ctx context.Context, dir string, remote Remote) (string, error) {
	if err := resetRepo(dir); err != nil {
		return "", err
	}

	if _, err := c.git(ctx, dir, "init"); err != nil {
		return "", err
	}
	if _, err := c.git(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := c.git(ctx, dir,
		"-c", "user.name="+c.Author.Name,
		"-c", "user.email="+c.Author.Email,
		"commit", "-m", c.Message,
	); err != nil {
		return "", err
	}

	sha, err := c.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}

	if err := c.setRemote(ctx, dir, remote); err != nil {
		return "", err
	}

	if _, err := c.git(ctx, dir, "push", "--force", remote.Name, "HEAD:refs/heads/"+remote.Branch); err != nil {
		return "", err
	}
	return sha, nil
}

// setRemote adds the remote, or points an existing one at the new URL.
func (c *CLI) setRemote(ctx context.Context, dir string, remote Remote) error {
	out, err := c.git(ctx, dir, "remote")
	if err != nil {
		return err
	}
	for _, name := range strings.Fields(out) {
		if name == remote.Name {
			_, err := c.git(ctx, dir, "remote", "set-url", remote.Name, remote.URL)
			return err
		}
	}
	_, err = c.git(ctx, dir, "remote", "add", remote.Name, remote.URL)
	return err
}

func (c *CLI) git(ctx context.Context, dir string, args ...string) (string, error) {
	bin := c.Bin
	if bin == "" {
		bin = "git"
	}
	opts := []executor.Option{executor.WithDir(dir)}
	if c.Output != nil {
		opts = append(opts, executor.WithOutput(c.Output))
	}
	res, err := c.Runner.Run(ctx, bin, args, opts...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w", subcommand(args), err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// subcommand skips leading -c key=value pairs.
func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

// resetRepo discards any repository state left in dir.
func resetRepo(dir string) error {
	if err := os.RemoveAll(filepath.Join(dir, ".git")); err != nil {
		return fmt.Errorf("git: reset %s: %w", dir, err)
	}
	return nil
}
