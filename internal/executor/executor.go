// Package executor runs external programs (the cloud CLI, git, build tools)
// and captures their output. Callers depend on the Runner interface so tests
// can substitute a fake.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a program and waits for it to exit.
type Runner interface {
	Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
}

// Options configures a single command execution.
type Options struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is appended to the current process environment.
	Env map[string]string

	// Stdout and Stderr receive output in addition to the capture buffers.
	Stdout io.Writer
	Stderr io.Writer
}

// Option modifies Options.
type Option func(*Options)

func WithDir(dir string) Option {
	return func(o *Options) { o.Dir = dir }
}

func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithOutput tees stdout and stderr to w (e.g. a deploy log writer).
// Writes to w are serialized.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		lw := &lockedWriter{w: w}
		o.Stdout = lw
		o.Stderr = lw
	}
}

// lockedWriter lets the stdout and stderr copiers share one writer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// ExitError is returned when a program could not be started or exited non-zero.
type ExitError struct {
	Program  string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Program, strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Command is the os/exec backed Runner.
type Command struct{}

func New() *Command {
	return &Command{}
}

func (c *Command) Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}

	cmd := exec.CommandContext(ctx, program, args...)
	// Children that inherit the pipes must not hold Run open after a kill.
	cmd.WaitDelay = 5 * time.Second
	if o.Dir != "" {
		cmd.Dir = o.Dir
	}
	if len(o.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range o.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, o.Stdout)
	cmd.Stderr = tee(&stderr, o.Stderr)

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = -1
	}

	return result, &ExitError{
		Program:  program,
		Args:     args,
		ExitCode: result.ExitCode,
		Output:   result.Stderr + result.Stdout,
		Err:      err,
	}
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
