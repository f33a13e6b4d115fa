package build

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/reviewapps-dev/azdeploy/internal/executor"
)

// DefaultRegistry returns the built-in builders.
func DefaultRegistry(runner executor.Runner) *Registry {
	return NewRegistry(
		&CommandBuilder{Runner: runner},
		&NPMBuilder{Runner: runner},
	)
}

type CommandOptions struct {
	Command    string            `json:"command"`
	Cwd        string            `json:"cwd"`
	OutputPath string            `json:"output_path"`
	Env        map[string]string `json:"env,omitempty"`
}

// CommandBuilder runs a shell command and reports its output directory.
type CommandBuilder struct {
	Runner executor.Runner
}

func (b *CommandBuilder) Name() string { return "command" }

func (b *CommandBuilder) Schema() string {
	return `
#Options: {
	command:     string & !=""
	cwd:         string | *"."
	output_path: string & !=""
	env?: [string]: string
}
`
}

func (b *CommandBuilder) NewOptions() any { return &CommandOptions{} }

func (b *CommandBuilder) Run(ctx context.Context, inv Invocation) <-chan Event {
	opts := inv.Options.(*CommandOptions)
	return runShell(ctx, b.Runner, inv, opts.Command, opts.Cwd, opts.OutputPath, opts.Env)
}

type NPMOptions struct {
	Script     string            `json:"script"`
	PackageDir string            `json:"package_dir"`
	Args       []string          `json:"args,omitempty"`
	OutputPath string            `json:"output_path"`
	Env        map[string]string `json:"env,omitempty"`
}

// NPMBuilder runs `npm run <script>` in the package directory.
type NPMBuilder struct {
	Runner executor.Runner
}

func (b *NPMBuilder) Name() string { return "npm" }

func (b *NPMBuilder) Schema() string {
	return `
#Options: {
	script:      string | *"build"
	package_dir: string | *"."
	args?: [...string]
	output_path: string & !=""
	env?: [string]: string
}
`
}

func (b *NPMBuilder) NewOptions() any { return &NPMOptions{} }

func (b *NPMBuilder) Run(ctx context.Context, inv Invocation) <-chan Event {
	opts := inv.Options.(*NPMOptions)
	args := []string{"run", opts.Script}
	if len(opts.Args) > 0 {
		args = append(append(args, "--"), opts.Args...)
	}
	return run(ctx, b.Runner, inv, "npm", args, opts.PackageDir, opts.OutputPath, opts.Env)
}

func runShell(ctx context.Context, runner executor.Runner, inv Invocation, command, cwd, outputPath string, env map[string]string) <-chan Event {
	return run(ctx, runner, inv, "sh", []string{"-c", command}, cwd, outputPath, env)
}

func run(ctx context.Context, runner executor.Runner, inv Invocation, program string, args []string, cwd, outputPath string, env map[string]string) <-chan Event {
	ch := make(chan Event, 2)
	dir := resolvePath(inv.Target.Dir, cwd)
	out := resolvePath(inv.Target.Dir, outputPath)

	go func() {
		defer close(ch)
		ch <- Event{Message: fmt.Sprintf("running %s in %s", program, dir)}

		_, err := runner.Run(ctx, program, args,
			executor.WithDir(dir),
			executor.WithEnv(env),
			executor.WithOutput(inv.Output),
		)
		if err != nil {
			ch <- Event{Terminal: true, Message: err.Error()}
			return
		}
		ch <- Event{Terminal: true, Success: true, OutputPath: out}
	}()
	return ch
}

func resolvePath(base, p string) string {
	if p == "" {
		return base
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
