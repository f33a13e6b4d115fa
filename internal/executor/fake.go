package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call records one invocation seen by Fake.
type Call struct {
	Program string
	Args    []string
	Dir     string
	Env     map[string]string
}

// String renders the call as a command line, e.g. "git push --force azure".
func (c Call) String() string {
	return strings.TrimSpace(c.Program + " " + strings.Join(c.Args, " "))
}

// Fake is a scripted Runner for tests. Responses are matched on program name
// and argument prefix; the first registered match wins.
type Fake struct {
	mu        sync.Mutex
	calls     []Call
	responses []*FakeResponse
}

func NewFake() *Fake {
	return &Fake{}
}

// FakeResponse is the scripted behaviour for a matched command.
type FakeResponse struct {
	program string
	prefix  []string
	fn      func(Call) (*Result, error)
}

// On registers a response for commands starting with program and args.
func (f *Fake) On(program string, args ...string) *FakeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &FakeResponse{
		program: program,
		prefix:  args,
		fn: func(Call) (*Result, error) {
			return &Result{}, nil
		},
	}
	f.responses = append(f.responses, r)
	return r
}

// Return makes the command succeed with the given stdout.
func (r *FakeResponse) Return(stdout string) {
	r.fn = func(Call) (*Result, error) {
		return &Result{Stdout: stdout}, nil
	}
}

// Fail makes the command exit with code and output.
func (r *FakeResponse) Fail(code int, output string) {
	r.fn = func(c Call) (*Result, error) {
		return &Result{Stderr: output, ExitCode: code}, &ExitError{
			Program:  c.Program,
			Args:     c.Args,
			ExitCode: code,
			Output:   output,
			Err:      fmt.Errorf("exit status %d", code),
		}
	}
}

// Do runs fn for each matched call.
func (r *FakeResponse) Do(fn func(Call) (*Result, error)) {
	r.fn = fn
}

func (r *FakeResponse) matches(c Call) bool {
	if r.program != c.Program || len(r.prefix) > len(c.Args) {
		return false
	}
	for i, a := range r.prefix {
		if c.Args[i] != a {
			return false
		}
	}
	return true
}

func (f *Fake) Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	call := Call{Program: program, Args: append([]string(nil), args...), Dir: o.Dir, Env: o.Env}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var match *FakeResponse
	for _, r := range f.responses {
		if r.matches(call) {
			match = r
			break
		}
	}
	f.mu.Unlock()

	if match == nil {
		return &Result{ExitCode: -1}, &ExitError{
			Program:  program,
			Args:     args,
			ExitCode: -1,
			Err:      fmt.Errorf("unexpected command %q", call.String()),
		}
	}
	if err := ctx.Err(); err != nil {
		return &Result{ExitCode: -1}, err
	}
	return match.fn(call)
}

// Calls returns every recorded invocation in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the recorded invocations rendered as command lines.
func (f *Fake) Commands() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}
