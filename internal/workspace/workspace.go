// Package workspace reads workspace.yml, the description of the projects in a
// repository and the build/deploy targets each of them declares.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultFile = "workspace.yml"

var (
	ErrMalformedRef          = errors.New("malformed target reference")
	ErrProjectNotFound       = errors.New("project not found")
	ErrTargetNotFound        = errors.New("target not found")
	ErrConfigurationNotFound = errors.New("configuration not found")
)

type Workspace struct {
	Version  int                 `yaml:"version"`
	Projects map[string]*Project `yaml:"projects"`

	// Dir is the directory containing the workspace file. Relative paths in
	// projects and target options resolve against it.
	Dir string `yaml:"-"`
}

type Project struct {
	Root       string             `yaml:"root"`
	SourceRoot string             `yaml:"source_root"`
	Targets    map[string]*Target `yaml:"targets"`
}

type Target struct {
	Builder        string                    `yaml:"builder"`
	Options        map[string]any            `yaml:"options"`
	Configurations map[string]map[string]any `yaml:"configurations"`
}

// Ref identifies one target variant: project:target[:configuration].
type Ref struct {
	Project       string
	Target        string
	Configuration string
}

func (r Ref) String() string {
	s := r.Project + ":" + r.Target
	if r.Configuration != "" {
		s += ":" + r.Configuration
	}
	return s
}

// ParseRef splits a colon-delimited reference. Two or three non-empty
// segments are accepted.
func ParseRef(s string) (Ref, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Ref{}, fmt.Errorf("%w: %q (want project:target[:configuration])", ErrMalformedRef, s)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Ref{}, fmt.Errorf("%w: %q has an empty segment", ErrMalformedRef, s)
		}
	}
	ref := Ref{Project: parts[0], Target: parts[1]}
	if len(parts) == 3 {
		ref.Configuration = parts[2]
	}
	return ref, nil
}

// TargetConfig is a resolved target: configuration options merged over the
// base options, with project paths made absolute.
type TargetConfig struct {
	Ref        Ref
	Builder    string
	Options    map[string]any
	Root       string
	SourceRoot string
	Dir        string
}

func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	ws, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("workspace: %s: %w", path, err)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	ws.Dir = abs
	return ws, nil
}

func Parse(data []byte) (*Workspace, error) {
	var ws Workspace
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if ws.Version == 0 {
		ws.Version = 1
	}
	if len(ws.Projects) == 0 {
		return nil, fmt.Errorf("no projects defined")
	}
	for name, p := range ws.Projects {
		if p == nil {
			return nil, fmt.Errorf("project %q is empty", name)
		}
		for tname, t := range p.Targets {
			if t == nil || t.Builder == "" {
				return nil, fmt.Errorf("project %q target %q: builder is required", name, tname)
			}
		}
	}
	return &ws, nil
}

// Resolve looks up the target for ref. The lookup must match exactly one
// project, target and (if given) configuration.
func (w *Workspace) Resolve(ref Ref) (*TargetConfig, error) {
	p, ok := w.Projects[ref.Project]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, ref.Project)
	}
	t, ok := p.Targets[ref.Target]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrTargetNotFound, ref.Project, ref.Target)
	}

	opts := make(map[string]any, len(t.Options))
	for k, v := range t.Options {
		opts[k] = v
	}
	if ref.Configuration != "" {
		overlay, ok := t.Configurations[ref.Configuration]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrConfigurationNotFound, ref)
		}
		for k, v := range overlay {
			opts[k] = v
		}
	}

	return &TargetConfig{
		Ref:        ref,
		Builder:    t.Builder,
		Options:    opts,
		Root:       w.Path(p.Root),
		SourceRoot: w.Path(p.SourceRoot),
		Dir:        w.Dir,
	}, nil
}

// ResolveString parses and resolves a reference in one go.
func (w *Workspace) ResolveString(s string) (*TargetConfig, error) {
	ref, err := ParseRef(s)
	if err != nil {
		return nil, err
	}
	return w.Resolve(ref)
}

// Path makes p absolute relative to the workspace directory.
func (w *Workspace) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.Dir, p)
}

// ProjectNames returns the project names in sorted order.
func (w *Workspace) ProjectNames() []string {
	names := make([]string, 0, len(w.Projects))
	for name := range w.Projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
