// Package release assembles the directory that gets published: the backend
// build output, the frontend output under public/, the platform asset files,
// and an entry file with connection strings inlined.
package release

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/mholt/archiver"
	copier "github.com/otiai10/copy"
)

var ErrAssetDir = errors.New("asset directory")

type Options struct {
	EntryFile string // generated backend entry, e.g. main.js
	AssetsDir string // directory under the source root holding one subdirectory per environment
	PublicDir string // frontend destination inside the app directory
	Prefix    string // only env vars with this prefix are inlined
	TempDir   string // parent for release directories; empty means os.TempDir
}

func DefaultOptions() Options {
	return Options{
		EntryFile: "main.js",
		AssetsDir: "azure",
		PublicDir: "public",
		Prefix:    "AZURE_MONGODB",
	}
}

type Input struct {
	BackendOutput  string
	FrontendOutput string
	SourceRoot     string
	// Environment selects the asset subdirectory when there are several.
	Environment string
	// Env is the explicit mapping inlined into the entry file.
	Env map[string]string
}

// Release is one assembled, self-contained release directory.
type Release struct {
	Root   string
	AppDir string
	Assets []string
}

// Cleanup removes the release directory tree.
func (r *Release) Cleanup() error {
	if r == nil || r.Root == "" {
		return nil
	}
	return os.RemoveAll(r.Root)
}

type Assembler struct {
	opts Options
}

func NewAssembler(opts Options) *Assembler {
	d := DefaultOptions()
	if opts.EntryFile == "" {
		opts.EntryFile = d.EntryFile
	}
	if opts.AssetsDir == "" {
		opts.AssetsDir = d.AssetsDir
	}
	if opts.PublicDir == "" {
		opts.PublicDir = d.PublicDir
	}
	if opts.Prefix == "" {
		opts.Prefix = d.Prefix
	}
	return &Assembler{opts: opts}
}

// Assemble creates a fresh release directory. On error nothing is left behind.
func (a *Assembler) Assemble(in Input) (*Release, error) {
	for _, p := range []string{in.BackendOutput, in.FrontendOutput} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("release: build output: %w", err)
		}
	}

	root, err := os.MkdirTemp(a.opts.TempDir, "azdeploy-release-*")
	if err != nil {
		return nil, fmt.Errorf("release: %w", err)
	}
	rel := &Release{
		Root:   root,
		AppDir: filepath.Join(root, filepath.Base(filepath.Clean(in.BackendOutput))),
	}

	if err := a.fill(rel, in); err != nil {
		rel.Cleanup()
		return nil, fmt.Errorf("release: %w", err)
	}
	return rel, nil
}

func (a *Assembler) fill(rel *Release, in Input) error {
	if err := copier.Copy(in.BackendOutput, rel.AppDir); err != nil {
		return fmt.Errorf("copy backend: %w", err)
	}
	if err := copier.Copy(in.FrontendOutput, filepath.Join(rel.AppDir, a.opts.PublicDir)); err != nil {
		return fmt.Errorf("copy frontend: %w", err)
	}

	assets, err := a.copyAssets(rel.AppDir, in.SourceRoot, in.Environment)
	if err != nil {
		return err
	}
	rel.Assets = assets

	return a.patchEntryFile(filepath.Join(rel.AppDir, a.opts.EntryFile), in.Env)
}

// AssetDir picks the asset subdirectory: the one named after env if present,
// otherwise the only one. None, or several without a match, is an error.
func AssetDir(root, env string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAssetDir, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}

	switch {
	case len(dirs) == 0:
		return "", fmt.Errorf("%w: no environment directory in %s", ErrAssetDir, root)
	case len(dirs) == 1:
		return filepath.Join(root, dirs[0]), nil
	}
	for _, d := range dirs {
		if env != "" && d == env {
			return filepath.Join(root, d), nil
		}
	}
	return "", fmt.Errorf("%w: %d environment directories in %s and none matches %q", ErrAssetDir, len(dirs), root, env)
}

func (a *Assembler) copyAssets(appDir, sourceRoot, env string) ([]string, error) {
	dir, err := AssetDir(filepath.Join(sourceRoot, a.opts.AssetsDir), env)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetDir, err)
	}

	var copied []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copier.Copy(filepath.Join(dir, e.Name()), filepath.Join(appDir, e.Name())); err != nil {
			return nil, fmt.Errorf("copy asset %s: %w", e.Name(), err)
		}
		copied = append(copied, e.Name())
	}
	return copied, nil
}

func (a *Assembler) patchEntryFile(path string, env map[string]string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("entry file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("entry file: %w", err)
	}

	patched := PatchEntry(string(data), env, a.opts.Prefix)
	if err := os.WriteFile(path, []byte(patched), info.Mode().Perm()); err != nil {
		return fmt.Errorf("entry file: %w", err)
	}
	return nil
}

// PatchEntry replaces every process.env.NAME access for prefixed names in env
// with the quoted value. NAME must match as a whole identifier, so
// replacements do not depend on iteration order.
func PatchEntry(text string, env map[string]string, prefix string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		re := regexp.MustCompile(`process\.env\.` + regexp.QuoteMeta(k) + `\b`)
		text = re.ReplaceAllLiteralString(text, quote(env[k]))
	}
	return text
}

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)

func quote(s string) string {
	return "'" + quoteReplacer.Replace(s) + "'"
}

// Zip writes the contents of the app directory (not the directory itself)
// into a zip archive at dest.
func (r *Release) Zip(dest string) error {
	entries, err := os.ReadDir(r.AppDir)
	if err != nil {
		return fmt.Errorf("release: zip: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		paths = append(paths, filepath.Join(r.AppDir, e.Name()))
	}
	if err := archiver.Zip.Make(dest, paths); err != nil {
		return fmt.Errorf("release: zip: %w", err)
	}
	return nil
}
