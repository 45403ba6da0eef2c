// Package interp resolves the JavaScript runtime used to execute scripts.
//
// Resolution prefers bun, falls back to node, and honors a pinned
// interpreter when the user configures one. Well-known install locations
// are checked before PATH because launchers are often started from a GUI
// session whose PATH lacks the user's shell additions.
package interp

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/kitrun/kitrun"
)

// Interpreter is a resolved runtime command. The zero value is invalid;
// obtain one from Resolve.
type Interpreter struct {
	// Name is the runtime's short name, e.g. "bun" or "node".
	Name string

	// Path is the absolute path of the executable.
	Path string

	// Preload is an SDK module passed via --preload. Only bun supports
	// preloading; it is ignored for other runtimes.
	Preload string
}

// Command returns the argv used to run scriptPath, including any
// runtime-specific flags.
func (i Interpreter) Command(scriptPath string, args ...string) []string {
	argv := []string{i.Path}
	if i.Name == "bun" && i.Preload != "" {
		argv = append(argv, "--preload", i.Preload)
	}
	argv = append(argv, scriptPath)
	return append(argv, args...)
}

// Option configures resolution.
type Option func(*resolver)

// WithPinned forces a specific runtime instead of the fallback chain.
// The value is either a short name looked up like the defaults, or an
// absolute path used as-is.
func WithPinned(name string) Option {
	return func(r *resolver) { r.pinned = name }
}

// WithPreload sets the SDK module preloaded into bun scripts.
func WithPreload(path string) Option {
	return func(r *resolver) { r.preload = path }
}

// WithSearchDirs replaces the default well-known install directories.
// Used by tests.
func WithSearchDirs(dirs []string) Option {
	return func(r *resolver) { r.searchDirs = dirs }
}

type resolver struct {
	pinned     string
	preload    string
	searchDirs []string
}

// Resolve finds a usable runtime. With no pin it tries bun first, then
// node. Returns ErrUnavailable when nothing is installed.
func Resolve(opts ...Option) (Interpreter, error) {
	r := resolver{searchDirs: defaultSearchDirs()}
	for _, opt := range opts {
		opt(&r)
	}

	if r.pinned != "" {
		path, err := r.find(r.pinned)
		if err != nil {
			return Interpreter{}, fmt.Errorf("interp: pinned runtime %q: %w", r.pinned, kitrun.ErrUnavailable)
		}
		return Interpreter{Name: filepath.Base(r.pinned), Path: path, Preload: r.preload}, nil
	}

	for _, name := range []string{"bun", "node"} {
		if path, err := r.find(name); err == nil {
			return Interpreter{Name: name, Path: path, Preload: r.preload}, nil
		}
	}
	return Interpreter{}, fmt.Errorf("interp: no JavaScript runtime found (tried bun, node): %w", kitrun.ErrUnavailable)
}

// find locates name, checking the well-known directories before PATH.
// An absolute name short-circuits the search.
func (r *resolver) find(name string) (string, error) {
	if filepath.IsAbs(name) {
		if isExecutable(name) {
			return name, nil
		}
		return "", os.ErrNotExist
	}
	for _, dir := range r.searchDirs {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return exec.LookPath(name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// defaultSearchDirs lists the install locations of the common runtime
// version managers, most specific first.
func defaultSearchDirs() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	dirs := []string{
		filepath.Join(home, ".bun", "bin"),
		filepath.Join(home, ".volta", "bin"),
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, ".nvm", "current", "bin"),
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/usr/bin",
	}
	if home == "" {
		dirs = dirs[4:]
	}
	return dirs
}
