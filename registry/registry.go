//go:build !windows

// Package registry tracks live script child PIDs in a small on-disk table
// so orphaned children can be recovered after a host crash.
//
// The table is written synchronously right after each spawn and rewritten
// after each clean teardown. At host startup, before any new script is
// spawned, Reconcile purges stale entries and force-kills survivors from a
// crashed host, since no supervisor remains that could safely resume
// tracking them.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kitrun/kitrun/internal/procutil"
)

// defaultGrace is the SIGTERM→SIGKILL grace period used when reconciling
// kills an orphan.
const defaultGrace = 250 * time.Millisecond

// Entry records one live child process.
type Entry struct {
	PID        int       `json:"pid"`
	ScriptPath string    `json:"script_path"`
	StartedAt  time.Time `json:"started_at"`
}

// Registry is the process-wide table of live child PIDs. Safe for
// concurrent use from spawn and reap sites.
type Registry struct {
	mu      sync.Mutex
	path    string
	entries map[int]Entry

	grace time.Duration
	log   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithGracePeriod sets the SIGTERM grace used when Reconcile kills orphans.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// Open loads (or creates) the registry backed by the file at path.
// A missing file is an empty registry, not an error. A corrupt file is
// logged and treated as empty: losing the table only means a one-time
// failure to reap orphans, which must not block startup.
func Open(path string, opts ...Option) (*Registry, error) {
	r := &Registry{
		path:    path,
		entries: make(map[int]Entry),
		grace:   defaultGrace,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("registry: create dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		r.log.Warn("registry file corrupt, starting empty", "path", path, "err", err)
		return r, nil
	}
	for _, e := range entries {
		r.entries[e.PID] = e
	}
	return r, nil
}

// Register records a freshly spawned child and flushes the table to disk
// before returning, so a host crash immediately after spawn still leaves a
// recoverable record.
func (r *Registry) Register(pid int, scriptPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[pid] = Entry{PID: pid, ScriptPath: scriptPath, StartedAt: time.Now()}
	return r.flushLocked()
}

// Unregister removes a child from the table and flushes. Idempotent:
// removing an absent PID is a no-op.
func (r *Registry) Unregister(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[pid]; !ok {
		return
	}
	delete(r.entries, pid)
	if err := r.flushLocked(); err != nil {
		r.log.Warn("registry flush failed", "pid", pid, "err", err)
	}
}

// Contains reports whether pid is currently tracked.
func (r *Registry) Contains(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[pid]
	return ok
}

// Snapshot returns the tracked entries sorted by PID.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Reconcile purges every recorded PID that is dead or no longer running
// the recorded script, and force-kills any survivor from a previous host
// crash. Must run at startup before any new script is spawned. Idempotent:
// a second run with no process activity in between changes nothing.
//
// Returns the number of orphans killed and the number of entries purged.
func (r *Registry) Reconcile() (killed, purged int) {
	snapshot := r.Snapshot()

	// Probing and killing happen outside the lock: KillGroup polls for
	// the grace period per orphan and must not stall a concurrent
	// Register or Unregister.
	for _, e := range snapshot {
		switch {
		case !procutil.GroupAlive(e.PID):
			r.log.Info("registry: purging dead entry", "pid", e.PID, "script", e.ScriptPath)
		case !cmdlineMatches(e.PID, e.ScriptPath):
			// PID was recycled by an unrelated process. Never kill it.
			r.log.Info("registry: purging recycled pid", "pid", e.PID, "script", e.ScriptPath)
		default:
			r.log.Warn("registry: killing orphaned script", "pid", e.PID, "script", e.ScriptPath)
			procutil.KillGroup(e.PID, r.grace)
			killed++
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range snapshot {
		if _, ok := r.entries[e.PID]; ok {
			delete(r.entries, e.PID)
			purged++
		}
	}
	if err := r.flushLocked(); err != nil {
		r.log.Warn("registry flush failed after reconcile", "err", err)
	}
	return killed, purged
}

// cmdlineMatches reports whether pid's command line still references the
// recorded script path. Best-effort: on systems without /proc the check
// degrades to true (liveness alone decides).
func cmdlineMatches(pid int, scriptPath string) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return true
	}
	return bytes.Contains(data, []byte(scriptPath))
}

// flushLocked writes the table atomically (temp file + rename) so a crash
// mid-write never leaves a partial table. Caller holds r.mu.
func (r *Registry) flushLocked() error {
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PID < entries[j].PID })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("registry: rename: %w", err)
	}
	return nil
}
