//go:build !windows

package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/kitrun/kitrun"
	"github.com/kitrun/kitrun/interp"
)

// Engine spawns scripts and enforces the single-session rule. It
// implements kitrun.Engine.
type Engine struct {
	reg  Registrar
	slot Slot
	opts EngineOptions
}

var _ kitrun.Engine = (*Engine)(nil)

// New creates an engine backed by reg. Use EngineOption functions to
// customize buffers, the grace period, and the runtime pin.
func New(reg Registrar, opts ...EngineOption) *Engine {
	return &Engine{
		reg:  reg,
		opts: resolveEngineOptions(opts...),
	}
}

// Validate checks that a JavaScript runtime is installed.
func (e *Engine) Validate() error {
	_, err := e.resolveInterpreter()
	return err
}

// Running reports whether a session is currently active.
func (e *Engine) Running() bool {
	return e.slot.IsOccupied()
}

// Start launches script as a child process in its own process group and
// claims the session slot. The PID is registered on disk before Start
// returns, so a host crash immediately afterwards still leaves a
// recoverable record.
//
// The context parameter is reserved; session lifetime is controlled via
// [Channel.Cancel].
func (e *Engine) Start(_ context.Context, script kitrun.Script, args ...string) (kitrun.Channel, error) {
	if e.slot.IsOccupied() {
		return nil, kitrun.ErrOccupied
	}

	info, err := os.Stat(script.Path)
	if err != nil {
		return nil, &kitrun.SpawnError{Script: script.Path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &kitrun.SpawnError{Script: script.Path, Err: fmt.Errorf("not a regular file")}
	}

	var it interp.Interpreter
	if script.Interpreter != "" {
		it, err = interp.Resolve(
			interp.WithPinned(script.Interpreter),
			interp.WithPreload(e.opts.sdkPreload),
		)
	} else {
		it, err = e.resolveInterpreter()
	}
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	argv := it.Command(script.Path, args...)

	cmd, stdin, stdout, stderr, err := spawnCmd(argv, filepath.Dir(script.Path), scrubEnv(os.Environ(), sessionID))
	if err != nil {
		return nil, &kitrun.SpawnError{Script: script.Path, Interpreter: it.Path, Err: err}
	}

	if rerr := e.reg.Register(cmd.Process.Pid, script.Path); rerr != nil {
		// A failed table write costs crash recovery for this one child,
		// not the session itself.
		e.opts.Logger.Warn("pid registration failed",
			"pid", cmd.Process.Pid, "script", script.Path, "err", rerr)
	}

	ch := newChannel(script, sessionID, e.opts, e.reg, cmd, stdin, stdout, stderr)

	if err := e.slot.Install(ch); err != nil {
		// Lost the race with a concurrent Start. Tear the extra child
		// down; the winner keeps the slot.
		cancelCtx, cancel := context.WithTimeout(context.Background(), e.opts.GracePeriod*2)
		ch.Cancel(cancelCtx)
		cancel()
		return nil, err
	}
	// The slot frees itself when the session ends, whatever ends it:
	// natural exit, crash, or Cancel. Release compares channels, so a
	// Take racing with the hook cannot evict a successor session.
	ch.OnFinish(func() { e.slot.Release(ch) })

	e.opts.Logger.Info("script started",
		"script", script.Path, "pid", cmd.Process.Pid, "session", sessionID,
		"interpreter", it.Name)
	return ch, nil
}

// Cancel tears down the active session, if any. The slot is empty and the
// PID unregistered by the time Cancel returns.
func (e *Engine) Cancel(ctx context.Context) error {
	ch := e.slot.Take()
	if ch == nil {
		return nil
	}
	return ch.Cancel(ctx)
}

// Take removes and returns the active channel without cancelling it, or
// nil when no session is active. Used by routers that own teardown.
func (e *Engine) Take() *Channel {
	return e.slot.Take()
}

func (e *Engine) resolveInterpreter() (interp.Interpreter, error) {
	opts := []interp.Option{interp.WithPreload(e.opts.sdkPreload)}
	if e.opts.interpreter != "" {
		opts = append(opts, interp.WithPinned(e.opts.interpreter))
	}
	return interp.Resolve(opts...)
}

// spawnCmd builds, configures, and starts the child in its own process
// group, with all three standard streams piped. Setpgid makes the child's
// PID double as its PGID, so one signal later reaches the script and every
// helper it forked.
func spawnCmd(argv []string, dir string, env []string) (*exec.Cmd, io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, nil, err
	}
	return cmd, stdin, stdout, stderr, nil
}
