//go:build !windows

// Package procutil wraps the Unix process-group syscalls used for script
// teardown. Children are spawned with Setpgid so PGID == PID and the whole
// tree can be signalled atomically.
package procutil

import (
	"errors"
	"os"
	"syscall"
	"time"
)

// SignalGroup sends sig to the process group led by pid. Returns nil when
// the group no longer exists: signalling a dead group is success, matching
// the idempotent-kill contract.
func SignalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// GroupAlive reports whether any process in the group led by pid is still
// running. Uses signal 0, which checks existence without delivering a
// signal. EPERM means the group exists but cannot be signalled; it still
// counts as alive.
func GroupAlive(pid int) bool {
	err := syscall.Kill(-pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, syscall.ESRCH)
}

// SignalProcess sends sig to a single process, returning nil if the
// process has already exited (os.ErrProcessDone).
func SignalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// KillGroup terminates the process group led by pid: SIGTERM, then a poll
// of group liveness for the grace period, then SIGKILL for whatever is
// left. The poll checks the whole group, not just the leader, so children
// that outlive the leader are not orphaned.
func KillGroup(pid int, grace time.Duration) {
	const pollInterval = 50 * time.Millisecond

	if err := SignalGroup(pid, syscall.SIGTERM); err != nil {
		// Couldn't deliver SIGTERM; fall through to SIGKILL anyway.
		_ = SignalGroup(pid, syscall.SIGKILL)
		return
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !GroupAlive(pid) {
			return
		}
		time.Sleep(pollInterval)
	}

	_ = SignalGroup(pid, syscall.SIGKILL)
}
