package kitrun

import (
	"errors"
	"strconv"
)

// Sentinel errors for engine operations.
var (
	// ErrUnavailable indicates no interpreter could be found for a script
	// (binary not on PATH or in any of the common install locations).
	ErrUnavailable = errors.New("kitrun: interpreter unavailable")

	// ErrTerminated indicates the session was terminated
	// (process killed or cancelled by the user).
	ErrTerminated = errors.New("kitrun: session terminated")

	// ErrOccupied indicates a run request was rejected because another
	// interactive script is already active. Only one interactive session
	// may exist at a time.
	ErrOccupied = errors.New("kitrun: session slot occupied")

	// ErrChannelFull indicates a non-blocking send to the script was
	// dropped because the outbound queue was full. Transient: the child
	// is alive but not draining its stdin.
	ErrChannelFull = errors.New("kitrun: outbound channel full")

	// ErrDisconnected indicates the script's stdin pipe is gone (the
	// child exited or closed its end). Callers treat this like receiving
	// an exit message: the session is over.
	ErrDisconnected = errors.New("kitrun: channel disconnected")
)

// SpawnError describes a failed attempt to start a script. No session is
// created and nothing is registered when Spawn fails, so there is no orphan
// risk. Wraps the underlying exec error.
type SpawnError struct {
	Script      string // script path
	Interpreter string // interpreter binary attempted (may be empty)
	Err         error
}

func (e *SpawnError) Error() string {
	if e.Interpreter != "" {
		return "kitrun: spawn " + e.Script + " with " + e.Interpreter + ": " + e.Err.Error()
	}
	return "kitrun: spawn " + e.Script + ": " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError represents a script that exited with a non-zero status.
// Wraps the underlying error to preserve the error chain, so consumers can
// errors.As to *exec.ExitError for OS-level detail (signal info, etc.).
//
// Code semantics: positive = exit status, negative (-1) = signal-killed.
// Stderr holds a size-bounded excerpt of the script's stderr, captured at
// reap time.
//
// Non-zero exit is a normal script outcome, not an engine failure.
// User-initiated cancellation produces ErrTerminated instead.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "kitrun: exit status " + strconv.Itoa(e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error chain containing *ExitError.
// Returns (0, false) if the error does not contain an ExitError.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
