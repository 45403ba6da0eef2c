package kitrun

import "context"

// Engine starts script sessions.
//
// The production implementation is the subprocess engine in package
// engine. Use Validate to check that a JavaScript runtime is installed
// before calling Start.
type Engine interface {
	// Start launches script as a child process and returns a Channel
	// handle. The Channel immediately begins delivering prompt messages
	// on its Inbound channel. args are passed to the script after its
	// path.
	//
	// Returns ErrOccupied when a session is already active, and a
	// SpawnError when the child cannot be launched.
	Start(ctx context.Context, script Script, args ...string) (Channel, error)

	// Validate checks that the engine is ready to run scripts. It
	// verifies that a JavaScript runtime is installed and executable.
	Validate() error
}
