package kitrun

import (
	"context"

	"github.com/kitrun/kitrun/protocol"
)

// Channel is an active script session handle.
//
// Prompt messages flow through Inbound. Send transmits responses back to
// the script. Cancel performs the two-phase teardown (cooperative exit
// message, then group kill), and Wait blocks until the script ends.
//
// Channel is an interface to enable wrapping with logging or test
// doubles.
type Channel interface {
	// Inbound returns the channel of prompt messages decoded from the
	// script's stdout. It is closed when the session ends, whether the
	// script exited, crashed, or was cancelled.
	//
	// The reader never discards a prompt: when the consumer falls
	// behind, the decode loop blocks and the child's stdout backs up.
	Inbound() <-chan protocol.PromptMessage

	// Send writes a response message to the script's stdin. It never
	// blocks: a full outbound queue returns ErrChannelFull and a closed
	// session returns ErrDisconnected.
	Send(msg protocol.Message) error

	// Cancel terminates the session. It first offers the script a
	// cooperative exit message, then kills the whole process group after
	// the grace period. The group is killed regardless of whether the
	// cooperative phase succeeded.
	Cancel(ctx context.Context) error

	// Wait blocks until the session ends. Returns nil on a clean exit
	// and an ExitError wrapping the status and captured stderr
	// otherwise.
	Wait() error

	// Err returns the terminal error after Inbound is closed. Returns
	// nil if the session ended cleanly.
	Err() error

	// PID returns the child's process ID, which is also its process
	// group ID.
	PID() int
}
