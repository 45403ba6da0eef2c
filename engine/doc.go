// Package engine runs scripts as child processes and speaks the prompt
// protocol with them over their standard streams.
//
// [New] builds an [Engine] around a process registry. [Engine.Start]
// resolves a JavaScript runtime, spawns the script in its own process
// group with a scrubbed environment, registers the PID on disk, and
// returns a [Channel]. The Channel pumps decoded prompt messages out of
// the child's stdout and queued responses into its stdin.
//
// At most one session is active at a time: the internal [Slot] rejects a
// second Start with kitrun.ErrOccupied until the first session ends. The
// slot frees itself when the session ends, however it ends, so a clean
// exit immediately admits the next Start.
//
// Teardown is two-phase. [Channel.Cancel] first offers the script a
// cooperative exit message, then kills the whole process group after the
// grace period. The group kill happens even when the cooperative phase
// succeeded, so a script that acknowledges the exit but lingers still
// dies.
//
// # Platform Support
//
// The engine uses Unix process groups and signals and is not available on
// Windows.
//
// # Consumer Obligations
//
// Callers must either drain [Channel.Inbound] to completion or call
// [Channel.Cancel] to release the child. Failing to do so leaves the
// child running with its stdout backed up.
package engine
