// Package kitrun provides the script execution and prompt protocol engine
// for a fuzzy-searchable script launcher.
//
// kitrun spawns user-authored scripts as child processes and exchanges a
// newline-delimited JSON protocol with them over their standard streams, so
// a script can request arbitrary interactive input (argument picking, path
// browsing, forms, chat, terminal, secret capture) without knowing anything
// about the host UI.
//
// # Core Types
//
//   - [Script] — a runnable script discovered on disk (value type)
//   - [Channel] — an active script session with an inbound prompt stream
//   - [ExitError] — a script that exited with a non-zero status
//
// # Packages
//
// The root package defines the shared vocabulary. The machinery lives in
// subpackages:
//
//   - protocol — the typed prompt/response wire format
//   - engine   — child process lifecycle, the protocol channel, the
//     single-session slot
//   - router   — the prompt state machine driving a UI
//   - registry — the crash-safe table of live child PIDs
//   - scripts  — script discovery and directory watching
//
// # Quick Start
//
//	eng := engine.New(reg)
//	ch, err := eng.Start(ctx, kitrun.Script{Path: "/path/to/hello.ts"})
//	if err != nil { log.Fatal(err) }
//	for msg := range ch.Inbound() {
//	    fmt.Println(msg.Type)
//	}
package kitrun
