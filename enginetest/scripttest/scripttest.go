// Package scripttest generates small shell scripts that speak the prompt
// protocol, for exercising the engine and router against real child
// processes without requiring a JavaScript runtime on the test host.
//
// Scripts are written to t.TempDir and pinned to /bin/sh, so the engine's
// runtime resolution is bypassed. A typical script emits prompt lines with
// printf and reads responses with `read -r`.
package scripttest

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/kitrun/kitrun"
)

// Shell is the interpreter pin used for generated scripts.
const Shell = "/bin/sh"

// Write materializes body as an executable script and returns a Script
// pinned to /bin/sh. The file lives in a fresh temp dir cleaned up with
// the test.
func Write(t *testing.T, body string) kitrun.Script {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.ts")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("scripttest: write script: %v", err)
	}
	return kitrun.Script{Name: "script", Path: path, Interpreter: Shell}
}

// PromptOnce returns a script body that emits a single arg prompt, echoes
// the response line to stderr, and exits 0.
func PromptOnce(id string) string {
	return `printf '{"type":"arg","id":"` + id + `","placeholder":"name?"}\n'
read -r resp
printf '%s\n' "$resp" >&2
exit 0
`
}

// PromptThenExit returns a body that emits one prompt, waits for any
// response, then announces a protocol exit before terminating.
func PromptThenExit(id string, code int) string {
	return `printf '{"type":"arg","id":"` + id + `","placeholder":"x"}\n'
read -r resp
printf '{"type":"exit","code":` + strconv.Itoa(code) + `}\n'
exit ` + strconv.Itoa(code) + `
`
}

// Cooperative returns a body that blocks on stdin and exits 0 as soon as
// any line (such as the cooperative exit message) arrives.
func Cooperative() string {
	return `read -r line
exit 0
`
}

// Stubborn returns a body that ignores SIGTERM and stdin, so only a
// SIGKILL ends it.
func Stubborn() string {
	return `trap '' TERM
while :; do sleep 1; done
`
}

// Forker returns a body that starts a background helper in the same
// process group and then idles, for group-kill coverage.
func Forker() string {
	return `sleep 60 &
while :; do sleep 1; done
`
}
