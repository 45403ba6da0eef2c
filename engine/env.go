package engine

import (
	"strconv"
	"strings"

	"github.com/kitrun/kitrun/protocol"
)

// safeEnvVars is the allowlist of parent environment variables passed to
// scripts. Everything else is scrubbed so credentials held by the host
// (API keys, tokens) never leak into user scripts.
var safeEnvVars = []string{
	"PATH",
	"HOME",
	"TMPDIR",
	"USER",
	"LOGNAME",
	"LANG",
	"LC_ALL",
	"TERM",
	"SHELL",
	"XDG_RUNTIME_DIR",
	"XDG_DATA_HOME",
	"XDG_CONFIG_HOME",
}

// envPassthroughPrefix marks variables the user explicitly addresses to
// scripts; they pass through the scrub untouched.
const envPassthroughPrefix = "KITRUN_"

// scrubEnv filters parent down to the allowlist plus KITRUN_* passthrough,
// then appends the session variables scripts use to identify their host.
func scrubEnv(parent []string, sessionID string) []string {
	allowed := make(map[string]bool, len(safeEnvVars))
	for _, k := range safeEnvVars {
		allowed[k] = true
	}

	env := make([]string, 0, len(safeEnvVars)+4)
	for _, kv := range parent {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if allowed[key] || strings.HasPrefix(key, envPassthroughPrefix) {
			env = append(env, kv)
		}
	}

	env = append(env,
		"KITRUN_SESSION_ID="+sessionID,
		"KITRUN_PROTOCOL="+strconv.Itoa(protocol.Version),
	)
	return env
}
