package kitrun

import (
	"path/filepath"
	"strings"
)

// Script is a runnable script discovered on disk.
//
// Script is a value type: it carries identity and metadata but no runtime
// state (no process handles, no channels). The engine holds runtime state.
type Script struct {
	// Name is the display name shown in the launcher menu.
	Name string `json:"name"`

	// Path is the absolute path to the script file.
	Path string `json:"path"`

	// Description is an optional one-line description parsed from the
	// script's leading comment metadata.
	Description string `json:"description,omitempty"`

	// Interpreter optionally pins the interpreter binary for this script,
	// bypassing the fallback chain.
	Interpreter string `json:"interpreter,omitempty"`
}

// DisplayName returns Name, falling back to the file stem when the script
// carries no metadata name.
func (s Script) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	base := filepath.Base(s.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsTypeScript reports whether the script path has a .ts extension.
func (s Script) IsTypeScript() bool { return filepath.Ext(s.Path) == ".ts" }

// IsJavaScript reports whether the script path has a .js extension.
func (s Script) IsJavaScript() bool { return filepath.Ext(s.Path) == ".js" }
