// Package scripts discovers runnable scripts in the user's scripts
// directory and watches it for changes.
//
// A script is any top-level .ts or .js file. Display metadata comes from
// leading comment lines:
//
//	// Name: Open Project
//	// Description: Fuzzy-pick a project and open it
//	// Interpreter: node
package scripts

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kitrun/kitrun"
)

// metadataScanLimit bounds how far into a file metadata is looked for.
const metadataScanLimit = 20

// Scan enumerates the scripts in dir, sorted by name. Hidden files and
// non-script extensions are skipped. A missing directory is an empty
// result, not an error: first launch happens before any script exists.
func Scan(dir string) ([]kitrun.Script, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scripts: read %s: %w", dir, err)
	}

	var out []kitrun.Script
	for _, entry := range entries {
		if entry.IsDir() || !IsScriptFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		out = append(out, Load(path))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Load builds a Script for path, reading its comment metadata. The name
// falls back to the file stem when no Name comment exists.
func Load(path string) kitrun.Script {
	s := kitrun.Script{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}

	f, err := os.Open(path)
	if err != nil {
		return s
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for i := 0; i < metadataScanLimit && scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#!") {
			continue
		}
		if !strings.HasPrefix(line, "//") {
			break // metadata lives in the leading comment block only
		}
		key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "//")), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			if value != "" {
				s.Name = value
			}
		case "description":
			s.Description = value
		case "interpreter":
			s.Interpreter = value
		}
	}
	return s
}

// IsScriptFile reports whether name looks like a runnable script.
func IsScriptFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch filepath.Ext(name) {
	case ".ts", ".js", ".mjs":
		return true
	default:
		return false
	}
}
