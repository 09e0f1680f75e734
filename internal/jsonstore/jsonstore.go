// Package jsonstore provides the write-temp-then-rename durability pattern
// used for every JSON document the manager persists (the distro catalog, the
// image index, the published terminal-profile document). It generalizes the
// consent-file write idiom the rest of the codebase is grounded on.
package jsonstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// WriteJSON marshals v as indented JSON (struct fields in declaration order,
// map keys sorted) and atomically replaces
// path with the result (write to a sibling temp file, then rename). Not
// atomic on Windows, matching the caveat the rest of the stack already
// carries for this idiom.
func WriteJSON(log *slog.Logger, path string, v any) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("could not create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			if log != nil {
				log.Warn("failed to remove temporary file", "file", tmp.Name(), "error", rmErr)
			}
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("could not encode JSON: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("could not rename temporary file: %w", err)
	}
	if log != nil {
		log.Debug("wrote JSON file", "file", path)
	}
	return nil
}

// ReadJSON reads and unmarshals the JSON document at path into v. Unknown
// fields are preserved by round-tripping through a map when v is a
// *map[string]any; typed callers that need round-trip fidelity for unknown
// fields should decode into a struct with a `json:"-"` extras map merged by
// the caller, as the manifest package does.
func ReadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Exists reports whether path exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
