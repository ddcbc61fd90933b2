// Package jsonfile provides the write-temp-then-rename JSON persistence
// idiom used across HostBridge's on-disk state: context snapshots and the
// codex bridge's job, response, ack, and error files land through
// WriteAtomic so a crash mid write never leaves a half-written file behind.
// Context memory notes are written with a plain os.WriteFile, not through
// WriteAtomic, and semantic indexes are not written to JSON files at all.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic marshals v as indented JSON and writes it to path via a
// temp-file-then-rename, so readers never observe a partially written
// file. The temp file is created alongside path so the rename stays on
// the same filesystem.
func WriteAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("jsonfile: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: rename: %w", err)
	}
	return nil
}

// ReadInto unmarshals the JSON file at path into v. A missing file is
// reported via os.IsNotExist on the returned error.
func ReadInto(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
