package jsonfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// AppendLog is an append-only JSONL file guarded by an advisory flock, the
// way a multi-writer queue file serializes concurrent appenders without a
// database.
type AppendLog struct {
	path string
}

// NewAppendLog opens (creating if necessary) the JSONL file at path.
func NewAppendLog(path string) (*AppendLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: mkdir: %w", err)
	}
	return &AppendLog{path: path}, nil
}

// Append writes v as one JSON line, holding an exclusive flock for the
// duration of the write so concurrent appenders never interleave lines.
func (l *AppendLog) Append(v any) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("jsonfile: open log: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("jsonfile: flock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonfile: marshal: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("jsonfile: write: %w", err)
	}
	return nil
}

// Tail reads the last limit JSON lines from path, parsing each into a
// map[string]any in file order. A non-positive limit returns every line.
func Tail(path string, limit int) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			continue
		}
		lines = append(lines, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}
