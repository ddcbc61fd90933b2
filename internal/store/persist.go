// Package store wires the jsonfile and sqlite persistence primitives into
// the Persister shape contextstore expects: atomic JSON files as the
// durable layout on disk, an optional SQLite mirror alongside it. This
// package writes context_<id>.json, context_<id>.memory.txt, and
// context_events.log. No queue_state.json file is written anywhere: queue
// items are mirrored only to the SQLite queue_state table.
package store

import (
	"os"
	"path/filepath"

	"github.com/hostbridge/hostbridge/internal/store/jsonfile"
	"github.com/hostbridge/hostbridge/internal/types"
)

// SQLMirror is the subset of *sqlite.DB the context persister mirrors
// writes to. Nil-safe: every call site guards on sql == nil.
type SQLMirror interface {
	SaveSnapshot(snap *types.ContextSnapshot) error
	SaveSemantic(idx *types.SemanticIndex) error
	SaveMemory(mem *types.ContextMemory) error
	DeleteContext(contextID string) error
	AppendContextEvent(contextID, event string, fields map[string]any) error
}

// ContextPersister implements contextstore.Persister over a directory of
// JSON files, with an optional SQL mirror for query-friendly access.
type ContextPersister struct {
	dir    string
	events *jsonfile.AppendLog
	sql    SQLMirror
}

// NewContextPersister opens (creating if necessary) dir/context_events.log
// and returns a persister rooted at dir, optionally mirroring every write
// to sql.
func NewContextPersister(dir string, sql SQLMirror) (*ContextPersister, error) {
	events, err := jsonfile.NewAppendLog(filepath.Join(dir, "context_events.log"))
	if err != nil {
		return nil, err
	}
	return &ContextPersister{dir: dir, events: events, sql: sql}, nil
}

func (p *ContextPersister) snapshotPath(contextID string) string {
	return filepath.Join(p.dir, "context_"+contextID+".json")
}

func (p *ContextPersister) memoryPath(contextID string) string {
	return filepath.Join(p.dir, "context_"+contextID+".memory.txt")
}

// SaveSnapshot writes snap to context_<id>.json and mirrors it to SQL.
func (p *ContextPersister) SaveSnapshot(snap *types.ContextSnapshot) error {
	if err := jsonfile.WriteAtomic(p.snapshotPath(snap.ContextID), snap); err != nil {
		return err
	}
	if p.sql != nil {
		return p.sql.SaveSnapshot(snap)
	}
	return nil
}

// SaveSemantic mirrors idx to SQL only; no semantic index is written to a
// JSON file.
func (p *ContextPersister) SaveSemantic(idx *types.SemanticIndex) error {
	if p.sql != nil {
		return p.sql.SaveSemantic(idx)
	}
	return nil
}

// SaveMemory writes mem's text to context_<id>.memory.txt and mirrors it
// to SQL.
func (p *ContextPersister) SaveMemory(mem *types.ContextMemory) error {
	contextID := mem.ContextKey.Key()
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(p.memoryPath(contextID), []byte(mem.Text), 0o600); err != nil {
		return err
	}
	if p.sql != nil {
		return p.sql.SaveMemory(mem)
	}
	return nil
}

// DeleteContext removes contextID's JSON files and SQL rows.
func (p *ContextPersister) DeleteContext(contextID string) error {
	_ = os.Remove(p.snapshotPath(contextID))
	_ = os.Remove(p.memoryPath(contextID))
	if p.sql != nil {
		return p.sql.DeleteContext(contextID)
	}
	return nil
}

// AppendContextEvent appends one line to context_events.log and mirrors it
// to SQL.
func (p *ContextPersister) AppendContextEvent(contextID, event string, fields map[string]any) error {
	line := map[string]any{"contextId": contextID, "event": event}
	for k, v := range fields {
		line[k] = v
	}
	if err := p.events.Append(line); err != nil {
		return err
	}
	if p.sql != nil {
		return p.sql.AppendContextEvent(contextID, event, fields)
	}
	return nil
}
