package contextstore

import (
	"strings"
	"time"

	"github.com/hostbridge/hostbridge/internal/semantic"
	"github.com/hostbridge/hostbridge/internal/types"
)

// FingerprintOf returns the cached fingerprint for path under key, the way
// the expectedHash precondition check resolves "what the server currently
// has cached" regardless of whether source text itself is cached.
func (s *Store) FingerprintOf(key types.ContextKey, path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok || e.snapshot == nil {
		return "", false
	}
	script, ok := e.snapshot.ScriptByPath(path)
	if !ok {
		return "", false
	}
	return semantic.Fingerprint(script), true
}

// Latest returns the most recent snapshot for key.
func (s *Store) Latest(key types.ContextKey) (*types.ContextSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok || e.snapshot == nil {
		return nil, types.NewError(types.KindNoContext, "no context exported for scope")
	}
	return e.snapshot, nil
}

// Semantic returns the semantic index for key's latest snapshot.
func (s *Store) Semantic(key types.ContextKey) (*types.SemanticIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok || e.semanticIdx == nil {
		return nil, types.NewError(types.KindNoContext, "no context exported for scope")
	}
	return e.semanticIdx, nil
}

// ContextSummary is the §4.4 summary payload: snapshot counts and meta,
// when the context was last exported, and the stored memory note (empty
// if none has been set).
type ContextSummary struct {
	ContextID      string            `json:"contextId"`
	ContextVersion int64             `json:"contextVersion"`
	Meta           types.ContextMeta `json:"meta"`
	TreeCount      int               `json:"treeCount"`
	ScriptCount    int               `json:"scriptCount"`
	LastExportAt   time.Time         `json:"lastExportAt"`
	Memory         string            `json:"memory,omitempty"`
}

// Summary returns key's summary: counts, meta, last-export timestamp, and
// memory, as distinct from Semantic's full per-script index.
func (s *Store) Summary(key types.ContextKey) (ContextSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok || e.snapshot == nil {
		return ContextSummary{}, types.NewError(types.KindNoContext, "no context exported for scope")
	}
	sum := ContextSummary{
		ContextID:      e.snapshot.ContextID,
		ContextVersion: e.snapshot.ContextVersion,
		Meta:           e.snapshot.Meta,
		TreeCount:      len(treePaths(e.snapshot.Tree)),
		ScriptCount:    len(e.snapshot.Scripts),
		LastExportAt:   e.lastExportAt,
	}
	if e.memory != nil {
		sum.Memory = e.memory.Text
	}
	return sum, nil
}

// Script returns a single script's text, translating the reason source is
// unavailable into the matching error kind.
func (s *Store) Script(key types.ContextKey, path string) (types.ScriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok || e.snapshot == nil {
		return types.ScriptEntry{}, types.NewError(types.KindNoContext, "no context exported for scope")
	}
	script, ok := e.snapshot.ScriptByPath(path)
	if !ok {
		return types.ScriptEntry{}, types.NewError(types.KindScriptNotFound, "no script at path %q", path)
	}
	if script.HasSource() {
		return script, nil
	}
	switch script.SourceOmittedReason {
	case "diff":
		return types.ScriptEntry{}, types.NewError(types.KindSourceOmitted, "source omitted in diff export for %q", path)
	default:
		if script.SourceTruncated {
			return types.ScriptEntry{}, types.NewError(types.KindSourceTruncated, "source truncated for %q", path)
		}
		return types.ScriptEntry{}, types.NewError(types.KindSourceMissing, "no source cached for %q", path)
	}
}

// Missing lists every script path whose source is unavailable in key's
// latest snapshot, for /context/missing and the codex bridge's job context.
func (s *Store) Missing(key types.ContextKey) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok || e.snapshot == nil {
		return nil, types.NewError(types.KindNoContext, "no context exported for scope")
	}
	var missing []string
	for _, sc := range e.snapshot.Scripts {
		if !sc.HasSource() {
			missing = append(missing, sc.Path)
		}
	}
	return missing, nil
}

// RequestExport records that the next host status poll on scope should
// trigger a ContextExport with the given parameters.
func (s *Store) RequestExport(key types.ContextKey, req types.ContextRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok {
		e = &entry{}
		s.entries[key.Key()] = e
	}
	req.RequestedAt = time.Now()
	e.pendingReq = &req
}

// PendingRequest returns and clears the pending export request for key, if
// any. Hosts consume it via their status poll.
func (s *Store) PendingRequest(key types.ContextKey) (types.ContextRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok || e.pendingReq == nil {
		return types.ContextRequest{}, false
	}
	req := *e.pendingReq
	e.pendingReq = nil
	return req, true
}

// SetMemory stores a free-form note for key, truncating to MaxMemoryChars.
func (s *Store) SetMemory(key types.ContextKey, text string) types.ContextMemory {
	if len(text) > types.MaxMemoryChars {
		text = text[:types.MaxMemoryChars]
	}
	mem := types.ContextMemory{ContextKey: key, Text: text, UpdatedAt: time.Now()}

	s.mu.Lock()
	e, ok := s.entries[key.Key()]
	if !ok {
		e = &entry{}
		s.entries[key.Key()] = e
	}
	e.memory = &mem
	s.mu.Unlock()

	if s.persist != nil {
		_ = s.persist.SaveMemory(&mem)
	}
	return mem
}

// Memory returns key's stored note.
func (s *Store) Memory(key types.ContextKey) (types.ContextMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok || e.memory == nil {
		return types.ContextMemory{}, types.NewError(types.KindNoMemory, "no memory stored for scope")
	}
	if strings.TrimSpace(e.memory.Text) == "" {
		return types.ContextMemory{}, types.NewError(types.KindEmptyMemory, "memory is empty")
	}
	return *e.memory, nil
}

// Reset drops every in-memory record for key (snapshot, semantic index,
// memory, pending request) and asks the persister to forget it.
func (s *Store) Reset(key types.ContextKey) error {
	s.mu.Lock()
	delete(s.entries, key.Key())
	s.mu.Unlock()

	if s.persist != nil {
		return s.persist.DeleteContext(key.Key())
	}
	return nil
}

// LoadSnapshot seeds key's in-memory entry from a persisted snapshot, used
// at startup and by the Reconciler when the on-disk record changes out from
// under the in-memory copy.
func (s *Store) LoadSnapshot(key types.ContextKey, snap *types.ContextSnapshot, idx *types.SemanticIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Key()]
	if !ok {
		e = &entry{}
		s.entries[key.Key()] = e
	}
	e.snapshot = snap
	e.semanticIdx = idx
}
