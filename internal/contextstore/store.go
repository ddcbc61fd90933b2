// Package contextstore holds versioned per-(scope, projectKey) context
// snapshots: ingest, delta computation, fingerprint dedup, diff-mode
// source carry-over, and the lookups the HTTP surface and codex bridge
// read from.
package contextstore

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hostbridge/hostbridge/internal/semantic"
	"github.com/hostbridge/hostbridge/internal/types"
)

// Persister is the narrow interface the store uses to mirror state to
// disk/SQL. Concrete implementations live in internal/store.
type Persister interface {
	SaveSnapshot(snap *types.ContextSnapshot) error
	SaveSemantic(idx *types.SemanticIndex) error
	SaveMemory(mem *types.ContextMemory) error
	DeleteContext(contextID string) error
	AppendContextEvent(contextID, event string, fields map[string]any) error
}

// Options bounds delta/semantic sizes.
type Options struct {
	DeltaMaxItems  int
	SemanticOpts   semantic.Options
	MinExportInterval time.Duration
}

type entry struct {
	snapshot     *types.ContextSnapshot
	semanticIdx  *types.SemanticIndex
	memory       *types.ContextMemory
	pendingReq   *types.ContextRequest
	lastExportAt time.Time
}

// Store owns every in-memory context key. Each key's own fields are
// guarded by the store-wide mutex; critical sections are short (no I/O
// under the lock beyond assembling what gets persisted afterward).
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	persist Persister
	opts    Options

	// semanticBuild dedupes concurrent rebuilds of the same
	// (contextId, contextVersion) semantic index: a retried export that
	// races the original never pays for BuildIndex twice.
	semanticBuild singleflight.Group
}

// New builds a Store backed by persist.
func New(persist Persister, opts Options) *Store {
	return &Store{entries: make(map[string]*entry), persist: persist, opts: opts}
}

// ExportResult reports what Export did.
type ExportResult struct {
	Status         string // "ok", "unchanged", "throttled"
	ContextVersion int64
	ContextID      string
}

// Export ingests an incoming snapshot for key, per the Context Store's
// Ingest algorithm: fingerprint-gated version bump, diff-mode source
// carry-over, delta computation, semantic rebuild, and persistence.
func (s *Store) Export(key types.ContextKey, incoming *types.ContextSnapshot) (ExportResult, error) {
	s.mu.Lock()

	e, ok := s.entries[key.Key()]
	if !ok {
		e = &entry{}
		s.entries[key.Key()] = e
	}

	if e.snapshot != nil && incoming.Meta.Fingerprint != "" && e.snapshot.Meta.Fingerprint == incoming.Meta.Fingerprint {
		s.mu.Unlock()
		return ExportResult{Status: "unchanged", ContextVersion: e.snapshot.ContextVersion, ContextID: e.snapshot.ContextID}, nil
	}

	if s.opts.MinExportInterval > 0 && !e.lastExportAt.IsZero() && time.Since(e.lastExportAt) < s.opts.MinExportInterval {
		s.mu.Unlock()
		return ExportResult{Status: "throttled"}, nil
	}

	prev := e.snapshot
	nextVersion := int64(1)
	contextID := deriveContextID(key)
	if prev != nil {
		nextVersion = prev.ContextVersion + 1
		contextID = prev.ContextID
	}

	snap := *incoming
	snap.ContextKey = key
	snap.ContextVersion = nextVersion
	snap.ContextID = contextID
	snap.ServerReceivedAt = time.Now()

	if snap.Meta.Mode == types.ContextModeDiff && prev != nil {
		carryOverSources(&snap, prev)
	}

	snap.Delta = computeDelta(prev, &snap, s.opts.DeltaMaxItems)

	e.snapshot = &snap
	e.lastExportAt = snap.ServerReceivedAt
	e.pendingReq = nil

	s.mu.Unlock()

	idx := s.buildSemanticIndex(&snap)

	s.mu.Lock()
	e.semanticIdx = idx
	s.mu.Unlock()

	if s.persist != nil {
		_ = s.persist.SaveSnapshot(&snap)
		_ = s.persist.SaveSemantic(idx)
		_ = s.persist.AppendContextEvent(snap.ContextID, "export", map[string]any{
			"contextVersion": snap.ContextVersion,
		})
	}

	return ExportResult{Status: "ok", ContextVersion: snap.ContextVersion, ContextID: snap.ContextID}, nil
}

// buildSemanticIndex rebuilds the semantic index for snap outside the
// store mutex, deduping concurrent rebuilds of the same (contextId,
// contextVersion) pair through a singleflight key rather than computing
// the same index twice.
func (s *Store) buildSemanticIndex(snap *types.ContextSnapshot) *types.SemanticIndex {
	sfKey := snap.ContextID + "@" + strconv.FormatInt(snap.ContextVersion, 10)
	v, _, _ := s.semanticBuild.Do(sfKey, func() (any, error) {
		idx := semantic.BuildIndex(snap.ContextID, snap.ContextVersion, snap, s.opts.SemanticOpts)
		return &idx, nil
	})
	return v.(*types.SemanticIndex)
}

func deriveContextID(key types.ContextKey) string {
	return key.Key()
}

// carryOverSources fills in source text for scripts whose hash/size
// matches the prior snapshot, per invariant (ii): for every script
// missing source in a diff-mode export, if the previous snapshot held the
// same path with a matching hash/size, carry the source forward and clear
// sourceTruncated/sourceOmittedReason.
func carryOverSources(snap *types.ContextSnapshot, prev *types.ContextSnapshot) {
	for i := range snap.Scripts {
		s := &snap.Scripts[i]
		if s.Source != "" {
			continue
		}
		prior, ok := prev.ScriptByPath(s.Path)
		if !ok {
			continue
		}
		matches := (s.SHA1 != "" && s.SHA1 == prior.SHA1) || (s.SHA1 == "" && s.Bytes > 0 && s.Bytes == prior.Bytes)
		if !matches {
			continue
		}
		s.Source = prior.Source
		s.SourceTruncated = false
		if s.SourceOmittedReason == "diff" {
			s.SourceOmittedReason = ""
		}
	}
}

func computeDelta(prev, cur *types.ContextSnapshot, maxItems int) *types.Delta {
	d := &types.Delta{}
	if prev == nil {
		for _, t := range cur.Tree {
			d.TreeAdded = append(d.TreeAdded, t.Path)
		}
		for _, sc := range cur.Scripts {
			d.ScriptsAdded = append(d.ScriptsAdded, sc.Path)
		}
		d.TreeAddedCount = len(d.TreeAdded)
		d.ScriptsAddedCount = len(d.ScriptsAdded)
		truncate(d, maxItems)
		return d
	}

	prevTree := pathSet(treePaths(prev.Tree))
	curTree := pathSet(treePaths(cur.Tree))
	added, removed := diffSets(prevTree, curTree)
	d.TreeAdded, d.TreeAddedCount = added, len(added)
	d.TreeRemoved, d.TreeRemovedCount = removed, len(removed)

	prevScripts := map[string]types.ScriptEntry{}
	for _, s := range prev.Scripts {
		prevScripts[s.Path] = s
	}
	curScripts := map[string]types.ScriptEntry{}
	for _, s := range cur.Scripts {
		curScripts[s.Path] = s
	}

	for path := range curScripts {
		if _, ok := prevScripts[path]; !ok {
			d.ScriptsAdded = append(d.ScriptsAdded, path)
		}
	}
	for path := range prevScripts {
		if _, ok := curScripts[path]; !ok {
			d.ScriptsRemoved = append(d.ScriptsRemoved, path)
		}
	}
	for path, cur := range curScripts {
		if prior, ok := prevScripts[path]; ok && semantic.Fingerprint(cur) != semantic.Fingerprint(prior) {
			d.ScriptsChanged = append(d.ScriptsChanged, path)
		}
	}

	d.ScriptsAddedCount = len(d.ScriptsAdded)
	d.ScriptsRemovedCount = len(d.ScriptsRemoved)
	d.ScriptsChangedCount = len(d.ScriptsChanged)

	truncate(d, maxItems)
	return d
}

func truncate(d *types.Delta, maxItems int) {
	if maxItems <= 0 {
		return
	}
	cap := func(s []string) []string {
		if len(s) > maxItems {
			return s[:maxItems]
		}
		return s
	}
	d.TreeAdded = cap(d.TreeAdded)
	d.TreeRemoved = cap(d.TreeRemoved)
	d.ScriptsAdded = cap(d.ScriptsAdded)
	d.ScriptsRemoved = cap(d.ScriptsRemoved)
	d.ScriptsChanged = cap(d.ScriptsChanged)
}

func treePaths(nodes []types.TreeNode) []string {
	var out []string
	var walk func([]types.TreeNode)
	walk = func(ns []types.TreeNode) {
		for _, n := range ns {
			out = append(out, n.Path)
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}

func pathSet(paths []string) map[string]bool {
	m := make(map[string]bool, len(paths))
	for _, p := range paths {
		m[p] = true
	}
	return m
}

func diffSets(prev, cur map[string]bool) (added, removed []string) {
	for p := range cur {
		if !prev[p] {
			added = append(added, p)
		}
	}
	for p := range prev {
		if !cur[p] {
			removed = append(removed, p)
		}
	}
	return added, removed
}
