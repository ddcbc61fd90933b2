// Package types holds the wire-level data model shared across HostBridge:
// scopes, leases, transactions, queue items, context snapshots, semantic
// indexes, memory entries, codex jobs, and receipts.
package types

import "fmt"

// DefaultProjectKey is the project namespace used when a caller omits one.
const DefaultProjectKey = "default"

// Scope identifies one authoring session: a place and the session the host
// opened against it. Every lease-bound and context operation is partitioned
// by Scope; there is no cross-scope visibility.
type Scope struct {
	PlaceID   int64  `json:"placeId"`
	SessionID string `json:"sessionId"`
}

// Key renders a Scope as a stable map/log key.
func (s Scope) Key() string {
	return fmt.Sprintf("%d::%s", s.PlaceID, s.SessionID)
}

// Valid reports whether both scope fields are populated.
func (s Scope) Valid() bool {
	return s.PlaceID != 0 && s.SessionID != ""
}

// Equal reports whether two scopes name the same session.
func (s Scope) Equal(o Scope) bool {
	return s.PlaceID == o.PlaceID && s.SessionID == o.SessionID
}

// ContextKey identifies a context snapshot: a scope plus a project
// namespace within it.
type ContextKey struct {
	Scope      Scope  `json:"scope"`
	ProjectKey string `json:"projectKey"`
}

// Key renders a ContextKey as a stable map/log key.
func (k ContextKey) Key() string {
	pk := k.ProjectKey
	if pk == "" {
		pk = DefaultProjectKey
	}
	return fmt.Sprintf("%s::%s", k.Scope.Key(), pk)
}
