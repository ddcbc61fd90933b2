// Package leasemgr admits a single primary host per process and mints the
// monotonically fenced lease tokens every other component gates on.
package leasemgr

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostbridge/hostbridge/internal/types"
)

// Manager owns the single current lease. Every lease-bound operation
// (heartbeat, sync, wait, receipt, enqueue-from-job) presents
// (leaseToken, fence, scope) and is rejected on mismatch before any side
// effect. Manager's lock is private and held only for the check itself;
// the caller's side effects run after it is released.
type Manager struct {
	mu          sync.Mutex
	current     *types.Lease
	heartbeatTTL time.Duration
	fenceSeq    int64

	// OnDrop is invoked (outside the lock) whenever the primary changes —
	// on release, takeover, or an admit that replaces an expired lease —
	// so the queue/claims/context-debug state for the dropped scope can be
	// cleared. It is nil-safe to leave unset.
	OnDrop func(scope types.Scope)
}

// New builds a Manager with the given heartbeat liveness window.
func New(heartbeatTTL time.Duration) *Manager {
	return &Manager{heartbeatTTL: heartbeatTTL}
}

// RegisterRequest is the /register body.
type RegisterRequest struct {
	ClientID  string
	SessionID string
	PlaceID   int64
	Takeover  bool
}

// RegisterResult is the /register success body.
type RegisterResult struct {
	LeaseToken string
	Fence      int64
	ServerSeq  int64
}

// Register implements the admit/reconnect/takeover state machine of the
// scope & lease manager.
func (m *Manager) Register(req RegisterRequest) (RegisterResult, error) {
	m.mu.Lock()

	now := time.Now()
	var dropped *types.Scope

	if m.current != nil && !m.current.Alive(now, m.heartbeatTTL) {
		s := m.current.Scope()
		dropped = &s
		m.current = nil
	}

	switch {
	case m.current == nil:
		m.current = &types.Lease{
			LeaseToken:      uuid.NewString(),
			Fence:           m.nextFenceLocked(),
			ClientID:        req.ClientID,
			PlaceID:         req.PlaceID,
			SessionID:       req.SessionID,
			LastHeartbeatAt: now,
		}

	case m.current.Identity() == (types.Identity{ClientID: req.ClientID, SessionID: req.SessionID}):
		m.current.LastHeartbeatAt = now

	case req.Takeover:
		s := m.current.Scope()
		dropped = &s
		m.current = &types.Lease{
			LeaseToken:      uuid.NewString(),
			Fence:           m.nextFenceLocked(),
			ClientID:        req.ClientID,
			PlaceID:         req.PlaceID,
			SessionID:       req.SessionID,
			LastHeartbeatAt: now,
		}

	default:
		m.mu.Unlock()
		return RegisterResult{}, types.NewError(types.KindPrimaryAlreadyRegistered,
			"primary already registered for place %d", req.PlaceID)
	}

	result := RegisterResult{
		LeaseToken: m.current.LeaseToken,
		Fence:      m.current.Fence,
		ServerSeq:  m.current.Fence,
	}
	m.mu.Unlock()

	if dropped != nil && m.OnDrop != nil {
		m.OnDrop(*dropped)
	}
	return result, nil
}

// nextFenceLocked returns the next fence value. The counter lives on the
// Manager, independent of lease identity, so it keeps increasing across
// releases and expiries for the lifetime of the process.
func (m *Manager) nextFenceLocked() int64 {
	m.fenceSeq++
	return m.fenceSeq
}

// Release drops the current lease if the token and fence match.
func (m *Manager) Release(leaseToken string, fence int64) error {
	m.mu.Lock()
	if m.current == nil || m.current.LeaseToken != leaseToken || m.current.Fence != fence {
		m.mu.Unlock()
		return types.NewError(types.KindFenceMismatch, "release: lease/fence mismatch")
	}
	scope := m.current.Scope()
	m.current = nil
	m.mu.Unlock()

	if m.OnDrop != nil {
		m.OnDrop(scope)
	}
	return nil
}

// Heartbeat refreshes liveness for the current lease.
func (m *Manager) Heartbeat(leaseToken string, fence int64, scope types.Scope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(leaseToken, fence, scope); err != nil {
		return 0, err
	}
	m.current.LastHeartbeatAt = time.Now()
	return m.current.Fence, nil
}

// Check validates (leaseToken, fence, scope) against the current primary
// without mutating anything — the shared precondition every lease-bound
// operation runs before its own side effects.
func (m *Manager) Check(leaseToken string, fence int64, scope types.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked(leaseToken, fence, scope)
}

func (m *Manager) checkLocked(leaseToken string, fence int64, scope types.Scope) error {
	if m.current == nil {
		return types.NewError(types.KindNoPrimary, "no primary registered")
	}
	if m.current.LeaseToken != leaseToken || m.current.Fence != fence {
		return types.NewError(types.KindFenceMismatch, "stale lease token or fence")
	}
	if !m.current.Scope().Equal(scope) {
		return types.NewError(types.KindScopeMismatch, "scope does not match primary")
	}
	return nil
}

// Current returns a copy of the current lease, if any.
func (m *Manager) Current() (types.Lease, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return types.Lease{}, false
	}
	return *m.current, true
}

// CurrentScope returns the primary's scope, used by scope-auto endpoints
// that fall back to "the current primary" when a caller omits scope.
func (m *Manager) CurrentScope() (types.Scope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return types.Scope{}, false
	}
	return m.current.Scope(), true
}
