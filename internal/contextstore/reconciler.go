package contextstore

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostbridge/hostbridge/internal/logging"
	"github.com/hostbridge/hostbridge/internal/types"
)

// reconcileFanOut bounds how many keys reconcileOnce compares and reloads
// into the Store concurrently. The persisted snapshots themselves are all
// read up front, before the fan-out starts.
const reconcileFanOut = 8

// SnapshotLoader re-reads persisted state so the Reconciler can pick up
// changes made outside this process (a restored backup, a second writer).
type SnapshotLoader interface {
	LoadAllSnapshots() (map[types.ContextKey]*types.ContextSnapshot, error)
	LoadAllSemantic() (map[types.ContextKey]*types.SemanticIndex, error)
}

// Reconciler periodically re-reads the persistence layer into the
// in-memory Store, the way a cache-aside layer reconciles against its
// backing store rather than trusting memory to never drift.
type Reconciler struct {
	store    *Store
	loader   SnapshotLoader
	interval time.Duration
}

// NewReconciler builds a Reconciler that reloads every interval.
func NewReconciler(store *Store, loader SnapshotLoader, interval time.Duration) *Reconciler {
	return &Reconciler{store: store, loader: loader, interval: interval}
}

// Run blocks, reconciling on a ticker until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	if r.loader == nil || r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce()
		}
	}
}

func (r *Reconciler) reconcileOnce() {
	snaps, err := r.loader.LoadAllSnapshots()
	if err != nil {
		logging.Debugf("contextstore: reconcile snapshots: %v", err)
		return
	}
	sems, err := r.loader.LoadAllSemantic()
	if err != nil {
		logging.Debugf("contextstore: reconcile semantic: %v", err)
		return
	}
	g := new(errgroup.Group)
	g.SetLimit(reconcileFanOut)
	for key, snap := range snaps {
		key, snap := key, snap
		g.Go(func() error {
			r.store.mu.Lock()
			e, ok := r.store.entries[key.Key()]
			stale := !ok || e.snapshot == nil || e.snapshot.ContextVersion < snap.ContextVersion
			r.store.mu.Unlock()
			if !stale {
				return nil
			}
			r.store.LoadSnapshot(key, snap, sems[key])
			return nil
		})
	}
	_ = g.Wait()
}
