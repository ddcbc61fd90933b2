// Package txqueue implements the per-scope ordered transaction queue: a
// global monotonic seq, claim/receipt hand-off, and a long-poll Wait that
// never holds its lock while sleeping.
package txqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostbridge/hostbridge/internal/types"
)

// Queue guards its items and claims with a single mutex + condition
// variable, per the concurrency model: short critical sections keep the
// queue slice and claims map consistent, and waiters block on the
// condition variable rather than polling.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items    []*types.QueueItem
	claims   map[string]*types.Claim // claimToken -> claim
	nextSeq  int64
	maxSize  int
	claimTTL time.Duration

	lastReceipt map[string]types.LastReceipt // scope.Key() -> last receipt

	// OnReceipt is invoked (outside the lock) after a receipt is recorded,
	// so the auto-repair loop can inspect errors without this package
	// knowing anything about jobs.
	OnReceipt func(item types.QueueItem, receipt types.Receipt)
	// OnEnqueue is invoked (outside the lock) after every successful
	// enqueue, for audit logging.
	OnEnqueue func(item types.QueueItem)

	stop chan struct{}
}

// New builds a Queue with the given size cap and claim reservation window.
// It starts a background sweeper that periodically broadcasts on the
// condition variable so waiters reap expired claims even with no
// enqueue/receipt activity in the meantime.
func New(maxSize int, claimTTL time.Duration) *Queue {
	q := &Queue{
		claims:      make(map[string]*types.Claim),
		maxSize:     maxSize,
		claimTTL:    claimTTL,
		lastReceipt: make(map[string]types.LastReceipt),
		stop:        make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	interval := claimTTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stop:
				return
			case <-ticker.C:
				q.cond.Broadcast()
			}
		}
	}()
	return q
}

// Close stops the background claim-expiry sweeper.
func (q *Queue) Close() {
	close(q.stop)
}

// Enqueue appends tx to the queue, assigning it the next global seq.
func (q *Queue) Enqueue(scope types.Scope, tx types.Tx, jobID string) (types.QueueItem, error) {
	q.mu.Lock()
	if len(q.items) >= q.maxSize {
		q.mu.Unlock()
		return types.QueueItem{}, types.NewError(types.KindQueueFull, "queue full at %d items", q.maxSize)
	}

	q.nextSeq++
	item := &types.QueueItem{Seq: q.nextSeq, Scope: scope, Tx: tx, JobID: jobID}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.cond.Broadcast()
	if q.OnEnqueue != nil {
		q.OnEnqueue(*item)
	}
	return *item, nil
}

// Wait blocks until the first unclaimed item of scope with seq >= since is
// available, or ctx is done. On success it claims the item and returns it
// alongside a fresh claim token; on timeout it returns ok=false.
func (q *Queue) Wait(ctx context.Context, scope types.Scope, since int64) (types.QueueItem, string, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast() // wake the waiter below so it can observe ctx.Err()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		q.expireClaimsLocked()

		if item := q.firstAvailableLocked(scope, since); item != nil {
			token := uuid.NewString()
			item.Claimed = true
			item.ClaimToken = token
			item.ClaimExpiresAt = time.Now().Add(q.claimTTL)
			q.claims[token] = &types.Claim{
				ClaimToken:    token,
				ExpiresAt:     item.ClaimExpiresAt,
				Seq:           item.Seq,
				TransactionID: item.Tx.TransactionID,
				Scope:         scope,
			}
			return *item, token, true
		}

		if ctx.Err() != nil {
			return types.QueueItem{}, "", false
		}

		q.cond.Wait()
	}
}

func (q *Queue) firstAvailableLocked(scope types.Scope, since int64) *types.QueueItem {
	for _, item := range q.items {
		if item.Scope.Equal(scope) && !item.Claimed && item.Seq >= since {
			return item
		}
	}
	return nil
}

// expireClaimsLocked returns any claim whose TTL has elapsed to the
// unclaimed pool so it can be re-offered. Must be called with mu held.
func (q *Queue) expireClaimsLocked() {
	now := time.Now()
	for token, claim := range q.claims {
		if now.Before(claim.ExpiresAt) {
			continue
		}
		delete(q.claims, token)
		for _, item := range q.items {
			if item.ClaimToken == token {
				item.Claimed = false
				item.ClaimToken = ""
				item.ClaimExpiresAt = time.Time{}
			}
		}
	}
}

// Receipt consumes a claim and removes its queue item, recording the
// outcome. It fails ClaimInvalidOrExpired if the claim is missing or
// scoped differently than the caller.
func (q *Queue) Receipt(scope types.Scope, claimToken string, receipt types.Receipt) (removedSeq int64, remaining int, err error) {
	q.mu.Lock()
	q.expireClaimsLocked()

	claim, ok := q.claims[claimToken]
	if !ok || !claim.Scope.Equal(scope) || claim.TransactionID != receipt.TransactionID {
		q.mu.Unlock()
		return 0, 0, types.NewError(types.KindClaimInvalidOrExpired, "claim invalid or expired")
	}
	delete(q.claims, claimToken)

	var item types.QueueItem
	kept := q.items[:0]
	for _, it := range q.items {
		if it.ClaimToken == claimToken {
			item = *it
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	remaining = len(q.items)
	removedSeq = claim.Seq

	q.lastReceipt[scope.Key()] = types.LastReceipt{Receipt: receipt, RecordedAt: time.Now()}
	q.mu.Unlock()

	q.cond.Broadcast()
	if q.OnReceipt != nil {
		q.OnReceipt(item, receipt)
	}
	return removedSeq, remaining, nil
}

// Status summarizes pending count, claim count, and the last receipt for
// scope.
type Status struct {
	Pending     int
	Claimed     int
	Limit       int
	LastReceipt *types.LastReceipt
}

func (q *Queue) Status(scope types.Scope) Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expireClaimsLocked()

	var pending, claimed int
	for _, item := range q.items {
		if !item.Scope.Equal(scope) {
			continue
		}
		if item.Claimed {
			claimed++
		} else {
			pending++
		}
	}

	st := Status{Pending: pending, Claimed: claimed, Limit: q.maxSize}
	if lr, ok := q.lastReceipt[scope.Key()]; ok {
		st.LastReceipt = &lr
	}
	return st
}

// ResetScope drops every queued item and claim for scope, per the
// conservative "clear the queue on primary reset" behavior the source
// follows when seq is global but items are scope-tagged.
func (q *Queue) ResetScope(scope types.Scope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, item := range q.items {
		if item.Scope.Equal(scope) {
			delete(q.claims, item.ClaimToken)
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	delete(q.lastReceipt, scope.Key())
}

// Snapshot returns every item currently queued, for persistence.
func (q *Queue) Snapshot() []types.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.QueueItem, len(q.items))
	for i, item := range q.items {
		out[i] = *item
		out[i].Claimed = false
		out[i].ClaimToken = ""
		out[i].ClaimExpiresAt = time.Time{}
	}
	return out
}

// Restore reconstructs queue state after a restart: items come back
// unclaimed (claim tokens are never persisted), and nextSeq resumes from
// the high-water mark.
func (q *Queue) Restore(items []types.QueueItem, highWaterSeq int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	for i := range items {
		cp := items[i]
		cp.Claimed = false
		cp.ClaimToken = ""
		q.items = append(q.items, &cp)
	}
	q.nextSeq = highWaterSeq
}
