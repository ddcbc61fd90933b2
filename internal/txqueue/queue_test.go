package txqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/hostbridge/internal/types"
)

func scope() types.Scope { return types.Scope{PlaceID: 10, SessionID: "s1"} }

func TestEnqueueAssignsMonotonicSeq(t *testing.T) {
	q := New(10, time.Second)
	defer q.Close()

	item1, err := q.Enqueue(scope(), types.Tx{TransactionID: "tx1"}, "")
	require.NoError(t, err)
	item2, err := q.Enqueue(scope(), types.Tx{TransactionID: "tx2"}, "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), item1.Seq)
	assert.Equal(t, int64(2), item2.Seq)
}

func TestEnqueueRejectsAtQueueFull(t *testing.T) {
	q := New(1, time.Second)
	defer q.Close()

	_, err := q.Enqueue(scope(), types.Tx{TransactionID: "tx1"}, "")
	require.NoError(t, err)

	_, err = q.Enqueue(scope(), types.Tx{TransactionID: "tx2"}, "")
	require.Error(t, err)
	assert.Equal(t, types.KindQueueFull, err.(*types.APIError).Kind)
}

func TestWaitReturnsEnqueuedItemAndClaimsIt(t *testing.T) {
	q := New(10, time.Second)
	defer q.Close()

	_, err := q.Enqueue(scope(), types.Tx{TransactionID: "tx1"}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	item, token, ok := q.Wait(ctx, scope(), 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), item.Seq)
	assert.NotEmpty(t, token)

	st := q.Status(scope())
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 1, st.Claimed)
}

func TestWaitTimesOutWhenNothingAvailable(t *testing.T) {
	q := New(10, time.Second)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, ok := q.Wait(ctx, scope(), 1)
	assert.False(t, ok)
}

func TestWaitIsWokenByLaterEnqueue(t *testing.T) {
	q := New(10, time.Second)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resultCh := make(chan bool, 1)
	go func() {
		_, _, ok := q.Wait(ctx, scope(), 1)
		resultCh <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := q.Enqueue(scope(), types.Tx{TransactionID: "tx1"}, "")
	require.NoError(t, err)

	select {
	case ok := <-resultCh:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("wait was not woken by enqueue")
	}
}

func TestReceiptRemovesItemAndRequiresMatchingScope(t *testing.T) {
	q := New(10, time.Second)
	defer q.Close()

	_, err := q.Enqueue(scope(), types.Tx{TransactionID: "tx1"}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, token, ok := q.Wait(ctx, scope(), 1)
	require.True(t, ok)

	otherScope := types.Scope{PlaceID: 11, SessionID: "other"}
	_, _, err = q.Receipt(otherScope, token, types.Receipt{TransactionID: item.Tx.TransactionID})
	require.Error(t, err)

	removedSeq, remaining, err := q.Receipt(scope(), token, types.Receipt{TransactionID: item.Tx.TransactionID})
	require.NoError(t, err)
	assert.Equal(t, item.Seq, removedSeq)
	assert.Equal(t, 0, remaining)
}

func TestClaimExpiryReturnsItemToUnclaimedForReoffer(t *testing.T) {
	q := New(10, 30*time.Millisecond)
	defer q.Close()

	_, err := q.Enqueue(scope(), types.Tx{TransactionID: "tx1"}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, firstToken, ok := q.Wait(ctx, scope(), 1)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	second, secondToken, ok := q.Wait(ctx2, scope(), 1)
	require.True(t, ok)
	assert.Equal(t, first.Seq, second.Seq)
	assert.NotEqual(t, firstToken, secondToken)
}

func TestResetScopeClearsOnlyThatScope(t *testing.T) {
	q := New(10, time.Second)
	defer q.Close()

	other := types.Scope{PlaceID: 99, SessionID: "other"}
	_, err := q.Enqueue(scope(), types.Tx{TransactionID: "tx1"}, "")
	require.NoError(t, err)
	_, err = q.Enqueue(other, types.Tx{TransactionID: "tx2"}, "")
	require.NoError(t, err)

	q.ResetScope(scope())

	assert.Equal(t, 0, q.Status(scope()).Pending)
	assert.Equal(t, 1, q.Status(other).Pending)
}
