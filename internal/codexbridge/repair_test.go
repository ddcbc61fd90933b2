package codexbridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/hostbridge/internal/actionvalidate"
	"github.com/hostbridge/hostbridge/internal/contextstore"
	"github.com/hostbridge/hostbridge/internal/leasemgr"
	"github.com/hostbridge/hostbridge/internal/semantic"
	"github.com/hostbridge/hostbridge/internal/txqueue"
	"github.com/hostbridge/hostbridge/internal/types"
)

func newTestBridge(t *testing.T, autoRepair bool) (*Bridge, *txqueue.Queue, *leasemgr.Manager) {
	t.Helper()
	lease := leasemgr.New(15 * time.Second)
	queue := txqueue.New(500, time.Second)
	ctxStore := contextstore.New(nil, contextstore.Options{DeltaMaxItems: 50, SemanticOpts: semantic.DefaultOptions()})
	dirs := NewDirs(filepath.Join(t.TempDir(), "queue"))

	b := New(dirs, Options{
		JobTTL: time.Minute, MaxRisk: 0.75, FocusMaxScripts: 12, FocusMaxBytes: 4096,
		AutoRepair: autoRepair, RepairMaxAttempts: 2, RepairCooldown: 0,
		Validate: actionvalidate.Options{MaxActions: 400, Policy: types.PolicyStandard, AllowedRoots: []string{"game/"}},
	}, queue, lease, ctxStore)
	queue.OnReceipt = b.HandleReceipt
	return b, queue, lease
}

func TestAutoRepairSynthesizesFollowUpJobOnReceiptErrors(t *testing.T) {
	b, queue, lease := newTestBridge(t, true)
	ctx := context.Background()
	go b.Watch(ctx)

	_, err := lease.Register(leasemgr.RegisterRequest{ClientID: "c1", SessionID: "s1", PlaceID: 10})
	require.NoError(t, err)
	scope := types.Scope{PlaceID: 10, SessionID: "s1"}

	jobRes, err := b.CreateJob(CreateJobRequest{Prompt: "add a thing", Scope: scope})
	require.NoError(t, err)

	err = b.SubmitResponse(types.CodexResponse{
		JobID:   jobRes.JobID,
		Actions: []types.Action{{Type: "createInstance", ParentPath: "game/Workspace", ClassName: "Folder", Name: "A"}},
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, token, ok := queue.Wait(waitCtx, scope, 1)
	require.True(t, ok)

	_, _, err = queue.Receipt(scope, token, types.Receipt{TransactionID: item.Tx.TransactionID, Errors: []string{"boom"}})
	require.NoError(t, err)

	entries, err := os.ReadDir(b.dirs.Jobs)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2, "expected original job plus synthesized repair job")
}

func TestAutoRepairDisabledDoesNotSynthesize(t *testing.T) {
	b, queue, lease := newTestBridge(t, false)

	_, err := lease.Register(leasemgr.RegisterRequest{ClientID: "c1", SessionID: "s1", PlaceID: 10})
	require.NoError(t, err)
	scope := types.Scope{PlaceID: 10, SessionID: "s1"}

	jobRes, err := b.CreateJob(CreateJobRequest{Prompt: "add a thing", Scope: scope})
	require.NoError(t, err)

	err = b.SubmitResponse(types.CodexResponse{
		JobID:   jobRes.JobID,
		Actions: []types.Action{{Type: "createInstance", ParentPath: "game/Workspace", ClassName: "Folder", Name: "A"}},
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, token, ok := queue.Wait(waitCtx, scope, 1)
	require.True(t, ok)

	_, _, err = queue.Receipt(scope, token, types.Receipt{TransactionID: item.Tx.TransactionID, Errors: []string{"boom"}})
	require.NoError(t, err)

	entries, err := os.ReadDir(b.dirs.Jobs)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
