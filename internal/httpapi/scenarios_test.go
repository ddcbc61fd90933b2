package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/hostbridge/internal/actionvalidate"
	"github.com/hostbridge/hostbridge/internal/codexbridge"
	"github.com/hostbridge/hostbridge/internal/contextstore"
	"github.com/hostbridge/hostbridge/internal/leasemgr"
	"github.com/hostbridge/hostbridge/internal/semantic"
	"github.com/hostbridge/hostbridge/internal/txqueue"
	"github.com/hostbridge/hostbridge/internal/types"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	lease := leasemgr.New(15 * time.Second)
	queue := txqueue.New(500, 30*time.Millisecond)
	ctxStore := contextstore.New(nil, contextstore.Options{DeltaMaxItems: 50, SemanticOpts: semantic.DefaultOptions()})

	dirs := codexbridge.NewDirs(filepath.Join(t.TempDir(), "queue"))
	bridge := codexbridge.New(dirs, codexbridge.Options{
		JobTTL: time.Minute, MaxRisk: 0.75, FocusMaxScripts: 12, FocusMaxBytes: 4096,
		Validate: actionvalidate.Options{MaxActions: 400, MaxSourceBytes: 1 << 20, SafeEditBytes: 64 << 10,
			Policy: types.PolicyStandard, AllowedRoots: []string{"game/"}},
	}, queue, lease, ctxStore)

	queue.OnReceipt = bridge.HandleReceipt

	srv := New(lease, queue, ctxStore, bridge, 2*time.Second, 5*time.Second)
	return httptest.NewServer(srv.Handler())
}

func postJSON(t *testing.T, url string, body any) map[string]any {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestScenarioBasicCycle(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	reg := postJSON(t, ts.URL+"/register", map[string]any{"clientId": "c1", "sessionId": "s1", "placeId": 10})
	assert.Equal(t, float64(1), reg["fence"])
	leaseToken := reg["leaseToken"].(string)

	enq := postJSON(t, ts.URL+"/enqueue", map[string]any{
		"tx": map[string]any{
			"protocolVersion": 1, "transactionId": "tx1",
			"actions": []map[string]any{{"type": "createInstance", "parentPath": "game/Workspace", "className": "Folder", "name": "A"}},
		},
	})
	assert.Equal(t, float64(1), enq["seq"])

	wait := postJSON(t, ts.URL+"/wait", map[string]any{
		"leaseToken": leaseToken, "fence": 1, "placeId": 10, "sessionId": "s1", "since": 1, "timeoutSec": 1,
	})
	assert.Equal(t, float64(1), wait["seq"])
	claimToken := wait["claimToken"].(string)

	receipt := postJSON(t, ts.URL+"/receipt", map[string]any{
		"leaseToken": leaseToken, "fence": 1, "placeId": 10, "sessionId": "s1",
		"claimToken": claimToken, "transactionId": "tx1",
	})
	assert.Equal(t, float64(1), receipt["removedSeq"])
	assert.Equal(t, float64(0), receipt["remaining"])
}

func TestScenarioTakeover(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	postJSON(t, ts.URL+"/register", map[string]any{"clientId": "c1", "sessionId": "s1", "placeId": 10})

	reg2 := postJSON(t, ts.URL+"/register", map[string]any{"clientId": "c2", "sessionId": "s2", "placeId": 10, "takeover": true})
	assert.Equal(t, float64(2), reg2["fence"])

	hb := postJSON(t, ts.URL+"/heartbeat", map[string]any{
		"leaseToken": "stale", "fence": 1, "placeId": 10, "sessionId": "s1",
	})
	assert.Equal(t, "FenceMismatch", hb["kind"])
}

func TestScenarioClaimExpiry(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	reg := postJSON(t, ts.URL+"/register", map[string]any{"clientId": "c1", "sessionId": "s1", "placeId": 10})
	leaseToken := reg["leaseToken"].(string)

	postJSON(t, ts.URL+"/enqueue", map[string]any{
		"tx": map[string]any{"protocolVersion": 1, "transactionId": "tx1", "actions": []map[string]any{
			{"type": "createInstance", "parentPath": "game/Workspace", "className": "Folder", "name": "A"},
		}},
	})

	first := postJSON(t, ts.URL+"/wait", map[string]any{
		"leaseToken": leaseToken, "fence": 1, "placeId": 10, "sessionId": "s1", "since": 1, "timeoutSec": 1,
	})
	firstToken := first["claimToken"].(string)

	time.Sleep(100 * time.Millisecond)

	second := postJSON(t, ts.URL+"/wait", map[string]any{
		"leaseToken": leaseToken, "fence": 1, "placeId": 10, "sessionId": "s1", "since": 1, "timeoutSec": 1,
	})
	assert.Equal(t, first["seq"], second["seq"])
	assert.NotEqual(t, firstToken, second["claimToken"])
}

func TestScenarioDiffModeCarriesOverSourceViaHTTP(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	postJSON(t, ts.URL+"/register", map[string]any{"clientId": "c1", "sessionId": "s1", "placeId": 10})

	first := postJSON(t, ts.URL+"/context/export", map[string]any{
		"scripts": []map[string]any{{"path": "game/S", "sha1": "H1", "source": "print(1)"}},
		"meta":    map[string]any{"mode": "full"},
	})
	assert.Equal(t, "ok", first["status"])

	second := postJSON(t, ts.URL+"/context/export", map[string]any{
		"scripts": []map[string]any{{"path": "game/S", "sha1": "H1"}},
		"meta":    map[string]any{"mode": "diff"},
	})
	assert.Equal(t, "ok", second["status"])
	assert.Equal(t, float64(2), second["contextVersion"])

	script := getJSON(t, ts.URL+"/context/script?path=game/S")
	assert.Equal(t, "print(1)", script["source"])
}

func TestScenarioExpectedHashGateBlocksCompile(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	postJSON(t, ts.URL+"/register", map[string]any{"clientId": "c1", "sessionId": "s1", "placeId": 10})
	postJSON(t, ts.URL+"/context/export", map[string]any{
		"scripts": []map[string]any{{"path": "game/S", "sha1": "H", "source": "print(1)"}},
	})

	compile := postJSON(t, ts.URL+"/codex/compile", map[string]any{
		"actions": []map[string]any{{"type": "editScript", "path": "game/S", "mode": "replace", "source": "print(2)", "expectedHash": "H2"}},
	})
	assert.Equal(t, false, compile["ok"])
}
