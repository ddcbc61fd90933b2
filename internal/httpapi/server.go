// Package httpapi serves the loopback JSON surface: lease-bound
// operations, scope-auto operations, context endpoints, and the codex
// bridge endpoints, plus a /healthz liveness check. There is no metrics
// endpoint.
package httpapi

import (
	"net/http"
	"time"

	"github.com/hostbridge/hostbridge/internal/audit"
	"github.com/hostbridge/hostbridge/internal/codexbridge"
	"github.com/hostbridge/hostbridge/internal/contextstore"
	"github.com/hostbridge/hostbridge/internal/leasemgr"
	"github.com/hostbridge/hostbridge/internal/txqueue"
)

// Server holds every component the HTTP surface dispatches to.
type Server struct {
	Lease   *leasemgr.Manager
	Queue   *txqueue.Queue
	Context *contextstore.Store
	Bridge  *codexbridge.Bridge

	DefaultWaitTimeout time.Duration
	MaxWaitTimeout     time.Duration

	// Audit and the two log paths below back the tailable log endpoints;
	// all three are optional (nil/empty degrades the endpoint to an empty
	// tail rather than a panic), since tests build a Server without them.
	Audit                *audit.Log
	AuditLogPath         string
	ContextEventsLogPath string

	startedAt time.Time
}

// New builds a Server. Call Handler() to get the routed, CORS-wrapped
// http.Handler to pass to http.Serve.
func New(lease *leasemgr.Manager, queue *txqueue.Queue, ctx *contextstore.Store, bridge *codexbridge.Bridge, defaultWait, maxWait time.Duration) *Server {
	return &Server{
		Lease: lease, Queue: queue, Context: ctx, Bridge: bridge,
		DefaultWaitTimeout: defaultWait, MaxWaitTimeout: maxWait,
		startedAt: time.Now(),
	}
}

// Handler wires every route behind a permissive CORS layer, matching
// loopback-only local tooling rather than a hardened public API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /release", s.handleRelease)
	mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /sync", s.handleSync)
	mux.HandleFunc("POST /wait", s.handleWait)
	mux.HandleFunc("POST /receipt", s.handleReceipt)
	mux.HandleFunc("POST /enqueue", s.handleEnqueue)

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /scope/current", s.handleScopeCurrent)
	mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)

	mux.HandleFunc("POST /context/export", s.handleContextExport)
	mux.HandleFunc("POST /context/request", s.handleContextRequest)
	mux.HandleFunc("GET /context/latest", s.handleContextLatest)
	mux.HandleFunc("GET /context/summary", s.handleContextSummary)
	mux.HandleFunc("GET /context/semantic", s.handleContextSemantic)
	mux.HandleFunc("GET /context/script", s.handleContextScript)
	mux.HandleFunc("GET /context/missing", s.handleContextMissing)
	mux.HandleFunc("GET /context/memory", s.handleContextMemoryGet)
	mux.HandleFunc("POST /context/memory", s.handleContextMemorySet)
	mux.HandleFunc("POST /context/reset", s.handleContextReset)
	mux.HandleFunc("GET /context/events", s.handleContextEvents)

	mux.HandleFunc("POST /codex/job", s.handleCodexJob)
	mux.HandleFunc("POST /codex/response", s.handleCodexResponse)
	mux.HandleFunc("POST /codex/compile", s.handleCodexCompile)
	mux.HandleFunc("GET /codex/status", s.handleCodexStatus)

	mux.HandleFunc("GET /audit/ledger", s.handleAuditLedger)

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "uptimeSec": time.Since(s.startedAt).Seconds()})
}
