package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hostbridge/hostbridge/internal/leasemgr"
	"github.com/hostbridge/hostbridge/internal/types"
)

type registerRequest struct {
	ClientID  string `json:"clientId"`
	SessionID string `json:"sessionId"`
	PlaceID   int64  `json:"placeId"`
	Takeover  bool   `json:"takeover"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	result, err := s.Lease.Register(leasemgr.RegisterRequest{
		ClientID: req.ClientID, SessionID: req.SessionID, PlaceID: req.PlaceID, Takeover: req.Takeover,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leaseToken": result.LeaseToken, "fence": result.Fence, "serverSeq": result.ServerSeq,
	})
}

type releaseRequest struct {
	LeaseToken string `json:"leaseToken"`
	Fence      int64  `json:"fence"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	if err := s.Lease.Release(req.LeaseToken, req.Fence); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type leaseScopeRequest struct {
	LeaseToken string `json:"leaseToken"`
	Fence      int64  `json:"fence"`
	PlaceID    int64  `json:"placeId"`
	SessionID  string `json:"sessionId"`
}

func (req leaseScopeRequest) scope() types.Scope {
	return types.Scope{PlaceID: req.PlaceID, SessionID: req.SessionID}
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req leaseScopeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	fence, err := s.Lease.Heartbeat(req.LeaseToken, req.Fence, req.scope())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "serverSeq": fence})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := leaseScopeRequest{
		LeaseToken: q.Get("leaseToken"),
		Fence:      parseInt64(q.Get("fence")),
		PlaceID:    parseInt64(q.Get("placeId")),
		SessionID:  q.Get("sessionId"),
	}
	if err := s.Lease.Check(req.LeaseToken, req.Fence, req.scope()); err != nil {
		writeError(w, err)
		return
	}
	st := s.Queue.Status(req.scope())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "fence": req.Fence, "pending": st.Pending, "claimed": st.Claimed,
	})
}

type waitRequest struct {
	LeaseToken string `json:"leaseToken"`
	Fence      int64  `json:"fence"`
	PlaceID    int64  `json:"placeId"`
	SessionID  string `json:"sessionId"`
	Since      int64  `json:"since"`
	TimeoutSec float64 `json:"timeoutSec"`
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	var req waitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	scope := types.Scope{PlaceID: req.PlaceID, SessionID: req.SessionID}
	if err := s.Lease.Check(req.LeaseToken, req.Fence, scope); err != nil {
		writeError(w, err)
		return
	}

	timeout := s.DefaultWaitTimeout
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec * float64(time.Second))
	}
	if s.MaxWaitTimeout > 0 && timeout > s.MaxWaitTimeout {
		timeout = s.MaxWaitTimeout
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	item, token, ok := s.Queue.Wait(ctx, scope, req.Since)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"empty": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"seq": item.Seq, "fence": req.Fence, "claimToken": token, "tx": item.Tx,
	})
}

type receiptRequest struct {
	LeaseToken    string         `json:"leaseToken"`
	Fence         int64          `json:"fence"`
	PlaceID       int64          `json:"placeId"`
	SessionID     string         `json:"sessionId"`
	ClaimToken    string         `json:"claimToken"`
	TransactionID string         `json:"transactionId"`
	Applied       []string       `json:"applied"`
	Errors        []string       `json:"errors"`
	Notes         []string       `json:"notes"`
	Meta          map[string]any `json:"meta"`
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	scope := types.Scope{PlaceID: req.PlaceID, SessionID: req.SessionID}
	if err := s.Lease.Check(req.LeaseToken, req.Fence, scope); err != nil {
		writeError(w, err)
		return
	}

	receipt := types.Receipt{
		TransactionID: req.TransactionID, ClaimToken: req.ClaimToken,
		Applied: req.Applied, Errors: req.Errors, Notes: req.Notes, Meta: req.Meta,
	}
	removedSeq, remaining, err := s.Queue.Receipt(scope, req.ClaimToken, receipt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "removedSeq": removedSeq, "remaining": remaining,
		"appliedCount": len(req.Applied), "errorsCount": len(req.Errors), "notesCount": len(req.Notes),
	})
}

type enqueueRequest struct {
	Tx types.Tx `json:"tx"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	scope, ok := s.Lease.CurrentScope()
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	item, err := s.Queue.Enqueue(scope, req.Tx, "")
	if err != nil {
		writeError(w, err)
		return
	}
	st := s.Queue.Status(scope)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "seq": item.Seq, "pending": st.Pending})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scopeFromQueryOrPrimary(r)
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	st := s.Queue.Status(scope)
	writeJSON(w, http.StatusOK, map[string]any{
		"scope": scope, "pending": st.Pending, "claimed": st.Claimed, "limit": st.Limit, "lastReceipt": st.LastReceipt,
	})
}

func (s *Server) handleScopeCurrent(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.Lease.CurrentScope()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "scope": scope})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	lease, hasLease := s.Lease.Current()
	scope, ok := s.scopeFromQueryOrPrimary(r)
	resp := map[string]any{"hasPrimary": hasLease}
	if hasLease {
		resp["fence"] = lease.Fence
	}
	if ok {
		resp["queue"] = s.Queue.Status(scope)
	}
	writeJSON(w, http.StatusOK, resp)
}

// scopeFromQueryOrPrimary derives scope from placeId/sessionId query
// params when present, else falls back to the current primary's scope,
// per the scope-auto resolution design note.
func (s *Server) scopeFromQueryOrPrimary(r *http.Request) (types.Scope, bool) {
	q := r.URL.Query()
	if q.Get("placeId") != "" && q.Get("sessionId") != "" {
		return types.Scope{PlaceID: parseInt64(q.Get("placeId")), SessionID: q.Get("sessionId")}, true
	}
	return s.Lease.CurrentScope()
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
