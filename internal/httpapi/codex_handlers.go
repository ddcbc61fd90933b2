package httpapi

import (
	"net/http"

	"github.com/hostbridge/hostbridge/internal/codexbridge"
	"github.com/hostbridge/hostbridge/internal/types"
)

type codexJobRequest struct {
	Prompt     string `json:"prompt"`
	System     string `json:"system"`
	Intent     string `json:"intent"`
	AutoApply  bool   `json:"autoApply"`
	ProjectKey string `json:"projectKey"`
}

func (s *Server) handleCodexJob(w http.ResponseWriter, r *http.Request) {
	var req codexJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	scope, ok := s.Lease.CurrentScope()
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	result, err := s.Bridge.CreateJob(codexbridge.CreateJobRequest{
		Prompt: req.Prompt, System: req.System, Intent: req.Intent, ProjectKey: req.ProjectKey, Scope: scope,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": result.OK, "jobId": result.JobID, "contextId": result.ContextID, "contextVersion": result.ContextVersion,
	})
}

func (s *Server) handleCodexResponse(w http.ResponseWriter, r *http.Request) {
	var resp types.CodexResponse
	if err := decodeJSON(r, &resp); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	if resp.JobID == "" {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Kind: types.KindJobNotFound, Detail: "missing jobId"})
		return
	}
	if err := s.Bridge.SubmitResponse(resp); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type codexCompileRequest struct {
	ProjectKey string         `json:"projectKey"`
	Actions    []types.Action `json:"actions"`
}

func (s *Server) handleCodexCompile(w http.ResponseWriter, r *http.Request) {
	var req codexCompileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	key, ok := s.contextKeyFromRequest(r, req.ProjectKey)
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	result := s.Bridge.Compile(key, req.Actions)
	if len(result.Reasons) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "reasons": result.Reasons, "needsResync": result.NeedsResync})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "actions": result.Actions})
}

func (s *Server) handleCodexStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Bridge.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"lastJobId": st.LastJobID, "lastResponseId": st.LastResponseID, "lastError": st.LastError, "pendingJobs": st.PendingJobs,
	})
}
