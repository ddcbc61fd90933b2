package httpapi

import (
	"net/http"
	"strconv"

	"github.com/hostbridge/hostbridge/internal/store/jsonfile"
	"github.com/hostbridge/hostbridge/internal/types"
)

func (s *Server) contextKeyFromRequest(r *http.Request, projectKey string) (types.ContextKey, bool) {
	scope, ok := s.scopeFromQueryOrPrimary(r)
	if !ok {
		return types.ContextKey{}, false
	}
	if projectKey == "" {
		projectKey = types.DefaultProjectKey
	}
	return types.ContextKey{Scope: scope, ProjectKey: projectKey}, true
}

type contextExportRequest struct {
	Scope      *types.Scope        `json:"scope,omitempty"`
	ProjectKey string              `json:"projectKey,omitempty"`
	Tree       []types.TreeNode    `json:"tree"`
	Scripts    []types.ScriptEntry `json:"scripts"`
	Meta       types.ContextMeta   `json:"meta"`
}

func (s *Server) handleContextExport(w http.ResponseWriter, r *http.Request) {
	var req contextExportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	scope := req.Scope
	if scope == nil {
		current, ok := s.Lease.CurrentScope()
		if !ok {
			writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
			return
		}
		scope = &current
	}
	projectKey := req.ProjectKey
	if projectKey == "" {
		projectKey = types.DefaultProjectKey
	}
	key := types.ContextKey{Scope: *scope, ProjectKey: projectKey}

	res, err := s.Context.Export(key, &types.ContextSnapshot{Tree: req.Tree, Scripts: req.Scripts, Meta: req.Meta})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "status": res.Status, "contextId": res.ContextID, "contextVersion": res.ContextVersion,
	})
}

type contextRequestBody struct {
	ProjectKey     string             `json:"projectKey"`
	Roots          []string           `json:"roots"`
	Paths          []string           `json:"paths"`
	IncludeSources bool               `json:"includeSources"`
	Mode           types.ContextMode  `json:"mode"`
}

func (s *Server) handleContextRequest(w http.ResponseWriter, r *http.Request) {
	var body contextRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	key, ok := s.contextKeyFromRequest(r, body.ProjectKey)
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	s.Context.RequestExport(key, types.ContextRequest{
		ProjectKey: body.ProjectKey, Roots: body.Roots, Paths: body.Paths,
		IncludeSources: body.IncludeSources, Mode: body.Mode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleContextLatest(w http.ResponseWriter, r *http.Request) {
	key, ok := s.contextKeyFromRequest(r, r.URL.Query().Get("projectKey"))
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	snap, err := s.Context.Latest(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleContextSummary(w http.ResponseWriter, r *http.Request) {
	key, ok := s.contextKeyFromRequest(r, r.URL.Query().Get("projectKey"))
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	sum, err := s.Context.Summary(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleContextSemantic(w http.ResponseWriter, r *http.Request) {
	key, ok := s.contextKeyFromRequest(r, r.URL.Query().Get("projectKey"))
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	idx, err := s.Context.Semantic(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (s *Server) handleContextScript(w http.ResponseWriter, r *http.Request) {
	key, ok := s.contextKeyFromRequest(r, r.URL.Query().Get("projectKey"))
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	path := r.URL.Query().Get("path")
	script, err := s.Context.Script(key, path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, script)
}

func (s *Server) handleContextMissing(w http.ResponseWriter, r *http.Request) {
	key, ok := s.contextKeyFromRequest(r, r.URL.Query().Get("projectKey"))
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	missing, err := s.Context.Missing(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"missing": missing})
}

func (s *Server) handleContextMemoryGet(w http.ResponseWriter, r *http.Request) {
	key, ok := s.contextKeyFromRequest(r, r.URL.Query().Get("projectKey"))
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	mem, err := s.Context.Memory(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

type contextMemorySetRequest struct {
	ProjectKey string `json:"projectKey"`
	Memory     string `json:"memory"`
}

func (s *Server) handleContextMemorySet(w http.ResponseWriter, r *http.Request) {
	var body contextMemorySetRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Detail: "invalid JSON body"})
		return
	}
	key, ok := s.contextKeyFromRequest(r, body.ProjectKey)
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	mem := s.Context.SetMemory(key, body.Memory)
	writeJSON(w, http.StatusOK, mem)
}

// handleContextEvents tails the append-only context_events.log, most
// recent line last, the way handleAuditLedger tails the audit log.
func (s *Server) handleContextEvents(w http.ResponseWriter, r *http.Request) {
	if s.ContextEventsLogPath == "" {
		writeJSON(w, http.StatusOK, map[string]any{"events": []map[string]any{}})
		return
	}
	events, err := jsonfile.Tail(s.ContextEventsLogPath, parseLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// parseLimit reads the ?limit=N query parameter shared by the tailable
// log endpoints; a missing or invalid value means "every line".
func parseLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func (s *Server) handleContextReset(w http.ResponseWriter, r *http.Request) {
	key, ok := s.contextKeyFromRequest(r, r.URL.Query().Get("projectKey"))
	if !ok {
		writeError(w, types.NewError(types.KindNoPrimary, "no primary registered"))
		return
	}
	if err := s.Context.Reset(key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
