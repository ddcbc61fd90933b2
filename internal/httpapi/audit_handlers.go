package httpapi

import (
	"net/http"
)

// handleAuditLedger tails the audit log, most recent entry last.
func (s *Server) handleAuditLedger(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil || s.AuditLogPath == "" {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []map[string]any{}})
		return
	}
	entries, err := s.Audit.Tail(s.AuditLogPath, parseLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
