package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hostbridge/hostbridge/internal/types"
)

// errorEnvelope is the JSON body every failed request returns.
type errorEnvelope struct {
	OK      bool              `json:"ok"`
	Kind    types.ErrorKind   `json:"kind"`
	Detail  string            `json:"detail"`
	Reasons []string          `json:"reasons,omitempty"`
}

// statusFor maps an ErrorKind to the HTTP status a caller should expect;
// everything not listed is a 400, since every kind here names a request
// problem rather than a server fault.
func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindNoContext, types.KindScriptNotFound, types.KindJobNotFound, types.KindNoMemory:
		return http.StatusNotFound
	case types.KindNoPrimary:
		return http.StatusConflict
	case types.KindQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// writeError renders err as the standard error envelope. Non-APIError
// values are reported as a generic 500 with no kind.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		writeJSON(w, statusFor(apiErr.Kind), errorEnvelope{
			Kind: apiErr.Kind, Detail: apiErr.Detail, Reasons: apiErr.Reasons,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
