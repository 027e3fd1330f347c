package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/solroute/internal/errs"
)

// errorEnvelope is the wire shape of every failure response.
type errorEnvelope struct {
	Error *errs.Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeError renders a typed error with its mapped status, stamping the
// request id for correlation.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errs.AsError(err)
	if e.RequestID == "" {
		e.RequestID = RequestID(r.Context())
	}
	status := errs.HTTPStatus(e.Code)
	if status >= http.StatusInternalServerError {
		log.Error().Err(e).Str("request_id", e.RequestID).Msg("Request failed")
	}
	writeJSON(w, status, errorEnvelope{Error: e})
}
