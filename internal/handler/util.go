package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/middleware"
	"github.com/pawpal/conversation-service/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON error document. Internal errors are
// logged with the request's correlation id; their cause is never returned.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
	}
	middleware.WriteError(w, err)
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}
