package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/model"
)

const maxUserIDLength = 64

// ValidateUserID validates a user id taken from a path.
func ValidateUserID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperr.Validation("user id cannot be empty")
	}
	if len(id) > maxUserIDLength {
		return apperr.Validation("user id exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return apperr.Validation("user id must be valid UTF-8")
	}
	if !model.ValidUserID(id) {
		return apperr.Validation("user id must not contain %q", "_")
	}
	return nil
}

// ParsePagination reads the limit and offset query parameters. Missing
// values are returned as zero and defaulted by the caller.
func ParsePagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if limit, err = parseNonNegative(q.Get("limit"), "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = parseNonNegative(q.Get("offset"), "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func parseNonNegative(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}
