package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, contracts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrInvalidRunParams):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseID reads a positive int64 path/query value
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseLimit reads ?limit= with a default and an upper bound
func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

// parseDate reads an optional YYYY-MM-DD query value
func parseDate(raw string) (time.Time, bool, error) {
	if raw == "" {
		return time.Time{}, false, nil
	}
	d, err := time.Parse(contracts.DateLayout, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

var timeNow = func() time.Time { return time.Now().UTC() }
