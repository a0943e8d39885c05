package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joshdurbin/strava-wrapped/internal/auth"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/render"
	"github.com/joshdurbin/strava-wrapped/internal/report"
	"github.com/joshdurbin/strava-wrapped/internal/strava"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated), errors.Is(err, strava.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, strava.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, render.ErrUnknownTemplate):
		return http.StatusNotFound
	case errors.Is(err, report.ErrRenderingDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeErr logs err and writes it with the status statusFor picks, or fallback for unknown errors.
func writeErr(w http.ResponseWriter, r *http.Request, err error, fallback int) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		status = fallback
	}

	event := logging.Logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logging.Logger.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")

	writeError(w, status, err.Error())
}
