// Package handlers implements the HTTP surface over the session, the entity
// stores, the derived views, notifications, exports and categorization.
package handlers

import (
	"errors"
	"net/http"

	"github.com/dvloznov/pocketpilot/internal/api/middleware"
	"github.com/dvloznov/pocketpilot/internal/export"
	"github.com/dvloznov/pocketpilot/internal/jobs"
	"github.com/dvloznov/pocketpilot/internal/notify"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/dvloznov/pocketpilot/internal/session"
	"github.com/dvloznov/pocketpilot/internal/store"
	"github.com/rs/zerolog"
)

// StatusFor maps an error to the HTTP status it is reported with.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, remote.ErrUnauthenticated),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, notify.ErrNoUser):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, export.ErrInvalidOptions),
		errors.Is(err, notify.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, remote.ErrNotFound),
		errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client. Server errors are logged and their
// details withheld behind msg.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteError(w, status, err.Error())
}
