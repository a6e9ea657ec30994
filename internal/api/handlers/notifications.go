package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dvloznov/pocketpilot/internal/api/middleware"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/notify"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// NotificationStore is the part of store.Notifications the endpoints use.
type NotificationStore interface {
	Snapshot() []domain.Notification
	Loading() bool
	UnreadCount() int
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Archive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// NotificationsHandler handles the notification list and settings.
type NotificationsHandler struct {
	notes    NotificationStore
	settings *notify.SettingsStore
	log      zerolog.Logger
}

// NewNotificationsHandler creates a new notifications handler.
func NewNotificationsHandler(notes NotificationStore, settings *notify.SettingsStore, log zerolog.Logger) *NotificationsHandler {
	return &NotificationsHandler{notes: notes, settings: settings, log: log}
}

// Mount registers the notification routes on r.
func (h *NotificationsHandler) Mount(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/read-all", h.MarkAllRead)
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)
	r.Patch("/{id}/read", h.MarkRead)
	r.Post("/{id}/archive", h.Archive)
	r.Delete("/{id}", h.Delete)
}

// List handles GET /api/notifications
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	items := h.notes.Snapshot()
	if items == nil {
		items = []domain.Notification{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items":   items,
		"count":   len(items),
		"unread":  h.notes.UnreadCount(),
		"loading": h.notes.Loading(),
	})
}

// MarkRead handles PATCH /api/notifications/{id}/read
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err, "Failed to mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/notifications/read-all
func (h *NotificationsHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.MarkAllRead(r.Context()); err != nil {
		writeError(w, h.log, err, "Failed to mark notifications read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Archive handles POST /api/notifications/{id}/archive
func (h *NotificationsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.Archive(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err, "Failed to archive notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/notifications/{id}
func (h *NotificationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err, "Failed to delete notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /api/notifications/settings
func (h *NotificationsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	s, err := h.settings.Get(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, h.log, err, "Failed to load notification settings")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}

// PutSettings handles PUT /api/notifications/settings. Fields absent from
// the body keep their stored values.
func (h *NotificationsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	s, err := h.settings.Get(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, h.log, err, "Failed to load notification settings")
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.settings.Set(r.Context(), sess.UserID, s); err != nil {
		writeError(w, h.log, err, "Failed to save notification settings")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}
