package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dvloznov/pocketpilot/internal/api/middleware"
	"github.com/dvloznov/pocketpilot/internal/session"
	"github.com/rs/zerolog"
)

// SessionHandler handles sign-in, sign-out and session lookup.
type SessionHandler struct {
	mgr *session.Manager
	log zerolog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(mgr *session.Manager, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{mgr: mgr, log: log}
}

// SignIn handles POST /api/session
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		middleware.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	s, err := h.mgr.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err, "Failed to sign in")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, s)
}

// Current handles GET /api/session
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	s, ok := middleware.SessionFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Not signed in")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}

// Refresh handles POST /api/session/refresh
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, err := h.mgr.Refresh(r.Context())
	if err != nil {
		writeError(w, h.log, err, "Failed to refresh session")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}

// SignOut handles DELETE /api/session
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.mgr.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
