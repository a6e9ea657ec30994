package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dvloznov/pocketpilot/internal/api/middleware"
	"github.com/dvloznov/pocketpilot/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// EntityStore is the part of store.Store the entity endpoints use.
type EntityStore[T any] interface {
	Snapshot() []T
	Loading() bool
	Load(ctx context.Context)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, id string, patch store.Patch) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// EntityHandler serves list, create, patch, delete, clear and refresh for one
// store. P is the patch type accepted by PATCH /{id}.
type EntityHandler[T any, P store.Patch] struct {
	name  string
	store EntityStore[T]
	log   zerolog.Logger
}

// NewEntityHandler creates the handler for the store exposed under name.
func NewEntityHandler[T any, P store.Patch](name string, s EntityStore[T], log zerolog.Logger) *EntityHandler[T, P] {
	return &EntityHandler[T, P]{
		name:  name,
		store: s,
		log:   log.With().Str("entity", name).Logger(),
	}
}

// Mount registers the entity routes on r.
func (h *EntityHandler[T, P]) Mount(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/", h.Clear)
	r.Post("/refresh", h.Refresh)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

type listResponse[T any] struct {
	Items   []T  `json:"items"`
	Count   int  `json:"count"`
	Loading bool `json:"loading"`
}

func (h *EntityHandler[T, P]) list() listResponse[T] {
	items := h.store.Snapshot()
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items), Loading: h.store.Loading()}
}

// List handles GET /api/{entity}
func (h *EntityHandler[T, P]) List(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.list())
}

// Refresh handles POST /api/{entity}/refresh
func (h *EntityHandler[T, P]) Refresh(w http.ResponseWriter, r *http.Request) {
	h.store.Load(r.Context())
	middleware.WriteJSON(w, http.StatusOK, h.list())
}

// Create handles POST /api/{entity}
func (h *EntityHandler[T, P]) Create(w http.ResponseWriter, r *http.Request) {
	var item T
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := h.store.Create(r.Context(), item)
	if err != nil {
		writeError(w, h.log, err, "Failed to create "+h.name)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, created)
}

// Update handles PATCH /api/{entity}/{id}
func (h *EntityHandler[T, P]) Update(w http.ResponseWriter, r *http.Request) {
	var patch P
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.Update(r.Context(), chi.URLParam(r, "id"), patch); err != nil {
		writeError(w, h.log, err, "Failed to update "+h.name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/{entity}/{id}
func (h *EntityHandler[T, P]) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err, "Failed to delete "+h.name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /api/{entity}
func (h *EntityHandler[T, P]) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		writeError(w, h.log, err, "Failed to clear "+h.name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
