package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/api/middleware"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/export"
	"github.com/dvloznov/pocketpilot/internal/jobs"
	"github.com/rs/zerolog"
)

// ExportsHandler enqueues export jobs.
type ExportsHandler struct {
	publisher    jobs.Publisher
	destinations []string
	log          zerolog.Logger
}

// NewExportsHandler creates a handler accepting the given destinations.
func NewExportsHandler(publisher jobs.Publisher, destinations []string, log zerolog.Logger) *ExportsHandler {
	return &ExportsHandler{publisher: publisher, destinations: destinations, log: log}
}

// CreateExport handles POST /api/exports
func (h *ExportsHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	s, ok := middleware.SessionFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	var req struct {
		Format      string     `json:"format"`
		Type        string     `json:"type"`
		From        civil.Date `json:"from"`
		To          civil.Date `json:"to"`
		Destination string     `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Destination == "" {
		req.Destination = jobs.DestinationDir
	}

	opts := export.Options{Format: export.Format(req.Format), Type: export.ReportType(req.Type), From: req.From, To: req.To}
	if err := opts.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.accepts(req.Destination) {
		middleware.WriteError(w, http.StatusBadRequest, "Destination "+strconv.Quote(req.Destination)+" is not configured")
		return
	}

	job := &jobs.ExportJob{
		UserID:      s.UserID,
		Format:      req.Format,
		ReportType:  req.Type,
		From:        req.From,
		To:          req.To,
		Destination: req.Destination,
	}
	if err := h.publisher.PublishExport(r.Context(), job); err != nil {
		writeError(w, h.log, err, "Failed to enqueue export job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("user_id", s.UserID).Msg("Export job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

func (h *ExportsHandler) accepts(dest string) bool {
	for _, d := range h.destinations {
		if d == dest {
			return true
		}
	}
	return false
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}. Jobs of other users are reported as
// missing.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	s, _ := middleware.SessionFrom(r.Context())

	job, err := h.store.GetJob(r.Context(), jobID)
	if err == nil && job.UserID != s.UserID {
		err = jobs.ErrJobNotFound
	}
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, h.log, err, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	s, _ := middleware.SessionFrom(r.Context())

	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: s.UserID,
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, h.log, err, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Suggester proposes a category for a transaction description.
type Suggester interface {
	Suggest(ctx context.Context, description string, t domain.TransactionType) (string, error)
}

// CategorizeHandler handles POST /api/categorize.
type CategorizeHandler struct {
	suggester Suggester
	log       zerolog.Logger
}

// NewCategorizeHandler creates a new categorize handler.
func NewCategorizeHandler(s Suggester, log zerolog.Logger) *CategorizeHandler {
	return &CategorizeHandler{suggester: s, log: log}
}

// Categorize handles POST /api/categorize
func (h *CategorizeHandler) Categorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string                 `json:"description"`
		Type        domain.TransactionType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = domain.TransactionExpense
	}

	category, err := h.suggester.Suggest(r.Context(), req.Description, req.Type)
	if err != nil {
		writeError(w, h.log, err, "Failed to suggest category")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"category":   category,
		"categories": domain.CategoriesFor(req.Type),
	})
}
