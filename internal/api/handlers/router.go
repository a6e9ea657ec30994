package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/pocketpilot/internal/api/middleware"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/jobs"
	"github.com/dvloznov/pocketpilot/internal/notify"
	"github.com/dvloznov/pocketpilot/internal/session"
	"github.com/dvloznov/pocketpilot/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Deps are the components the router serves.
type Deps struct {
	Session       *session.Manager
	Transactions  *store.Transactions
	Budgets       *store.Budgets
	Accounts      *store.Accounts
	Notifications NotificationStore
	Settings      *notify.SettingsStore
	Publisher     jobs.Publisher
	Jobs          jobs.JobStore
	Destinations  []string
	Suggester     Suggester
}

// NewRouter builds the HTTP handler: public health and sign-in routes, and
// every other /api route behind bearer authentication.
func NewRouter(d Deps, log zerolog.Logger) http.Handler {
	sessions := NewSessionHandler(d.Session, log)
	transactions := NewEntityHandler[domain.Transaction, store.TransactionPatch]("transactions", d.Transactions, log)
	budgets := NewEntityHandler[domain.Budget, store.BudgetPatch]("budgets", d.Budgets, log)
	accounts := NewEntityHandler[domain.Account, store.AccountPatch]("accounts", d.Accounts, log)
	viewsHandler := NewViewsHandler(d.Transactions, d.Budgets, d.Accounts, log)
	notifications := NewNotificationsHandler(d.Notifications, d.Settings, log)
	exports := NewExportsHandler(d.Publisher, d.Destinations, log)
	jobsHandler := NewJobsHandler(d.Jobs, log)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", sessions.SignIn)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.Session))

			r.Get("/session", sessions.Current)
			r.Post("/session/refresh", sessions.Refresh)
			r.Delete("/session", sessions.SignOut)

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/by-month", viewsHandler.ByMonth)
				transactions.Mount(r)
			})
			r.Route("/budgets", budgets.Mount)
			r.Route("/accounts", func(r chi.Router) {
				r.Get("/total-balance", viewsHandler.TotalBalance)
				accounts.Mount(r)
			})

			r.Route("/views", func(r chi.Router) {
				r.Get("/summary", viewsHandler.Summary)
				r.Get("/categories", viewsHandler.Categories)
				r.Get("/monthly", viewsHandler.Monthly)
				r.Get("/budgets", viewsHandler.Budgets)
			})

			r.Route("/notifications", notifications.Mount)

			r.Post("/exports", exports.CreateExport)
			r.Get("/jobs", jobsHandler.ListJobs)
			r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
				jobsHandler.GetJob(w, r, chi.URLParam(r, "id"))
			})

			if d.Suggester != nil {
				r.Post("/categorize", NewCategorizeHandler(d.Suggester, log).Categorize)
			}
		})
	})

	return r
}
