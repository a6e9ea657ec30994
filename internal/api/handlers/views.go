package handlers

import (
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/api/middleware"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/views"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Snapshotter returns the current list held by a store.
type Snapshotter[T any] interface {
	Snapshot() []T
}

// ViewsHandler serves the derived views computed from store snapshots.
type ViewsHandler struct {
	txs      Snapshotter[domain.Transaction]
	budgets  Snapshotter[domain.Budget]
	accounts Snapshotter[domain.Account]
	log      zerolog.Logger
}

// NewViewsHandler creates a new views handler.
func NewViewsHandler(txs Snapshotter[domain.Transaction], budgets Snapshotter[domain.Budget], accounts Snapshotter[domain.Account], log zerolog.Logger) *ViewsHandler {
	return &ViewsHandler{txs: txs, budgets: budgets, accounts: accounts, log: log}
}

// TotalBalance handles GET /api/accounts/total-balance
func (h *ViewsHandler) TotalBalance(w http.ResponseWriter, r *http.Request) {
	accounts := h.accounts.Snapshot()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":      views.TotalBalance(accounts),
		"byCurrency": views.BalanceByCurrency(accounts),
	})
}

// ByMonth handles GET /api/transactions/by-month?year=&month=
// Missing parameters default to the current month.
func (h *ViewsHandler) ByMonth(w http.ResponseWriter, r *http.Request) {
	today := time.Now()
	year, month := today.Year(), today.Month()

	query := r.URL.Query()
	if s := query.Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid year")
			return
		}
		year = y
	}
	if s := query.Get("month"); s != "" {
		m, err := strconv.Atoi(s)
		if err != nil || m < 1 || m > 12 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid month")
			return
		}
		month = time.Month(m)
	}

	txs := views.TransactionsByMonth(h.txs.Snapshot(), year, month)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
		"income":       views.TotalByType(txs, domain.TransactionIncome),
		"expenses":     views.TotalByType(txs, domain.TransactionExpense),
	})
}

// Summary handles GET /api/views/summary
func (h *ViewsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, views.Summary(h.txs.Snapshot(), h.accounts.Snapshot()))
}

// Categories handles GET /api/views/categories?type=&from=&to=
func (h *ViewsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseTransactionFilter(w, r)
	if !ok {
		return
	}

	ranked := views.RankCategories(views.CategoryTotals(views.FilterTransactions(h.txs.Snapshot(), filter)))
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": ranked,
		"count":      len(ranked),
	})
}

// Monthly handles GET /api/views/monthly
func (h *ViewsHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"months": views.MonthlySeries(h.txs.Snapshot()),
	})
}

type budgetView struct {
	views.BudgetStatus
	LinkedSpent decimal.Decimal `json:"linkedSpent"`
}

// Budgets handles GET /api/views/budgets. spent matches by category and
// linkedSpent counts only transactions linked to the budget.
func (h *ViewsHandler) Budgets(w http.ResponseWriter, r *http.Request) {
	txs := h.txs.Snapshot()
	progress := views.BudgetProgress(h.budgets.Snapshot(), txs)

	out := make([]budgetView, len(progress))
	for i, p := range progress {
		out[i] = budgetView{BudgetStatus: p, LinkedSpent: views.BudgetSpentByBudgetID(p.Budget, txs)}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"budgets": out,
		"count":   len(out),
	})
}

func parseTransactionFilter(w http.ResponseWriter, r *http.Request) (views.TransactionFilter, bool) {
	query := r.URL.Query()
	filter := views.TransactionFilter{
		Type:     domain.TransactionType(query.Get("type")),
		Category: query.Get("category"),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		middleware.WriteError(w, http.StatusBadRequest, "type must be income or expense")
		return filter, false
	}

	var err error
	if s := query.Get("from"); s != "" {
		if filter.From, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid from date format")
			return filter, false
		}
	}
	if s := query.Get("to"); s != "" {
		if filter.To, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid to date format")
			return filter, false
		}
	}
	return filter, true
}
