// Package views computes read-only aggregates from store snapshots. Every
// function is pure: same input, same output, and empty input yields a zero
// result rather than an error.
package views

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/shopspring/decimal"
)

// TotalBalance sums the balances of active accounts.
func TotalBalance(accounts []domain.Account) decimal.Decimal {
	total := decimal.Zero
	for _, a := range accounts {
		if a.IsActive {
			total = total.Add(a.Balance)
		}
	}
	return total
}

// BalanceByCurrency sums active account balances per currency code.
func BalanceByCurrency(accounts []domain.Account) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, a := range accounts {
		if !a.IsActive {
			continue
		}
		cur := a.Currency
		if cur == "" {
			cur = domain.CurrencyUSD
		}
		out[cur] = out[cur].Add(a.Balance)
	}
	return out
}

// TotalByType sums the amounts of transactions of type t.
func TotalByType(txs []domain.Transaction, t domain.TransactionType) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Type == t {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// TransactionFilter selects transactions. Zero fields match everything; From
// and To are inclusive.
type TransactionFilter struct {
	Type     domain.TransactionType
	Category string
	From     civil.Date
	To       civil.Date
}

// FilterTransactions returns the transactions matching f, in input order.
func FilterTransactions(txs []domain.Transaction, f TransactionFilter) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		if f.Category != "" && tx.Category != f.Category {
			continue
		}
		if f.From != (civil.Date{}) && tx.Date.Before(f.From) {
			continue
		}
		if f.To != (civil.Date{}) && tx.Date.After(f.To) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// CategoryTotals sums transaction amounts per category.
func CategoryTotals(txs []domain.Transaction) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		out[tx.Category] = out[tx.Category].Add(tx.Amount)
	}
	return out
}

// CategoryShare is one category's total and its share of all totals.
type CategoryShare struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Percent  float64         `json:"percent"`
}

// RankCategories orders category totals from largest to smallest, ties by
// name.
func RankCategories(totals map[string]decimal.Decimal) []CategoryShare {
	sum := decimal.Zero
	for _, v := range totals {
		sum = sum.Add(v)
	}

	out := make([]CategoryShare, 0, len(totals))
	for cat, v := range totals {
		share := CategoryShare{Category: cat, Total: v}
		if !sum.IsZero() {
			share.Percent = v.Div(sum).Mul(decimal.NewFromInt(100)).Round(1).InexactFloat64()
		}
		out = append(out, share)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// MonthPoint is the income and expense total of one calendar month.
type MonthPoint struct {
	Month    string          `json:"month"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
}

// MonthKey formats the YYYY-MM key used by MonthlySeries.
func MonthKey(d civil.Date) string {
	return d.String()[:7]
}

// MonthlySeries groups transactions by month, oldest first.
func MonthlySeries(txs []domain.Transaction) []MonthPoint {
	byMonth := make(map[string]*MonthPoint)
	for _, tx := range txs {
		key := MonthKey(tx.Date)
		p, ok := byMonth[key]
		if !ok {
			p = &MonthPoint{Month: key}
			byMonth[key] = p
		}
		switch tx.Type {
		case domain.TransactionIncome:
			p.Income = p.Income.Add(tx.Amount)
		case domain.TransactionExpense:
			p.Expenses = p.Expenses.Add(tx.Amount)
		}
	}

	out := make([]MonthPoint, 0, len(byMonth))
	for _, p := range byMonth {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// TransactionsByMonth returns the transactions dated in the given month.
func TransactionsByMonth(txs []domain.Transaction, year int, month time.Month) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, tx := range txs {
		if tx.Date.Year == year && tx.Date.Month == month {
			out = append(out, tx)
		}
	}
	return out
}

// BudgetSpentByCategory sums expenses whose category equals the budget's.
// This is the figure shown on budget cards.
func BudgetSpentByCategory(b domain.Budget, txs []domain.Transaction) decimal.Decimal {
	spent := decimal.Zero
	for _, tx := range txs {
		if tx.Type == domain.TransactionExpense && tx.Category == b.Category {
			spent = spent.Add(tx.Amount)
		}
	}
	return spent
}

// BudgetSpentByBudgetID sums expenses explicitly linked to the budget. Alert
// triggers use this figure; it can differ from BudgetSpentByCategory. A
// budget without an id has no linked expenses.
func BudgetSpentByBudgetID(b domain.Budget, txs []domain.Transaction) decimal.Decimal {
	spent := decimal.Zero
	if b.ID == "" {
		return spent
	}
	for _, tx := range txs {
		if tx.Type == domain.TransactionExpense && tx.BudgetID == b.ID {
			spent = spent.Add(tx.Amount)
		}
	}
	return spent
}

// BudgetStatus is a budget with its computed spending.
type BudgetStatus struct {
	Budget    domain.Budget   `json:"budget"`
	Spent     decimal.Decimal `json:"spent"`
	Remaining decimal.Decimal `json:"remaining"`
	Percent   float64         `json:"percent"`
	Exceeded  bool            `json:"exceeded"`
}

// BudgetProgress computes category-matched spending for every budget, in
// input order.
func BudgetProgress(budgets []domain.Budget, txs []domain.Transaction) []BudgetStatus {
	out := make([]BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		spent := BudgetSpentByCategory(b, txs)
		st := BudgetStatus{
			Budget:    b,
			Spent:     spent,
			Remaining: b.Amount.Sub(spent),
			Exceeded:  spent.GreaterThan(b.Amount),
		}
		if b.Amount.IsPositive() {
			st.Percent = spent.Div(b.Amount).Mul(decimal.NewFromInt(100)).Round(1).InexactFloat64()
		}
		out = append(out, st)
	}
	return out
}

// Period is a reporting window.
type Period string

const (
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// PeriodRange returns the first and last day of the month or year containing
// ref. Unknown periods are treated as month.
func PeriodRange(p Period, ref civil.Date) (from, to civil.Date) {
	if p == PeriodYear {
		return civil.Date{Year: ref.Year, Month: time.January, Day: 1},
			civil.Date{Year: ref.Year, Month: time.December, Day: 31}
	}
	from = civil.Date{Year: ref.Year, Month: ref.Month, Day: 1}
	to = civil.DateOf(time.Date(ref.Year, ref.Month+1, 0, 0, 0, 0, 0, time.UTC))
	return from, to
}

// SummaryReport is the dashboard overview.
type SummaryReport struct {
	TotalBalance  decimal.Decimal `json:"totalBalance"`
	Income        decimal.Decimal `json:"income"`
	Expenses      decimal.Decimal `json:"expenses"`
	Net           decimal.Decimal `json:"net"`
	TopCategories []CategoryShare `json:"topCategories"`
	Monthly       []MonthPoint    `json:"monthly"`
}

const topCategories = 5

// Summary builds the overview for the given transactions and accounts. Top
// categories are ranked over expenses only.
func Summary(txs []domain.Transaction, accounts []domain.Account) SummaryReport {
	income := TotalByType(txs, domain.TransactionIncome)
	expenses := TotalByType(txs, domain.TransactionExpense)

	ranked := RankCategories(CategoryTotals(FilterTransactions(txs, TransactionFilter{Type: domain.TransactionExpense})))
	if len(ranked) > topCategories {
		ranked = ranked[:topCategories]
	}

	return SummaryReport{
		TotalBalance:  TotalBalance(accounts),
		Income:        income,
		Expenses:      expenses,
		Net:           income.Sub(expenses),
		TopCategories: ranked,
		Monthly:       MonthlySeries(txs),
	}
}
