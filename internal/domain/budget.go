package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// BudgetPeriod is the window a budget applies to.
type BudgetPeriod string

const (
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodYearly  BudgetPeriod = "yearly"
)

// Valid reports whether p is a known budget period.
func (p BudgetPeriod) Valid() bool {
	return p == PeriodMonthly || p == PeriodYearly
}

// Budget is a spending goal. Spent is the server-side counter and is
// informational only; views recompute spending from transactions.
type Budget struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Spent    decimal.Decimal `json:"spent"`
	Category string          `json:"category"`
	Period   BudgetPeriod    `json:"period"`
	Date     *civil.Date     `json:"date,omitempty"`
}
