package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a transaction. The amount itself is
// always a non-negative magnitude.
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TransactionIncome || t == TransactionExpense
}

// Frequency is how often a recurring transaction repeats.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is a known recurrence frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Recurrence describes a repeating transaction.
type Recurrence struct {
	Frequency Frequency  `json:"frequency"`
	EndDate   civil.Date `json:"endDate"`
}

// Transaction is one income or expense entry owned by the signed-in user.
// Category is a free-text label, not a reference to a category table.
// AccountID and BudgetID are weak references and may point at rows that no
// longer exist.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Date        civil.Date      `json:"date"`
	AccountID   string          `json:"accountId,omitempty"`
	BudgetID    string          `json:"budgetId,omitempty"`
	IsRecurring bool            `json:"isRecurring"`
	Recurrence  *Recurrence     `json:"recurrence,omitempty"`
}

// ExpenseCategories are the labels offered for expense transactions.
var ExpenseCategories = []string{
	"Comida", "Transporte", "Compras", "Entretenimiento", "Salud", "Educación", "Viajes", "Otros",
}

// IncomeCategories are the labels offered for income transactions.
var IncomeCategories = []string{
	"Sueldo", "Ventas", "Inversiones", "Regalos", "Otros",
}

// DefaultCategory is used when no better label is known.
const DefaultCategory = "Otros"

// CategoriesFor returns the category labels for a transaction type.
func CategoriesFor(t TransactionType) []string {
	if t == TransactionIncome {
		return IncomeCategories
	}
	return ExpenseCategories
}
