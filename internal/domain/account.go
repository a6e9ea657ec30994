package domain

import (
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// AccountType classifies an account.
type AccountType string

const (
	AccountBank       AccountType = "bank"
	AccountCredit     AccountType = "credit"
	AccountCash       AccountType = "cash"
	AccountSavings    AccountType = "savings"
	AccountInvestment AccountType = "investment"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountBank, AccountCredit, AccountCash, AccountSavings, AccountInvestment:
		return true
	}
	return false
}

// Color returns the default display color for the account type.
func (t AccountType) Color() string {
	switch t {
	case AccountBank:
		return "#3b82f6"
	case AccountCredit:
		return "#ef4444"
	case AccountSavings:
		return "#10b981"
	case AccountCash:
		return "#f59e0b"
	case AccountInvestment:
		return "#8b5cf6"
	default:
		return "#6b7280"
	}
}

// Icon returns the icon name shown for the account type.
func (t AccountType) Icon() string {
	switch t {
	case AccountBank:
		return "landmark"
	case AccountCredit:
		return "credit-card"
	case AccountSavings:
		return "piggy-bank"
	case AccountCash:
		return "wallet"
	case AccountInvestment:
		return "trending-up"
	default:
		return "banknote"
	}
}

// Supported currencies.
const (
	CurrencyUSD = "USD"
	CurrencyDOP = "DOP"
	CurrencyEUR = "EUR"
)

// Account holds a manually maintained balance. The balance is a stored
// snapshot and is never adjusted when transactions change.
type Account struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Color     string          `json:"color"`
	Icon      string          `json:"icon"`
	IsActive  bool            `json:"isActive"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// FormatAmount renders an amount in the given currency, e.g. "$1,234.50".
// Unknown currency codes fall back to the plain decimal with the code appended.
func FormatAmount(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = CurrencyUSD
	}
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, currency).Display()
}
