package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAccountTypeDefaults(t *testing.T) {
	tests := []struct {
		typ   AccountType
		color string
		icon  string
		valid bool
	}{
		{AccountBank, "#3b82f6", "landmark", true},
		{AccountCredit, "#ef4444", "credit-card", true},
		{AccountSavings, "#10b981", "piggy-bank", true},
		{AccountCash, "#f59e0b", "wallet", true},
		{AccountInvestment, "#8b5cf6", "trending-up", true},
		{AccountType("crypto"), "#6b7280", "banknote", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.Color(); got != tt.color {
				t.Errorf("Color() = %q, want %q", got, tt.color)
			}
			if got := tt.typ.Icon(); got != tt.icon {
				t.Errorf("Icon() = %q, want %q", got, tt.icon)
			}
			if got := tt.typ.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestEnumValidity(t *testing.T) {
	if !TransactionExpense.Valid() || !TransactionIncome.Valid() || TransactionType("transfer").Valid() {
		t.Error("unexpected transaction type validity")
	}
	if !PeriodMonthly.Valid() || !PeriodYearly.Valid() || BudgetPeriod("weekly").Valid() {
		t.Error("unexpected budget period validity")
	}
	if !FrequencyWeekly.Valid() || Frequency("hourly").Valid() {
		t.Error("unexpected frequency validity")
	}
}

func TestCategoriesFor(t *testing.T) {
	if got := CategoriesFor(TransactionIncome); got[0] != "Sueldo" {
		t.Errorf("income categories start with %q", got[0])
	}
	if got := CategoriesFor(TransactionExpense); got[0] != "Comida" {
		t.Errorf("expense categories start with %q", got[0])
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     string
	}{
		{"usd", "1234.5", "USD", "$1,234.50"},
		{"default currency", "99.99", "", "$99.99"},
		{"unknown currency", "10", "XYZ", "10.00 XYZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatAmount(decimal.RequireFromString(tt.amount), tt.currency)
			if got != tt.want {
				t.Errorf("FormatAmount() = %q, want %q", got, tt.want)
			}
		})
	}
}
