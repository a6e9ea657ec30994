package store

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/shopspring/decimal"
)

// TransactionPatch updates selected transaction fields. Nil fields are left
// untouched. An empty AccountID or BudgetID unlinks the transaction.
type TransactionPatch struct {
	Type        *domain.TransactionType `json:"type,omitempty"`
	Amount      *decimal.Decimal        `json:"amount,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Category    *string                 `json:"category,omitempty"`
	Date        *civil.Date             `json:"date,omitempty"`
	AccountID   *string                 `json:"accountId,omitempty"`
	BudgetID    *string                 `json:"budgetId,omitempty"`
	IsRecurring *bool                   `json:"isRecurring,omitempty"`
	Recurrence  *domain.Recurrence      `json:"recurrence,omitempty"`
}

// Fields implements Patch.
func (p TransactionPatch) Fields() (remote.Row, error) {
	row := remote.Row{}
	if p.Type != nil {
		if !p.Type.Valid() {
			return nil, invalid("transaction type %q must be income or expense", *p.Type)
		}
		row["type"] = string(*p.Type)
	}
	if p.Amount != nil {
		if p.Amount.IsNegative() {
			return nil, invalid("transaction amount must not be negative")
		}
		row["amount"] = *p.Amount
	}
	if p.Description != nil {
		row["description"] = *p.Description
	}
	if p.Category != nil {
		cat := strings.TrimSpace(*p.Category)
		if cat == "" {
			return nil, invalid("transaction category is required")
		}
		row["category"] = cat
	}
	if p.Date != nil {
		if !p.Date.IsValid() {
			return nil, invalid("transaction date %s is not valid", *p.Date)
		}
		row["date"] = *p.Date
	}
	if p.AccountID != nil {
		row["account_id"] = nullable(*p.AccountID)
	}
	if p.BudgetID != nil {
		row["budget_id"] = nullable(*p.BudgetID)
	}
	if p.Recurrence != nil {
		if !p.Recurrence.Frequency.Valid() {
			return nil, invalid("recurrence frequency %q is not supported", p.Recurrence.Frequency)
		}
		row["recurrence"] = *p.Recurrence
	}
	if p.IsRecurring != nil {
		row["is_recurring"] = *p.IsRecurring
		if !*p.IsRecurring {
			row["recurrence"] = nil
		}
	}
	return row, nil
}

// BudgetPatch updates selected budget fields.
type BudgetPatch struct {
	Name     *string              `json:"name,omitempty"`
	Amount   *decimal.Decimal     `json:"amount,omitempty"`
	Spent    *decimal.Decimal     `json:"spent,omitempty"`
	Category *string              `json:"category,omitempty"`
	Period   *domain.BudgetPeriod `json:"period,omitempty"`
	Date     *civil.Date          `json:"date,omitempty"`
}

// Fields implements Patch.
func (p BudgetPatch) Fields() (remote.Row, error) {
	row := remote.Row{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, invalid("budget name is required")
		}
		row["name"] = name
	}
	if p.Amount != nil {
		if !p.Amount.IsPositive() {
			return nil, invalid("budget amount must be greater than zero")
		}
		row["amount"] = *p.Amount
	}
	if p.Spent != nil {
		row["spent"] = *p.Spent
	}
	if p.Category != nil {
		row["category"] = *p.Category
	}
	if p.Period != nil {
		if !p.Period.Valid() {
			return nil, invalid("budget period %q must be monthly or yearly", *p.Period)
		}
		row["period"] = string(*p.Period)
	}
	if p.Date != nil {
		row["date"] = *p.Date
	}
	return row, nil
}

// AccountPatch updates selected account fields. Every account update stamps
// updated_at, even when no other field changes.
type AccountPatch struct {
	Name     *string             `json:"name,omitempty"`
	Type     *domain.AccountType `json:"type,omitempty"`
	Balance  *decimal.Decimal    `json:"balance,omitempty"`
	Currency *string             `json:"currency,omitempty"`
	Color    *string             `json:"color,omitempty"`
	Icon     *string             `json:"icon,omitempty"`
	IsActive *bool               `json:"isActive,omitempty"`
}

// Fields implements Patch.
func (p AccountPatch) Fields() (remote.Row, error) {
	row := remote.Row{"updated_at": now().UTC()}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, invalid("account name is required")
		}
		row["name"] = name
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			return nil, invalid("account type %q is not supported", *p.Type)
		}
		row["type"] = string(*p.Type)
	}
	if p.Balance != nil {
		row["balance"] = *p.Balance
	}
	if p.Currency != nil {
		if strings.TrimSpace(*p.Currency) == "" {
			return nil, invalid("account currency is required")
		}
		row["currency"] = *p.Currency
	}
	if p.Color != nil {
		row["color"] = *p.Color
	}
	if p.Icon != nil {
		row["icon"] = *p.Icon
	}
	if p.IsActive != nil {
		row["is_active"] = *p.IsActive
	}
	return row, nil
}

// NotificationPatch updates the read and archived flags of a notification.
type NotificationPatch struct {
	IsRead     *bool `json:"isRead,omitempty"`
	IsArchived *bool `json:"isArchived,omitempty"`
}

// Fields implements Patch.
func (p NotificationPatch) Fields() (remote.Row, error) {
	row := remote.Row{}
	if p.IsRead != nil {
		row["is_read"] = *p.IsRead
	}
	if p.IsArchived != nil {
		row["is_archived"] = *p.IsArchived
	}
	return row, nil
}

var (
	_ Patch = TransactionPatch{}
	_ Patch = BudgetPatch{}
	_ Patch = AccountPatch{}
	_ Patch = NotificationPatch{}
)
