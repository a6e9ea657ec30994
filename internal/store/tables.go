package store

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/google/uuid"
)

// now is replaced in tests.
var now = time.Now

func withID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// TransactionSchema maps the transactions table, newest date first.
func TransactionSchema() Schema[domain.Transaction] {
	return Schema[domain.Transaction]{
		Table: remote.TableTransactions,
		Order: remote.Order{Column: "date", Desc: true},
		ID:    func(t domain.Transaction) string { return t.ID },
		Prepare: func(t domain.Transaction) domain.Transaction {
			t.ID = withID(t.ID)
			t.Category = strings.TrimSpace(t.Category)
			if !t.IsRecurring {
				t.Recurrence = nil
			}
			return t
		},
		Validate: ValidateTransaction,
		Encode:   encodeTransaction,
		Decode:   decodeTransaction,
	}
}

// ValidateTransaction checks the fields every transaction needs.
func ValidateTransaction(t domain.Transaction) error {
	if !t.Type.Valid() {
		return invalid("transaction type %q must be income or expense", t.Type)
	}
	if t.Amount.IsNegative() {
		return invalid("transaction amount must not be negative")
	}
	if strings.TrimSpace(t.Category) == "" {
		return invalid("transaction category is required")
	}
	if t.Date == (civil.Date{}) || !t.Date.IsValid() {
		return invalid("transaction date is required")
	}
	if t.IsRecurring {
		if t.Recurrence == nil || !t.Recurrence.Frequency.Valid() {
			return invalid("recurring transaction needs a daily, weekly or monthly frequency")
		}
	}
	return nil
}

func encodeTransaction(t domain.Transaction) (remote.Row, error) {
	row := remote.Row{
		"id":           t.ID,
		"type":         string(t.Type),
		"amount":       t.Amount,
		"description":  t.Description,
		"category":     t.Category,
		"date":         t.Date,
		"account_id":   nullable(t.AccountID),
		"budget_id":    nullable(t.BudgetID),
		"is_recurring": t.IsRecurring,
		"recurrence":   nil,
	}
	if t.Recurrence != nil {
		row["recurrence"] = *t.Recurrence
	}
	return row, nil
}

func decodeTransaction(r remote.Row) (domain.Transaction, error) {
	amount, err := remote.Decimal(r, "amount")
	if err != nil {
		return domain.Transaction{}, err
	}
	day, _, err := remote.Date(r, "date")
	if err != nil {
		return domain.Transaction{}, err
	}

	t := domain.Transaction{
		ID:          remote.String(r, "id"),
		Type:        domain.TransactionType(remote.String(r, "type")),
		Amount:      amount,
		Description: remote.String(r, "description"),
		Category:    remote.String(r, "category"),
		Date:        day,
		AccountID:   remote.String(r, "account_id"),
		BudgetID:    remote.String(r, "budget_id"),
		IsRecurring: remote.Bool(r, "is_recurring", false),
	}

	var rec domain.Recurrence
	ok, err := remote.JSON(r, "recurrence", &rec)
	if err != nil {
		return domain.Transaction{}, err
	}
	if ok && rec.Frequency != "" {
		t.Recurrence = &rec
	}
	return t, nil
}

// BudgetSchema maps the budgets table, newest first.
func BudgetSchema() Schema[domain.Budget] {
	return Schema[domain.Budget]{
		Table: remote.TableBudgets,
		Order: remote.Order{Column: "created_at", Desc: true},
		ID:    func(b domain.Budget) string { return b.ID },
		Prepare: func(b domain.Budget) domain.Budget {
			b.ID = withID(b.ID)
			b.Name = strings.TrimSpace(b.Name)
			return b
		},
		Validate: ValidateBudget,
		Encode:   encodeBudget,
		Decode:   decodeBudget,
	}
}

// ValidateBudget checks the fields every budget needs.
func ValidateBudget(b domain.Budget) error {
	if strings.TrimSpace(b.Name) == "" {
		return invalid("budget name is required")
	}
	if !b.Amount.IsPositive() {
		return invalid("budget amount must be greater than zero")
	}
	if !b.Period.Valid() {
		return invalid("budget period %q must be monthly or yearly", b.Period)
	}
	return nil
}

func encodeBudget(b domain.Budget) (remote.Row, error) {
	row := remote.Row{
		"id":       b.ID,
		"name":     b.Name,
		"amount":   b.Amount,
		"spent":    b.Spent,
		"category": b.Category,
		"period":   string(b.Period),
		"date":     nil,
	}
	if b.Date != nil {
		row["date"] = *b.Date
	}
	return row, nil
}

func decodeBudget(r remote.Row) (domain.Budget, error) {
	amount, err := remote.Decimal(r, "amount")
	if err != nil {
		return domain.Budget{}, err
	}
	spent, err := remote.Decimal(r, "spent")
	if err != nil {
		return domain.Budget{}, err
	}

	b := domain.Budget{
		ID:       remote.String(r, "id"),
		Name:     remote.String(r, "name"),
		Amount:   amount,
		Spent:    spent,
		Category: remote.String(r, "category"),
		Period:   domain.BudgetPeriod(remote.String(r, "period")),
	}

	day, ok, err := remote.Date(r, "date")
	if err != nil {
		return domain.Budget{}, err
	}
	if !ok {
		day, ok, err = remote.Date(r, "created_at")
		if err != nil {
			return domain.Budget{}, err
		}
	}
	if ok {
		b.Date = &day
	}
	return b, nil
}

// AccountSchema maps the accounts table, newest first. New accounts start
// active and take their color and icon from the account type when unset.
func AccountSchema() Schema[domain.Account] {
	return Schema[domain.Account]{
		Table: remote.TableAccounts,
		Order: remote.Order{Column: "created_at", Desc: true},
		ID:    func(a domain.Account) string { return a.ID },
		Prepare: func(a domain.Account) domain.Account {
			a.ID = withID(a.ID)
			a.Name = strings.TrimSpace(a.Name)
			if a.Color == "" {
				a.Color = a.Type.Color()
			}
			if a.Icon == "" {
				a.Icon = a.Type.Icon()
			}
			a.IsActive = true
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now().UTC()
			}
			a.UpdatedAt = a.CreatedAt
			return a
		},
		Validate: ValidateAccount,
		Encode:   encodeAccount,
		Decode:   decodeAccount,
	}
}

// ValidateAccount checks the fields every account needs.
func ValidateAccount(a domain.Account) error {
	if strings.TrimSpace(a.Name) == "" {
		return invalid("account name is required")
	}
	if !a.Type.Valid() {
		return invalid("account type %q is not supported", a.Type)
	}
	if strings.TrimSpace(a.Currency) == "" {
		return invalid("account currency is required")
	}
	return nil
}

func encodeAccount(a domain.Account) (remote.Row, error) {
	return remote.Row{
		"id":         a.ID,
		"name":       a.Name,
		"type":       string(a.Type),
		"balance":    a.Balance,
		"currency":   a.Currency,
		"color":      a.Color,
		"icon":       a.Icon,
		"is_active":  a.IsActive,
		"created_at": a.CreatedAt,
		"updated_at": a.UpdatedAt,
	}, nil
}

func decodeAccount(r remote.Row) (domain.Account, error) {
	balance, err := remote.Decimal(r, "balance")
	if err != nil {
		return domain.Account{}, err
	}
	created, err := remote.Time(r, "created_at")
	if err != nil {
		return domain.Account{}, err
	}
	updated, err := remote.Time(r, "updated_at")
	if err != nil {
		return domain.Account{}, err
	}
	if updated.IsZero() {
		updated = created
	}

	typ := domain.AccountType(remote.String(r, "type"))
	a := domain.Account{
		ID:        remote.String(r, "id"),
		Name:      remote.String(r, "name"),
		Type:      typ,
		Balance:   balance,
		Currency:  remote.String(r, "currency"),
		Color:     remote.String(r, "color"),
		Icon:      remote.String(r, "icon"),
		IsActive:  remote.Bool(r, "is_active", true),
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if a.Color == "" {
		a.Color = typ.Color()
	}
	if a.Icon == "" {
		a.Icon = typ.Icon()
	}
	return a, nil
}

// notificationLimit caps the notification list.
const notificationLimit = 50

// NotificationSchema maps the unarchived notifications, newest first.
func NotificationSchema() Schema[domain.Notification] {
	return Schema[domain.Notification]{
		Table:   remote.TableNotifications,
		Order:   remote.Order{Column: "created_at", Desc: true},
		Filters: []remote.Filter{{Column: "is_archived", Value: false}},
		Limit:   notificationLimit,
		ID:      func(n domain.Notification) string { return n.ID },
		Prepare: func(n domain.Notification) domain.Notification {
			n.ID = withID(n.ID)
			if n.CreatedAt.IsZero() {
				n.CreatedAt = now().UTC()
			}
			return n
		},
		Validate: func(n domain.Notification) error {
			if strings.TrimSpace(n.Title) == "" {
				return invalid("notification title is required")
			}
			return nil
		},
		Encode: encodeNotification,
		Decode: decodeNotification,
	}
}

func encodeNotification(n domain.Notification) (remote.Row, error) {
	row := remote.Row{
		"id":            n.ID,
		"type":          string(n.Type),
		"category":      string(n.Category),
		"title":         n.Title,
		"message":       n.Message,
		"is_read":       n.IsRead,
		"is_archived":   n.IsArchived,
		"scheduled_for": nil,
		"action_url":    nullable(n.ActionURL),
		"action_label":  nullable(n.ActionLabel),
		"metadata":      nil,
		"created_at":    n.CreatedAt,
	}
	if n.ScheduledFor != nil {
		row["scheduled_for"] = *n.ScheduledFor
	}
	if len(n.Metadata) > 0 {
		row["metadata"] = n.Metadata
	}
	return row, nil
}

func decodeNotification(r remote.Row) (domain.Notification, error) {
	created, err := remote.Time(r, "created_at")
	if err != nil {
		return domain.Notification{}, err
	}
	scheduled, err := remote.Time(r, "scheduled_for")
	if err != nil {
		return domain.Notification{}, err
	}

	n := domain.Notification{
		ID:          remote.String(r, "id"),
		Type:        domain.NotificationType(remote.String(r, "type")),
		Category:    domain.NotificationCategory(remote.String(r, "category")),
		Title:       remote.String(r, "title"),
		Message:     remote.String(r, "message"),
		IsRead:      remote.Bool(r, "is_read", false),
		IsArchived:  remote.Bool(r, "is_archived", false),
		ActionURL:   remote.String(r, "action_url"),
		ActionLabel: remote.String(r, "action_label"),
		CreatedAt:   created,
	}
	if !scheduled.IsZero() {
		n.ScheduledFor = &scheduled
	}
	if _, err := remote.JSON(r, "metadata", &n.Metadata); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}
