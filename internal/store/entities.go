package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/dvloznov/pocketpilot/internal/views"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Transactions is the transactions store.
type Transactions struct {
	*Store[domain.Transaction]
}

// NewTransactions creates the transactions store.
func NewTransactions(client remote.Client, sess SessionSource, log zerolog.Logger) *Transactions {
	return &Transactions{Store: New(TransactionSchema(), client, sess, log)}
}

// ByMonth returns the transactions dated in the given month.
func (t *Transactions) ByMonth(year int, month time.Month) []domain.Transaction {
	return views.TransactionsByMonth(t.Snapshot(), year, month)
}

// TotalByType sums the amounts of one transaction type.
func (t *Transactions) TotalByType(typ domain.TransactionType) decimal.Decimal {
	return views.TotalByType(t.Snapshot(), typ)
}

// Budgets is the budgets store.
type Budgets struct {
	*Store[domain.Budget]
}

// NewBudgets creates the budgets store.
func NewBudgets(client remote.Client, sess SessionSource, log zerolog.Logger) *Budgets {
	return &Budgets{Store: New(BudgetSchema(), client, sess, log)}
}

// ByCategory returns the budgets tracking category.
func (b *Budgets) ByCategory(category string) []domain.Budget {
	var out []domain.Budget
	for _, budget := range b.Snapshot() {
		if budget.Category == category {
			out = append(out, budget)
		}
	}
	return out
}

// Accounts is the accounts store.
type Accounts struct {
	*Store[domain.Account]
}

// NewAccounts creates the accounts store.
func NewAccounts(client remote.Client, sess SessionSource, log zerolog.Logger) *Accounts {
	return &Accounts{Store: New(AccountSchema(), client, sess, log)}
}

// TotalBalance sums the balances of active accounts.
func (a *Accounts) TotalBalance() decimal.Decimal {
	return views.TotalBalance(a.Snapshot())
}

// BalanceByCurrency sums active balances per currency.
func (a *Accounts) BalanceByCurrency() map[string]decimal.Decimal {
	return views.BalanceByCurrency(a.Snapshot())
}

// Notifications is the store of unarchived notifications.
type Notifications struct {
	*Store[domain.Notification]
}

// NewNotifications creates the notifications store.
func NewNotifications(client remote.Client, sess SessionSource, log zerolog.Logger) *Notifications {
	return &Notifications{Store: New(NotificationSchema(), client, sess, log)}
}

// UnreadCount returns the number of unread notifications in the list.
func (n *Notifications) UnreadCount() int {
	count := 0
	for _, item := range n.Snapshot() {
		if !item.IsRead {
			count++
		}
	}
	return count
}

// MarkRead flags one notification as read.
func (n *Notifications) MarkRead(ctx context.Context, id string) error {
	read := true
	return n.Update(ctx, id, NotificationPatch{IsRead: &read})
}

// Archive hides a notification from the list.
func (n *Notifications) Archive(ctx context.Context, id string) error {
	archived := true
	return n.Update(ctx, id, NotificationPatch{IsArchived: &archived})
}

// MarkAllRead flags every unread notification in the list as read and reloads
// once at the end.
func (n *Notifications) MarkAllRead(ctx context.Context) error {
	userID, err := n.requireUser()
	if err != nil {
		return err
	}

	for _, item := range n.Snapshot() {
		if item.IsRead {
			continue
		}
		if err := n.table.Update(ctx, userID, item.ID, remote.Row{"is_read": true}); err != nil {
			return fmt.Errorf("MarkAllRead: updating %s: %w", item.ID, err)
		}
	}

	n.Load(ctx)
	return nil
}
