// Package remote defines the boundary to the hosted relational backend: per-user
// row CRUD on a small set of tables and a realtime change feed per table.
package remote

import (
	"context"
	"fmt"
)

// Table names known to every backend.
const (
	TableTransactions  = "transactions"
	TableBudgets       = "budgets"
	TableAccounts      = "accounts"
	TableNotifications = "notifications"
	TableSettings      = "notification_settings"
)

// Tables lists every table a backend must serve.
var Tables = []string{TableTransactions, TableBudgets, TableAccounts, TableNotifications, TableSettings}

// KnownTable reports whether name is one of Tables.
func KnownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}

// Row is a single table row keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter is an equality predicate on one column.
type Filter struct {
	Column string
	Value  any
}

// String renders the filter in the column=eq.value form used by change feeds.
func (f Filter) String() string {
	return fmt.Sprintf("%s=eq.%v", f.Column, f.Value)
}

// UserFilter scopes a query or subscription to one user's rows.
func UserFilter(userID string) Filter {
	return Filter{Column: "user_id", Value: userID}
}

// Order is the sort applied to a Select.
type Order struct {
	Column string
	Desc   bool
}

// Query selects the rows of one user.
type Query struct {
	UserID  string
	Order   Order
	Filters []Filter
	Limit   int
}

// Table is the CRUD surface of one remote table. Every operation is scoped to
// a user; Update and Delete are additionally scoped to a row id, so a
// guessed id belonging to someone else matches nothing.
type Table interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, userID string, row Row) error
	Update(ctx context.Context, userID, id string, fields Row) error
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string) error
}

// ChangeType is the kind of row change carried by a ChangeEvent.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent notifies subscribers that a row changed. The row itself is not
// carried; subscribers reload.
type ChangeEvent struct {
	Table  string     `json:"table"`
	Type   ChangeType `json:"type"`
	UserID string     `json:"user_id"`
}

// Subscription is an open change feed. Close stops delivery.
type Subscription interface {
	Close() error
}

// Client is a connection to one backend.
type Client interface {
	// Table returns the CRUD surface for name. Unknown names yield a table
	// whose operations fail with ErrUnknownTable.
	Table(name string) Table

	// Subscribe delivers change events for rows of table matching filter.
	// Backends without a change feed return ErrRealtimeUnsupported.
	Subscribe(ctx context.Context, table string, filter Filter, fn func(ChangeEvent)) (Subscription, error)

	Close() error
}

// unknownTable is returned by Client.Table for names outside Tables.
type unknownTable struct{ name string }

// UnknownTable returns a Table whose operations all fail with ErrUnknownTable.
func UnknownTable(name string) Table {
	return unknownTable{name: name}
}

func (t unknownTable) err() error {
	return fmt.Errorf("%w: %s", ErrUnknownTable, t.name)
}

func (t unknownTable) Select(context.Context, Query) ([]Row, error) { return nil, t.err() }
func (t unknownTable) Insert(context.Context, string, Row) error { return t.err() }
func (t unknownTable) Update(context.Context, string, string, Row) error { return t.err() }
func (t unknownTable) Delete(context.Context, string, string) error { return t.err() }
func (t unknownTable) DeleteAll(context.Context, string) error { return t.err() }
