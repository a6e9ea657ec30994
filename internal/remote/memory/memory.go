// Package memory is an in-process backend. It keeps every table in maps,
// publishes change events like the hosted backends do, and is used by tests
// and by the "memory" backend of the daemon.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type storedRow struct {
	row remote.Row
	seq int64
}

// Stats counts the operations a Client has served.
type Stats struct {
	Selects int
	Writes  int
}

// Client is an in-memory implementation of remote.Client.
type Client struct {
	mu     sync.RWMutex
	tables map[string]map[string]*storedRow
	users  map[string]remote.User
	seq    int64
	stats  Stats
	hub    *remote.Hub
	closed bool
	now    func() time.Time
}

// NewClient creates an empty in-memory backend.
func NewClient() *Client {
	tables := make(map[string]map[string]*storedRow, len(remote.Tables))
	for _, name := range remote.Tables {
		tables[name] = make(map[string]*storedRow)
	}
	return &Client{
		tables: tables,
		users:  make(map[string]remote.User),
		hub:    remote.NewHub(),
		now:    time.Now,
	}
}

// Table implements remote.Client.
func (c *Client) Table(name string) remote.Table {
	if !remote.KnownTable(name) {
		return remote.UnknownTable(name)
	}
	return &table{client: c, name: name}
}

// Subscribe implements remote.Client.
func (c *Client) Subscribe(ctx context.Context, table string, filter remote.Filter, fn func(remote.ChangeEvent)) (remote.Subscription, error) {
	return c.hub.Subscribe(ctx, table, filter, fn)
}

// Close implements remote.Client.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.hub.Close()
	return nil
}

// Stats returns a snapshot of the operation counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Subscribers returns the number of open change subscriptions.
func (c *Client) Subscribers() int {
	return c.hub.Subscribers()
}

// Rows returns copies of the rows a user owns in table, in insertion order.
func (c *Client) Rows(table, userID string) []remote.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var stored []*storedRow
	for _, r := range c.tables[table] {
		if remote.String(r.row, "user_id") == userID {
			stored = append(stored, r)
		}
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })

	out := make([]remote.Row, 0, len(stored))
	for _, r := range stored {
		out = append(out, r.row.Clone())
	}
	return out
}

// AddUser registers a user for password sign-in and returns its id.
func (c *Client) AddUser(email, passwordHash string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()
	c.users[strings.ToLower(email)] = remote.User{ID: id, Email: email, PasswordHash: passwordHash}
	return id
}

// CreateUser implements remote.UserCreator.
func (c *Client) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	if _, err := c.FindUserByEmail(ctx, email); err == nil {
		return "", fmt.Errorf("CreateUser: email %q already registered", email)
	}
	return c.AddUser(email, passwordHash), nil
}

// FindUserByEmail implements remote.UserLookup.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (remote.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.users[strings.ToLower(email)]
	if !ok {
		return remote.User{}, fmt.Errorf("FindUserByEmail: %w", remote.ErrNotFound)
	}
	return u, nil
}

type table struct {
	client *Client
	name   string
}

func (t *table) Select(ctx context.Context, q remote.Query) ([]remote.Row, error) {
	c := t.client
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("Select: %w", remote.ErrClosed)
	}
	c.stats.Selects++

	var matched []*storedRow
	for _, r := range c.tables[t.name] {
		if remote.String(r.row, "user_id") != q.UserID {
			continue
		}
		if !matchesFilters(r.row, q.Filters) {
			continue
		}
		matched = append(matched, r)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if q.Order.Column != "" {
			cmp := compareValues(matched[i].row[q.Order.Column], matched[j].row[q.Order.Column])
			if cmp != 0 {
				if q.Order.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		if q.Order.Desc {
			return matched[i].seq > matched[j].seq
		}
		return matched[i].seq < matched[j].seq
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	rows := make([]remote.Row, 0, len(matched))
	for _, r := range matched {
		rows = append(rows, r.row.Clone())
	}
	return rows, nil
}

func (t *table) Insert(ctx context.Context, userID string, row remote.Row) error {
	c := t.client
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("Insert: %w", remote.ErrClosed)
	}
	c.stats.Writes++

	stored := row.Clone()
	id := remote.String(stored, "id")
	if id == "" {
		id = uuid.New().String()
		stored["id"] = id
	}
	if _, exists := c.tables[t.name][id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("Insert: duplicate key %q in %s", id, t.name)
	}
	stored["user_id"] = userID
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = c.now().UTC()
	}

	c.seq++
	c.tables[t.name][id] = &storedRow{row: stored, seq: c.seq}
	c.mu.Unlock()

	c.hub.Publish(remote.ChangeEvent{Table: t.name, Type: remote.ChangeInsert, UserID: userID})
	return nil
}

func (t *table) Update(ctx context.Context, userID, id string, fields remote.Row) error {
	c := t.client
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("Update: %w", remote.ErrClosed)
	}
	c.stats.Writes++

	r, ok := c.tables[t.name][id]
	if !ok || remote.String(r.row, "user_id") != userID {
		c.mu.Unlock()
		return nil
	}
	for k, v := range fields {
		if k == "id" || k == "user_id" {
			continue
		}
		r.row[k] = v
	}
	c.mu.Unlock()

	c.hub.Publish(remote.ChangeEvent{Table: t.name, Type: remote.ChangeUpdate, UserID: userID})
	return nil
}

func (t *table) Delete(ctx context.Context, userID, id string) error {
	c := t.client
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("Delete: %w", remote.ErrClosed)
	}
	c.stats.Writes++

	r, ok := c.tables[t.name][id]
	if !ok || remote.String(r.row, "user_id") != userID {
		c.mu.Unlock()
		return nil
	}
	delete(c.tables[t.name], id)
	c.mu.Unlock()

	c.hub.Publish(remote.ChangeEvent{Table: t.name, Type: remote.ChangeDelete, UserID: userID})
	return nil
}

func (t *table) DeleteAll(ctx context.Context, userID string) error {
	c := t.client
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("DeleteAll: %w", remote.ErrClosed)
	}
	c.stats.Writes++

	deleted := 0
	for id, r := range c.tables[t.name] {
		if remote.String(r.row, "user_id") == userID {
			delete(c.tables[t.name], id)
			deleted++
		}
	}
	c.mu.Unlock()

	if deleted > 0 {
		c.hub.Publish(remote.ChangeEvent{Table: t.name, Type: remote.ChangeDelete, UserID: userID})
	}
	return nil
}

func matchesFilters(row remote.Row, filters []remote.Filter) bool {
	for _, f := range filters {
		if b, ok := f.Value.(bool); ok {
			if remote.Bool(row, f.Column, false) != b {
				return false
			}
			continue
		}
		if remote.String(row, f.Column) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

// compareValues orders two column values of the same kind. Nulls sort first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case civil.Date:
		if bv, ok := b.(civil.Date); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			default:
				return 0
			}
		}
	case decimal.Decimal:
		if bv, ok := b.(decimal.Decimal); ok {
			return av.Cmp(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Ensure Client implements the backend interfaces.
var _ remote.Client = (*Client)(nil)
var _ remote.UserLookup = (*Client)(nil)
var _ remote.UserCreator = (*Client)(nil)
