// Package mysql is the MySQL backend. CRUD goes through database/sql; the
// realtime feed tails the binary log as a replication client and turns row
// events on the app tables into change events.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/pocketpilot/internal/remote"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config configures the backend. Replication is optional; without a host the
// backend is pull-only.
type Config struct {
	DSN         string
	Replication ReplicationConfig
}

// ReplicationConfig identifies this process to the server as a replica.
type ReplicationConfig struct {
	Host     string
	Port     uint16
	User     string
	Password string
	ServerID uint32
}

// Client implements remote.Client over database/sql.
type Client struct {
	db     *sql.DB
	hub    *remote.Hub
	log    zerolog.Logger
	feed   *binlogFeed
	closed bool
}

// New opens the database and, when configured, starts the binlog feed.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("New: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("New: ping: %w", err)
	}

	c := &Client{
		db:  db,
		hub: remote.NewHub(),
		log: log.With().Str("component", "mysql").Logger(),
	}

	if cfg.Replication.Host != "" {
		feed, err := startBinlogFeed(ctx, db, cfg.Replication, c.hub, c.log)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		c.feed = feed
	}
	return c, nil
}

// DB exposes the database handle for tools such as the migrator.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Table implements remote.Client.
func (c *Client) Table(name string) remote.Table {
	if !remote.KnownTable(name) {
		return remote.UnknownTable(name)
	}
	return &table{db: c.db, name: name}
}

// Subscribe implements remote.Client. Without a binlog feed there are no
// change events to deliver.
func (c *Client) Subscribe(ctx context.Context, table string, filter remote.Filter, fn func(remote.ChangeEvent)) (remote.Subscription, error) {
	if c.feed == nil {
		return nil, fmt.Errorf("Subscribe: %w", remote.ErrRealtimeUnsupported)
	}
	return c.hub.Subscribe(ctx, table, filter, fn)
}

// Close stops the feed and closes the database.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.feed != nil {
		c.feed.Close()
	}
	c.hub.Close()
	return c.db.Close()
}

// FindUserByEmail implements remote.UserLookup.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (remote.User, error) {
	var u remote.User
	err := c.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash FROM users WHERE LOWER(email) = LOWER(?)", email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.User{}, fmt.Errorf("FindUserByEmail: %w", remote.ErrNotFound)
	}
	if err != nil {
		return remote.User{}, fmt.Errorf("FindUserByEmail: %w", err)
	}
	return u, nil
}

// CreateUser implements remote.UserCreator.
func (c *Client) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	id := uuid.New().String()
	if _, err := c.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)", id, email, passwordHash,
	); err != nil {
		return "", fmt.Errorf("CreateUser: %w", err)
	}
	return id, nil
}

type table struct {
	db   *sql.DB
	name string
}

func (t *table) Select(ctx context.Context, q remote.Query) ([]remote.Row, error) {
	query, args, err := remote.MySQLDialect.Select(t.name, q)
	if err != nil {
		return nil, err
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Select: querying %s: %w", t.name, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("Select: %s: %w", t.name, err)
	}
	return out, nil
}

// scanRows reads every row into a remote.Row. Text values arrive as bytes and
// are kept as strings; the remote decoders parse them.
func scanRows(rows *sql.Rows) ([]remote.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("scanRows: columns: %w", err)
	}

	out := make([]remote.Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanRows: scan: %w", err)
		}

		row := make(remote.Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[strings.ToLower(c)] = string(b)
				continue
			}
			row[strings.ToLower(c)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanRows: %w", err)
	}
	return out, nil
}

func (t *table) Insert(ctx context.Context, userID string, row remote.Row) error {
	query, args, err := remote.MySQLDialect.Insert(t.name, userID, row)
	if err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("Insert: %s: %w", t.name, err)
	}
	return nil
}

func (t *table) Update(ctx context.Context, userID, id string, fields remote.Row) error {
	query, args, ok, err := remote.MySQLDialect.Update(t.name, userID, id, fields)
	if err != nil || !ok {
		return err
	}
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("Update: %s: %w", t.name, err)
	}
	return nil
}

func (t *table) Delete(ctx context.Context, userID, id string) error {
	query, args := remote.MySQLDialect.Delete(t.name, userID, id)
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("Delete: %s: %w", t.name, err)
	}
	return nil
}

func (t *table) DeleteAll(ctx context.Context, userID string) error {
	query, args := remote.MySQLDialect.DeleteAll(t.name, userID)
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("DeleteAll: %s: %w", t.name, err)
	}
	return nil
}

var (
	_ remote.Client      = (*Client)(nil)
	_ remote.UserLookup  = (*Client)(nil)
	_ remote.UserCreator = (*Client)(nil)
)
