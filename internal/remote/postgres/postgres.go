// Package postgres is the PostgreSQL backend. Rows are read as JSON objects
// with row_to_json, and the realtime feed is a LISTEN on the channel fed by
// the row triggers installed by the migrations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Channel is the NOTIFY channel the change triggers publish on.
const Channel = "pocketpilot_changes"

const listenRetry = 2 * time.Second

// Client implements remote.Client over a pgx connection pool.
type Client struct {
	pool   *pgxpool.Pool
	hub    *remote.Hub
	log    zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New connects to dsn and starts listening for change notifications.
func New(ctx context.Context, dsn string, log zerolog.Logger) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("New: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("New: ping: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		pool:   pool,
		hub:    remote.NewHub(),
		log:    log.With().Str("component", "postgres").Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.listen(listenCtx)
	return c, nil
}

// Pool exposes the pool for tools such as the migrator.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Table implements remote.Client.
func (c *Client) Table(name string) remote.Table {
	if !remote.KnownTable(name) {
		return remote.UnknownTable(name)
	}
	return &table{pool: c.pool, name: name}
}

// Subscribe implements remote.Client.
func (c *Client) Subscribe(ctx context.Context, table string, filter remote.Filter, fn func(remote.ChangeEvent)) (remote.Subscription, error) {
	return c.hub.Subscribe(ctx, table, filter, fn)
}

// Close stops the listener and closes the pool.
func (c *Client) Close() error {
	c.cancel()
	<-c.done
	c.hub.Close()
	c.pool.Close()
	return nil
}

// listen holds one pooled connection in LISTEN mode and republishes every
// notification into the hub. Lost connections are re-acquired.
func (c *Client) listen(ctx context.Context) {
	defer close(c.done)

	for {
		err := c.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn().Err(err).Dur("retry_in", listenRetry).Msg("Change listener stopped, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetry):
		}
	}
}

func (c *Client) listenOnce(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("listenOnce: acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listenOnce: listen: %w", err)
	}
	c.log.Debug().Str("channel", Channel).Msg("Listening for changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("listenOnce: wait: %w", err)
		}
		ev, err := ParseNotification(n.Payload)
		if err != nil {
			c.log.Warn().Err(err).Str("payload", n.Payload).Msg("Ignoring malformed change notification")
			continue
		}
		c.hub.Publish(ev)
	}
}

// ParseNotification decodes a trigger payload such as
// {"table":"budgets","type":"insert","user_id":"..."}.
func ParseNotification(payload string) (remote.ChangeEvent, error) {
	var ev remote.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return remote.ChangeEvent{}, fmt.Errorf("ParseNotification: %w", err)
	}
	ev.Type = remote.ChangeType(strings.ToLower(string(ev.Type)))
	if !remote.KnownTable(ev.Table) {
		return remote.ChangeEvent{}, fmt.Errorf("ParseNotification: %w: %s", remote.ErrUnknownTable, ev.Table)
	}
	switch ev.Type {
	case remote.ChangeInsert, remote.ChangeUpdate, remote.ChangeDelete:
	default:
		return remote.ChangeEvent{}, fmt.Errorf("ParseNotification: unknown change type %q", ev.Type)
	}
	return ev, nil
}

// FindUserByEmail implements remote.UserLookup.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (remote.User, error) {
	var u remote.User
	err := c.pool.QueryRow(ctx,
		`SELECT id::text, email, password_hash FROM users WHERE lower(email) = lower($1)`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return remote.User{}, fmt.Errorf("FindUserByEmail: %w", remote.ErrNotFound)
	}
	if err != nil {
		return remote.User{}, fmt.Errorf("FindUserByEmail: %w", err)
	}
	return u, nil
}

// CreateUser inserts a user with an already hashed password and returns its id.
func (c *Client) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	var id string
	err := c.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id::text`, email, passwordHash,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("CreateUser: %w", err)
	}
	return id, nil
}

type table struct {
	pool *pgxpool.Pool
	name string
}

func (t *table) Select(ctx context.Context, q remote.Query) ([]remote.Row, error) {
	inner, args, err := remote.PostgresDialect.Select(t.name, q)
	if err != nil {
		return nil, err
	}

	rows, err := t.pool.Query(ctx, "SELECT row_to_json(t)::text FROM ("+inner+") t", args...)
	if err != nil {
		return nil, fmt.Errorf("Select: querying %s: %w", t.name, err)
	}
	defer rows.Close()

	out := make([]remote.Row, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("Select: scanning %s: %w", t.name, err)
		}
		row, err := remote.DecodeJSONRow([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("Select: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Select: iterating %s: %w", t.name, err)
	}
	return out, nil
}

func (t *table) Insert(ctx context.Context, userID string, row remote.Row) error {
	sql, args, err := remote.PostgresDialect.Insert(t.name, userID, row)
	if err != nil {
		return err
	}
	if _, err := t.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("Insert: %s: %w", t.name, err)
	}
	return nil
}

func (t *table) Update(ctx context.Context, userID, id string, fields remote.Row) error {
	sql, args, ok, err := remote.PostgresDialect.Update(t.name, userID, id, fields)
	if err != nil || !ok {
		return err
	}
	if _, err := t.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("Update: %s: %w", t.name, err)
	}
	return nil
}

func (t *table) Delete(ctx context.Context, userID, id string) error {
	sql, args := remote.PostgresDialect.Delete(t.name, userID, id)
	if _, err := t.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("Delete: %s: %w", t.name, err)
	}
	return nil
}

func (t *table) DeleteAll(ctx context.Context, userID string) error {
	sql, args := remote.PostgresDialect.DeleteAll(t.name, userID)
	if _, err := t.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("DeleteAll: %s: %w", t.name, err)
	}
	return nil
}

var (
	_ remote.Client      = (*Client)(nil)
	_ remote.UserLookup  = (*Client)(nil)
	_ remote.UserCreator = (*Client)(nil)
)
