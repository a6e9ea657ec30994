// Package bigquery is the BigQuery backend. Every operation is a
// parameterised query job; BigQuery has no change feed, so subscriptions are
// refused and the stores run pull-only.
package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
)

// Dialect renders BigQuery standard SQL: named @pN parameters, backtick
// identifiers and NULL literals for nil values.
var Dialect = remote.Dialect{
	Placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
	Quote:       func(name string) string { return "`" + name + "`" },
	Value:       Value,
	InlineNull:  true,
}

// Value converts a row value into a typed query parameter value.
func Value(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, float64, time.Time, civil.Date:
		return val, nil
	case int:
		return int64(val), nil
	case decimal.Decimal:
		return val.Rat(), nil
	case *civil.Date:
		if val == nil {
			return nil, nil
		}
		return *val, nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return *val, nil
	case []byte:
		return string(val), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("Value: marshal %T: %w", v, err)
		}
		if string(raw) == "null" {
			return nil, nil
		}
		return string(raw), nil
	}
}

// Params names positional arguments p1..pN to match Dialect placeholders.
func Params(args []any) []bigquery.QueryParameter {
	params := make([]bigquery.QueryParameter, len(args))
	for i, a := range args {
		params[i] = bigquery.QueryParameter{Name: "p" + strconv.Itoa(i+1), Value: a}
	}
	return params
}

// Client implements remote.Client over one BigQuery dataset.
type Client struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	log       zerolog.Logger
}

// New creates a BigQuery client for projectID and datasetID.
func New(ctx context.Context, projectID, datasetID string, log zerolog.Logger) (*Client, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: bigquery client: %w", err)
	}
	return &Client{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		log:       log.With().Str("component", "bigquery").Logger(),
	}, nil
}

// BigQuery exposes the underlying client for tools such as the migrator.
func (c *Client) BigQuery() *bigquery.Client {
	return c.client
}

// QualifiedName returns project.dataset.table.
func (c *Client) QualifiedName(table string) string {
	return c.projectID + "." + c.datasetID + "." + table
}

// Table implements remote.Client.
func (c *Client) Table(name string) remote.Table {
	if !remote.KnownTable(name) {
		return remote.UnknownTable(name)
	}
	return &table{c: c, name: name, qualified: c.QualifiedName(name)}
}

// Subscribe implements remote.Client. BigQuery has no change feed.
func (c *Client) Subscribe(ctx context.Context, table string, filter remote.Filter, fn func(remote.ChangeEvent)) (remote.Subscription, error) {
	return nil, fmt.Errorf("Subscribe: %w", remote.ErrRealtimeUnsupported)
}

// Close implements remote.Client.
func (c *Client) Close() error {
	return c.client.Close()
}

// exec runs a DML statement and waits for the job.
func (c *Client) exec(ctx context.Context, sql string, args []any) error {
	q := c.client.Query(sql)
	q.Parameters = Params(args)

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// FindUserByEmail implements remote.UserLookup.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (remote.User, error) {
	q := c.client.Query("SELECT id, email, password_hash FROM `" + c.QualifiedName("users") + "` WHERE LOWER(email) = LOWER(@email) LIMIT 1")
	q.Parameters = []bigquery.QueryParameter{{Name: "email", Value: email}}

	it, err := q.Read(ctx)
	if err != nil {
		return remote.User{}, fmt.Errorf("FindUserByEmail: reading query: %w", err)
	}

	var row struct {
		ID           string `bigquery:"id"`
		Email        string `bigquery:"email"`
		PasswordHash string `bigquery:"password_hash"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return remote.User{}, fmt.Errorf("FindUserByEmail: %w", remote.ErrNotFound)
	}
	if err != nil {
		return remote.User{}, fmt.Errorf("FindUserByEmail: iterating: %w", err)
	}
	return remote.User{ID: row.ID, Email: row.Email, PasswordHash: row.PasswordHash}, nil
}

// CreateUser implements remote.UserCreator.
func (c *Client) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	id := uuid.New().String()
	err := c.exec(ctx,
		"INSERT INTO `"+c.QualifiedName("users")+"` (id, email, password_hash, created_at) VALUES (@p1, @p2, @p3, CURRENT_TIMESTAMP())",
		[]any{id, email, passwordHash})
	if err != nil {
		return "", fmt.Errorf("CreateUser: %w", err)
	}
	return id, nil
}

type table struct {
	c         *Client
	name      string
	qualified string
}

func (t *table) Select(ctx context.Context, q remote.Query) ([]remote.Row, error) {
	sql, args, err := Dialect.Select(t.qualified, q)
	if err != nil {
		return nil, err
	}

	query := t.c.client.Query(sql)
	query.Parameters = Params(args)
	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("Select: reading %s: %w", t.name, err)
	}

	out := make([]remote.Row, 0)
	for {
		var values map[string]bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Select: iterating %s: %w", t.name, err)
		}
		out = append(out, toRow(values))
	}
	return out, nil
}

// toRow copies a result row. NUMERIC values stay *big.Rat, which the remote
// decoders accept.
func toRow(values map[string]bigquery.Value) remote.Row {
	row := make(remote.Row, len(values))
	for k, v := range values {
		row[k] = v
	}
	return row
}

func (t *table) Insert(ctx context.Context, userID string, row remote.Row) error {
	row = row.Clone()
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Now().UTC()
	}
	sql, args, err := Dialect.Insert(t.qualified, userID, row)
	if err != nil {
		return err
	}
	if err := t.c.exec(ctx, sql, args); err != nil {
		return fmt.Errorf("Insert: %s: %w", t.name, err)
	}
	return nil
}

func (t *table) Update(ctx context.Context, userID, id string, fields remote.Row) error {
	sql, args, ok, err := Dialect.Update(t.qualified, userID, id, fields)
	if err != nil || !ok {
		return err
	}
	if err := t.c.exec(ctx, sql, args); err != nil {
		return fmt.Errorf("Update: %s: %w", t.name, err)
	}
	return nil
}

func (t *table) Delete(ctx context.Context, userID, id string) error {
	sql, args := Dialect.Delete(t.qualified, userID, id)
	if err := t.c.exec(ctx, sql, args); err != nil {
		return fmt.Errorf("Delete: %s: %w", t.name, err)
	}
	return nil
}

func (t *table) DeleteAll(ctx context.Context, userID string) error {
	sql, args := Dialect.DeleteAll(t.qualified, userID)
	if err := t.c.exec(ctx, sql, args); err != nil {
		return fmt.Errorf("DeleteAll: %s: %w", t.name, err)
	}
	return nil
}

var (
	_ remote.Client      = (*Client)(nil)
	_ remote.UserLookup  = (*Client)(nil)
	_ remote.UserCreator = (*Client)(nil)
)
