package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/iterator"
)

type postgresDriver struct {
	pool *pgxpool.Pool
}

func newPostgresDriver(ctx context.Context, dsn string) (*postgresDriver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("newPostgresDriver: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("newPostgresDriver: ping: %w", err)
	}
	return &postgresDriver{pool: pool}, nil
}

func (d *postgresDriver) EnsureTable(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum   TEXT,
			applied_by TEXT
		)`)
	return err
}

func (d *postgresDriver) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy); err != nil {
			return nil, err
		}
		applied = append(applied, am)
	}
	return applied, rows.Err()
}

// Exec sends the whole file in one round trip; without arguments pgx uses the
// simple protocol, which accepts several statements.
func (d *postgresDriver) Exec(ctx context.Context, m Migration) error {
	_, err := d.pool.Exec(ctx, m.SQL)
	return err
}

func (d *postgresDriver) Record(ctx context.Context, m Migration, appliedBy string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO schema_migrations (version, name, checksum, applied_by) VALUES ($1, $2, $3, $4)`,
		m.Version, m.Name, m.Checksum, appliedBy)
	return err
}

func (d *postgresDriver) Close() error {
	d.pool.Close()
	return nil
}

type mysqlDriver struct {
	db *sql.DB
}

func newMySQLDriver(ctx context.Context, dsn string) (*mysqlDriver, error) {
	dsn, err := migrationDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("newMySQLDriver: %w", err)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("newMySQLDriver: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("newMySQLDriver: ping: %w", err)
	}
	return &mysqlDriver{db: db}, nil
}

// migrationDSN enables multi-statement execution and time parsing, which
// migration files and applied_at scanning need.
func migrationDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("migrationDSN: %w", err)
	}
	cfg.MultiStatements = true
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func (d *mysqlDriver) EnsureTable(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INT NOT NULL PRIMARY KEY,
			name       VARCHAR(255) NOT NULL,
			applied_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			checksum   VARCHAR(64),
			applied_by VARCHAR(255)
		)`)
	return err
}

func (d *mysqlDriver) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy); err != nil {
			return nil, err
		}
		applied = append(applied, am)
	}
	return applied, rows.Err()
}

func (d *mysqlDriver) Exec(ctx context.Context, m Migration) error {
	_, err := d.db.ExecContext(ctx, m.SQL)
	return err
}

func (d *mysqlDriver) Record(ctx context.Context, m Migration, appliedBy string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, checksum, applied_by) VALUES (?, ?, ?, ?)`,
		m.Version, m.Name, m.Checksum, appliedBy)
	return err
}

func (d *mysqlDriver) Close() error {
	return d.db.Close()
}

type bigqueryDriver struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

func newBigQueryDriver(ctx context.Context, projectID, datasetID string) (*bigqueryDriver, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("newBigQueryDriver: %w", err)
	}
	return &bigqueryDriver{client: client, projectID: projectID, datasetID: datasetID}, nil
}

func (d *bigqueryDriver) table() string {
	return "`" + d.projectID + "." + d.datasetID + ".schema_migrations`"
}

func (d *bigqueryDriver) run(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func (d *bigqueryDriver) EnsureTable(ctx context.Context) error {
	return d.run(ctx, d.client.Query(`
		CREATE TABLE IF NOT EXISTS `+d.table()+` (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)`))
}

func (d *bigqueryDriver) Applied(ctx context.Context) ([]AppliedMigration, error) {
	it, err := d.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + d.table() + `
		ORDER BY version ASC`).Read(ctx)
	if err != nil {
		// The table is created just before, but a fresh dataset can lag.
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (d *bigqueryDriver) Exec(ctx context.Context, m Migration) error {
	return d.run(ctx, d.client.Query(m.SQL))
}

func (d *bigqueryDriver) Record(ctx context.Context, m Migration, appliedBy string) error {
	q := d.client.Query(`
		INSERT INTO ` + d.table() + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	return d.run(ctx, q)
}

func (d *bigqueryDriver) Close() error {
	return d.client.Close()
}

var (
	_ driver = (*postgresDriver)(nil)
	_ driver = (*mysqlDriver)(nil)
	_ driver = (*bigqueryDriver)(nil)
)
