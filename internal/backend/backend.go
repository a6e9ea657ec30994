// Package backend opens the remote.Client selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/dvloznov/pocketpilot/internal/config"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/dvloznov/pocketpilot/internal/remote/bigquery"
	"github.com/dvloznov/pocketpilot/internal/remote/memory"
	"github.com/dvloznov/pocketpilot/internal/remote/mysql"
	"github.com/dvloznov/pocketpilot/internal/remote/postgres"
	"github.com/rs/zerolog"
)

// Backend is a remote client that also manages users. Every backend
// implementation satisfies it.
type Backend interface {
	remote.Client
	remote.UserLookup
	remote.UserCreator
}

// Open connects to the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewClient(), nil
	case config.BackendPostgres:
		c, err := postgres.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		return c, nil
	case config.BackendMySQL:
		c, err := mysql.New(ctx, mysql.Config{
			DSN: cfg.MySQLDSN,
			Replication: mysql.ReplicationConfig{
				Host:     cfg.MySQLReplicationHost,
				Port:     cfg.MySQLReplicationPort,
				User:     cfg.MySQLReplicationUser,
				Password: cfg.MySQLReplicationPassword,
				ServerID: cfg.MySQLServerID,
			},
		}, log)
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		return c, nil
	case config.BackendBigQuery:
		c, err := bigquery.New(ctx, cfg.BQProject, cfg.BQDataset, log)
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("Open: unknown backend %q", cfg.Backend)
	}
}

var (
	_ Backend = (*memory.Client)(nil)
	_ Backend = (*postgres.Client)(nil)
	_ Backend = (*mysql.Client)(nil)
	_ Backend = (*bigquery.Client)(nil)
)
