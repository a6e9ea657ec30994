// Package config reads process configuration from the environment. A .env
// file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Backends supported by POCKETPILOT_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendBigQuery = "bigquery"
)

// Config holds every setting the binaries read.
type Config struct {
	Backend string

	DatabaseURL string

	MySQLDSN                 string
	MySQLReplicationHost     string
	MySQLReplicationPort     uint16
	MySQLReplicationUser     string
	MySQLReplicationPassword string
	MySQLServerID            uint32

	BQProject string
	BQDataset string

	AMQPURL   string
	AMQPQueue string

	GCSBucket string
	ExportDir string

	NotionToken      string
	NotionDatabaseID string

	GenAIModel string

	HTTPPort string
	LogLevel string

	SessionTTL          time.Duration
	LowBalanceThreshold decimal.Decimal
	NotifySchedule      string
}

// Load reads .env (if any) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("Load: reading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a variable lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Backend:                  strings.ToLower(get("POCKETPILOT_BACKEND", BackendMemory)),
		DatabaseURL:              get("DATABASE_URL", ""),
		MySQLDSN:                 get("MYSQL_DSN", ""),
		MySQLReplicationHost:     get("MYSQL_REPLICATION_HOST", ""),
		MySQLReplicationUser:     get("MYSQL_REPLICATION_USER", ""),
		MySQLReplicationPassword: get("MYSQL_REPLICATION_PASSWORD", ""),
		BQProject:                get("BQ_PROJECT", ""),
		BQDataset:                get("BQ_DATASET", "pocketpilot"),
		AMQPURL:                  get("AMQP_URL", ""),
		AMQPQueue:                get("AMQP_QUEUE", "notifications_queue"),
		GCSBucket:                get("GCS_BUCKET", ""),
		ExportDir:                get("EXPORT_DIR", "exports"),
		NotionToken:              get("NOTION_TOKEN", ""),
		NotionDatabaseID:         get("NOTION_DATABASE_ID", ""),
		GenAIModel:               get("GENAI_MODEL", "gemini-2.5-flash"),
		HTTPPort:                 get("HTTP_PORT", "8080"),
		LogLevel:                 get("LOG_LEVEL", "info"),
		NotifySchedule:           get("NOTIFY_SCHEDULE", "@daily"),
	}

	port, err := strconv.ParseUint(get("MYSQL_REPLICATION_PORT", "3306"), 10, 16)
	if err != nil {
		return Config{}, fmt.Errorf("FromEnv: MYSQL_REPLICATION_PORT: %w", err)
	}
	cfg.MySQLReplicationPort = uint16(port)

	serverID, err := strconv.ParseUint(get("MYSQL_SERVER_ID", "101"), 10, 32)
	if err != nil {
		return Config{}, fmt.Errorf("FromEnv: MYSQL_SERVER_ID: %w", err)
	}
	cfg.MySQLServerID = uint32(serverID)

	cfg.SessionTTL, err = time.ParseDuration(get("SESSION_TTL", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("FromEnv: SESSION_TTL: %w", err)
	}

	cfg.LowBalanceThreshold, err = decimal.NewFromString(get("LOW_BALANCE_THRESHOLD", "100"))
	if err != nil {
		return Config{}, fmt.Errorf("FromEnv: LOW_BALANCE_THRESHOLD: %w", err)
	}

	return cfg, nil
}

// Validate reports the settings the selected backend is missing.
func (c Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		require("DATABASE_URL", c.DatabaseURL)
	case BackendMySQL:
		require("MYSQL_DSN", c.MySQLDSN)
		if c.MySQLReplicationHost != "" {
			require("MYSQL_REPLICATION_USER", c.MySQLReplicationUser)
		}
	case BackendBigQuery:
		require("BQ_PROJECT", c.BQProject)
	default:
		return fmt.Errorf("Validate: unknown backend %q (want memory, postgres, mysql or bigquery)", c.Backend)
	}

	if c.NotionToken != "" {
		require("NOTION_DATABASE_ID", c.NotionDatabaseID)
	}
	if c.SessionTTL <= 0 {
		missing = append(missing, "SESSION_TTL (must be positive)")
	}

	if len(missing) > 0 {
		return fmt.Errorf("Validate: missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
