// Command migrate applies the numbered SQL files under migrations/<backend>
// and records them in a schema_migrations table.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/pocketpilot/internal/config"
	"github.com/dvloznov/pocketpilot/internal/logger"
	"github.com/rs/zerolog"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// driver is one backend's view of the schema_migrations table.
type driver interface {
	EnsureTable(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	Exec(ctx context.Context, m Migration) error
	Record(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	backend := flag.String("backend", cfg.Backend, "Backend to migrate (postgres, mysql, bigquery)")
	dir := flag.String("migrations", "", "Path to migrations directory (default migrations/<backend>)")
	appliedBy := flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	databaseURL := flag.String("database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	mysqlDSN := flag.String("mysql-dsn", cfg.MySQLDSN, "MySQL DSN")
	projectID := flag.String("project", cfg.BQProject, "GCP project ID")
	datasetID := flag.String("dataset", cfg.BQDataset, "BigQuery dataset ID")
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)
	ctx := logger.WithContext(context.Background(), log)

	if *dir == "" {
		*dir = filepath.Join("migrations", *backend)
	}

	var d driver
	replacements := map[string]string{}
	switch *backend {
	case config.BackendPostgres:
		if *databaseURL == "" {
			log.Fatal().Msg("-database-url (or DATABASE_URL) is required")
		}
		d, err = newPostgresDriver(ctx, *databaseURL)
	case config.BackendMySQL:
		if *mysqlDSN == "" {
			log.Fatal().Msg("-mysql-dsn (or MYSQL_DSN) is required")
		}
		d, err = newMySQLDriver(ctx, *mysqlDSN)
	case config.BackendBigQuery:
		if *projectID == "" {
			log.Fatal().Msg("-project (or BQ_PROJECT) is required")
		}
		replacements["{{PROJECT_ID}}"] = *projectID
		replacements["{{DATASET_ID}}"] = *datasetID
		d, err = newBigQueryDriver(ctx, *projectID, *datasetID)
	default:
		log.Fatal().Str("backend", *backend).Msg("Backend has no migrations (want postgres, mysql or bigquery)")
	}
	if err != nil {
		log.Fatal().Err(err).Str("backend", *backend).Msg("Failed to connect")
	}
	defer d.Close()

	log.Info().Str("backend", *backend).Str("dir", *dir).Msg("Connected")

	migrations, err := readMigrations(resolveDir(*dir), replacements, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	applied, err := apply(ctx, d, migrations, *appliedBy, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", applied).Msg("Successfully applied migrations")
	}
}

// apply runs every migration not yet recorded and returns how many ran.
func apply(ctx context.Context, d driver, migrations []Migration, appliedBy string, log zerolog.Logger) (int, error) {
	if err := d.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("apply: ensuring schema_migrations: %w", err)
	}

	done, err := d.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("apply: reading applied migrations: %w", err)
	}
	log.Info().Int("count", len(done)).Msg("Found already applied migrations")

	appliedVersions := make(map[int]AppliedMigration, len(done))
	for _, am := range done {
		appliedVersions[am.Version] = am
	}

	count := 0
	for _, m := range migrations {
		label := fmt.Sprintf("%04d_%s", m.Version, m.Name)
		if am, ok := appliedVersions[m.Version]; ok {
			if am.Checksum != "" && am.Checksum != m.Checksum {
				log.Warn().Str("migration", label).Msg("File changed since it was applied; not re-running")
			}
			log.Info().Msgf("  [SKIP] %s (already applied)", label)
			continue
		}

		log.Info().Msgf("  [RUN]  %s", label)
		if err := d.Exec(ctx, m); err != nil {
			return count, fmt.Errorf("apply: executing %s: %w", label, err)
		}
		if err := d.Record(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("apply: recording %s: %w", label, err)
		}
		log.Info().Msgf("  [OK]   %s", label)
		count++
	}
	return count, nil
}

// resolveDir also accepts being run from cmd/migrate.
func resolveDir(dir string) string {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if alt := filepath.Join("..", "..", dir); dirExists(alt) {
			return alt
		}
	}
	return dir
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// parseMigrationName splits 0001_name.sql into version and name.
func parseMigrationName(filename string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// readMigrations reads all migration files from dir, sorted by version.
// Placeholders are substituted after the checksum is taken, so the same file
// applied to different datasets keeps one checksum.
func readMigrations(dir string, replacements map[string]string, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("readMigrations: reading %s: %w", dir, err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		version, name, ok := parseMigrationName(file.Name())
		if !ok {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("readMigrations: reading file %s: %w", file.Name(), err)
		}

		sql := string(content)
		for placeholder, value := range replacements {
			sql = strings.ReplaceAll(sql, placeholder, value)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("readMigrations: duplicate version %04d (%s, %s)",
				migrations[i].Version, migrations[i-1].Filename, migrations[i].Filename)
		}
	}
	return migrations, nil
}
