package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dvloznov/pocketpilot/internal/remote"
	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/rs/zerolog"
)

// binlogFeed streams row events from the current binlog position and
// publishes one change event per affected user and table.
type binlogFeed struct {
	syncer *replication.BinlogSyncer
	cancel context.CancelFunc
	done   chan struct{}
}

func startBinlogFeed(ctx context.Context, db *sql.DB, cfg ReplicationConfig, hub *remote.Hub, log zerolog.Logger) (*binlogFeed, error) {
	var schema string
	if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&schema); err != nil {
		return nil, fmt.Errorf("startBinlogFeed: current database: %w", err)
	}

	userCols, err := userColumns(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("startBinlogFeed: %w", err)
	}

	var (
		file     string
		position uint32
	)
	if err := db.QueryRowContext(ctx, "SHOW MASTER STATUS").Scan(&file, &position, new(string), new(string), new(string)); err != nil {
		return nil, fmt.Errorf("startBinlogFeed: master status: %w", err)
	}

	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: cfg.ServerID,
		Flavor:   "mysql",
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
	})

	pos := gomysql.Position{Name: file, Pos: position}
	streamer, err := syncer.StartSync(pos)
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("startBinlogFeed: start sync: %w", err)
	}
	log.Info().Str("file", pos.Name).Uint32("pos", pos.Pos).Msg("Binlog stream started")

	feedCtx, cancel := context.WithCancel(context.Background())
	f := &binlogFeed{syncer: syncer, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(f.done)
		for {
			ev, err := streamer.GetEvent(feedCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Error().Err(err).Msg("Binlog stream failed, realtime updates stopped")
				return
			}

			switch e := ev.Event.(type) {
			case *replication.RotateEvent:
				log.Debug().Str("file", string(e.NextLogName)).Uint64("pos", e.Position).Msg("Binlog rotated")
			case *replication.RowsEvent:
				if string(e.Table.Schema) != schema {
					continue
				}
				table := string(e.Table.Table)
				col, ok := userCols[table]
				if !ok {
					continue
				}
				for _, ce := range changeEvents(ev.Header.EventType, table, e.Rows, col) {
					hub.Publish(ce)
				}
			}
		}
	}()

	return f, nil
}

// Close stops the stream and waits for the reader to exit.
func (f *binlogFeed) Close() {
	f.cancel()
	f.syncer.Close()
	<-f.done
}

// userColumns returns the zero-based position of user_id in each app table.
func userColumns(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT TABLE_NAME, ORDINAL_POSITION FROM information_schema.COLUMNS
		 WHERE TABLE_SCHEMA = DATABASE() AND COLUMN_NAME = 'user_id'`)
	if err != nil {
		return nil, fmt.Errorf("userColumns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			table string
			pos   int
		)
		if err := rows.Scan(&table, &pos); err != nil {
			return nil, fmt.Errorf("userColumns: scan: %w", err)
		}
		if remote.KnownTable(table) {
			out[table] = pos - 1
		}
	}
	return out, rows.Err()
}

// changeEvents converts one rows event into change events, one per distinct
// user. Update events carry before and after images in pairs; the after image
// decides the owner.
func changeEvents(eventType replication.EventType, table string, rows [][]interface{}, userCol int) []remote.ChangeEvent {
	var (
		typ  remote.ChangeType
		step = 1
		off  = 0
	)
	switch eventType {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		typ = remote.ChangeInsert
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		typ = remote.ChangeUpdate
		step, off = 2, 1
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		typ = remote.ChangeDelete
	default:
		return nil
	}

	seen := make(map[string]bool)
	var out []remote.ChangeEvent
	for i := off; i < len(rows); i += step {
		row := rows[i]
		if userCol < 0 || userCol >= len(row) {
			continue
		}
		userID := remote.String(remote.Row{"v": row[userCol]}, "v")
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		out = append(out, remote.ChangeEvent{Table: table, Type: typ, UserID: userID})
	}
	return out
}
