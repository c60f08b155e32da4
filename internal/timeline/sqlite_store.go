package timeline

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/devrev/tableview/internal/model"
)

//go:embed sqlite_schema.sql
var sqliteSchemaSQL string

// SQLiteStore keeps instant records in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore creates or opens a SQLite timeline at path.
// The database runs in WAL mode so readers are not blocked by the writer.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ListInstants(ctx context.Context) ([]model.Instant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, action, state FROM instants ORDER BY timestamp, action`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instants: %w", err)
	}
	defer rows.Close()

	var records []model.Instant
	for rows.Next() {
		var ts, action, state string
		if err := rows.Scan(&ts, &action, &state); err != nil {
			return nil, fmt.Errorf("failed to scan instant: %w", err)
		}
		inst, err := instantFromColumns(ts, action, state)
		if err != nil {
			return nil, err
		}
		records = append(records, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instants: %w", err)
	}
	return latestStates(records), nil
}

func (s *SQLiteStore) ReadPayload(ctx context.Context, instant model.Instant) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM instants WHERE timestamp = ? AND action = ? AND state = ?`,
		instant.Timestamp, string(instant.Action), string(instant.State),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", instant, err)
	}
	return payload, nil
}

func (s *SQLiteStore) WritePayload(ctx context.Context, instant model.Instant, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instants (timestamp, action, state, payload, written_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (timestamp, action, state) DO UPDATE SET
			payload = excluded.payload,
			written_at = excluded.written_at`,
		instant.Timestamp, string(instant.Action), string(instant.State), payload, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", instant, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteState(ctx context.Context, instant model.Instant) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM instants WHERE timestamp = ? AND action = ? AND state = ?`,
		instant.Timestamp, string(instant.Action), string(instant.State),
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", instant, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteInstant(ctx context.Context, key model.InstantKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM instants WHERE timestamp = ? AND action = ?`,
		key.Timestamp, string(key.Action),
	)
	if err != nil {
		return fmt.Errorf("failed to delete instant %s %s: %w", key.Timestamp, key.Action, err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func instantFromColumns(ts, action, state string) (model.Instant, error) {
	a, err := model.ParseAction(action)
	if err != nil {
		return model.Instant{}, fmt.Errorf("corrupt instant row %s: %w", ts, err)
	}
	st, err := model.ParseState(state)
	if err != nil {
		return model.Instant{}, fmt.Errorf("corrupt instant row %s: %w", ts, err)
	}
	return model.NewInstant(st, a, ts), nil
}
