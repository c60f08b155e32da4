package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devrev/tableview/internal/model"
)

const postgresSchemaSQL = `
	CREATE TABLE IF NOT EXISTS table_instants (
		table_name TEXT        NOT NULL,
		timestamp  TEXT        NOT NULL,
		action     TEXT        NOT NULL,
		state      TEXT        NOT NULL,
		payload    BYTEA,
		written_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (table_name, timestamp, action, state)
	)
`

// PostgresStore keeps the instant records of one table in a shared PostgreSQL
// database
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists
func NewPostgresStore(ctx context.Context, connString, tableName string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool, tableName: tableName}, nil
}

func (s *PostgresStore) ListInstants(ctx context.Context) ([]model.Instant, error) {
	query := `
		SELECT timestamp, action, state
		FROM table_instants
		WHERE table_name = $1
		ORDER BY timestamp, action
	`

	rows, err := s.pool.Query(ctx, query, s.tableName)
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

func (s *PostgresStore) ReadPayload(ctx context.Context, instant model.Instant) ([]byte, error) {
	query := `
		SELECT payload
		FROM table_instants
		WHERE table_name = $1 AND timestamp = $2 AND action = $3 AND state = $4
	`

	var payload []byte
	err := s.pool.QueryRow(ctx, query, s.tableName, instant.Timestamp, string(instant.Action), string(instant.State)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInstantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", instant, err)
	}
	return payload, nil
}

func (s *PostgresStore) WritePayload(ctx context.Context, instant model.Instant, payload []byte) error {
	query := `
		INSERT INTO table_instants (table_name, timestamp, action, state, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (table_name, timestamp, action, state)
		DO UPDATE SET payload = EXCLUDED.payload, written_at = now()
	`

	_, err := s.pool.Exec(ctx, query, s.tableName, instant.Timestamp, string(instant.Action), string(instant.State), payload)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", instant, err)
	}
	return nil
}

func (s *PostgresStore) DeleteState(ctx context.Context, instant model.Instant) error {
	query := `
		DELETE FROM table_instants
		WHERE table_name = $1 AND timestamp = $2 AND action = $3 AND state = $4
	`

	if _, err := s.pool.Exec(ctx, query, s.tableName, instant.Timestamp, string(instant.Action), string(instant.State)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", instant, err)
	}
	return nil
}

func (s *PostgresStore) DeleteInstant(ctx context.Context, key model.InstantKey) error {
	query := `
		DELETE FROM table_instants
		WHERE table_name = $1 AND timestamp = $2 AND action = $3
	`

	if _, err := s.pool.Exec(ctx, query, s.tableName, key.Timestamp, string(key.Action)); err != nil {
		return fmt.Errorf("failed to delete instant %s %s: %w", key.Timestamp, key.Action, err)
	}
	return nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
