package settings

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the settings table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS sealyze_settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Row keys in the settings table.
const (
	keySentenceDelay = "sentence_delay_ms"
	keyCameraFacing  = "camera_facing"
)

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL key/value table.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an existing connection or pool. The
// caller is responsible for calling [PostgresStore.Migrate].
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn, verifies the connection and runs
// [PostgresStore.Migrate]. Close releases the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("settings: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("settings: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("settings: ping: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("settings: migrate: %w", err)
	}
	return nil
}

// Load reads all rows and applies them over [Defaults]. Unknown keys are
// ignored so older binaries tolerate newer rows.
func (s *PostgresStore) Load(ctx context.Context) (Settings, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM sealyze_settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}
	defer rows.Close()

	var doc Document
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, fmt.Errorf("settings: load scan: %w", err)
		}
		switch key {
		case keySentenceDelay:
			ms, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Settings{}, fmt.Errorf("settings: %s: %w", key, err)
			}
			doc.SentenceDelayMS = ms
		case keyCameraFacing:
			doc.CameraFacing = value
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}
	return doc.Settings(Defaults())
}

// Save validates s and upserts both rows in one statement.
func (s *PostgresStore) Save(ctx context.Context, set Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	const query = `
		INSERT INTO sealyze_settings (key, value)
		VALUES ($1, $2), ($3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()`
	_, err := s.db.Exec(ctx, query,
		keySentenceDelay, strconv.FormatInt(set.SentenceDelay.Milliseconds(), 10),
		keyCameraFacing, string(set.CameraFacing),
	)
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Close releases the pool opened by [OpenPostgres]. It is a no-op for stores
// created with [NewPostgresStore].
func (s *PostgresStore) Close() {
	if s.close != nil {
		s.close()
	}
}
