package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/haakenstad/ledgerlight/internal/config"
)

const DB_NAME = "ledgerlight"

const LOCAL_CONNECTION_STRING = "user=postgres password=postgres dbname=ledgerlight sslmode=disable"

const MAIN_SCHEMA = "ledgerlight"
const TESTING_SCHEMA = "ledgerlight_test"

func GetSchemaName(isTesting bool) string {
	if isTesting {
		return TESTING_SCHEMA
	}
	return MAIN_SCHEMA
}

func NewPostgresDatabase(connectionString string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

func NewPostgresDatabaseFromConfig(conf config.Config) (*sqlx.DB, error) {
	connectionString := fmt.Sprintf(
		"user=%s password=%s dbname=%s sslmode=disable",
		conf.DBUsername(), conf.DBPassword(), DB_NAME,
	)
	return NewPostgresDatabase(connectionString)
}

type postgresStore struct {
	db     *sqlx.DB
	schema string
}

// NewPostgres returns a Store over the kv_entries table in the given
// schema. The schema must already be migrated, see NewMigrator.
func NewPostgres(db *sqlx.DB, schema string) Store {
	return &postgresStore{db: db, schema: schema}
}

func (s *postgresStore) table() string {
	return fmt.Sprintf("%s.kv_entries", pq.QuoteIdentifier(s.schema))
}

func (s *postgresStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.table())
	err := s.db.GetContext(ctx, &value, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *postgresStore) SetItem(ctx context.Context, key string, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		s.table(),
	)
	_, err := s.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *postgresStore) DeleteItem(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.table())
	_, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
