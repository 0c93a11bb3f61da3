package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements storage using PostgreSQL, for deployments where
// several service replicas share connection ids.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL storage
func NewPostgresStore(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{
		db:     db,
		logger: logger,
	}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Info("postgres descriptor store opened")
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS graphrest_connections (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		graph TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		secret TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO graphrest_connections (id, host, graph, username, secret, token, created_at)
		VALUES (:id, :host, :graph, :username, :secret, :token, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			host = EXCLUDED.host,
			graph = EXCLUDED.graph,
			username = EXCLUDED.username,
			secret = EXCLUDED.secret,
			token = EXCLUDED.token
	`
	if _, err := s.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Descriptor, error) {
	var d Descriptor
	err := s.db.GetContext(ctx, &d, `SELECT * FROM graphrest_connections WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM graphrest_connections WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Descriptor, error) {
	var out []*Descriptor
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM graphrest_connections ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
