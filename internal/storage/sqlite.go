package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements storage using SQLite (for single-host deployments)
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite storage
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// WAL mode lets both services share the file
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA busy_timeout = 5000")

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.WithField("path", path).Info("sqlite descriptor store opened")
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		graph TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		secret TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO connections (id, host, graph, username, secret, token, created_at)
		VALUES (:id, :host, :graph, :username, :secret, :token, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			host = excluded.host,
			graph = excluded.graph,
			username = excluded.username,
			secret = excluded.secret,
			token = excluded.token
	`
	if _, err := s.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Descriptor, error) {
	var d Descriptor
	err := s.db.GetContext(ctx, &d, `SELECT * FROM connections WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return &d, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Descriptor, error) {
	var out []*Descriptor
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM connections ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
