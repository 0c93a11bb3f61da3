package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/graphrest/internal/config"
	"github.com/rohankatakam/graphrest/internal/errors"
)

// Common errors
var (
	ErrNotFound = stderrors.New("not found")
)

// Descriptor is everything needed to rebuild a TigerGraph client for a
// known connection id. Passwords are never persisted.
type Descriptor struct {
	ID        string    `db:"id" json:"id"`
	Host      string    `db:"host" json:"host"`
	Graph     string    `db:"graph" json:"graph"`
	Username  string    `db:"username" json:"username"`
	Secret    string    `db:"secret" json:"secret"`
	Token     string    `db:"token" json:"token"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Validate checks the fields every backend relies on.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor id is required")
	}
	if d.Host == "" || d.Graph == "" {
		return fmt.Errorf("descriptor %s: host and graph are required", d.ID)
	}
	return nil
}

// Store persists connection descriptors
type Store interface {
	Save(ctx context.Context, d *Descriptor) error
	// Get returns ErrNotFound when id is unknown
	Get(ctx context.Context, id string) (*Descriptor, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Descriptor, error)

	// Close connection
	Close() error
}

// Open builds the store selected by cfg.Type.
func Open(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN, logger)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.TTL, logger)
	case "bolt":
		return NewBoltStore(cfg.BoltPath, logger)
	default:
		return nil, errors.ConfigErrorf("unknown storage type %q", cfg.Type)
	}
}
