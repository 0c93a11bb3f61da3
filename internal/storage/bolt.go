package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const boltBucket = "connections"

// BoltStore keeps descriptors in a single bbolt file.
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Logger
}

// NewBoltStore opens (or creates) the bolt file at path
func NewBoltStore(path string, logger *logrus.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	logger.WithField("path", path).Info("bolt descriptor store opened")
	return &BoltStore{db: db, logger: logger}, nil
}

func (s *BoltStore) Save(ctx context.Context, d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(d.ID), data)
	})
}

func (s *BoltStore) Get(ctx context.Context, id string) (*Descriptor, error) {
	var d *Descriptor
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(boltBucket)).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		d = &Descriptor{}
		return json.Unmarshal(raw, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(id))
	})
}

func (s *BoltStore) List(ctx context.Context) ([]*Descriptor, error) {
	var out []*Descriptor
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).ForEach(func(k, v []byte) error {
			var d Descriptor
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decode descriptor %s: %w", k, err)
			}
			out = append(out, &d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
