package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// BoltBackend stores documents in a single bbolt bucket. Every write is its
// own transaction.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (or creates) the bbolt file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("persist: create directory for %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("persist: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persist: create bucket: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Read(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(documentsBucket).Get([]byte(key))
		if data != nil {
			// bolt memory is only valid inside the transaction
			out = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("persist: read %s: %w", key, err)
	}
	return out, out != nil, nil
}

func (b *BoltBackend) Write(_ context.Context, key string, data []byte) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("persist: write %s: %w", key, err)
	}
	return nil
}

func (b *BoltBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Read(ctx, key)
	return ok, err
}

func (b *BoltBackend) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Delete([]byte(key))
	})
}

func (b *BoltBackend) List(context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (b *BoltBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
