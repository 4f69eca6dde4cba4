package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// boltOpenTimeout bounds the wait for the file lock held by another process.
const boltOpenTimeout = 5 * time.Second

var errBucketMissing = errors.New("bucket missing")

// BoltStore keeps values in a bbolt database, one bucket per namespace.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBolt opens (or creates) the database at path and ensures the namespace bucket exists.
func OpenBolt(path, namespace string) (*BoltStore, error) {
	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	bucket := []byte(namespace)

	err = db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(bucket)

		return createErr
	})
	if err != nil {
		closeErr := db.Close()

		return nil, errors.Join(fmt.Errorf("create bucket %s: %w", namespace, err), closeErr)
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

// Get implements Store.
func (b *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte

	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return errBucketMissing
		}

		data := bkt.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		out = make([]byte, len(data))
		copy(out, data)

		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("bolt get %s: %w", key, err)
	}

	return out, nil
}

// Put implements Store.
func (b *BoltStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	if value == nil {
		value = []byte{}
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return errBucketMissing
		}

		return bkt.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("bolt put %s: %w", key, err)
	}

	return nil
}

// Delete implements Store.
func (b *BoltStore) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return errBucketMissing
		}

		return bkt.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("bolt delete %s: %w", key, err)
	}

	return nil
}

// Keys implements Store. bbolt iterates keys in byte order.
func (b *BoltStore) Keys(_ context.Context) ([]string, error) {
	var keys []string

	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return errBucketMissing
		}

		return bkt.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt keys: %w", err)
	}

	return keys, nil
}

// Close implements Store.
func (b *BoltStore) Close() error {
	err := b.db.Close()
	if err != nil {
		return fmt.Errorf("close bolt: %w", err)
	}

	return nil
}
