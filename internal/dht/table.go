package dht

import (
	"fmt"

	"github.com/cockroachdb/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/dreamware/stract/internal/searcherrors"
)

var bucketName = []byte("dht")

// ErrKeyNotFound reports that Get found no entry for a key.
var ErrKeyNotFound = searcherrors.Mark(errors.New("dht: key not found"), searcherrors.ErrDhtError)

// Table is one shard's local key-value store, gob-encoding both key and
// value into a single bbolt bucket. Exactly one process opens a given
// Table's underlying file at a time; concurrent opens across processes are
// a deployment error, not something this type guards against, matching the
// exclusive-ownership model in package dht's doc comment.
type Table[K Key, V any] struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and ensures
// its single bucket exists.
func Open[K Key, V any](path string) (*Table[K, V], error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("dht: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dht: create bucket: %w", err)
	}
	return &Table[K, V]{db: db}, nil
}

// Close closes the underlying bbolt database.
func (t *Table[K, V]) Close() error {
	return t.db.Close()
}

// Get returns the value stored for key.
func (t *Table[K, V]) Get(key K) (V, error) {
	var out V
	keyBytes, err := encodeGob(key)
	if err != nil {
		return out, fmt.Errorf("dht: encode key: %w", err)
	}

	err = t.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get(keyBytes)
		if raw == nil {
			return ErrKeyNotFound
		}
		return decodeGob(raw, &out)
	})
	return out, err
}

// BatchGet returns every found key's value; keys with no entry are omitted
// rather than causing the whole call to fail.
func (t *Table[K, V]) BatchGet(keys []K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	err := t.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		for _, key := range keys {
			keyBytes, err := encodeGob(key)
			if err != nil {
				return fmt.Errorf("dht: encode key: %w", err)
			}
			raw := bkt.Get(keyBytes)
			if raw == nil {
				continue
			}
			var v V
			if err := decodeGob(raw, &v); err != nil {
				return fmt.Errorf("dht: decode value: %w", err)
			}
			out[key] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set stores value for key, overwriting any existing entry.
func (t *Table[K, V]) Set(key K, value V) error {
	keyBytes, err := encodeGob(key)
	if err != nil {
		return fmt.Errorf("dht: encode key: %w", err)
	}
	valBytes, err := encodeGob(value)
	if err != nil {
		return fmt.Errorf("dht: encode value: %w", err)
	}
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(keyBytes, valBytes)
	})
}

// BatchSet stores every pair in a single transaction.
func (t *Table[K, V]) BatchSet(pairs map[K]V) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		for key, value := range pairs {
			keyBytes, err := encodeGob(key)
			if err != nil {
				return fmt.Errorf("dht: encode key: %w", err)
			}
			valBytes, err := encodeGob(value)
			if err != nil {
				return fmt.Errorf("dht: encode value: %w", err)
			}
			if err := bkt.Put(keyBytes, valBytes); err != nil {
				return err
			}
		}
		return nil
	})
}

// Upsert reads key's current value (the zero value and found=false if
// absent), applies f, and writes the result back, all inside one bbolt
// transaction so the read-modify-write is never split across round trips —
// the property the AMPC mapper's per-vertex accumulation depends on.
func (t *Table[K, V]) Upsert(key K, f func(old V, found bool) V) error {
	keyBytes, err := encodeGob(key)
	if err != nil {
		return fmt.Errorf("dht: encode key: %w", err)
	}

	return t.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		raw := bkt.Get(keyBytes)

		var old V
		found := raw != nil
		if found {
			if err := decodeGob(raw, &old); err != nil {
				return fmt.Errorf("dht: decode value: %w", err)
			}
		}

		next := f(old, found)
		valBytes, err := encodeGob(next)
		if err != nil {
			return fmt.Errorf("dht: encode value: %w", err)
		}
		return bkt.Put(keyBytes, valBytes)
	})
}

// Scan calls fn for every entry in the table, in bbolt's key-byte order
// (an artifact of gob encoding, not a meaningful ordering over K). Scan
// stops early if fn returns false.
func (t *Table[K, V]) Scan(fn func(key K, value V) bool) error {
	return t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for keyBytes, valBytes := c.First(); keyBytes != nil; keyBytes, valBytes = c.Next() {
			var key K
			var value V
			if err := decodeGob(keyBytes, &key); err != nil {
				return fmt.Errorf("dht: decode key: %w", err)
			}
			if err := decodeGob(valBytes, &value); err != nil {
				return fmt.Errorf("dht: decode value: %w", err)
			}
			if !fn(key, value) {
				return nil
			}
		}
		return nil
	})
}
