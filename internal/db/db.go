package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// FileName is the name of the per-folder cache database.
const FileName = ".sylpheed_cache.db"

const cacheVersion = 1

var (
	bucketMeta      = []byte("meta")
	bucketSummaries = []byte("summaries")
	bucketMarks     = []byte("marks")

	keyVersion = []byte("version")
	keyToken   = []byte("token")
	keyLastNum = []byte("last_num")
)

// ErrNoCache is returned when a folder has no usable cache, either because
// none was written yet or because its validity token no longer matches.
var ErrNoCache = errors.New("no cache")

// Open opens the cache database at path, creating it and its buckets if
// needed. A database written by an incompatible version is reset.
func Open(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if v := meta.Get(keyVersion); v != nil && decodeUint32(v) != cacheVersion {
			for _, name := range [][]byte{bucketSummaries, bucketMarks} {
				if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
					return err
				}
			}
			if err := meta.Delete(keyToken); err != nil {
				return err
			}
		}
		if err := meta.Put(keyVersion, encodeUint32(cacheVersion)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSummaries); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(bucketMarks)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	return db, nil
}

// Close closes the given cache database.
func Close(db *bolt.DB) {
	if db != nil {
		_ = db.Close()
	}
}

// Token returns the validity token stored with the cache. ok is false when
// none was stored yet.
func Token(db *bolt.DB) (token int64, ok bool, err error) {
	err = db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyToken)
		if v == nil {
			return nil
		}
		token, ok = int64(binary.BigEndian.Uint64(v)), true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cache token: %w", err)
	}
	return token, ok, nil
}

// LastNum returns the highest message number recorded with the cache.
func LastNum(db *bolt.DB) (uint32, error) {
	var n uint32
	err := db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyLastNum); v != nil {
			n = decodeUint32(v)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read last number: %w", err)
	}
	return n, nil
}

func putToken(tx *bolt.Tx, token int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(token))
	return tx.Bucket(bucketMeta).Put(keyToken, buf[:])
}

func encodeUint32(n uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], n)
	return buf[:]
}

func decodeUint32(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// InvalidateToken forgets the validity token so the next load reconciles
// against the directory again.
func InvalidateToken(db *bolt.DB) error {
	err := db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Delete(keyToken)
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate cache token: %w", err)
	}
	return nil
}
