package db

import (
	"fmt"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
	bolt "go.etcd.io/bbolt"
)

// ReadMarks returns the persisted permanent flags keyed by message number.
func ReadMarks(db *bolt.DB) (map[uint32]models.PermFlags, error) {
	marks := make(map[uint32]models.PermFlags)
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMarks).ForEach(func(k, v []byte) error {
			marks[decodeUint32(k)] = models.PermFlags(decodeUint32(v))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read marks: %w", err)
	}
	return marks, nil
}

// PutMark records the flags of one message. Each call commits on its own so
// that a batch interrupted halfway keeps the marks written so far.
func PutMark(db *bolt.DB, num uint32, flags models.PermFlags) error {
	err := db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMarks).Put(encodeUint32(num), encodeUint32(uint32(flags)))
	})
	if err != nil {
		return fmt.Errorf("failed to write mark for %d: %w", num, err)
	}
	return nil
}

// WriteMarks rewrites the mark table from list.
func WriteMarks(db *bolt.DB, list []*models.MsgInfo) error {
	err := db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketMarks); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketMarks)
		if err != nil {
			return err
		}
		for _, msg := range list {
			if err := b.Put(encodeUint32(msg.Num), encodeUint32(uint32(msg.Flags.Perm))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write marks: %w", err)
	}
	return nil
}
