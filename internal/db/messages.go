package db

import (
	"encoding/json"
	"fmt"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/models"
	bolt "go.etcd.io/bbolt"
)

// ReadSummaries returns every cached summary in message-number order.
// Records that fail to decode are skipped.
func ReadSummaries(db *bolt.DB) ([]*models.MsgInfo, error) {
	var list []*models.MsgInfo
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSummaries).ForEach(func(k, v []byte) error {
			var msg models.MsgInfo
			if err := json.Unmarshal(v, &msg); err != nil {
				return nil
			}
			msg.Num = decodeUint32(k)
			list = append(list, &msg)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read summaries: %w", err)
	}
	return list, nil
}

// WriteSummaries replaces the cached summaries and records token and
// lastNum with them in a single transaction.
func WriteSummaries(db *bolt.DB, token int64, lastNum uint32, list []*models.MsgInfo) error {
	err := db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSummaries); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketSummaries)
		if err != nil {
			return err
		}
		for _, msg := range list {
			v, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := b.Put(encodeUint32(msg.Num), v); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketMeta).Put(keyLastNum, encodeUint32(lastNum)); err != nil {
			return err
		}
		return putToken(tx, token)
	})
	if err != nil {
		return fmt.Errorf("failed to write summaries: %w", err)
	}
	return nil
}

// PutSummary adds or replaces one cached summary.
func PutSummary(db *bolt.DB, msg *models.MsgInfo) error {
	v, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSummaries).Put(encodeUint32(msg.Num), v)
	})
	if err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// DeleteMessages removes the summaries and marks of nums.
func DeleteMessages(db *bolt.DB, nums []uint32) error {
	err := db.Update(func(tx *bolt.Tx) error {
		summaries, marks := tx.Bucket(bucketSummaries), tx.Bucket(bucketMarks)
		for _, n := range nums {
			if err := summaries.Delete(encodeUint32(n)); err != nil {
				return err
			}
			if err := marks.Delete(encodeUint32(n)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete cached messages: %w", err)
	}
	return nil
}

// Clear drops all summaries, marks and the validity token.
func Clear(db *bolt.DB) error {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSummaries, bucketMarks} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Delete(keyToken)
	})
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// ReadValidSummaries returns the cached summaries only when they were
// written under token; otherwise it returns ErrNoCache.
func ReadValidSummaries(db *bolt.DB, token int64) ([]*models.MsgInfo, error) {
	stored, ok, err := Token(db)
	if err != nil {
		return nil, err
	}
	if !ok || stored != token {
		return nil, ErrNoCache
	}
	return ReadSummaries(db)
}
