package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketClaims = []byte("claims")

// BoltLedger keeps claims in a local bbolt file
type BoltLedger struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltLedger opens (or creates) the ledger at path
func NewBoltLedger(path string) (*BoltLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketClaims)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init ledger: %w", err)
	}

	return &BoltLedger{db: db, now: time.Now}, nil
}

// Claim records key inside a single write transaction
func (l *BoltLedger) Claim(_ context.Context, key, owner string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketClaims)
		if b.Get([]byte(key)) != nil {
			return ErrDuplicate
		}
		value, err := json.Marshal(Claim{Key: key, Owner: owner, ClaimedAt: l.now().UTC()})
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

// Release deletes key
func (l *BoltLedger) Release(_ context.Context, key string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClaims).Delete([]byte(key))
	})
}

// Prune deletes claims made before the cutoff
func (l *BoltLedger) Prune(_ context.Context, before time.Time) (int, error) {
	deleted := 0
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketClaims)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var c Claim
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode claim %s: %w", k, err)
			}
			if c.ClaimedAt.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(stale)
		return nil
	})
	return deleted, err
}

// Close closes the database
func (l *BoltLedger) Close() error {
	return l.db.Close()
}
