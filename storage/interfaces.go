// Package storage keeps the idempotency ledger that lets the tag
// enforcer tolerate duplicate event delivery.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned when a key has already been claimed
var ErrDuplicate = errors.New("event already processed")

// Claim records who processed an event and when
type Claim struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Ledger claims event keys exactly once
type Ledger interface {
	// Claim records key, returning ErrDuplicate when it already exists.
	Claim(ctx context.Context, key, owner string) error

	// Release drops a claim so a later delivery can retry the event.
	Release(ctx context.Context, key string) error

	// Close releases the ledger's resources.
	Close() error
}

// Pruner removes claims older than a cutoff
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}
