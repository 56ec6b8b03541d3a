package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
)

// MemoryLedger keeps claims in an ordered in-memory index. It lasts for
// the life of the process (one warm Lambda container, one daemon run).
type MemoryLedger struct {
	mu     sync.Mutex
	claims *btree.BTreeG[Claim]
	now    func() time.Time
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		claims: btree.NewG[Claim](32, func(a, b Claim) bool {
			return a.Key < b.Key
		}),
		now: time.Now,
	}
}

// Claim records key
func (l *MemoryLedger) Claim(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.claims.Get(Claim{Key: key}); ok {
		return ErrDuplicate
	}
	l.claims.ReplaceOrInsert(Claim{Key: key, Owner: owner, ClaimedAt: l.now().UTC()})
	return nil
}

// Release deletes key
func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.claims.Delete(Claim{Key: key})
	return nil
}

// Prune deletes claims made before the cutoff
func (l *MemoryLedger) Prune(_ context.Context, before time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stale []Claim
	l.claims.Ascend(func(c Claim) bool {
		if c.ClaimedAt.Before(before) {
			stale = append(stale, c)
		}
		return true
	})
	for _, c := range stale {
		l.claims.Delete(c)
	}
	return len(stale), nil
}

// Keys returns the claimed keys in order
func (l *MemoryLedger) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, l.claims.Len())
	l.claims.Ascend(func(c Claim) bool {
		keys = append(keys, c.Key)
		return true
	})
	return keys
}

// Close is a no-op
func (l *MemoryLedger) Close() error {
	return nil
}
