package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger_ConcurrentClaims(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ledger.Claim(ctx, "evt-1", "") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.ErrorIs(t, ledger.Claim(ctx, "evt-1", ""), ErrDuplicate)
}

func TestMemoryLedger_KeysOrdered(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, ledger.Claim(ctx, k, ""))
	}
	require.NoError(t, ledger.Release(ctx, "b"))

	assert.Equal(t, []string{"a", "c"}, ledger.Keys())
}

func TestMemoryLedger_Prune(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ledger.now = func() time.Time { return base }
	require.NoError(t, ledger.Claim(ctx, "old", ""))
	ledger.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, ledger.Claim(ctx, "new", ""))

	n, err := ledger.Prune(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"new"}, ledger.Keys())
}
