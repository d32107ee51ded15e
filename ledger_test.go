package paygate

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T, ledger Ledger) {
	t.Helper()
	ctx := context.Background()

	rec, err := ledger.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	first := &FinalizedTransaction{
		Handle:      "h1",
		ProductID:   "sub-weekly",
		State:       TransactionFailed,
		Reason:      "card declined",
		FinalizedAt: time.Now().UTC().Add(-time.Minute),
	}
	stored, err := ledger.Record(ctx, first)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.NotEmpty(t, first.ID)

	stored, err = ledger.Record(ctx, &FinalizedTransaction{Handle: "h1", ProductID: "other", State: TransactionPurchased})
	require.NoError(t, err)
	assert.False(t, stored)

	rec, err = ledger.Get(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "sub-weekly", rec.ProductID)
	assert.Equal(t, TransactionFailed, rec.State)
	assert.Equal(t, "card declined", rec.Reason)
	assert.False(t, rec.Acknowledged)
	assert.WithinDuration(t, first.FinalizedAt, rec.FinalizedAt, time.Millisecond)

	require.NoError(t, ledger.MarkAcknowledged(ctx, "h1"))
	rec, err = ledger.Get(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, rec.Acknowledged)

	stored, err = ledger.Record(ctx, &FinalizedTransaction{Handle: "h2", ProductID: "sub-weekly", State: TransactionPurchased})
	require.NoError(t, err)
	assert.True(t, stored)

	recent, err := ledger.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "h2", recent[0].Handle)
	assert.Equal(t, "h1", recent[1].Handle)

	recent, err = ledger.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestInMemoryLedger(t *testing.T) {
	testLedger(t, NewInMemoryLedger())
}

func TestSQLiteLedger(t *testing.T) {
	ledger, err := OpenSQLiteLedger(context.Background(), ":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	testLedger(t, ledger)
}

func TestSQLiteLedgerPersists(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "ledger.db")

	ledger, err := OpenSQLiteLedger(ctx, dsn)
	require.NoError(t, err)
	stored, err := ledger.Record(ctx, &FinalizedTransaction{Handle: "h1", ProductID: "sub-weekly", State: TransactionPurchased})
	require.NoError(t, err)
	require.True(t, stored)
	require.NoError(t, ledger.Close())

	ledger, err = OpenSQLiteLedger(ctx, dsn)
	require.NoError(t, err)
	defer ledger.Close()

	stored, err = ledger.Record(ctx, &FinalizedTransaction{Handle: "h1", ProductID: "sub-weekly", State: TransactionPurchased})
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestInMemoryLedgerConcurrentRecord(t *testing.T) {
	ctx := context.Background()
	ledger := NewInMemoryLedger()

	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Record(ctx, &FinalizedTransaction{Handle: "same", State: TransactionPurchased})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, stored)
}
