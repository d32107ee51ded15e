package paygate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, s *SimulatedStore) []Transaction {
	t.Helper()
	select {
	case batch := <-s.Updates():
		return batch
	case <-time.After(time.Second):
		t.Fatal("expected a transaction batch")
		return nil
	}
}

func TestSimulatedStore(t *testing.T) {
	ctx := context.Background()
	store := NewSimulatedStore(weekly)

	products, err := store.Products(ctx, []string{weekly.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, []ProductDescriptor{weekly}, products)

	require.NoError(t, store.SubmitPayment(ctx, weekly))
	purchasing := receive(t, store)
	require.Len(t, purchasing, 1)
	assert.Equal(t, TransactionPurchasing, purchasing[0].State)

	purchased := receive(t, store)
	require.Len(t, purchased, 1)
	assert.Equal(t, TransactionPurchased, purchased[0].State)
	assert.Equal(t, purchasing[0].Handle, purchased[0].Handle)
	assert.Equal(t, 1, store.Unfinished())

	// Unfinished transactions come back on relaunch.
	require.NoError(t, store.Redeliver(ctx))
	again := receive(t, store)
	assert.Equal(t, purchased, again)

	require.NoError(t, store.Finish(ctx, purchased[0].Handle))
	assert.Equal(t, 1, store.Finished(purchased[0].Handle))
	assert.Equal(t, 0, store.Unfinished())
	require.NoError(t, store.Redeliver(ctx))

	require.NoError(t, store.RestorePurchases(ctx))
	restored := receive(t, store)
	require.Len(t, restored, 1)
	assert.Equal(t, TransactionRestored, restored[0].State)
	assert.Equal(t, weekly.ID, restored[0].ProductID)
	assert.NotEqual(t, purchased[0].Handle, restored[0].Handle)
}

func TestSimulatedStoreFailures(t *testing.T) {
	ctx := context.Background()
	store := NewSimulatedStore(weekly)

	lookupErr := errors.New("offline")
	store.FailLookups(lookupErr)
	_, err := store.Products(ctx, []string{weekly.ID})
	assert.ErrorIs(t, err, lookupErr)

	submitErr := errors.New("payments disabled")
	store.FailSubmissions(submitErr)
	assert.ErrorIs(t, store.SubmitPayment(ctx, weekly), submitErr)
	store.FailSubmissions(nil)

	assert.Error(t, store.SubmitPayment(ctx, ProductDescriptor{ID: "missing"}))

	store.SetOutcome(weekly.ID, TransactionFailed, nil)
	require.NoError(t, store.SubmitPayment(ctx, weekly))
	receive(t, store)
	failed := receive(t, store)
	require.Len(t, failed, 1)
	assert.Equal(t, TransactionFailed, failed[0].State)
	assert.Error(t, failed[0].Err)
	assert.Equal(t, 1, store.Submitted())

	finishErr := errors.New("busy")
	store.FailFinish(finishErr)
	assert.ErrorIs(t, store.Finish(ctx, failed[0].Handle), finishErr)
	assert.NoError(t, store.Finish(ctx, failed[0].Handle))

	assert.Error(t, store.Complete(ctx, "h", weekly.ID, TransactionPurchasing, nil))
}
