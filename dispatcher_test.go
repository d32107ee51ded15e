package paygate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flush waits until every task submitted to d before the call has run.
func flush(t *testing.T, d Dispatcher) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not drain")
	}
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	d, err := NewDispatcher(ctx, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		err := d.Submit(ctx, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		assert.NoError(t, err)
	}
	flush(t, d)

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	mu.Unlock()

	d.Close()
	err = d.Submit(ctx, func() {})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	ctx := context.Background()
	d, err := NewDispatcher(ctx, 8)
	require.NoError(t, err)

	release := make(chan struct{})
	require.NoError(t, d.Submit(ctx, func() { <-release }))

	ran := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Submit(ctx, func() { ran++ }))
	}
	close(release)
	d.Close()

	assert.Equal(t, 3, ran)
}

func TestDispatcherSubmitTimeout(t *testing.T) {
	ctx := context.Background()
	d, err := NewDispatcher(ctx, 1)
	require.NoError(t, err)
	defer d.Close()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	require.NoError(t, d.Submit(ctx, func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, d.Submit(ctx, func() {}))

	reqCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = d.Submit(reqCtx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewDispatcherValidation(t *testing.T) {
	_, err := NewDispatcher(context.Background(), 0)
	assert.Error(t, err)
}

func TestDispatcherRejectsAfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d, err := NewDispatcher(ctx, 4)
	require.NoError(t, err)
	defer d.Close()

	cancel()

	ran := false
	err = d.Submit(context.Background(), func() { ran = true })
	assert.ErrorIs(t, err, ErrDispatcherClosed)
	assert.False(t, ran)
}
