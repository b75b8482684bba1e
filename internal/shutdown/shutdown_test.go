package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartIsIdempotent(t *testing.T) {
	c := New(true, nil)

	c.Start()
	select {
	case <-c.Done():
	default:
		t.Fatal("Done() should be closed after Start()")
	}

	assert.NotPanics(t, func() {
		c.Start()
		c.Start()
	})
}

func TestDoneUnblocksAllWaiters(t *testing.T) {
	c := New(true, nil)

	const waiters = 4
	results := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			<-c.Done()
			results <- struct{}{}
		}()
	}

	c.Start()

	for i := 0; i < waiters; i++ {
		select {
		case <-results:
		case <-time.After(time.Second):
			t.Fatal("not every waiter observed shutdown")
		}
	}
}

func TestRunCancelsTasksOnShutdown(t *testing.T) {
	c := New(true, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	c.Start()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after shutdown")
	}
}

func TestRunReturnsTaskErrorAndCancelsSiblings(t *testing.T) {
	c := New(true, nil)
	boom := errors.New("boom")

	siblingCanceled := make(chan struct{})
	err := c.Run(context.Background(),
		func(ctx context.Context) error {
			return boom
		},
		func(ctx context.Context) error {
			<-ctx.Done()
			close(siblingCanceled)
			return ctx.Err()
		},
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	select {
	case <-siblingCanceled:
	case <-time.After(time.Second):
		t.Fatal("sibling task was not canceled when the other task failed")
	}
}

func TestRunReturnsNilWhenAllTasksCompleteNaturally(t *testing.T) {
	c := New(true, nil)

	err := c.Run(context.Background(), func(ctx context.Context) error {
		return nil
	})

	assert.NoError(t, err)
}
