package iobridge_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxmon-go/agent/iobridge"
)

func TestRunOnLoop_BlocksUntilCompletion(t *testing.T) {
	b := iobridge.New(1)
	var ran atomic.Bool

	err := b.RunOnLoop(context.Background(), func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		ran.Store(true)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestRunOnLoop_BoundsConcurrency(t *testing.T) {
	b := iobridge.New(2)
	var inFlight, maxObserved atomic.Int32
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		go func() {
			_ = b.RunOnLoop(context.Background(), func(ctx context.Context) error {
				n := inFlight.Add(1)
				for {
					cur := maxObserved.Load()
					if n <= cur || maxObserved.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	assert.LessOrEqual(t, int(maxObserved.Load()), 2)
}

func TestRunOnLoop_RespectsContextCancellation(t *testing.T) {
	b := iobridge.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.RunOnLoop(ctx, func(ctx context.Context) error {
		t.Fatal("fn must not run once ctx is already cancelled and the slot cannot be acquired in time")
		return nil
	})
	assert.Error(t, err)
}

func TestRunSyncFromLoop_DoesNotConsumeLoopSlot(t *testing.T) {
	b := iobridge.New(1)
	blocker := make(chan struct{})

	go func() {
		_ = b.RunOnLoop(context.Background(), func(ctx context.Context) error {
			<-blocker
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond) // let the loop slot be taken

	var ran atomic.Bool
	err := b.RunSyncFromLoop(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())

	close(blocker)
}

func TestRunSyncFromLoop_ReturnsFnError(t *testing.T) {
	b := iobridge.New(1)
	sentinel := assert.AnError

	err := b.RunSyncFromLoop(context.Background(), func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}
