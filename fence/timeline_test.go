package fence_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/foundry/fence"
)

func newTimeline() *fence.Timeline {
	return fence.NewTimeline(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubmitAndSignal(t *testing.T) {
	timeline := newTimeline()

	require.Equal(t, uint64(1), timeline.Submit(fence.QueueTransfer))
	require.Equal(t, uint64(2), timeline.Submit(fence.QueueTransfer))
	require.Equal(t, uint64(1), timeline.Submit(fence.QueueGraphic))

	require.Equal(t, uint64(2), timeline.PendingFenceStamp(fence.QueueTransfer))
	require.Equal(t, uint64(0), timeline.ResolvedFenceStamp(fence.QueueTransfer))

	require.NoError(t, timeline.Signal(fence.QueueTransfer, 1))
	require.Equal(t, uint64(1), timeline.ResolvedFenceStamp(fence.QueueTransfer))
	require.Equal(t, uint64(0), timeline.ResolvedFenceStamp(fence.QueueGraphic))

	// Resolved never moves backwards
	require.NoError(t, timeline.Signal(fence.QueueTransfer, 2))
	require.NoError(t, timeline.Signal(fence.QueueTransfer, 1))
	require.Equal(t, uint64(2), timeline.ResolvedFenceStamp(fence.QueueTransfer))
}

func TestSignalPastPending(t *testing.T) {
	timeline := newTimeline()
	timeline.Submit(fence.QueueCompute)

	err := timeline.Signal(fence.QueueCompute, 5)
	require.ErrorIs(t, err, fence.ErrFutureStamp)
	require.Equal(t, uint64(0), timeline.ResolvedFenceStamp(fence.QueueCompute))
}

func TestIsResolvedIsStrict(t *testing.T) {
	timeline := newTimeline()
	for i := 0; i < 6; i++ {
		timeline.Submit(fence.QueueTransfer)
	}

	require.NoError(t, timeline.Signal(fence.QueueTransfer, 5))
	require.False(t, timeline.IsResolved(fence.QueueTransfer, 5))
	require.True(t, timeline.IsResolved(fence.QueueTransfer, 4))

	require.NoError(t, timeline.Signal(fence.QueueTransfer, 6))
	require.True(t, timeline.IsResolved(fence.QueueTransfer, 5))
}

func TestWaitIdle(t *testing.T) {
	timeline := newTimeline()
	require.NoError(t, timeline.WaitIdle(context.Background(), fence.QueueGraphic))

	for i := 0; i < 3; i++ {
		timeline.Submit(fence.QueueGraphic)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for stamp := uint64(1); stamp <= 3; stamp++ {
			time.Sleep(time.Millisecond)
			if err := timeline.Signal(fence.QueueGraphic, stamp); err != nil {
				t.Error(err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, timeline.WaitIdle(ctx, fence.QueueGraphic))
	require.Equal(t, uint64(3), timeline.ResolvedFenceStamp(fence.QueueGraphic))
	wg.Wait()
}

func TestWaitIdleCancelled(t *testing.T) {
	timeline := newTimeline()
	timeline.Submit(fence.QueuePresent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := timeline.WaitIdle(ctx, fence.QueuePresent)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueNames(t *testing.T) {
	require.Equal(t, "Graphic", fence.QueueGraphic.String())
	require.Equal(t, "Present", fence.QueuePresent.String())
	require.Equal(t, "Unknown", fence.Queue(17).String())
	require.Len(t, fence.Queues(), 4)
}
