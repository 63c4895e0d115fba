package fence

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrFutureStamp is returned when a queue is signalled past the last stamp submitted to it
var ErrFutureStamp = errors.New("fence stamp has not been submitted")

// Source exposes the fence counters of each queue. The resource manager reads the transfer queue
// through it to decide when retired resources are safe to reclaim.
type Source interface {
	PendingFenceStamp(queue Queue) uint64
	ResolvedFenceStamp(queue Queue) uint64
}

type queueTimeline struct {
	pending  atomic.Uint64
	resolved atomic.Uint64

	mutex   sync.Mutex
	changed chan struct{}
}

// Timeline holds a pair of monotonically increasing counters per queue. Pending is bumped once
// for every submission and resolved is raised as the device reports completed submissions. A
// stamp is resolved once the resolved counter has moved strictly past it.
//
// Submit and the accessors may be called from the frame thread while Signal is called from a
// completion callback on another goroutine.
type Timeline struct {
	logger *slog.Logger
	queues [queueCount]queueTimeline
}

var _ Source = &Timeline{}

func NewTimeline(logger *slog.Logger) *Timeline {
	if logger == nil {
		logger = slog.Default()
	}

	timeline := &Timeline{logger: logger}
	for i := range timeline.queues {
		timeline.queues[i].changed = make(chan struct{})
	}
	return timeline
}

func (t *Timeline) queue(queue Queue) *queueTimeline {
	if !queue.IsValid() {
		panic(errors.Newf("unknown queue: %d", queue))
	}
	return &t.queues[queue]
}

// Submit records a new submission to queue and returns its stamp
func (t *Timeline) Submit(queue Queue) uint64 {
	return t.queue(queue).pending.Add(1)
}

// Signal reports that every submission to queue up to and including stamp has completed. Stamps
// lower than the current resolved value are ignored.
func (t *Timeline) Signal(queue Queue, stamp uint64) error {
	q := t.queue(queue)

	pending := q.pending.Load()
	if stamp > pending {
		return errors.Wrapf(ErrFutureStamp, "queue %s signalled %d with only %d submitted", queue, stamp, pending)
	}

	for {
		current := q.resolved.Load()
		if stamp <= current {
			return nil
		}
		if q.resolved.CompareAndSwap(current, stamp) {
			break
		}
	}

	q.mutex.Lock()
	close(q.changed)
	q.changed = make(chan struct{})
	q.mutex.Unlock()

	return nil
}

func (t *Timeline) PendingFenceStamp(queue Queue) uint64 {
	return t.queue(queue).pending.Load()
}

func (t *Timeline) ResolvedFenceStamp(queue Queue) uint64 {
	return t.queue(queue).resolved.Load()
}

// IsResolved reports whether the resolved counter of queue has moved strictly past stamp
func (t *Timeline) IsResolved(queue Queue, stamp uint64) bool {
	return stamp < t.queue(queue).resolved.Load()
}

// WaitIdle blocks until every submission made to queue before the call has been signalled, or
// until ctx is done.
func (t *Timeline) WaitIdle(ctx context.Context, queue Queue) error {
	q := t.queue(queue)
	target := q.pending.Load()

	if q.resolved.Load() >= target {
		return nil
	}

	t.logger.LogAttrs(ctx, slog.LevelInfo, "waiting for queue to go idle",
		slog.String("queue", queue.String()),
		slog.Uint64("pending", target),
		slog.Uint64("resolved", q.resolved.Load()))

	for {
		q.mutex.Lock()
		changed := q.changed
		q.mutex.Unlock()

		if q.resolved.Load() >= target {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for queue %s to reach %d", queue, target)
		}
	}
}

// WaitAllIdle calls WaitIdle for every queue
func (t *Timeline) WaitAllIdle(ctx context.Context) error {
	for _, queue := range Queues() {
		err := t.WaitIdle(ctx, queue)
		if err != nil {
			return err
		}
	}
	return nil
}
