package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"sync/atomic"
	"time"

	"codetrail/internal/logging"
)

// Syncer is what the queue drives; the Orchestrator satisfies it.
type Syncer interface {
	Sync(ctx context.Context) (*Result, error)
	IsSyncing() bool
}

// Queue runs full syncs in the background: on a timer and whenever Notify is
// called. Rapid notifications coalesce into a single pending run, and at
// most one sync is ever in flight.
type Queue struct {
	syncer   Syncer
	interval time.Duration
	logger   logging.Logger

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	startOnce stdsync.Once
	stopOnce  stdsync.Once
	started   atomic.Bool
}

func NewQueue(syncer Syncer, interval time.Duration, logger logging.Logger) *Queue {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Queue{
		syncer:   syncer,
		interval: interval,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Subsequent calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.started.Store(true)
		go q.loop(ctx)
	})
}

// Stop prevents new runs from starting and waits for an in-flight run to
// finish. Safe to call more than once.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
		if q.started.Load() {
			<-q.done
		}
	})
}

// Notify schedules a sync soon, typically after a local mutation. The signal
// is dropped when one is already pending.
func (q *Queue) Notify() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// IsSyncing reports whether a sync run is currently executing.
func (q *Queue) IsSyncing() bool {
	return q.syncer.IsSyncing()
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
		case <-q.notify:
		}
		q.runOnce(ctx)
	}
}

func (q *Queue) runOnce(ctx context.Context) {
	res, err := q.syncer.Sync(ctx)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return
		}
		q.logger.Error(ctx, "sync failed", "error", err)
		return
	}
	q.logger.Info(ctx, "sync completed",
		"pushed", res.Pushed, "pulled", res.Pulled, "deleted", res.Deleted,
		"conflicts", res.Conflicts, "resolved", res.Resolved, "errors", len(res.Errors))
	for _, msg := range res.Errors {
		q.logger.Warn(ctx, "sync error", "detail", msg)
	}
}
