package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/scribesync/internal/domain/entities"
	"github.com/zatekoja/scribesync/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

// Task kinds
const (
	TaskKindPut        = "put"
	TaskKindDelete     = "delete"
	TaskKindBatchWrite = "batch_write"
)

// SyncTask is a single pending remote write. Tasks live only in memory.
type SyncTask struct {
	Kind       string
	Label      string
	EnqueuedAt time.Time
	Run        func(ctx context.Context) error
}

// SyncQueue is a FIFO buffer of remote writes drained one task at a time.
// Delivery is at most once: a task that fails is dropped and the flush stops,
// leaving every task behind it queued for the next flush.
type SyncQueue struct {
	mu       sync.Mutex
	items    []*SyncTask
	flushing bool
	stats    entities.QueueStats
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewSyncQueue creates an empty sync queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{now: time.Now}
}

// SetMetrics attaches otel metrics to the queue
func (q *SyncQueue) SetMetrics(metrics *observability.Metrics) {
	q.metrics = metrics
}

// Enqueue appends a task. Tasks are never deduplicated or merged.
func (q *SyncQueue) Enqueue(task SyncTask) {
	q.mu.Lock()
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now()
	}
	q.items = append(q.items, &task)
	q.stats.Total++
	pending := len(q.items)
	q.mu.Unlock()

	observability.AddQueuePending(context.Background(), q.metrics, 1)
	log.Debug().Str("label", task.Label).Int("pending", pending).Msg("sync task enqueued")
}

// FlushAll drains the queue in enqueue order. If another flush is already
// running it returns nil immediately; the running flush picks up anything
// enqueued after it started.
func (q *SyncQueue) FlushAll(ctx context.Context, reason string) error {
	_, err := q.flush(ctx, reason)
	return err
}

// flush is FlushAll that also reports whether this call ran, as opposed to
// returning early because another flush was in progress
func (q *SyncQueue) flush(ctx context.Context, reason string) (bool, error) {
	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		log.Debug().Str("reason", reason).Msg("flush skipped, already flushing")
		return false, nil
	}
	if len(q.items) == 0 {
		q.mu.Unlock()
		return true, nil
	}
	q.flushing = true
	q.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "SyncQueue.FlushAll")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("sync.flush.reason", reason))

	logger := observability.LoggerFromContext(ctx)
	start := q.now()
	executed := 0

	err := q.drain(ctx, &executed)

	q.mu.Lock()
	q.flushing = false
	finishedAt := q.now()
	q.stats.LastFlushAt = &finishedAt
	if err != nil {
		q.stats.LastError = err.Error()
	} else {
		q.stats.LastError = ""
	}
	pending := len(q.items)
	q.mu.Unlock()

	observability.RecordFlushDuration(ctx, q.metrics, reason, finishedAt.Sub(start))

	if err != nil {
		observability.RecordError(span, err)
		logger.Error().Err(err).Str("reason", reason).Int("executed", executed).Int("pending", pending).Msg("flush aborted")
		return true, err
	}
	logger.Info().Str("reason", reason).Int("executed", executed).Msg("flush complete")
	return true, nil
}

func (q *SyncQueue) drain(ctx context.Context, executed *int) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush interrupted: %w", err)
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return nil
		}
		task := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		observability.AddQueuePending(ctx, q.metrics, -1)

		err := runTask(ctx, task)
		*executed++
		observability.RecordTaskExecuted(ctx, q.metrics, task.Kind, err)

		q.mu.Lock()
		if err != nil {
			q.stats.Failed++
		} else {
			q.stats.Success++
		}
		q.mu.Unlock()

		if err != nil {
			if apperrors.TypeOf(err) != "" {
				return fmt.Errorf("sync task %s: %w", task.Label, err)
			}
			return apperrors.NewExternalError(fmt.Sprintf("sync task %s failed", task.Label), err)
		}
	}
}

// runTask turns a panicking task into an INTERNAL error so the flush ends
// normally and the queue is not left marked as flushing
func runTask(ctx context.Context, task *SyncTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError("sync task panicked", fmt.Errorf("%v", r))
		}
	}()
	return task.Run(ctx)
}

// Pending returns the number of queued tasks
func (q *SyncQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Flushing reports whether a flush is in progress
func (q *SyncQueue) Flushing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushing
}

// Stats returns a snapshot of queue counters
func (q *SyncQueue) Stats() entities.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	stats.Pending = len(q.items)
	stats.Flushing = q.flushing
	if q.stats.LastFlushAt != nil {
		at := *q.stats.LastFlushAt
		stats.LastFlushAt = &at
	}
	return stats
}
