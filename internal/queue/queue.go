// Package queue implements the backend sync/index queue.
//
// At most one sync job runs at a time; additional requests wait in
// arrival order. Enqueueing a source that is already queued or running
// is a no-op, so a source can occupy at most one slot. The worker owns
// all lifecycle transitions it causes: a source becomes syncing when
// its job starts running and resolves to ready or error when the job
// completes. Queued-but-not-started entries leave the source's status
// untouched and can still be cancelled.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codelens/sourcereg/internal/store"
	"github.com/codelens/sourcereg/internal/syncer"
	"github.com/codelens/sourcereg/pkg/models"
)

var (
	// ErrNotQueued is returned when cancelling a source that has no queue entry
	ErrNotQueued = errors.New("source is not queued")

	// ErrRunning is returned when the target entry has already started running
	ErrRunning = errors.New("source sync is already running")
)

// entry is one queued sync request
type entry struct {
	jobID    string
	sourceID string
}

// Queue is the single-worker sync/index queue
type Queue struct {
	store   store.Store
	factory syncer.Factory
	metrics *Metrics

	// jobTimeout bounds a single sync job's execution
	jobTimeout time.Duration

	mu      sync.Mutex
	pending []*entry
	queued  map[string]struct{}
	running *models.RunningJob

	wake chan struct{}

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures the queue
type Option func(*Queue)

// WithMetrics sets the metrics collector for the queue
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithJobTimeout bounds the execution time of a single sync job
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.jobTimeout = d
	}
}

// New creates a queue backed by the given store and syncer factory
func New(st store.Store, factory syncer.Factory, opts ...Option) *Queue {
	q := &Queue{
		store:      st,
		factory:    factory,
		jobTimeout: 15 * time.Minute,
		queued:     make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the worker goroutine. It recovers sources left in a
// syncing state by a previous run before accepting work.
func (q *Queue) Start(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancelFunc = cancel

	if err := q.recoverStranded(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to recover stranded sources: %w", err)
	}

	go q.run(workerCtx)
	return nil
}

// Stop halts the worker and waits for an in-flight job to finish or be
// cancelled by its context.
func (q *Queue) Stop() {
	if q.cancelFunc != nil {
		q.cancelFunc()
		<-q.done
	}
}

// Enqueue requests a sync for the given source. It is idempotent: a
// source already queued or running keeps its single slot and no new
// entry is created.
func (q *Queue) Enqueue(ctx context.Context, sourceID string) error {
	// Reject unknown sources before touching the queue
	if _, err := q.store.Get(ctx, sourceID); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[sourceID]; ok {
		slog.Debug("Source already queued, ignoring sync request", "source_id", sourceID)
		return nil
	}
	if q.running != nil && q.running.SourceID == sourceID {
		slog.Debug("Source already running, ignoring sync request", "source_id", sourceID)
		return nil
	}

	e := &entry{jobID: uuid.NewString(), sourceID: sourceID}
	q.pending = append(q.pending, e)
	q.queued[sourceID] = struct{}{}
	q.observeDepthLocked()

	slog.Info("Enqueued sync request", "source_id", sourceID, "job_id", e.jobID, "queue_length", len(q.pending))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// CancelQueued removes a queued-but-not-started entry for the source.
// Cancelling an entry that already started running returns ErrRunning;
// cancelling a source with no entry returns ErrNotQueued.
func (q *Queue) CancelQueued(_ context.Context, sourceID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running != nil && q.running.SourceID == sourceID {
		return ErrRunning
	}
	if _, ok := q.queued[sourceID]; !ok {
		return ErrNotQueued
	}

	q.removeLocked(sourceID)
	q.observeDepthLocked()
	slog.Info("Cancelled queued sync request", "source_id", sourceID, "queue_length", len(q.pending))
	return nil
}

// Retract removes any queued entry for the source, as part of deleting
// it. Unlike CancelQueued, a source with no entry is not an error. A
// running job cannot be retracted and returns ErrRunning.
func (q *Queue) Retract(_ context.Context, sourceID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running != nil && q.running.SourceID == sourceID {
		return ErrRunning
	}
	if _, ok := q.queued[sourceID]; ok {
		q.removeLocked(sourceID)
		q.observeDepthLocked()
		slog.Info("Retracted queued sync request", "source_id", sourceID)
	}
	return nil
}

// Snapshot returns the current queue length and running job
func (q *Queue) Snapshot() *models.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := &models.QueueSnapshot{Length: len(q.pending)}
	if q.running != nil {
		r := *q.running
		snap.Running = &r
	}
	return snap
}

// removeLocked drops the pending entry for sourceID. Caller holds q.mu.
func (q *Queue) removeLocked(sourceID string) {
	delete(q.queued, sourceID)
	for i, e := range q.pending {
		if e.sourceID == sourceID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) observeDepthLocked() {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.pending))
	}
}

// run is the worker loop: one job at a time, in arrival order
func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	slog.Info("Sync queue worker started")

	for {
		e := q.takeNext()
		if e == nil {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				slog.Info("Sync queue worker stopping")
				return
			}
		}

		q.process(ctx, e)

		if ctx.Err() != nil {
			slog.Info("Sync queue worker stopping")
			return
		}
	}
}

// takeNext pops the head of the queue and marks it running, or returns
// nil when the queue is empty.
func (q *Queue) takeNext() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	e := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, e.sourceID)
	q.running = &models.RunningJob{
		JobID:     e.jobID,
		SourceID:  e.sourceID,
		StartedAt: time.Now().UTC(),
	}
	q.observeDepthLocked()
	return e
}

// process executes one sync job and records the outcome
func (q *Queue) process(ctx context.Context, e *entry) {
	defer func() {
		q.mu.Lock()
		q.running = nil
		q.mu.Unlock()
	}()

	startTime := time.Now()
	slog.Info("Starting sync job", "source_id", e.sourceID, "job_id", e.jobID)

	src, err := q.store.Get(ctx, e.sourceID)
	if err != nil {
		// Deleted between enqueue and start; nothing to do
		slog.Warn("Skipping sync job, source no longer exists", "source_id", e.sourceID, "error", err)
		return
	}

	if _, err := q.store.SetStatus(ctx, src.ID, models.StatusSyncing, "", nil); err != nil {
		slog.Error("Failed to mark source syncing", "source_id", src.ID, "error", err)
		return
	}

	result, syncErr := q.performSync(ctx, src)
	duration := time.Since(startTime)

	if syncErr != nil {
		slog.Error("Sync job failed",
			"source_id", src.ID,
			"job_id", e.jobID,
			"duration", duration,
			"error", syncErr)
		if _, err := q.store.SetStatus(ctx, src.ID, models.StatusError, syncErr.Error(), nil); err != nil {
			slog.Error("Failed to record sync failure", "source_id", src.ID, "error", err)
		}
		if q.metrics != nil {
			q.metrics.RecordSync(duration, false)
		}
		return
	}

	now := time.Now().UTC()
	if _, err := q.store.SetStatus(ctx, src.ID, models.StatusReady, "", &now); err != nil {
		slog.Error("Failed to record sync completion", "source_id", src.ID, "error", err)
		return
	}
	if q.metrics != nil {
		q.metrics.RecordSync(duration, true)
	}

	hashPreview := result.Hash
	if len(hashPreview) > 8 {
		hashPreview = hashPreview[:8]
	}
	slog.Info("Sync job completed",
		"source_id", src.ID,
		"job_id", e.jobID,
		"file_count", result.FileCount,
		"hash", hashPreview,
		"duration", duration)
}

// performSync dispatches to the origin's syncer under the job timeout
func (q *Queue) performSync(ctx context.Context, src *models.Source) (*syncer.Result, error) {
	s, err := q.factory.SyncerFor(&src.Origin)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	defer cancel()

	return s.Sync(jobCtx, src)
}

// recoverStranded resolves sources left syncing by an interrupted run.
// They hold no queue slot anymore, so without this they would stay
// syncing forever.
func (q *Queue) recoverStranded(ctx context.Context) error {
	all, err := q.store.List(ctx)
	if err != nil {
		return err
	}
	for _, src := range all {
		if src.Status != models.StatusSyncing {
			continue
		}
		slog.Warn("Recovering source stranded in syncing state", "source_id", src.ID)
		if _, err := q.store.SetStatus(ctx, src.ID, models.StatusError, "sync interrupted by server restart", nil); err != nil {
			return err
		}
	}
	return nil
}
