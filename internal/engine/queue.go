package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// ErrQueueClosed is returned by Drain after Close.
var ErrQueueClosed = errors.New("job queue closed")

// Queue persists training jobs and drains them on a bounded worker pool.
// Any number of drains may run concurrently, for the same twin or not: each
// job is run by whichever drain wins its queued -> processing claim.
type Queue struct {
	store    storage.JobStore
	config   Config
	handlers Handlers
	pool     *ants.Pool

	mu            sync.RWMutex
	onJobFinished func(job *types.TrainingJob)
	onJobEnqueued func(job *types.TrainingJob)

	// now is replaced in tests.
	now func() time.Time
}

// NewQueue creates a queue. It fails if any job type lacks a handler.
func NewQueue(store storage.JobStore, config Config, handlers Handlers) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, jt := range types.AllJobTypes {
		if handlers[jt] == nil {
			return nil, fmt.Errorf("no handler registered for job type %s", jt)
		}
	}
	for jt := range handlers {
		if _, err := types.ParseJobType(string(jt)); err != nil {
			return nil, fmt.Errorf("handler registered for %w", err)
		}
	}

	pool, err := ants.NewPool(config.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	registry := make(Handlers, len(handlers))
	for jt, h := range handlers {
		registry[jt] = h
	}
	return &Queue{
		store:    store,
		config:   config,
		handlers: registry,
		pool:     pool,
		now:      time.Now,
	}, nil
}

// Close releases the worker pool. Running handlers finish; later drains fail.
func (q *Queue) Close() {
	q.pool.Release()
}

// Config returns the queue configuration.
func (q *Queue) Config() Config { return q.config }

// OnJobFinished sets a callback fired after a job leaves processing.
func (q *Queue) OnJobFinished(callback func(job *types.TrainingJob)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onJobFinished = callback
}

// OnJobEnqueued sets a callback fired after a job is queued or requeued.
func (q *Queue) OnJobEnqueued(callback func(job *types.TrainingJob)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onJobEnqueued = callback
}

// Enqueue persists a queued job. Missing ids are generated.
func (q *Queue) Enqueue(ctx context.Context, job *types.TrainingJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", storage.ErrInvalidInput)
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if _, err := types.ParseJobType(string(job.Type)); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	job.Status = types.JobStatusQueued
	if err := q.store.CreateJob(ctx, job); err != nil {
		return err
	}
	log.Printf("engine: queued %s job %s for twin %s", job.Type, job.ID, job.TwinID)
	q.fire(q.enqueuedCallback(), job)
	return nil
}

// Drain claims up to BatchSize queued jobs of a twin, runs them and waits for
// them to finish. Jobs claimed by a concurrent drain are skipped.
func (q *Queue) Drain(ctx context.Context, twinID string) (*DrainResult, error) {
	if q.pool.IsClosed() {
		return nil, ErrQueueClosed
	}
	queued, err := q.store.ListQueued(ctx, twinID, q.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued jobs: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		result  = &DrainResult{TwinID: twinID}
		claimed int
	)
	record := func(status types.JobStatus) {
		mu.Lock()
		defer mu.Unlock()
		if status == types.JobStatusComplete {
			result.Processed++
		} else {
			result.Failed++
		}
	}

	for _, job := range queued {
		if ctx.Err() != nil {
			break
		}
		if err := q.store.ClaimJob(ctx, job.ID, q.now()); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			log.Printf("ERROR: engine: failed to claim job %s: %v", job.ID, err)
			continue
		}
		claimed++
		job := job
		job.Status = types.JobStatusProcessing

		wg.Add(1)
		if err := q.pool.Submit(func() {
			defer wg.Done()
			record(q.run(ctx, job))
		}); err != nil {
			wg.Done()
			log.Printf("ERROR: engine: failed to submit job %s: %v", job.ID, err)
			record(q.finish(job, failure.New(failure.Transient, "submit", err)))
		}
	}
	wg.Wait()

	remaining, err := q.store.CountByStatus(context.Background(), twinID, types.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to count remaining jobs: %w", err)
	}
	result.Remaining = remaining
	switch {
	case claimed == 0 && remaining == 0:
		result.Message = "no queued jobs"
	default:
		result.Message = fmt.Sprintf("processed %d, failed %d, %d remaining",
			result.Processed, result.Failed, result.Remaining)
	}
	return result, nil
}

// run executes the handler of a claimed job and records the outcome.
func (q *Queue) run(ctx context.Context, job *types.TrainingJob) types.JobStatus {
	jobCtx, cancel := context.WithTimeout(ctx, q.config.JobTimeout)
	defer cancel()

	start := q.now()
	err := q.invoke(jobCtx, job)
	if err == nil {
		log.Printf("engine: %s job %s complete in %s", job.Type, job.ID, q.now().Sub(start).Round(time.Millisecond))
	}
	return q.finish(job, err)
}

func (q *Queue) invoke(ctx context.Context, job *types.TrainingJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failure.Terminalf(string(job.Type), "handler panic: %v", r)
		}
	}()
	return q.handlers[job.Type](ctx, job)
}

// finish moves a processing job to its outcome status. Storage writes use a
// fresh context so a cancelled drain still records what happened.
func (q *Queue) finish(job *types.TrainingJob, runErr error) types.JobStatus {
	status := types.JobStatusComplete
	errMsg, errClass := "", ""
	if runErr != nil {
		class := failure.ClassOf(runErr)
		status = types.JobStatusFailed
		if job.RetryCount >= q.config.MaxRetries {
			status = types.JobStatusNeedsAttention
		}
		errMsg, errClass = runErr.Error(), class.String()
		log.Printf("WARNING: engine: %s job %s %s (%s, retry %d/%d): %v",
			job.Type, job.ID, status, class, job.RetryCount, q.config.MaxRetries, runErr)
	}

	now := q.now()
	if err := q.store.FinishJob(context.Background(), job.ID, status, errMsg, errClass, now); err != nil {
		// Lost against the reaper; the job already needs attention.
		log.Printf("WARNING: engine: failed to finish job %s as %s: %v", job.ID, status, err)
		return types.JobStatusNeedsAttention
	}

	job.Status = status
	job.Error = errMsg
	job.ErrorClass = errClass
	job.FinishedAt = &now
	q.fire(q.finishedCallback(), job)
	return status
}

// Retry moves a failed or needs_attention job back to queued and increments
// its retry count. Any other status is rejected with types.ErrInvalidTransition.
func (q *Queue) Retry(ctx context.Context, jobID string) (*types.TrainingJob, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := types.CheckJobTransition(job.Status, types.JobStatusQueued); err != nil {
		return nil, err
	}
	if err := q.store.RequeueJob(ctx, jobID, job.Status, q.now()); err != nil {
		return nil, err
	}
	updated, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	log.Printf("engine: requeued %s job %s (retry %d)", updated.Type, updated.ID, updated.RetryCount)
	q.fire(q.enqueuedCallback(), updated)
	return updated, nil
}

// RequeueTransient requeues failed jobs whose error is transient once their
// backoff has elapsed. The delay before attempt n is n^2 * BaseBackoff,
// counted from the failure.
func (q *Queue) RequeueTransient(ctx context.Context) (int, error) {
	jobs, err := q.store.ListFailed(ctx, failure.Transient.String(), q.config.BatchSize*4)
	if err != nil {
		return 0, fmt.Errorf("failed to list transient failures: %w", err)
	}

	now := q.now()
	requeued := 0
	for _, job := range jobs {
		if job.RetryCount >= q.config.MaxRetries {
			continue
		}
		if now.Before(q.nextAttemptAt(job)) {
			continue
		}
		if err := q.store.RequeueJob(ctx, job.ID, types.JobStatusFailed, now); err != nil {
			if !errors.Is(err, storage.ErrConflict) {
				log.Printf("ERROR: engine: failed to requeue job %s: %v", job.ID, err)
			}
			continue
		}
		requeued++
		job.Status = types.JobStatusQueued
		job.RetryCount++
		q.fire(q.enqueuedCallback(), job)
	}
	if requeued > 0 {
		log.Printf("engine: requeued %d transient failures", requeued)
	}
	return requeued, nil
}

func (q *Queue) nextAttemptAt(job *types.TrainingJob) time.Time {
	failedAt := job.UpdatedAt
	if job.FinishedAt != nil {
		failedAt = *job.FinishedAt
	}
	attempt := time.Duration(job.RetryCount + 1)
	return failedAt.Add(attempt * attempt * q.config.BaseBackoff)
}

// ReapStuck moves jobs processing for longer than StuckAfter to needs_attention.
func (q *Queue) ReapStuck(ctx context.Context) (int, error) {
	cutoff := q.now().Add(-q.config.StuckAfter)
	stuck, err := q.store.ListStuck(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck jobs: %w", err)
	}

	reaped := 0
	for _, job := range stuck {
		msg := fmt.Sprintf("stuck in processing since %s", job.StartedAt.UTC().Format(time.RFC3339))
		now := q.now()
		if err := q.store.FinishJob(ctx, job.ID, types.JobStatusNeedsAttention, msg, failure.NeedsAttention.String(), now); err != nil {
			if !errors.Is(err, storage.ErrConflict) {
				log.Printf("ERROR: engine: failed to reap job %s: %v", job.ID, err)
			}
			continue
		}
		reaped++
		log.Printf("WARNING: engine: %s job %s %s", job.Type, job.ID, msg)
		job.Status = types.JobStatusNeedsAttention
		job.Error = msg
		job.ErrorClass = failure.NeedsAttention.String()
		job.FinishedAt = &now
		q.fire(q.finishedCallback(), job)
	}
	return reaped, nil
}

// Jobs lists a twin's jobs, newest first.
func (q *Queue) Jobs(ctx context.Context, twinID string, filter storage.JobFilter) ([]*types.TrainingJob, error) {
	return q.store.ListJobs(ctx, twinID, filter)
}

// TwinsWithQueuedJobs lists twins that have queued work.
func (q *Queue) TwinsWithQueuedJobs(ctx context.Context) ([]string, error) {
	return q.store.TwinsWithQueuedJobs(ctx)
}

func (q *Queue) finishedCallback() func(*types.TrainingJob) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.onJobFinished
}

func (q *Queue) enqueuedCallback() func(*types.TrainingJob) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.onJobEnqueued
}

func (q *Queue) fire(callback func(*types.TrainingJob), job *types.TrainingJob) {
	if callback == nil {
		return
	}
	snapshot := *job
	callback(&snapshot)
}
